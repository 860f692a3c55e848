package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kharcha/internal/core"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testExpense(category, date, user string, minor int64) core.NewExpense {
	return core.NewExpense{
		AmountMinor: minor,
		Category:    category,
		Description: "test",
		Date:        date,
		User:        user,
	}
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	first, err := repo.Insert(ctx, testExpense("Food", "2025-03-10", "alice", 1000), "key-1", now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := repo.Insert(ctx, testExpense("Food", "2025-03-11", "alice", 2000), "key-2", now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", first.ID, second.ID)
	}
	if first.CreatedAt == "" {
		t.Fatal("created_at not assigned")
	}
	if _, err := time.Parse(time.RFC3339, first.CreatedAt); err != nil {
		t.Fatalf("created_at %q not RFC3339: %v", first.CreatedAt, err)
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	stored, err := repo.Insert(ctx, testExpense("Food", "2025-03-10", "alice", 1000), "key-dup", now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = repo.Insert(ctx, testExpense("Transport", "2025-04-01", "bob", 9999), "key-dup", now)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// The losing insert must not have written anything
	items, _, err := repo.List(ctx, Filter{}, SortDateDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row, got %d", len(items))
	}

	found, err := repo.FindByKey(ctx, "key-dup")
	if err != nil {
		t.Fatalf("find by key: %v", err)
	}
	if found.ID != stored.ID || found.Category != "Food" {
		t.Fatalf("replay lookup returned wrong record: %+v", found)
	}
}

func TestConcurrentInsertsSameKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	const attempts = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, testExpense("Food", "2025-03-10", "alice", 1000), "key-race", now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicateKey):
				duplicates++
			default:
				t.Errorf("unexpected insert error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || duplicates != attempts-1 {
		t.Fatalf("created=%d duplicates=%d, want 1 and %d", created, duplicates, attempts-1)
	}
}

func TestFindByKeyNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.FindByKey(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stored, err := repo.Insert(ctx, testExpense("Food", "2025-03-10", "alice", 1000), "key-id", time.Now())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, err := repo.FindByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if found.IdempotencyKey != "key-id" {
		t.Fatalf("wrong record: %+v", found)
	}
	if _, err := repo.FindByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func seedList(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	seed := []struct {
		exp core.NewExpense
		key string
	}{
		{testExpense("Food", "2025-03-10", "alice", 10000), "l1"},
		{testExpense("Transport", "2025-03-11", "bob", 20000), "l2"},
		{testExpense("Food", "2025-03-12", "alice", 5000), "l3"},
	}
	for _, s := range seed {
		if _, err := repo.Insert(ctx, s.exp, s.key, now); err != nil {
			t.Fatalf("seed insert %s: %v", s.key, err)
		}
	}
}

func TestListFiltersAndTotals(t *testing.T) {
	repo := newTestRepo(t)
	seedList(t, repo)
	ctx := context.Background()

	items, total, err := repo.List(ctx, Filter{}, SortDateDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || total != 35000 {
		t.Fatalf("unfiltered: len=%d total=%d", len(items), total)
	}

	items, total, err = repo.List(ctx, Filter{Category: "Food"}, SortDateDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || total != 15000 {
		t.Fatalf("category filter: len=%d total=%d", len(items), total)
	}
	for _, e := range items {
		if e.Category != "Food" {
			t.Fatalf("unexpected category %q", e.Category)
		}
	}

	items, total, err = repo.List(ctx, Filter{User: "alice"}, SortDateDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || total != 15000 {
		t.Fatalf("user filter: len=%d total=%d", len(items), total)
	}

	items, total, err = repo.List(ctx, Filter{Category: "Food", User: "bob"}, SortDateDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 || total != 0 {
		t.Fatalf("combined filter: len=%d total=%d", len(items), total)
	}
}

func TestListSortOrders(t *testing.T) {
	repo := newTestRepo(t)
	seedList(t, repo)
	ctx := context.Background()

	desc, _, err := repo.List(ctx, Filter{}, SortDateDesc)
	if err != nil {
		t.Fatalf("list desc: %v", err)
	}
	asc, _, err := repo.List(ctx, Filter{}, SortDateAsc)
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}

	wantDesc := []string{"2025-03-12", "2025-03-11", "2025-03-10"}
	for i, e := range desc {
		if e.Date != wantDesc[i] {
			t.Fatalf("desc[%d] = %s, want %s", i, e.Date, wantDesc[i])
		}
	}
	// asc is the exact reverse
	for i := range desc {
		if asc[i].ID != desc[len(desc)-1-i].ID {
			t.Fatalf("asc is not the reverse of desc")
		}
	}
}

func TestListSameDateTieBreak(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	a, _ := repo.Insert(ctx, testExpense("Food", "2025-03-10", "alice", 100), "tie-1", now)
	b, _ := repo.Insert(ctx, testExpense("Food", "2025-03-10", "alice", 200), "tie-2", now)

	items, _, err := repo.List(ctx, Filter{}, SortDateDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Most recently created wins the tie on date_desc
	if items[0].ID != b.ID || items[1].ID != a.ID {
		t.Fatalf("tie break wrong: got ids %d,%d", items[0].ID, items[1].ID)
	}

	items, _, err = repo.List(ctx, Filter{}, SortDateAsc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items[0].ID != a.ID || items[1].ID != b.ID {
		t.Fatalf("asc tie break wrong: got ids %d,%d", items[0].ID, items[1].ID)
	}
}

func TestListUnknownSortFallsBack(t *testing.T) {
	repo := newTestRepo(t)
	seedList(t, repo)

	items, _, err := repo.List(context.Background(), Filter{}, "newest_first")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items[0].Date != "2025-03-12" {
		t.Fatalf("unknown sort should order date_desc, got first date %s", items[0].Date)
	}
}

func TestSummarizeByCategory(t *testing.T) {
	repo := newTestRepo(t)
	seedList(t, repo)
	ctx := context.Background()

	summaries, grand, err := repo.SummarizeByCategory(ctx, "")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(summaries))
	}
	if summaries[0].Category != "Transport" || summaries[0].TotalMinor != 20000 || summaries[0].Count != 1 {
		t.Fatalf("first summary wrong: %+v", summaries[0])
	}
	if summaries[1].Category != "Food" || summaries[1].TotalMinor != 15000 || summaries[1].Count != 2 {
		t.Fatalf("second summary wrong: %+v", summaries[1])
	}
	if grand != 35000 {
		t.Fatalf("grand total = %d, want 35000", grand)
	}

	// Non-increasing by total and grand total equals the sum
	var sum int64
	prev := int64(1<<63 - 1)
	for _, s := range summaries {
		if s.TotalMinor > prev {
			t.Fatalf("summaries not ordered by total desc: %+v", summaries)
		}
		prev = s.TotalMinor
		sum += s.TotalMinor
	}
	if sum != grand {
		t.Fatalf("grand total %d != category sum %d", grand, sum)
	}
}

func TestSummarizeByCategoryUserFilter(t *testing.T) {
	repo := newTestRepo(t)
	seedList(t, repo)

	summaries, grand, err := repo.SummarizeByCategory(context.Background(), "alice")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Category != "Food" || grand != 15000 {
		t.Fatalf("user-filtered summary wrong: %+v grand=%d", summaries, grand)
	}
}

func TestDistinctUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	for i, u := range []string{"bob", "alice", "bob", "carol"} {
		key := string(rune('a'+i)) + "-user"
		if _, err := repo.Insert(ctx, testExpense("Food", "2025-03-10", u, 100), key, now); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// Legacy row with an empty label (pre user-column data)
	if _, err := repo.Insert(ctx, testExpense("Food", "2025-03-10", "", 100), "legacy", now); err != nil {
		t.Fatalf("insert legacy: %v", err)
	}

	users, err := repo.DistinctUsers(ctx)
	if err != nil {
		t.Fatalf("distinct users: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(users) != len(want) {
		t.Fatalf("users = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Fatalf("users = %v, want %v", users, want)
		}
	}
}

// TestRepositoryOpensWithWAL verifies the pragmas that let the API server
// and the audit worker share the database file.
func TestRepositoryOpensWithWAL(t *testing.T) {
	repo := newTestRepo(t)

	var mode string
	if err := repo.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := repo.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
}

// TestMigrationUpgradesLegacySchema brings a database to the pre-user
// layout and verifies that repository startup upgrades it in place.
func TestMigrationUpgradesLegacySchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("iofs: %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := m.Steps(1); err != nil {
		t.Fatalf("apply first migration: %v", err)
	}
	// Seed a legacy row without a user column
	_, err = db.Exec(`
		INSERT INTO expenses (amount_minor, category, description, date, created_at, idempotency_key)
		VALUES (100, 'Food', '', '2025-01-01', '2025-01-01T00:00:00Z', 'legacy-row')`)
	if err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}
	m.Close()

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("upgrade on startup: %v", err)
	}
	defer repo.Close()

	legacy, err := repo.FindByKey(context.Background(), "legacy-row")
	if err != nil {
		t.Fatalf("find legacy row: %v", err)
	}
	if legacy.User != "" {
		t.Fatalf("legacy user = %q, want empty", legacy.User)
	}

	// New inserts carry the user column
	stored, err := repo.Insert(context.Background(), testExpense("Food", "2025-03-10", "alice", 100), "post-upgrade", time.Now())
	if err != nil {
		t.Fatalf("insert after upgrade: %v", err)
	}
	if stored.User != "alice" {
		t.Fatalf("user = %q after upgrade", stored.User)
	}
}
