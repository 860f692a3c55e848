package core

// Expense is a stored ledger record. Records are immutable once created:
// nothing in this module updates or deletes them.
//
// Date and CreatedAt are kept as their wire strings (ISO YYYY-MM-DD and
// ISO-8601 respectively). The ISO date format sorts lexicographically in
// chronological order, which the store's ordering relies on.
type Expense struct {
	ID             int64
	AmountMinor    int64
	Category       string
	Description    string
	Date           string
	CreatedAt      string
	IdempotencyKey string
	User           string
}

// NewExpense is a validated creation request that has not been persisted
// yet. Category and User are already trimmed; Description is verbatim.
type NewExpense struct {
	AmountMinor int64
	Category    string
	Description string
	Date        string
	User        string
}
