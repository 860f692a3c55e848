package core

import (
	"strings"
	"testing"
)

func validBody() map[string]any {
	return map[string]any{
		"amount":      "199.50",
		"category":    "Food",
		"description": "Lunch",
		"date":        "2025-03-15",
		"user":        "alice",
	}
}

func TestValidateExpenseAccepts(t *testing.T) {
	exp, fields := ValidateExpense(validBody())
	if len(fields) != 0 {
		t.Fatalf("unexpected field errors: %v", fields)
	}
	if exp.AmountMinor != 19950 {
		t.Fatalf("amount_minor = %d, want 19950", exp.AmountMinor)
	}
	if exp.Category != "Food" || exp.User != "alice" || exp.Date != "2025-03-15" {
		t.Fatalf("unexpected normalized expense: %+v", exp)
	}
}

func TestValidateExpenseTrimsCategoryAndUser(t *testing.T) {
	body := validBody()
	body["category"] = "  Food  "
	body["user"] = " alice "
	exp, fields := ValidateExpense(body)
	if len(fields) != 0 {
		t.Fatalf("unexpected field errors: %v", fields)
	}
	if exp.Category != "Food" || exp.User != "alice" {
		t.Fatalf("expected trimmed values, got %+v", exp)
	}
}

func TestValidateExpenseDescriptionDefaultsEmpty(t *testing.T) {
	body := validBody()
	delete(body, "description")
	exp, fields := ValidateExpense(body)
	if len(fields) != 0 {
		t.Fatalf("unexpected field errors: %v", fields)
	}
	if exp.Description != "" {
		t.Fatalf("description = %q, want empty", exp.Description)
	}
}

func TestValidateExpenseFieldRules(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value any   // nil means delete the key
		wants []string
	}{
		{"missing amount", "amount", nil, []string{"amount"}},
		{"empty amount", "amount", "", []string{"amount"}},
		{"negative amount", "amount", "-10.00", []string{"amount"}},
		{"three decimals", "amount", "10.999", []string{"amount"}},
		{"overflowing amount", "amount", "92233720368547758.99", []string{"amount"}},
		{"numeric amount", "amount", 199.5, []string{"amount"}},
		{"missing category", "category", nil, []string{"category"}},
		{"blank category", "category", "   ", []string{"category"}},
		{"long category", "category", strings.Repeat("c", 51), []string{"category"}},
		{"non-string category", "category", 12, []string{"category"}},
		{"missing date", "date", nil, []string{"date"}},
		{"wrong date shape", "date", "15-03-2025", []string{"date"}},
		{"impossible date", "date", "2025-02-30", []string{"date"}},
		{"leap check", "date", "2025-02-29", []string{"date"}},
		{"long description", "description", strings.Repeat("d", 201), []string{"description"}},
		{"non-string description", "description", true, []string{"description"}},
		{"missing user", "user", nil, []string{"user"}},
		{"blank user", "user", "  ", []string{"user"}},
		{"long user", "user", strings.Repeat("u", 51), []string{"user"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validBody()
			if tc.value == nil {
				delete(body, tc.key)
			} else {
				body[tc.key] = tc.value
			}
			_, fields := ValidateExpense(body)
			for _, f := range tc.wants {
				if fields[f] == "" {
					t.Fatalf("expected error on field %q, got %v", f, fields)
				}
			}
		})
	}
}

func TestValidateExpenseCollectsAllViolations(t *testing.T) {
	_, fields := ValidateExpense(map[string]any{})
	for _, f := range []string{"amount", "category", "date", "user"} {
		if fields[f] == "" {
			t.Fatalf("expected error on %q, got %v", f, fields)
		}
	}
	if fields["description"] != "" {
		t.Fatalf("description is optional, got error %q", fields["description"])
	}
}

func TestValidateExpenseDescriptionNotTrimmedForLength(t *testing.T) {
	body := validBody()
	// 200 content chars plus surrounding spaces: over the limit untrimmed
	body["description"] = " " + strings.Repeat("d", 200) + " "
	_, fields := ValidateExpense(body)
	if fields["description"] == "" {
		t.Fatal("expected length check on the untrimmed description")
	}
}

func TestValidateExpenseDateMaxBounds(t *testing.T) {
	body := validBody()
	body["date"] = "2024-02-29" // real leap day
	_, fields := ValidateExpense(body)
	if len(fields) != 0 {
		t.Fatalf("2024-02-29 should be valid, got %v", fields)
	}
}
