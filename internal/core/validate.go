package core

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxCategoryLen    = 50
	maxDescriptionLen = 200
	maxUserLen        = 50

	dateLayout = "2006-01-02"
)

var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// FieldErrors maps a field name to a human-readable problem. A non-empty
// map rejects the request as a whole; there is no partial acceptance.
type FieldErrors map[string]string

// ValidateExpense checks a decoded JSON body against the field rules and
// returns either the normalized expense or every violation found. Fields
// are checked independently so a client sees all problems at once.
func ValidateExpense(body map[string]any) (NewExpense, FieldErrors) {
	fields := FieldErrors{}
	var out NewExpense

	switch v := body["amount"].(type) {
	case nil:
		fields["amount"] = "amount is required"
	case string:
		if v == "" {
			fields["amount"] = "amount is required"
		} else if minor, err := ParseAmount(v); err != nil {
			fields["amount"] = "amount must be a non-negative decimal with up to 2 decimal places"
		} else {
			out.AmountMinor = minor
		}
	default:
		fields["amount"] = `amount must be a string (e.g. "199.50")`
	}

	switch v := body["category"].(type) {
	case nil:
		fields["category"] = "category is required"
	case string:
		trimmed := strings.TrimSpace(v)
		switch {
		case v == "":
			fields["category"] = "category is required"
		case trimmed == "":
			fields["category"] = "category must not be blank"
		case utf8.RuneCountInString(trimmed) > maxCategoryLen:
			fields["category"] = "category must be at most 50 characters"
		default:
			out.Category = trimmed
		}
	default:
		fields["category"] = "category must be a string"
	}

	switch v := body["date"].(type) {
	case nil:
		fields["date"] = "date is required"
	case string:
		switch {
		case v == "":
			fields["date"] = "date is required"
		case !dateShape.MatchString(v):
			fields["date"] = "date must be in YYYY-MM-DD format"
		default:
			// Round-trip through calendar construction rejects dates
			// like 2025-02-30 that match the shape but do not exist.
			t, err := time.Parse(dateLayout, v)
			if err != nil || t.Format(dateLayout) != v {
				fields["date"] = "date is not a valid calendar date"
			} else {
				out.Date = v
			}
		}
	default:
		fields["date"] = "date must be a string in YYYY-MM-DD format"
	}

	switch v := body["description"].(type) {
	case nil:
		// optional, defaults to empty
	case string:
		// Length is checked on the raw value, no trimming
		if utf8.RuneCountInString(v) > maxDescriptionLen {
			fields["description"] = "description must be at most 200 characters"
		} else {
			out.Description = v
		}
	default:
		fields["description"] = "description must be a string"
	}

	switch v := body["user"].(type) {
	case nil:
		fields["user"] = "user is required"
	case string:
		trimmed := strings.TrimSpace(v)
		switch {
		case v == "":
			fields["user"] = "user is required"
		case trimmed == "":
			fields["user"] = "user must not be blank"
		case utf8.RuneCountInString(trimmed) > maxUserLen:
			fields["user"] = "user must be at most 50 characters"
		default:
			out.User = trimmed
		}
	default:
		fields["user"] = "user must be a string"
	}

	if len(fields) > 0 {
		return NewExpense{}, fields
	}
	return out, nil
}
