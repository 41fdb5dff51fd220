package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateFormat is the canonical document date format.
const DateFormat = "2006-01-02"

// YearMonthOf derives the YYYY-MM aggregation key from a document date.
// The date must already be validated.
func YearMonthOf(date string) string {
	if len(date) >= 7 {
		return date[:7]
	}
	return date
}

// ValidationError carries per-field messages for a schema validation failure.
// A nil *ValidationError means the value passed.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// orNil returns nil for an empty error so callers can treat the result as a
// plain error value.
func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func validDate(s string) bool {
	_, err := time.Parse(DateFormat, s)
	return err == nil
}

// ValidateAccountDraft checks the structural shape of an account create.
func ValidateAccountDraft(d AccountDraft) error {
	var e ValidationError
	if strings.TrimSpace(d.Name) == "" {
		e.add("name", "name is required")
	}
	switch d.Type {
	case AccountAsset, AccountLiability, AccountIncome, AccountExpense, AccountEquity:
	default:
		e.add("type", fmt.Sprintf("unknown account type %q", d.Type))
	}
	if d.DefaultCurrency == "" {
		e.add("defaultCurrency", "currency is required")
	}
	if d.MinorUnit < 0 || d.MinorUnit > 8 {
		e.add("minorUnit", fmt.Sprintf("minor unit must be between 0 and 8, got %d", d.MinorUnit))
	}
	return e.orNil()
}

// ValidateAccountPatch checks the structural shape of an account update.
func ValidateAccountPatch(p AccountPatch) error {
	var e ValidationError
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		e.add("name", "name cannot be empty")
	}
	return e.orNil()
}

// ValidateCategoryDraft checks the structural shape of a category create.
func ValidateCategoryDraft(d CategoryDraft) error {
	var e ValidationError
	if strings.TrimSpace(d.Name) == "" {
		e.add("name", "name is required")
	}
	switch d.Kind {
	case CategoryIncome, CategoryExpense, CategoryTransfer:
	default:
		e.add("kind", fmt.Sprintf("unknown category kind %q", d.Kind))
	}
	if d.ParentCategoryID != nil && !IsCategoryID(*d.ParentCategoryID) {
		e.add("parentCategoryId", "parent must be a category id")
	}
	return e.orNil()
}

// ValidateCategoryPatch checks the structural shape of a category update.
func ValidateCategoryPatch(p CategoryPatch) error {
	var e ValidationError
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		e.add("name", "name cannot be empty")
	}
	return e.orNil()
}

// ValidateUserPatch checks the structural shape of a profile update.
func ValidateUserPatch(p UserPatch) error {
	var e ValidationError
	if p.Email != nil && !strings.Contains(*p.Email, "@") {
		e.add("email", "invalid email address")
	}
	if p.HomeCurrency != nil && *p.HomeCurrency == "" {
		e.add("homeCurrency", "currency cannot be empty")
	}
	return e.orNil()
}

// ValidateSettingsPatch checks the structural shape of a settings update.
func ValidateSettingsPatch(p SettingsPatch) error {
	var e ValidationError
	if p.GateMethod != nil {
		switch *p.GateMethod {
		case GatePIN, GateWebAuthn, GateNone:
		default:
			e.add("gateMethod", fmt.Sprintf("unknown gate method %q", *p.GateMethod))
		}
	}
	if p.GateDurationMin != nil && *p.GateDurationMin <= 0 {
		e.add("gateDurationMin", "gate duration must be positive")
	}
	if p.FirstDayOfMonth != nil && (*p.FirstDayOfMonth < 1 || *p.FirstDayOfMonth > 28) {
		e.add("firstDayOfMonth", "must be between 1 and 28")
	}
	return e.orNil()
}

func validateLineDraft(e *ValidationError, i int, l LineDraft) {
	field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }

	if l.AccountID == "" {
		e.add(field("accountId"), "account is required")
	} else if !IsAccountID(l.AccountID) {
		e.add(field("accountId"), "must be an account id")
	}
	if l.Currency == "" {
		e.add(field("currency"), "currency is required")
	}
	if l.Amount == 0 {
		e.add(field("amount"), "amount cannot be zero")
	}
	if l.CategoryID != nil && !IsCategoryID(*l.CategoryID) {
		e.add(field("categoryId"), "must be a category id")
	}
	if l.DeltaType != nil {
		switch *l.DeltaType {
		case DeltaCorrection, DeltaReversal:
		default:
			e.add(field("deltaType"), fmt.Sprintf("unknown delta type %q", *l.DeltaType))
		}
		if l.OriginalLineID == nil || !IsLineID(*l.OriginalLineID) {
			e.add(field("originalLineId"), "delta lines must reference the original line")
		}
	}
	if l.OriginalLineID != nil && l.DeltaType == nil {
		e.add(field("deltaType"), "originalLineId requires a delta type")
	}
}

// ValidateTransactionBatch validates a transaction draft together with its
// line drafts, including the exact per-currency zero-sum invariant. This is
// the single authoritative gate before any write reaches storage.
func ValidateTransactionBatch(d TransactionDraft, lines []LineDraft) error {
	var e ValidationError

	if strings.TrimSpace(d.Description) == "" {
		e.add("description", "description is required")
	}
	if d.Date == "" {
		e.add("date", "date is required")
	} else if !validDate(d.Date) {
		e.add("date", fmt.Sprintf("date must be %s", DateFormat))
	}
	if d.CategoryID != nil && !IsCategoryID(*d.CategoryID) {
		e.add("categoryId", "must be a category id")
	}

	if len(lines) < 2 {
		e.add("lines", fmt.Sprintf("a transaction needs at least 2 lines, got %d", len(lines)))
	}
	for i, l := range lines {
		validateLineDraft(&e, i, l)
	}

	// Exact integer zero-sum per currency across the whole batch.
	sums := make(map[string]int64)
	for _, l := range lines {
		sums[l.Currency] += l.Amount
	}
	for currency, sum := range sums {
		if currency != "" && sum != 0 {
			e.add("lines", fmt.Sprintf("lines do not balance for %s: sum is %d", currency, sum))
		}
	}

	return e.orNil()
}
