package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/money"
)

func strptr(s string) *string { return &s }

func TestCheckAccountCreate(t *testing.T) {
	reg := money.NewRegistry()
	existing := []domain.Account{{ID: "account::1", Name: "Checking"}}

	ok := CheckAccountCreate(domain.AccountDraft{
		Name: "Savings", Type: domain.AccountAsset, DefaultCurrency: "USD", MinorUnit: 2,
	}, existing, reg)
	assert.True(t, ok.IsValid)
	assert.Empty(t, ok.Errors)

	dup := CheckAccountCreate(domain.AccountDraft{
		Name: "checking", Type: domain.AccountAsset, DefaultCurrency: "USD", MinorUnit: 2,
	}, existing, reg)
	assert.False(t, dup.IsValid, "name uniqueness is case-insensitive")

	badPrecision := CheckAccountCreate(domain.AccountDraft{
		Name: "Wallet", Type: domain.AccountAsset, DefaultCurrency: "USD", MinorUnit: 0,
	}, nil, reg)
	assert.False(t, badPrecision.IsValid, "minor unit must match canonical USD precision")

	longName := CheckAccountCreate(domain.AccountDraft{
		Name: strings.Repeat("x", 65), Type: domain.AccountAsset, DefaultCurrency: "USD", MinorUnit: 2,
	}, nil, reg)
	assert.False(t, longName.IsValid)
}

func TestCheckAccountArchive(t *testing.T) {
	acc := domain.Account{ID: "account::1", Name: "Checking"}

	assert.True(t, CheckAccountArchive(acc, 0).IsValid)

	blocked := CheckAccountArchive(acc, 3)
	assert.False(t, blocked.IsValid)
	assert.Contains(t, blocked.Errors[0], "visible=false")
}

func TestCheckCategoryCreate_UniquePerKind(t *testing.T) {
	existing := []domain.Category{
		{ID: "category::1", Name: "Food", Kind: domain.CategoryExpense},
	}

	// Same name, different kind is fine.
	r := CheckCategoryCreate(domain.CategoryDraft{Name: "Food", Kind: domain.CategoryIncome}, existing)
	assert.True(t, r.IsValid)

	r = CheckCategoryCreate(domain.CategoryDraft{Name: "food", Kind: domain.CategoryExpense}, existing)
	assert.False(t, r.IsValid)
}

func TestCheckCategoryCreate_Hierarchy(t *testing.T) {
	root := domain.Category{ID: "category::root", Name: "Food", Kind: domain.CategoryExpense}
	child := domain.Category{ID: "category::child", Name: "Restaurants", Kind: domain.CategoryExpense, ParentCategoryID: strptr("category::root")}
	existing := []domain.Category{root, child}

	// A child of a root category is fine.
	r := CheckCategoryCreate(domain.CategoryDraft{
		Name: "Groceries", Kind: domain.CategoryExpense, ParentCategoryID: strptr("category::root"),
	}, existing)
	assert.True(t, r.IsValid)

	// A child of a child exceeds the two-level limit.
	r = CheckCategoryCreate(domain.CategoryDraft{
		Name: "Sushi", Kind: domain.CategoryExpense, ParentCategoryID: strptr("category::child"),
	}, existing)
	assert.False(t, r.IsValid)

	// Kind mismatch between parent and child.
	r = CheckCategoryCreate(domain.CategoryDraft{
		Name: "Salary", Kind: domain.CategoryIncome, ParentCategoryID: strptr("category::root"),
	}, existing)
	assert.False(t, r.IsValid)

	// Unknown parent.
	r = CheckCategoryCreate(domain.CategoryDraft{
		Name: "Misc", Kind: domain.CategoryExpense, ParentCategoryID: strptr("category::nope"),
	}, existing)
	assert.False(t, r.IsValid)
}

func TestHasCategoryCycle(t *testing.T) {
	// a -> b -> a is a cycle.
	byID := map[string]domain.Category{
		"category::a": {ID: "category::a", ParentCategoryID: strptr("category::b")},
		"category::b": {ID: "category::b", ParentCategoryID: strptr("category::a")},
		"category::c": {ID: "category::c", ParentCategoryID: strptr("category::a")},
		"category::d": {ID: "category::d"},
	}

	assert.True(t, HasCategoryCycle("category::a", byID))
	assert.True(t, HasCategoryCycle("category::c", byID), "chain reaching a cycle is detected")
	assert.False(t, HasCategoryCycle("category::d", byID))
	assert.False(t, HasCategoryCycle("category::missing", byID), "broken chain is not a cycle")
}

func TestCheckCategoryArchive(t *testing.T) {
	parent := domain.Category{ID: "category::p", Name: "Food", Kind: domain.CategoryExpense}
	child := domain.Category{ID: "category::c", Name: "Restaurants", Kind: domain.CategoryExpense, ParentCategoryID: strptr("category::p")}

	r := CheckCategoryArchive(parent, []domain.Category{parent, child})
	assert.False(t, r.IsValid)

	child.Archived = true
	r = CheckCategoryArchive(parent, []domain.Category{parent, child})
	assert.True(t, r.IsValid)
}

func testAccounts() map[string]domain.Account {
	return map[string]domain.Account{
		"account::checking": {ID: "account::checking", Name: "Checking", Type: domain.AccountAsset, DefaultCurrency: "USD", MinorUnit: 2},
		"account::food":     {ID: "account::food", Name: "Food", Type: domain.AccountExpense, DefaultCurrency: "USD", MinorUnit: 2},
		"account::old":      {ID: "account::old", Name: "Old", Type: domain.AccountAsset, DefaultCurrency: "USD", MinorUnit: 2, Archived: true},
	}
}

func TestCheckTransactionCreate(t *testing.T) {
	draft := domain.TransactionDraft{Date: "2024-01-15", Description: "Groceries"}
	lines := []domain.LineDraft{
		{AccountID: "account::checking", Amount: -5000, Currency: "USD"},
		{AccountID: "account::food", Amount: 5000, Currency: "USD"},
	}

	r := CheckTransactionCreate(draft, lines, testAccounts())
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Errors)
}

func TestCheckTransactionCreate_Blockers(t *testing.T) {
	draft := domain.TransactionDraft{Date: "2024-01-15", Description: "Broken"}

	// Unknown and archived accounts block.
	r := CheckTransactionCreate(draft, []domain.LineDraft{
		{AccountID: "account::missing", Amount: -100, Currency: "USD"},
		{AccountID: "account::old", Amount: 100, Currency: "USD"},
	}, testAccounts())
	require.False(t, r.IsValid)
	assert.Len(t, r.Errors, 2)

	// Unbalanced lines block at this layer too.
	r = CheckTransactionCreate(draft, []domain.LineDraft{
		{AccountID: "account::checking", Amount: -5000, Currency: "USD"},
		{AccountID: "account::food", Amount: 4000, Currency: "USD"},
	}, testAccounts())
	assert.False(t, r.IsValid)
}

func TestCheckTransactionCreate_SignWarnings(t *testing.T) {
	draft := domain.TransactionDraft{Date: "2024-01-15", Description: "Refund"}
	lines := []domain.LineDraft{
		{AccountID: "account::food", Amount: -2000, Currency: "USD"}, // credit on expense account
		{AccountID: "account::checking", Amount: 2000, Currency: "USD"},
	}

	r := CheckTransactionCreate(draft, lines, testAccounts())
	assert.True(t, r.IsValid, "sign plausibility warns, never blocks")
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, r.Warnings[0], "refund")
}

func TestCheckCurrencyConsistency(t *testing.T) {
	reg := money.NewRegistry()
	accounts := testAccounts()

	r := CheckCurrencyConsistency([]domain.LineDraft{
		{AccountID: "account::checking", Amount: -100, Currency: "USD"},
	}, accounts, reg)
	assert.True(t, r.IsValid)

	// Account precision disagreeing with the canonical one is an error.
	bad := accounts["account::checking"]
	bad.MinorUnit = 3
	accounts["account::checking"] = bad
	r = CheckCurrencyConsistency([]domain.LineDraft{
		{AccountID: "account::checking", Amount: -100, Currency: "USD"},
	}, accounts, reg)
	assert.False(t, r.IsValid)

	// Unknown currency only warns.
	r = CheckCurrencyConsistency([]domain.LineDraft{
		{AccountID: "account::checking", Amount: -100, Currency: "ZZZ"},
	}, accounts, reg)
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.Warnings)
}
