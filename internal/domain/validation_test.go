package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccountDraft(t *testing.T) {
	valid := AccountDraft{Name: "Checking", Type: AccountAsset, DefaultCurrency: "USD", MinorUnit: 2}
	assert.NoError(t, ValidateAccountDraft(valid))

	bad := AccountDraft{Name: " ", Type: "savings", DefaultCurrency: "", MinorUnit: 12}
	err := ValidateAccountDraft(bad)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "type")
	assert.Contains(t, ve.Fields, "defaultCurrency")
	assert.Contains(t, ve.Fields, "minorUnit")
}

func TestValidateCategoryDraft(t *testing.T) {
	assert.NoError(t, ValidateCategoryDraft(CategoryDraft{Name: "Food", Kind: CategoryExpense}))

	parent := "account::not-a-category"
	err := ValidateCategoryDraft(CategoryDraft{Name: "Food", Kind: "stuff", ParentCategoryID: &parent})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "kind")
	assert.Contains(t, ve.Fields, "parentCategoryId")
}

func TestValidateTransactionBatch_Balanced(t *testing.T) {
	draft := TransactionDraft{Date: "2024-01-15", Description: "Groceries"}
	lines := []LineDraft{
		{AccountID: "account::a", Amount: -5000, Currency: "USD"},
		{AccountID: "account::b", Amount: 5000, Currency: "USD"},
	}
	assert.NoError(t, ValidateTransactionBatch(draft, lines))
}

func TestValidateTransactionBatch_MultiCurrencyBalanced(t *testing.T) {
	draft := TransactionDraft{Date: "2024-01-15", Description: "FX transfer"}
	lines := []LineDraft{
		{AccountID: "account::a", Amount: -10000, Currency: "USD"},
		{AccountID: "account::b", Amount: 10000, Currency: "USD"},
		{AccountID: "account::c", Amount: -9200, Currency: "EUR"},
		{AccountID: "account::d", Amount: 9200, Currency: "EUR"},
	}
	assert.NoError(t, ValidateTransactionBatch(draft, lines))
}

func TestValidateTransactionBatch_Unbalanced(t *testing.T) {
	draft := TransactionDraft{Date: "2024-01-15", Description: "Broken"}
	lines := []LineDraft{
		{AccountID: "account::a", Amount: -5000, Currency: "USD"},
		{AccountID: "account::b", Amount: 4999, Currency: "USD"},
	}

	err := ValidateTransactionBatch(draft, lines)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Fields, "lines")
	assert.Contains(t, strings.Join(ve.Fields["lines"], " "), "USD")
}

func TestValidateTransactionBatch_StructuralChecks(t *testing.T) {
	// Too few lines, bad date, missing description.
	err := ValidateTransactionBatch(TransactionDraft{Date: "15-01-2024"}, []LineDraft{
		{AccountID: "account::a", Amount: 100, Currency: "USD"},
	})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "description")
	assert.Contains(t, ve.Fields, "date")
	assert.Contains(t, ve.Fields, "lines")
}

func TestValidateTransactionBatch_DeltaLines(t *testing.T) {
	draft := TransactionDraft{Date: "2024-02-01", Description: "Correction"}
	correction := DeltaCorrection
	orig := "line::0190aaaa-aaaa-7aaa-aaaa-aaaaaaaaaaaa"

	lines := []LineDraft{
		{AccountID: "account::a", Amount: -100, Currency: "USD", DeltaType: &correction, OriginalLineID: &orig},
		{AccountID: "account::b", Amount: 100, Currency: "USD"},
	}
	assert.NoError(t, ValidateTransactionBatch(draft, lines))

	// Delta type without a reference is rejected.
	lines[0].OriginalLineID = nil
	err := ValidateTransactionBatch(draft, lines)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "lines[0].originalLineId")
}

func TestYearMonthOf(t *testing.T) {
	assert.Equal(t, "2024-01", YearMonthOf("2024-01-15"))
	assert.Equal(t, "1999-12", YearMonthOf("1999-12-31"))
}

func TestIDNamespaces(t *testing.T) {
	acc := NewAccountID()
	assert.True(t, IsAccountID(acc))
	assert.False(t, IsCategoryID(acc))

	txn := NewTransactionID()
	line := NewLineID()
	assert.True(t, IsTransactionID(txn))
	assert.True(t, IsLineID(line))
}

func TestIDsAreMonotonicallySortable(t *testing.T) {
	// UUIDv7 ids generated in sequence must sort in creation order.
	prev := NewTransactionID()
	for i := 0; i < 50; i++ {
		next := NewTransactionID()
		assert.LessOrEqual(t, prev, next)
		prev = next
	}
}
