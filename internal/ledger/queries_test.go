package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/money"
)

// seedMonth writes a paycheck and two categorized spends into 2026-03 plus
// one spend into 2026-04.
func seedMonth(t *testing.T, eng *Engine) (checking *domain.Account, food *domain.Category) {
	t.Helper()
	checking = mustCreateAccount(t, eng, "Checking", domain.AccountAsset, "USD", 2)

	var err error
	food, _, err = eng.CreateCategory(domain.CategoryDraft{Name: "Food", Kind: domain.CategoryExpense})
	require.NoError(t, err)

	_, _, err = eng.CreateTransaction(
		domain.TransactionDraft{Date: "2026-03-01", Description: "Paycheck"},
		[]domain.LineDraft{
			{AccountID: checking.ID, Amount: 300000, Currency: "USD"},
			{AccountID: domain.SystemIncomeAccountID, Amount: -300000, Currency: "USD"},
		},
	)
	require.NoError(t, err)

	for _, amount := range []int64{5000, 7500} {
		_, _, err = eng.CreateTransaction(
			domain.TransactionDraft{Date: "2026-03-10", Description: "Groceries", CategoryID: &food.ID},
			[]domain.LineDraft{
				{AccountID: checking.ID, Amount: -amount, Currency: "USD", CategoryID: &food.ID},
				{AccountID: domain.SystemExpenseAccountID, Amount: amount, Currency: "USD"},
			},
		)
		require.NoError(t, err)
	}

	_, _, err = eng.CreateTransaction(
		domain.TransactionDraft{Date: "2026-04-02", Description: "Groceries", CategoryID: &food.ID},
		[]domain.LineDraft{
			{AccountID: checking.ID, Amount: -2000, Currency: "USD", CategoryID: &food.ID},
			{AccountID: domain.SystemExpenseAccountID, Amount: 2000, Currency: "USD"},
		},
	)
	require.NoError(t, err)

	return checking, food
}

func TestAccountBalanceUpToMonth(t *testing.T) {
	eng := newTestEngine(t)
	checking, _ := seedMonth(t, eng)

	march, err := eng.AccountBalance(checking.ID, "2026-03")
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Equal(t, money.FromMinorUnits(287500, "USD"), march[0])

	all, err := eng.AccountBalance(checking.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(285500), all[0].Amount())

	_, err = eng.AccountBalance("account::missing", "")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCategoryBreakdown(t *testing.T) {
	eng := newTestEngine(t)
	_, food := seedMonth(t, eng)

	breakdown, err := eng.CategoryBreakdown("2026-03")
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, food.ID, breakdown[0].CategoryID)
	assert.Equal(t, "Food", breakdown[0].Name)
	// Stored negative, reported positive.
	assert.Equal(t, int64(12500), breakdown[0].Total)

	empty, err := eng.CategoryBreakdown("2026-01")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMonthlyReport(t *testing.T) {
	eng := newTestEngine(t)
	checking, _ := seedMonth(t, eng)

	report, err := eng.BuildMonthlyReport("2026-03")
	require.NoError(t, err)
	assert.Equal(t, "2026-03", report.YearMonth)

	require.Len(t, report.Flows, 1)
	flow := report.Flows[0]
	assert.Equal(t, "USD", flow.Currency)
	// Both legs of every transaction land in the cashflow view, so income
	// and expenses each carry the counterparty legs too.
	assert.Equal(t, int64(312500), flow.Income)
	assert.Equal(t, int64(312500), flow.Expenses)
	assert.Equal(t, int64(0), flow.Net)

	var checkingPos *AccountPosition
	for i := range report.Positions {
		if report.Positions[i].AccountID == checking.ID {
			checkingPos = &report.Positions[i]
		}
	}
	require.NotNil(t, checkingPos)
	assert.Equal(t, int64(287500), checkingPos.Balance)

	require.Len(t, report.Categories, 1)
	assert.Equal(t, int64(12500), report.Categories[0].Total)
}

func TestMonthlyReportSegmentsCurrencies(t *testing.T) {
	eng := newTestEngine(t)
	usd := mustCreateAccount(t, eng, "Checking USD", domain.AccountAsset, "USD", 2)
	clp := mustCreateAccount(t, eng, "Checking CLP", domain.AccountAsset, "CLP", 0)

	_, _, err := eng.CreateTransaction(
		domain.TransactionDraft{Date: "2026-03-05", Description: "Mixed"},
		[]domain.LineDraft{
			{AccountID: usd.ID, Amount: -1000, Currency: "USD"},
			{AccountID: domain.SystemExpenseAccountID, Amount: 1000, Currency: "USD"},
			{AccountID: clp.ID, Amount: -90000, Currency: "CLP"},
			{AccountID: domain.SystemExpenseAccountID, Amount: 90000, Currency: "CLP"},
		},
	)
	require.NoError(t, err)

	report, err := eng.BuildMonthlyReport("2026-03")
	require.NoError(t, err)
	require.Len(t, report.Flows, 2)
	assert.Equal(t, "CLP", report.Flows[0].Currency)
	assert.Equal(t, "USD", report.Flows[1].Currency)
}

func TestRebuildViews(t *testing.T) {
	eng := newTestEngine(t)
	checking, _ := seedMonth(t, eng)

	before, err := eng.AccountBalance(checking.ID, "")
	require.NoError(t, err)

	// Wipe the views and watch balances survive via the scan fallback.
	_, err = eng.store.db.Exec("DELETE FROM monthly_balance")
	require.NoError(t, err)

	acc, err := eng.GetAccount(checking.ID)
	require.NoError(t, err)
	assert.Equal(t, before[0].Amount(), acc.Balance)

	// A rebuild restores the views from the lines.
	require.NoError(t, eng.RebuildViews())
	after, err := eng.AccountBalance(checking.ID, "")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].Amount(), after[0].Amount())
}

func TestDerivedQueriesScanFallback(t *testing.T) {
	eng := newTestEngine(t)
	checking, food := seedMonth(t, eng)

	// Wipe all three view tables; every derived read must still answer from
	// the line documents.
	for _, table := range []string{"monthly_balance", "monthly_category", "monthly_cashflow"} {
		_, err := eng.store.db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}

	march, err := eng.AccountBalance(checking.ID, "2026-03")
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Equal(t, int64(287500), march[0].Amount())

	breakdown, err := eng.CategoryBreakdown("2026-03")
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, food.ID, breakdown[0].CategoryID)
	assert.Equal(t, int64(12500), breakdown[0].Total)

	report, err := eng.BuildMonthlyReport("2026-03")
	require.NoError(t, err)
	require.Len(t, report.Flows, 1)
	assert.Equal(t, int64(312500), report.Flows[0].Income)
	assert.Equal(t, int64(312500), report.Flows[0].Expenses)
	require.Len(t, report.Categories, 1)

	var checkingPos *AccountPosition
	for i := range report.Positions {
		if report.Positions[i].AccountID == checking.ID {
			checkingPos = &report.Positions[i]
		}
	}
	require.NotNil(t, checkingPos)
	assert.Equal(t, int64(287500), checkingPos.Balance)
}

func TestExport(t *testing.T) {
	eng := newTestEngine(t)
	seedMonth(t, eng)

	bundle, err := eng.Export()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", bundle.User.UserID)
	assert.NotNil(t, bundle.Settings)
	assert.Len(t, bundle.Accounts, 3) // checking + two system accounts
	assert.Len(t, bundle.Categories, 1)
	assert.Len(t, bundle.Transactions, 4)
	assert.Len(t, bundle.Lines, 8)
}
