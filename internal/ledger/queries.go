package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/money"
)

func decodeLine(doc Document) (domain.TransactionLine, error) {
	var line domain.TransactionLine
	if err := json.Unmarshal(doc.Body, &line); err != nil {
		return line, fmt.Errorf("failed to decode line %s: %w", doc.ID, err)
	}
	line.Rev = doc.Rev
	return line, nil
}

// scanLines decodes every line document. The scan path serves every derived
// read when the aggregate tables are missing their rows.
func (e *Engine) scanLines() ([]domain.TransactionLine, error) {
	docs, err := e.store.ListByPrefix(domain.PrefixLine)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.TransactionLine, 0, len(docs))
	for _, doc := range docs {
		line, err := decodeLine(doc)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// AccountBalance returns an account's balance per currency through the given
// month (inclusive). An empty uptoMonth means all history. Accounts can hold
// lines in currencies beyond their default, so the result is a slice.
func (e *Engine) AccountBalance(accountID, uptoMonth string) ([]money.Money, error) {
	if _, err := e.getAccountDoc(accountID); err != nil {
		return nil, err
	}

	populated, err := e.viewsPopulated()
	if err != nil {
		return nil, err
	}
	if !populated {
		return e.scanAccountBalance(accountID, uptoMonth)
	}

	query := `SELECT currency, COALESCE(SUM(total), 0) FROM monthly_balance
		 WHERE account_id = ?`
	args := []interface{}{accountID}
	if uptoMonth != "" {
		query += " AND year_month <= ?"
		args = append(args, uptoMonth)
	}
	query += " GROUP BY currency ORDER BY currency ASC"

	rows, err := e.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read balances for %s: %w", accountID, err)
	}
	defer rows.Close()

	var balances []money.Money
	for rows.Next() {
		var currency string
		var total int64
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, fmt.Errorf("failed to scan balance row: %w", err)
		}
		balances = append(balances, money.FromMinorUnits(total, currency))
	}
	return balances, rows.Err()
}

func (e *Engine) scanAccountBalance(accountID, uptoMonth string) ([]money.Money, error) {
	lines, err := e.scanLines()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, l := range lines {
		if l.AccountID != accountID {
			continue
		}
		if uptoMonth != "" && l.YearMonth > uptoMonth {
			continue
		}
		totals[l.Currency] += l.Amount
	}

	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	var balances []money.Money
	for _, c := range currencies {
		balances = append(balances, money.FromMinorUnits(totals[c], c))
	}
	return balances, nil
}

// CategoryTotal is one category's spend or income for a month, sign-adjusted
// so spend reads as a positive figure.
type CategoryTotal struct {
	CategoryID string `json:"categoryId"`
	Name       string `json:"name"`
	Currency   string `json:"currency"`
	Total      int64  `json:"total"`
}

// CategoryBreakdown returns per-category totals for one YYYY-MM. Expense
// totals are stored negative in the views and flipped here for display.
func (e *Engine) CategoryBreakdown(yearMonth string) ([]CategoryTotal, error) {
	names := make(map[string]string)
	categories, err := e.listCategoryDocs()
	if err != nil {
		return nil, err
	}
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}

	populated, err := e.viewsPopulated()
	if err != nil {
		return nil, err
	}
	if !populated {
		return e.scanCategoryBreakdown(yearMonth, names)
	}

	rows, err := e.store.db.Query(
		`SELECT category_id, currency, total FROM monthly_category
		 WHERE year_month = ? ORDER BY category_id ASC, currency ASC`, yearMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read category view for %s: %w", yearMonth, err)
	}
	defer rows.Close()

	var result []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.CategoryID, &ct.Currency, &ct.Total); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		if ct.Total < 0 {
			ct.Total = -ct.Total
		}
		ct.Name = names[ct.CategoryID]
		result = append(result, ct)
	}
	return result, rows.Err()
}

func (e *Engine) scanCategoryBreakdown(yearMonth string, names map[string]string) ([]CategoryTotal, error) {
	lines, err := e.scanLines()
	if err != nil {
		return nil, err
	}

	type bucket struct{ categoryID, currency string }
	totals := make(map[bucket]int64)
	for _, l := range lines {
		if l.YearMonth != yearMonth || l.CategoryID == nil {
			continue
		}
		totals[bucket{*l.CategoryID, l.Currency}] += l.Amount
	}

	buckets := make([]bucket, 0, len(totals))
	for b := range totals {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].categoryID != buckets[j].categoryID {
			return buckets[i].categoryID < buckets[j].categoryID
		}
		return buckets[i].currency < buckets[j].currency
	})

	var result []CategoryTotal
	for _, b := range buckets {
		total := totals[b]
		if total < 0 {
			total = -total
		}
		result = append(result, CategoryTotal{
			CategoryID: b.categoryID,
			Name:       names[b.categoryID],
			Currency:   b.currency,
			Total:      total,
		})
	}
	return result, nil
}

// CurrencyFlow is one currency's in/out/net for a month.
type CurrencyFlow struct {
	Currency string `json:"currency"`
	Income   int64  `json:"income"`
	Expenses int64  `json:"expenses"`
	Net      int64  `json:"net"`
}

// AccountPosition is an account's running balance through the report month.
type AccountPosition struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	Balance   int64  `json:"balance"`
}

// MonthlyReport is the segment-by-currency summary for one month. Currencies
// are never merged; a report over USD and CLP has two flow rows.
type MonthlyReport struct {
	YearMonth  string            `json:"yearMonth"`
	Flows      []CurrencyFlow    `json:"flows"`
	Positions  []AccountPosition `json:"positions"`
	Categories []CategoryTotal   `json:"categories"`
}

// BuildMonthlyReport assembles the month's cashflow, running account
// positions, and category breakdown from the aggregate views, scanning the
// line documents when the views hold no rows.
func (e *Engine) BuildMonthlyReport(yearMonth string) (*MonthlyReport, error) {
	report := &MonthlyReport{YearMonth: yearMonth}

	populated, err := e.viewsPopulated()
	if err != nil {
		return nil, err
	}
	var flows map[string]*CurrencyFlow
	if populated {
		flows, err = e.viewCashflow(yearMonth)
	} else {
		flows, err = e.scanCashflow(yearMonth)
	}
	if err != nil {
		return nil, err
	}
	for _, f := range flows {
		f.Net = f.Income - f.Expenses
		report.Flows = append(report.Flows, *f)
	}
	sort.Slice(report.Flows, func(i, j int) bool {
		return report.Flows[i].Currency < report.Flows[j].Currency
	})

	accounts, err := e.listAccountDocs()
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if acc.Archived {
			continue
		}
		balances, err := e.AccountBalance(acc.ID, yearMonth)
		if err != nil {
			return nil, err
		}
		for _, b := range balances {
			report.Positions = append(report.Positions, AccountPosition{
				AccountID: acc.ID,
				Name:      acc.Name,
				Currency:  b.Currency(),
				Balance:   b.Amount(),
			})
		}
	}
	sort.Slice(report.Positions, func(i, j int) bool {
		if report.Positions[i].Name != report.Positions[j].Name {
			return report.Positions[i].Name < report.Positions[j].Name
		}
		return report.Positions[i].Currency < report.Positions[j].Currency
	})

	categories, err := e.CategoryBreakdown(yearMonth)
	if err != nil {
		return nil, err
	}
	report.Categories = categories

	return report, nil
}

func (e *Engine) viewCashflow(yearMonth string) (map[string]*CurrencyFlow, error) {
	rows, err := e.store.db.Query(
		`SELECT currency, direction, total FROM monthly_cashflow
		 WHERE year_month = ? ORDER BY currency ASC`, yearMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read cashflow view for %s: %w", yearMonth, err)
	}
	defer rows.Close()

	flows := make(map[string]*CurrencyFlow)
	for rows.Next() {
		var currency, direction string
		var total int64
		if err := rows.Scan(&currency, &direction, &total); err != nil {
			return nil, fmt.Errorf("failed to scan cashflow row: %w", err)
		}
		f, ok := flows[currency]
		if !ok {
			f = &CurrencyFlow{Currency: currency}
			flows[currency] = f
		}
		if direction == "in" {
			f.Income += total
		} else {
			f.Expenses += total
		}
	}
	return flows, rows.Err()
}

func (e *Engine) scanCashflow(yearMonth string) (map[string]*CurrencyFlow, error) {
	lines, err := e.scanLines()
	if err != nil {
		return nil, err
	}

	flows := make(map[string]*CurrencyFlow)
	for _, l := range lines {
		if l.YearMonth != yearMonth {
			continue
		}
		f, ok := flows[l.Currency]
		if !ok {
			f = &CurrencyFlow{Currency: l.Currency}
			flows[l.Currency] = f
		}
		if l.Amount >= 0 {
			f.Income += l.Amount
		} else {
			f.Expenses += -l.Amount
		}
	}
	return flows, nil
}

// ExportBundle is a full dump of one identity's store, suitable for backup
// or migration. Views are omitted; they rebuild from the lines.
type ExportBundle struct {
	ExportedAt   time.Time                `json:"exportedAt"`
	User         *domain.User             `json:"user"`
	Settings     *domain.UserSettings     `json:"settings"`
	Accounts     []domain.Account         `json:"accounts"`
	Categories   []domain.Category        `json:"categories"`
	Transactions []domain.Transaction     `json:"transactions"`
	Lines        []domain.TransactionLine `json:"lines"`
}

// Export dumps every document in the store.
func (e *Engine) Export() (*ExportBundle, error) {
	bundle := &ExportBundle{ExportedAt: time.Now()}

	var err error
	if bundle.User, err = e.GetUser(); err != nil {
		return nil, err
	}
	if bundle.Settings, err = e.GetSettings(); err != nil {
		return nil, err
	}
	if bundle.Accounts, err = e.listAccountDocs(); err != nil {
		return nil, err
	}
	if bundle.Categories, err = e.listCategoryDocs(); err != nil {
		return nil, err
	}

	txns, _, err := e.ListTransactions(0, "")
	if err != nil {
		return nil, err
	}
	bundle.Transactions = txns

	docs, err := e.store.ListByPrefix(domain.PrefixLine)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		line, err := decodeLine(doc)
		if err != nil {
			return nil, err
		}
		bundle.Lines = append(bundle.Lines, line)
	}

	return bundle, nil
}
