package ledger

import (
	"database/sql"
	"fmt"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
)

// applyLineToViews folds one transaction line into the three monthly
// aggregate tables. Runs inside the same sql transaction as the document
// writes so the views never drift from the lines.
func applyLineToViews(tx *sql.Tx, line domain.TransactionLine) error {
	_, err := tx.Exec(
		`INSERT INTO monthly_balance (year_month, account_id, currency, total)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (year_month, account_id, currency)
		 DO UPDATE SET total = total + excluded.total`,
		line.YearMonth, line.AccountID, line.Currency, line.Amount,
	)
	if err != nil {
		return fmt.Errorf("failed to update monthly balance view: %w", err)
	}

	if line.CategoryID != nil {
		_, err = tx.Exec(
			`INSERT INTO monthly_category (year_month, category_id, currency, total)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (year_month, category_id, currency)
			 DO UPDATE SET total = total + excluded.total`,
			line.YearMonth, *line.CategoryID, line.Currency, line.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to update monthly category view: %w", err)
		}
	}

	direction := "in"
	amount := line.Amount
	if amount < 0 {
		direction = "out"
		amount = -amount
	}
	_, err = tx.Exec(
		`INSERT INTO monthly_cashflow (year_month, currency, direction, total)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (year_month, currency, direction)
		 DO UPDATE SET total = total + excluded.total`,
		line.YearMonth, line.Currency, direction, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to update monthly cashflow view: %w", err)
	}
	return nil
}

// balanceToDate sums an account's movements in one currency through the
// given month (inclusive). An empty uptoMonth means all history. Falls back
// to a line scan when the views have never been populated.
func (e *Engine) balanceToDate(accountID, currency, uptoMonth string) (int64, error) {
	populated, err := e.viewsPopulated()
	if err != nil {
		return 0, err
	}
	if !populated {
		return e.scanBalance(accountID, currency, uptoMonth)
	}

	query := `SELECT COALESCE(SUM(total), 0) FROM monthly_balance
		 WHERE account_id = ? AND currency = ?`
	args := []interface{}{accountID, currency}
	if uptoMonth != "" {
		query += " AND year_month <= ?"
		args = append(args, uptoMonth)
	}

	var total int64
	if err := e.store.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to read balance view for %s: %w", accountID, err)
	}
	return total, nil
}

// viewsPopulated reports whether the aggregate tables hold any rows. Lines
// with no matching view rows mean the views were lost (a restored backup, a
// manual truncate) and readers should scan instead.
func (e *Engine) viewsPopulated() (bool, error) {
	lines, err := e.store.CountByPrefix(domain.PrefixLine)
	if err != nil {
		return false, err
	}
	if lines == 0 {
		return true, nil
	}
	var n int
	if err := e.store.db.QueryRow("SELECT COUNT(*) FROM monthly_balance").Scan(&n); err != nil {
		return false, fmt.Errorf("failed to inspect balance view: %w", err)
	}
	return n > 0, nil
}

// scanBalance computes a balance straight from the line documents.
func (e *Engine) scanBalance(accountID, currency, uptoMonth string) (int64, error) {
	query := `SELECT COALESCE(SUM(json_extract(body, '$.amount')), 0) FROM documents
		 WHERE id LIKE 'line::%'
		 AND json_extract(body, '$.accountId') = ?
		 AND json_extract(body, '$.currency') = ?`
	args := []interface{}{accountID, currency}
	if uptoMonth != "" {
		query += " AND json_extract(body, '$.yearMonth') <= ?"
		args = append(args, uptoMonth)
	}

	var total int64
	if err := e.store.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to scan lines for %s: %w", accountID, err)
	}
	return total, nil
}

// RebuildViews recomputes the three aggregate tables from the line documents.
// The lines are the source of truth; the views are always recoverable.
func (e *Engine) RebuildViews() error {
	docs, err := e.store.ListByPrefix(domain.PrefixLine)
	if err != nil {
		return err
	}

	err = e.store.WithTransaction(func(tx *sql.Tx) error {
		for _, table := range []string{"monthly_balance", "monthly_category", "monthly_cashflow"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		for _, doc := range docs {
			line, err := decodeLine(doc)
			if err != nil {
				return err
			}
			if err := applyLineToViews(tx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().Int("lines", len(docs)).Msg("Aggregate views rebuilt")
	return nil
}
