package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
	"github.com/Skryensya/logdr.io-sub000/internal/rules"
)

// TransactionWithLines bundles a transaction header with its lines, ordered
// by line id ascending (creation order).
type TransactionWithLines struct {
	Transaction domain.Transaction       `json:"transaction"`
	Lines       []domain.TransactionLine `json:"lines"`
}

// CreateTransaction atomically persists a transaction header, its lines, and
// the matching monthly view deltas. The per-currency zero-sum check runs
// before anything else; an unbalanced batch never reaches storage.
func (e *Engine) CreateTransaction(d domain.TransactionDraft, lineDrafts []domain.LineDraft) (*TransactionWithLines, []string, error) {
	// Balance check first so callers get the typed error rather than a
	// generic field message when the books do not close.
	deltas := make(map[string]int64)
	for _, l := range lineDrafts {
		deltas[l.Currency] += l.Amount
	}
	for currency, sum := range deltas {
		if currency != "" && sum != 0 {
			unbalanced := make(map[string]int64)
			for c, s := range deltas {
				if s != 0 {
					unbalanced[c] = s
				}
			}
			return nil, nil, &UnbalancedTransactionError{Deltas: unbalanced}
		}
	}

	if err := domain.ValidateTransactionBatch(d, lineDrafts); err != nil {
		return nil, nil, err
	}

	accounts, err := e.accountsByID()
	if err != nil {
		return nil, nil, err
	}
	check := rules.CheckTransactionCreate(d, lineDrafts, accounts)
	check.Merge(rules.CheckCurrencyConsistency(lineDrafts, accounts, e.currencies))
	if !check.IsValid {
		return nil, check.Warnings, ruleError(check)
	}

	now := time.Now()
	txn := domain.Transaction{
		ID:          domain.NewTransactionID(),
		Date:        d.Date,
		Description: d.Description,
		CategoryID:  d.CategoryID,
		Tags:        d.Tags,
		YearMonth:   domain.YearMonthOf(d.Date),
		LineCount:   len(lineDrafts),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	lines := make([]domain.TransactionLine, 0, len(lineDrafts))
	for _, ld := range lineDrafts {
		lines = append(lines, domain.TransactionLine{
			ID:             domain.NewLineID(),
			TransactionID:  txn.ID,
			AccountID:      ld.AccountID,
			Amount:         ld.Amount,
			Currency:       ld.Currency,
			Date:           txn.Date,
			YearMonth:      txn.YearMonth,
			CategoryID:     ld.CategoryID,
			IsDebit:        ld.Amount < 0,
			CreatedAt:      now,
			DeltaType:      ld.DeltaType,
			OriginalLineID: ld.OriginalLineID,
			Reason:         ld.Reason,
		})
	}

	err = e.store.WithTransaction(func(tx *sql.Tx) error {
		txnBody, err := marshalDoc(txn)
		if err != nil {
			return err
		}
		if _, err := putIn(tx, txn.ID, txnBody); err != nil {
			return err
		}
		for i := range lines {
			body, err := marshalDoc(lines[i])
			if err != nil {
				return err
			}
			if _, err := putIn(tx, lines[i].ID, body); err != nil {
				return err
			}
			if err := applyLineToViews(tx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, check.Warnings, err
	}

	txn.Rev = 1
	for i := range lines {
		lines[i].Rev = 1
	}

	e.log.Info().
		Str("transaction_id", txn.ID).
		Int("lines", len(lines)).
		Str("date", txn.Date).
		Msg("Transaction created")
	e.emit(events.TransactionCreated, map[string]interface{}{
		"transactionId": txn.ID,
		"yearMonth":     txn.YearMonth,
		"lineCount":     len(lines),
	})

	return &TransactionWithLines{Transaction: txn, Lines: lines}, check.Warnings, nil
}

// GetTransactionWithLines fetches a transaction header and its lines.
func (e *Engine) GetTransactionWithLines(id string) (*TransactionWithLines, error) {
	doc, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	var txn domain.Transaction
	if err := json.Unmarshal(doc.Body, &txn); err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", id, err)
	}
	txn.Rev = doc.Rev

	lines, err := e.linesForTransaction(id)
	if err != nil {
		return nil, err
	}
	return &TransactionWithLines{Transaction: txn, Lines: lines}, nil
}

// linesForTransaction fetches the lines of one transaction via the
// json_extract secondary index, ordered by id ascending.
func (e *Engine) linesForTransaction(txnID string) ([]domain.TransactionLine, error) {
	rows, err := e.store.db.Query(
		`SELECT id, rev, body FROM documents
		 WHERE id LIKE 'line::%' AND json_extract(body, '$.transactionId') = ?
		 ORDER BY id ASC`, txnID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines for %s: %w", txnID, err)
	}
	defer rows.Close()

	var lines []domain.TransactionLine
	for rows.Next() {
		var id string
		var rev int64
		var body string
		if err := rows.Scan(&id, &rev, &body); err != nil {
			return nil, fmt.Errorf("failed to scan line row: %w", err)
		}
		var line domain.TransactionLine
		if err := json.Unmarshal([]byte(body), &line); err != nil {
			return nil, fmt.Errorf("failed to decode line %s: %w", id, err)
		}
		line.Rev = rev
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListTransactions returns transaction headers newest first. A cursor is the
// id of the last transaction of the previous page; pass "" for the first page.
func (e *Engine) ListTransactions(limit int, cursor string) ([]domain.Transaction, string, error) {
	docs, err := e.store.ListByPrefix(domain.PrefixTransaction)
	if err != nil {
		return nil, "", err
	}

	txns := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		var txn domain.Transaction
		if err := json.Unmarshal(doc.Body, &txn); err != nil {
			return nil, "", fmt.Errorf("failed to decode transaction %s: %w", doc.ID, err)
		}
		txn.Rev = doc.Rev
		txns = append(txns, txn)
	}

	// UUIDv7 ids sort by creation time; newest first means descending by id.
	sort.Slice(txns, func(i, j int) bool { return txns[i].ID > txns[j].ID })

	start := 0
	if cursor != "" {
		for i, txn := range txns {
			if txn.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(txns) {
		return []domain.Transaction{}, "", nil
	}

	end := len(txns)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := txns[start:end]

	next := ""
	if end < len(txns) && len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

// ListTransactionsByMonth returns headers for one YYYY-MM, newest first.
func (e *Engine) ListTransactionsByMonth(yearMonth string) ([]domain.Transaction, error) {
	all, _, err := e.ListTransactions(0, "")
	if err != nil {
		return nil, err
	}
	result := make([]domain.Transaction, 0)
	for _, txn := range all {
		if txn.YearMonth == yearMonth {
			result = append(result, txn)
		}
	}
	return result, nil
}

// ReverseTransaction appends a new transaction whose lines negate the
// original, marked as reversal deltas referencing the original lines. The
// original transaction and its lines are never touched.
func (e *Engine) ReverseTransaction(id string, reason string) (*TransactionWithLines, error) {
	original, err := e.GetTransactionWithLines(id)
	if err != nil {
		return nil, err
	}

	draft := domain.TransactionDraft{
		Date:        time.Now().Format(domain.DateFormat),
		Description: "Reversal: " + original.Transaction.Description,
		CategoryID:  original.Transaction.CategoryID,
	}

	reversal := domain.DeltaReversal
	lineDrafts := make([]domain.LineDraft, 0, len(original.Lines))
	for _, line := range original.Lines {
		origID := line.ID
		ld := domain.LineDraft{
			AccountID:      line.AccountID,
			Amount:         -line.Amount,
			Currency:       line.Currency,
			CategoryID:     line.CategoryID,
			DeltaType:      &reversal,
			OriginalLineID: &origID,
		}
		if reason != "" {
			r := reason
			ld.Reason = &r
		}
		lineDrafts = append(lineDrafts, ld)
	}

	result, _, err := e.CreateTransaction(draft, lineDrafts)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("original_id", id).
		Str("reversal_id", result.Transaction.ID).
		Msg("Transaction reversed")
	return result, nil
}

// CorrectLine appends a correction transaction that moves one booked line to
// the given amount. The difference is balanced against the original
// transaction's single counterpart leg in the same currency, so the books
// stay closed without mutating either line. Transactions with more than one
// counterpart leg must be reversed and re-entered instead.
func (e *Engine) CorrectLine(lineID string, amount int64, reason string) (*TransactionWithLines, error) {
	if !domain.IsLineID(lineID) {
		return nil, &domain.ValidationError{Fields: map[string][]string{
			"lineId": {"must be a line id"},
		}}
	}

	doc, err := e.store.Get(lineID)
	if err != nil {
		return nil, err
	}
	var line domain.TransactionLine
	if err := json.Unmarshal(doc.Body, &line); err != nil {
		return nil, fmt.Errorf("failed to decode line %s: %w", lineID, err)
	}

	delta := amount - line.Amount
	if delta == 0 {
		return nil, &domain.ValidationError{Fields: map[string][]string{
			"amount": {"matches the booked amount, nothing to correct"},
		}}
	}

	original, err := e.GetTransactionWithLines(line.TransactionID)
	if err != nil {
		return nil, err
	}

	var counterpart *domain.TransactionLine
	for i := range original.Lines {
		l := &original.Lines[i]
		if l.ID == lineID || l.Currency != line.Currency {
			continue
		}
		if counterpart != nil {
			return nil, &domain.ValidationError{Fields: map[string][]string{
				"lineId": {"transaction has multiple counterpart legs, reverse and re-enter instead"},
			}}
		}
		counterpart = l
	}
	if counterpart == nil {
		return nil, &domain.ValidationError{Fields: map[string][]string{
			"lineId": {"no counterpart leg in the same currency"},
		}}
	}

	correction := domain.DeltaCorrection
	origID := line.ID
	counterID := counterpart.ID
	var reasonPtr *string
	if reason != "" {
		r := reason
		reasonPtr = &r
	}

	draft := domain.TransactionDraft{
		Date:        time.Now().Format(domain.DateFormat),
		Description: "Correction: " + original.Transaction.Description,
		CategoryID:  original.Transaction.CategoryID,
	}
	lineDrafts := []domain.LineDraft{
		{
			AccountID:      line.AccountID,
			Amount:         delta,
			Currency:       line.Currency,
			CategoryID:     line.CategoryID,
			DeltaType:      &correction,
			OriginalLineID: &origID,
			Reason:         reasonPtr,
		},
		{
			AccountID:      counterpart.AccountID,
			Amount:         -delta,
			Currency:       line.Currency,
			CategoryID:     counterpart.CategoryID,
			DeltaType:      &correction,
			OriginalLineID: &counterID,
			Reason:         reasonPtr,
		},
	}

	result, _, err := e.CreateTransaction(draft, lineDrafts)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("line_id", lineID).
		Str("correction_id", result.Transaction.ID).
		Int64("delta", delta).
		Msg("Line corrected")
	return result, nil
}

// LineCountForAccount counts the lines referencing an account; the archival
// guard for accounts with history.
func (e *Engine) LineCountForAccount(accountID string) (int, error) {
	var n int
	err := e.store.db.QueryRow(
		`SELECT COUNT(*) FROM documents
		 WHERE id LIKE 'line::%' AND json_extract(body, '$.accountId') = ?`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count lines for account %s: %w", accountID, err)
	}
	return n, nil
}
