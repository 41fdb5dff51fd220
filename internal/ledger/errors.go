// Package ledger owns the per-identity replicated document store: index and
// view provisioning, typed CRUD, and the atomic double-entry transaction
// writer.
package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// NotFoundError reports a document id that is absent from the store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s", e.ID)
}

// ConflictError reports a revision mismatch on update or delete. The caller
// should re-fetch and retry; the store never retries on its own.
type ConflictError struct {
	ID          string
	ExpectedRev int64
	ActualRev   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s: expected rev %d, store has %d",
		e.ID, e.ExpectedRev, e.ActualRev)
}

// UnbalancedTransactionError reports a transaction batch whose line amounts
// do not sum to zero within every currency. The write is rejected before
// touching the store.
type UnbalancedTransactionError struct {
	Deltas map[string]int64 // currency -> non-zero sum
}

func (e *UnbalancedTransactionError) Error() string {
	currencies := make([]string, 0, len(e.Deltas))
	for c := range e.Deltas {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		parts = append(parts, fmt.Sprintf("%s=%+d", c, e.Deltas[c]))
	}
	return "transaction lines do not sum to zero: " + strings.Join(parts, ", ")
}

// ArchivalBlockedError reports an archive attempt on an account that still
// has transaction lines referencing it.
type ArchivalBlockedError struct {
	AccountID string
	LineCount int
}

func (e *ArchivalBlockedError) Error() string {
	return fmt.Sprintf("account %s cannot be archived: %d transaction lines reference it (hide it instead)",
		e.AccountID, e.LineCount)
}
