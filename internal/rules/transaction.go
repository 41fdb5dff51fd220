package rules

import (
	"math"
	"strings"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/money"
)

// balanceTolerance is the advisory tolerance of this layer's float balance
// check. The storage layer's exact-integer check is authoritative; this one
// only exists to produce friendlier messages on drafts built from user input.
const balanceTolerance = 1e-6

// softLineLimit triggers a volume warning, not an error.
const softLineLimit = 50

// CheckTransactionCreate validates a transaction draft and its lines against
// the accounts they reference.
func CheckTransactionCreate(d domain.TransactionDraft, lines []domain.LineDraft, accounts map[string]domain.Account) Result {
	r := newResult()

	if strings.TrimSpace(d.Description) == "" {
		r.addError("description is required")
	}
	if d.Date == "" {
		r.addError("date is required")
	}
	if len(lines) < 2 {
		r.addError("a transaction needs at least 2 lines, got %d", len(lines))
	}
	if len(lines) > softLineLimit {
		r.addWarning("transaction has %d lines; consider splitting it", len(lines))
	}

	sums := make(map[string]float64)
	for i, l := range lines {
		acc, ok := accounts[l.AccountID]
		if !ok {
			r.addError("line %d references unknown account %s", i, l.AccountID)
			continue
		}
		if acc.Archived {
			r.addError("line %d references archived account %q", i, acc.Name)
		}
		if l.Currency != acc.DefaultCurrency {
			r.addWarning("line %d currency %s differs from account %q currency %s", i, l.Currency, acc.Name, acc.DefaultCurrency)
		}

		// Sign plausibility per account type: expense accounts normally
		// receive positive amounts, income accounts negative ones.
		switch acc.Type {
		case domain.AccountExpense:
			if l.Amount < 0 && l.DeltaType == nil {
				r.addWarning("line %d credits expense account %q; unusual unless it is a refund", i, acc.Name)
			}
		case domain.AccountIncome:
			if l.Amount > 0 && l.DeltaType == nil {
				r.addWarning("line %d debits income account %q; unusual unless it is a reversal", i, acc.Name)
			}
		}

		sums[l.Currency] += float64(l.Amount)
	}

	for currency, sum := range sums {
		if math.Abs(sum) > balanceTolerance {
			r.addError("lines do not balance for %s (off by %.0f minor units)", currency, sum)
		}
	}

	return r
}

// CheckCurrencyConsistency verifies that every line currency is known to the
// registry and that the referenced account's precision is canonical.
func CheckCurrencyConsistency(lines []domain.LineDraft, accounts map[string]domain.Account, reg *money.Registry) Result {
	r := newResult()

	for i, l := range lines {
		canonical, err := reg.MinorUnit(l.Currency)
		if err != nil {
			r.addWarning("line %d uses unregistered currency %s", i, l.Currency)
			continue
		}
		if acc, ok := accounts[l.AccountID]; ok && acc.DefaultCurrency == l.Currency && acc.MinorUnit != canonical {
			r.addError("account %q stores %s with precision %d but canonical precision is %d",
				acc.Name, l.Currency, acc.MinorUnit, canonical)
		}
	}

	return r
}
