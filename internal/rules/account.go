package rules

import (
	"strings"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/money"
)

const maxAccountNameLen = 64

// CheckAccountCreate validates an account draft against the existing
// accounts and the currency registry.
func CheckAccountCreate(d domain.AccountDraft, existing []domain.Account, reg *money.Registry) Result {
	r := newResult()

	name := strings.TrimSpace(d.Name)
	if name == "" {
		r.addError("account name is required")
	}
	if len(name) > maxAccountNameLen {
		r.addError("account name exceeds %d characters", maxAccountNameLen)
	}
	for _, acc := range existing {
		if strings.EqualFold(acc.Name, name) {
			r.addError("account name %q is already in use", name)
			break
		}
	}

	if d.MinorUnit < 0 || d.MinorUnit > 8 {
		r.addError("minor unit must be between 0 and 8, got %d", d.MinorUnit)
	}

	// Precision must match the currency's canonical minor unit.
	if canonical, err := reg.MinorUnit(d.DefaultCurrency); err != nil {
		r.addWarning("currency %s is not in the registry, precision cannot be verified", d.DefaultCurrency)
	} else if canonical != d.MinorUnit {
		r.addError("minor unit %d does not match %s precision %d", d.MinorUnit, d.DefaultCurrency, canonical)
	}

	return r
}

// CheckAccountRename validates a name change against the other accounts.
func CheckAccountRename(accountID, newName string, existing []domain.Account) Result {
	r := newResult()

	name := strings.TrimSpace(newName)
	if name == "" {
		r.addError("account name is required")
	}
	if len(name) > maxAccountNameLen {
		r.addError("account name exceeds %d characters", maxAccountNameLen)
	}
	for _, acc := range existing {
		if acc.ID != accountID && strings.EqualFold(acc.Name, name) {
			r.addError("account name %q is already in use", name)
			break
		}
	}
	return r
}

// CheckAccountArchive enforces the archival constraint: an account with
// existing transaction lines cannot be archived, it must be hidden instead.
func CheckAccountArchive(acc domain.Account, lineCount int) Result {
	r := newResult()
	if lineCount > 0 {
		r.addError("account %q has %d transaction lines and cannot be archived; set visible=false instead", acc.Name, lineCount)
	}
	return r
}
