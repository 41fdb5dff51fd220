package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Document id prefixes. Namespacing is load-bearing: listing and filtering by
// entity type is a prefix match on the id, there is no separate type field.
const (
	PrefixUser        = "user::"
	PrefixSettings    = "settings::"
	PrefixAccount     = "account::"
	PrefixCategory    = "category::"
	PrefixTransaction = "txn::"
	PrefixLine        = "line::"
)

// Singleton document ids.
const (
	UserDocID     = PrefixUser + "profile"
	SettingsDocID = PrefixSettings + "default"
)

// newID returns a prefixed, time-ordered identifier. UUIDv7 strings sort
// lexicographically by creation time, so the default reverse sort of a
// prefix listing is reverse-chronological without a separate counter.
func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		id = uuid.New()
	}
	return prefix + id.String()
}

// NewAccountID returns a fresh account document id.
func NewAccountID() string { return newID(PrefixAccount) }

// NewCategoryID returns a fresh category document id.
func NewCategoryID() string { return newID(PrefixCategory) }

// NewTransactionID returns a fresh transaction document id.
func NewTransactionID() string { return newID(PrefixTransaction) }

// NewLineID returns a fresh transaction-line document id.
func NewLineID() string { return newID(PrefixLine) }

// IsAccountID reports whether an id lives in the account namespace.
func IsAccountID(id string) bool { return strings.HasPrefix(id, PrefixAccount) }

// IsCategoryID reports whether an id lives in the category namespace.
func IsCategoryID(id string) bool { return strings.HasPrefix(id, PrefixCategory) }

// IsTransactionID reports whether an id lives in the transaction namespace.
func IsTransactionID(id string) bool { return strings.HasPrefix(id, PrefixTransaction) }

// IsLineID reports whether an id lives in the line namespace.
func IsLineID(id string) bool { return strings.HasPrefix(id, PrefixLine) }
