// Package domain defines the document shapes persisted in the per-identity
// ledger store, their create/update variants, and the schema validation that
// every document passes through on its way in or out of storage.
package domain

import "time"

// AccountType classifies an account for reporting and sign-plausibility checks.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
	AccountEquity    AccountType = "equity"
)

// CategoryKind partitions categories; parent and child must share a kind.
type CategoryKind string

const (
	CategoryIncome   CategoryKind = "income"
	CategoryExpense  CategoryKind = "expense"
	CategoryTransfer CategoryKind = "transfer"
)

// DeltaType marks an appended line that amends an earlier one.
type DeltaType string

const (
	DeltaCorrection DeltaType = "correction"
	DeltaReversal   DeltaType = "reversal"
)

// GateMethod selects the secondary-factor gate, if any.
type GateMethod string

const (
	GatePIN      GateMethod = "pin"
	GateWebAuthn GateMethod = "webauthn"
	GateNone     GateMethod = "none"
)

// User is the singleton profile document of a store. It is created on first
// store initialization and never deleted; destroying the store removes it.
type User struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	HomeCurrency string    `json:"homeCurrency"`
	Locale       string    `json:"locale"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Rev          int64     `json:"_rev,omitempty"`
}

// Account is a ledger account. Balance is a denormalized cache recomputable
// from transaction lines; it is never the source of truth.
type Account struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Type            AccountType `json:"type"`
	Visible         bool        `json:"visible"`
	Archived        bool        `json:"archived"`
	DefaultCurrency string      `json:"defaultCurrency"`
	MinorUnit       int         `json:"minorUnit"`
	Balance         int64       `json:"balance"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	Rev             int64       `json:"_rev,omitempty"`
}

// Category groups transactions. Hierarchy is limited to exactly two levels:
// a category with a parent can never itself be a parent.
type Category struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Kind             CategoryKind `json:"kind"`
	ParentCategoryID *string      `json:"parentCategoryId,omitempty"`
	Color            string       `json:"color,omitempty"`
	Icon             string       `json:"icon,omitempty"`
	Archived         bool         `json:"archived"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	Rev              int64        `json:"_rev,omitempty"`
}

// Transaction is the header document of a double-entry transaction. YearMonth
// and LineCount are derived at creation and stay consistent with the owned
// lines.
type Transaction struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Description string    `json:"description"`
	CategoryID  *string   `json:"categoryId,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	YearMonth   string    `json:"yearMonth"` // YYYY-MM, derived from Date
	LineCount   int       `json:"lineCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Rev         int64     `json:"_rev,omitempty"`
}

// TransactionLine is one leg of a transaction. Lines are immutable after
// creation: there is no update path, corrections are appended as new lines
// referencing the original via OriginalLineID.
type TransactionLine struct {
	ID             string     `json:"id"`
	TransactionID  string     `json:"transactionId"`
	AccountID      string     `json:"accountId"`
	Amount         int64      `json:"amount"` // signed, minor units
	Currency       string     `json:"currency"`
	Date           string     `json:"date"`      // copied from transaction
	YearMonth      string     `json:"yearMonth"` // copied from transaction
	CategoryID     *string    `json:"categoryId,omitempty"`
	IsDebit        bool       `json:"isDebit"` // derived: Amount < 0
	CreatedAt      time.Time  `json:"createdAt"`
	DeltaType      *DeltaType `json:"deltaType,omitempty"`
	OriginalLineID *string    `json:"originalLineId,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
	Rev            int64      `json:"_rev,omitempty"`
}

// UserSettings is the singleton settings document: security configuration
// plus financial display and UI preferences.
type UserSettings struct {
	GateMethod       GateMethod `json:"gateMethod"`
	GateDurationMin  int        `json:"gateDurationMin"`
	DisplayCurrency  string     `json:"displayCurrency,omitempty"`
	DateFormat       string     `json:"dateFormat,omitempty"`
	Theme            string     `json:"theme,omitempty"`
	HideBalances     bool       `json:"hideBalances"`
	FirstDayOfMonth  int        `json:"firstDayOfMonth,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Rev              int64      `json:"_rev,omitempty"`
}

// System counterparty accounts seeded on store initialization. They act as
// the balancing side of simple one-account income/expense entries.
const (
	SystemExpenseAccountID = "account::expense-account"
	SystemIncomeAccountID  = "account::income-account"
)
