package domain

// AccountDraft is the create variant of Account: server-managed fields
// (id, balance cache, timestamps, revision) are omitted.
type AccountDraft struct {
	Name            string      `json:"name"`
	Type            AccountType `json:"type"`
	DefaultCurrency string      `json:"defaultCurrency"`
	MinorUnit       int         `json:"minorUnit"`
	Visible         *bool       `json:"visible,omitempty"` // defaults to true
}

// AccountPatch is the update variant of Account: all fields optional,
// immutable fields (type, currency, minor unit) omitted.
type AccountPatch struct {
	Name     *string `json:"name,omitempty"`
	Visible  *bool   `json:"visible,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// CategoryDraft is the create variant of Category.
type CategoryDraft struct {
	Name             string       `json:"name"`
	Kind             CategoryKind `json:"kind"`
	ParentCategoryID *string      `json:"parentCategoryId,omitempty"`
	Color            string       `json:"color,omitempty"`
	Icon             string       `json:"icon,omitempty"`
}

// CategoryPatch is the update variant of Category. Kind and parent are
// immutable after creation.
type CategoryPatch struct {
	Name     *string `json:"name,omitempty"`
	Color    *string `json:"color,omitempty"`
	Icon     *string `json:"icon,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// TransactionDraft is the create variant of Transaction. YearMonth and
// LineCount are derived by the storage engine.
type TransactionDraft struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	Description string   `json:"description"`
	CategoryID  *string  `json:"categoryId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// LineDraft is the create variant of TransactionLine. Transaction id, date,
// year-month and the debit flag are derived by the storage engine.
type LineDraft struct {
	AccountID      string     `json:"accountId"`
	Amount         int64      `json:"amount"` // signed, minor units
	Currency       string     `json:"currency"`
	CategoryID     *string    `json:"categoryId,omitempty"`
	DeltaType      *DeltaType `json:"deltaType,omitempty"`
	OriginalLineID *string    `json:"originalLineId,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
}

// UserPatch is the update variant of the singleton User profile.
type UserPatch struct {
	Email        *string `json:"email,omitempty"`
	DisplayName  *string `json:"displayName,omitempty"`
	HomeCurrency *string `json:"homeCurrency,omitempty"`
	Locale       *string `json:"locale,omitempty"`
}

// SettingsPatch is the update variant of UserSettings.
type SettingsPatch struct {
	GateMethod      *GateMethod `json:"gateMethod,omitempty"`
	GateDurationMin *int        `json:"gateDurationMin,omitempty"`
	DisplayCurrency *string     `json:"displayCurrency,omitempty"`
	DateFormat      *string     `json:"dateFormat,omitempty"`
	Theme           *string     `json:"theme,omitempty"`
	HideBalances    *bool       `json:"hideBalances,omitempty"`
	FirstDayOfMonth *int        `json:"firstDayOfMonth,omitempty"`
}
