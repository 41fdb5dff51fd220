package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
	"github.com/Skryensya/logdr.io-sub000/internal/money"
	"github.com/Skryensya/logdr.io-sub000/internal/rules"
)

// Engine exposes the typed operations of one identity's store. Every
// document entering or leaving storage passes through the domain schema
// layer; nothing hands out raw store records.
type Engine struct {
	store      *Store
	currencies *money.Registry
	bus        *events.Bus
	log        zerolog.Logger
}

// NewEngine creates an engine with the default currency registry.
func NewEngine(store *Store, log zerolog.Logger) *Engine {
	return NewEngineWithCurrencies(store, money.NewRegistry(), log)
}

// NewEngineWithCurrencies creates an engine with an explicit currency
// registry.
func NewEngineWithCurrencies(store *Store, currencies *money.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		store:      store,
		currencies: currencies,
		log:        log.With().Str("component", "ledger_engine").Logger(),
	}
}

// AttachBus connects the engine to the event bus. Engines without a bus
// simply skip emission, which keeps tests and offline tooling quiet.
func (e *Engine) AttachBus(bus *events.Bus) { e.bus = bus }

// emit publishes an event when a bus is attached.
func (e *Engine) emit(eventType events.EventType, data map[string]interface{}) {
	if e.bus != nil {
		e.bus.Emit(eventType, "ledger", data)
	}
}

// Store returns the underlying document store.
func (e *Engine) Store() *Store { return e.store }

// Currencies returns the engine's currency registry.
func (e *Engine) Currencies() *money.Registry { return e.currencies }

// marshalDoc serializes a document body with revision metadata stripped;
// _rev lives in the store, never in the body.
func marshalDoc(v interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return body, nil
}

// Initialize idempotently seeds the default documents of a fresh store: the
// user profile, the settings singleton, and the two system counterparty
// accounts. Existing documents are left untouched.
func (e *Engine) Initialize(identity string) error {
	now := time.Now()

	if _, err := e.store.Get(domain.UserDocID); err != nil {
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		user := domain.User{
			UserID:       identity,
			DisplayName:  displayNameFor(identity),
			HomeCurrency: "USD",
			Locale:       "en-US",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if strings.Contains(identity, "@") {
			user.Email = identity
		}
		if err := e.seedDoc(domain.UserDocID, user); err != nil {
			return err
		}
	}

	if _, err := e.store.Get(domain.SettingsDocID); err != nil {
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		settings := domain.UserSettings{
			GateMethod:      domain.GateNone,
			GateDurationMin: 5,
			DisplayCurrency: "USD",
			DateFormat:      domain.DateFormat,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.seedDoc(domain.SettingsDocID, settings); err != nil {
			return err
		}
	}

	// System counterparty accounts for simple one-sided entries. Hidden from
	// normal listings but fully usable as the balancing leg.
	systemAccounts := []domain.Account{
		{
			ID: domain.SystemExpenseAccountID, Name: "Expenses", Type: domain.AccountExpense,
			DefaultCurrency: "USD", MinorUnit: 2, Visible: false,
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: domain.SystemIncomeAccountID, Name: "Income", Type: domain.AccountIncome,
			DefaultCurrency: "USD", MinorUnit: 2, Visible: false,
			CreatedAt: now, UpdatedAt: now,
		},
	}
	for _, acc := range systemAccounts {
		if err := e.seedDoc(acc.ID, acc); err != nil {
			return err
		}
	}

	return nil
}

// seedDoc inserts a document, tolerating an existing one.
func (e *Engine) seedDoc(id string, v interface{}) error {
	body, err := marshalDoc(v)
	if err != nil {
		return err
	}
	if _, err := e.store.Put(id, body); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil
		}
		return err
	}
	return nil
}

func displayNameFor(identity string) string {
	if i := strings.Index(identity, "@"); i > 0 {
		return identity[:i]
	}
	return identity
}

// ---- User profile ----

// GetUser returns the singleton profile document.
func (e *Engine) GetUser() (*domain.User, error) {
	doc, err := e.store.Get(domain.UserDocID)
	if err != nil {
		return nil, err
	}
	var user domain.User
	if err := json.Unmarshal(doc.Body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user document: %w", err)
	}
	user.Rev = doc.Rev
	return &user, nil
}

// UpdateUser applies a profile patch.
func (e *Engine) UpdateUser(patch domain.UserPatch) (*domain.User, error) {
	if err := domain.ValidateUserPatch(patch); err != nil {
		return nil, err
	}
	user, err := e.GetUser()
	if err != nil {
		return nil, err
	}

	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.DisplayName != nil {
		user.DisplayName = *patch.DisplayName
	}
	if patch.HomeCurrency != nil {
		user.HomeCurrency = *patch.HomeCurrency
	}
	if patch.Locale != nil {
		user.Locale = *patch.Locale
	}
	user.UpdatedAt = time.Now()

	rev := user.Rev
	user.Rev = 0
	body, err := marshalDoc(user)
	if err != nil {
		return nil, err
	}
	newRev, err := e.store.Update(domain.UserDocID, rev, body)
	if err != nil {
		return nil, err
	}
	user.Rev = newRev
	return user, nil
}

// ---- Settings ----

// GetSettings returns the singleton settings document.
func (e *Engine) GetSettings() (*domain.UserSettings, error) {
	doc, err := e.store.Get(domain.SettingsDocID)
	if err != nil {
		return nil, err
	}
	var settings domain.UserSettings
	if err := json.Unmarshal(doc.Body, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings document: %w", err)
	}
	settings.Rev = doc.Rev
	return &settings, nil
}

// UpdateSettings applies a settings patch.
func (e *Engine) UpdateSettings(patch domain.SettingsPatch) (*domain.UserSettings, error) {
	if err := domain.ValidateSettingsPatch(patch); err != nil {
		return nil, err
	}
	settings, err := e.GetSettings()
	if err != nil {
		return nil, err
	}

	if patch.GateMethod != nil {
		settings.GateMethod = *patch.GateMethod
	}
	if patch.GateDurationMin != nil {
		settings.GateDurationMin = *patch.GateDurationMin
	}
	if patch.DisplayCurrency != nil {
		settings.DisplayCurrency = *patch.DisplayCurrency
	}
	if patch.DateFormat != nil {
		settings.DateFormat = *patch.DateFormat
	}
	if patch.Theme != nil {
		settings.Theme = *patch.Theme
	}
	if patch.HideBalances != nil {
		settings.HideBalances = *patch.HideBalances
	}
	if patch.FirstDayOfMonth != nil {
		settings.FirstDayOfMonth = *patch.FirstDayOfMonth
	}
	settings.UpdatedAt = time.Now()

	rev := settings.Rev
	settings.Rev = 0
	body, err := marshalDoc(settings)
	if err != nil {
		return nil, err
	}
	newRev, err := e.store.Update(domain.SettingsDocID, rev, body)
	if err != nil {
		return nil, err
	}
	settings.Rev = newRev
	return settings, nil
}

// ---- Accounts ----

// CreateAccount validates and persists a new account. Warnings from the
// business-rule layer are returned alongside the account; they never block.
func (e *Engine) CreateAccount(d domain.AccountDraft) (*domain.Account, []string, error) {
	if err := domain.ValidateAccountDraft(d); err != nil {
		return nil, nil, err
	}
	existing, err := e.listAccountDocs()
	if err != nil {
		return nil, nil, err
	}

	check := rules.CheckAccountCreate(d, existing, e.currencies)
	if !check.IsValid {
		return nil, check.Warnings, ruleError(check)
	}

	now := time.Now()
	visible := true
	if d.Visible != nil {
		visible = *d.Visible
	}
	acc := domain.Account{
		ID:              domain.NewAccountID(),
		Name:            strings.TrimSpace(d.Name),
		Type:            d.Type,
		Visible:         visible,
		DefaultCurrency: d.DefaultCurrency,
		MinorUnit:       d.MinorUnit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	body, err := marshalDoc(acc)
	if err != nil {
		return nil, nil, err
	}
	rev, err := e.store.Put(acc.ID, body)
	if err != nil {
		return nil, nil, err
	}
	acc.Rev = rev

	e.log.Info().Str("account_id", acc.ID).Str("name", acc.Name).Msg("Account created")
	return &acc, check.Warnings, nil
}

// GetAccount fetches an account with its balance cache refreshed from the
// aggregate views (read-time aggregate, not a mutated counter).
func (e *Engine) GetAccount(id string) (*domain.Account, error) {
	acc, err := e.getAccountDoc(id)
	if err != nil {
		return nil, err
	}
	balance, err := e.balanceToDate(id, acc.DefaultCurrency, "")
	if err != nil {
		return nil, err
	}
	acc.Balance = balance
	return acc, nil
}

func (e *Engine) getAccountDoc(id string) (*domain.Account, error) {
	doc, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	var acc domain.Account
	if err := json.Unmarshal(doc.Body, &acc); err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", id, err)
	}
	acc.Rev = doc.Rev
	return &acc, nil
}

// UpdateAccount applies a patch. Archiving is blocked while transaction
// lines reference the account.
func (e *Engine) UpdateAccount(id string, patch domain.AccountPatch) (*domain.Account, error) {
	if err := domain.ValidateAccountPatch(patch); err != nil {
		return nil, err
	}
	acc, err := e.getAccountDoc(id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		existing, err := e.listAccountDocs()
		if err != nil {
			return nil, err
		}
		if check := rules.CheckAccountRename(id, *patch.Name, existing); !check.IsValid {
			return nil, ruleError(check)
		}
		acc.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Visible != nil {
		acc.Visible = *patch.Visible
	}
	if patch.Archived != nil && *patch.Archived != acc.Archived {
		if *patch.Archived {
			n, err := e.LineCountForAccount(id)
			if err != nil {
				return nil, err
			}
			if check := rules.CheckAccountArchive(*acc, n); !check.IsValid {
				return nil, &ArchivalBlockedError{AccountID: id, LineCount: n}
			}
		}
		acc.Archived = *patch.Archived
	}
	acc.UpdatedAt = time.Now()

	rev := acc.Rev
	acc.Rev = 0
	body, err := marshalDoc(acc)
	if err != nil {
		return nil, err
	}
	newRev, err := e.store.Update(id, rev, body)
	if err != nil {
		return nil, err
	}
	acc.Rev = newRev
	return acc, nil
}

// ListAccounts returns accounts sorted by name, balances refreshed. With
// activeOnly, archived and hidden accounts are filtered out.
func (e *Engine) ListAccounts(activeOnly bool) ([]domain.Account, error) {
	accounts, err := e.listAccountDocs()
	if err != nil {
		return nil, err
	}

	result := make([]domain.Account, 0, len(accounts))
	for _, acc := range accounts {
		if activeOnly && (acc.Archived || !acc.Visible) {
			continue
		}
		balance, err := e.balanceToDate(acc.ID, acc.DefaultCurrency, "")
		if err != nil {
			return nil, err
		}
		acc.Balance = balance
		result = append(result, acc)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (e *Engine) listAccountDocs() ([]domain.Account, error) {
	docs, err := e.store.ListByPrefix(domain.PrefixAccount)
	if err != nil {
		return nil, err
	}
	accounts := make([]domain.Account, 0, len(docs))
	for _, doc := range docs {
		var acc domain.Account
		if err := json.Unmarshal(doc.Body, &acc); err != nil {
			return nil, fmt.Errorf("failed to decode account %s: %w", doc.ID, err)
		}
		acc.Rev = doc.Rev
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// accountsByID loads the accounts referenced by a batch of line drafts.
func (e *Engine) accountsByID() (map[string]domain.Account, error) {
	accounts, err := e.listAccountDocs()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}
	return byID, nil
}

// ---- Categories ----

// CreateCategory validates and persists a new category.
func (e *Engine) CreateCategory(d domain.CategoryDraft) (*domain.Category, []string, error) {
	if err := domain.ValidateCategoryDraft(d); err != nil {
		return nil, nil, err
	}
	existing, err := e.listCategoryDocs()
	if err != nil {
		return nil, nil, err
	}

	check := rules.CheckCategoryCreate(d, existing)
	if !check.IsValid {
		return nil, check.Warnings, ruleError(check)
	}

	now := time.Now()
	cat := domain.Category{
		ID:               domain.NewCategoryID(),
		Name:             strings.TrimSpace(d.Name),
		Kind:             d.Kind,
		ParentCategoryID: d.ParentCategoryID,
		Color:            d.Color,
		Icon:             d.Icon,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	body, err := marshalDoc(cat)
	if err != nil {
		return nil, nil, err
	}
	rev, err := e.store.Put(cat.ID, body)
	if err != nil {
		return nil, nil, err
	}
	cat.Rev = rev

	e.log.Info().Str("category_id", cat.ID).Str("name", cat.Name).Msg("Category created")
	return &cat, check.Warnings, nil
}

// GetCategory fetches a category by id.
func (e *Engine) GetCategory(id string) (*domain.Category, error) {
	doc, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	var cat domain.Category
	if err := json.Unmarshal(doc.Body, &cat); err != nil {
		return nil, fmt.Errorf("failed to decode category %s: %w", id, err)
	}
	cat.Rev = doc.Rev
	return &cat, nil
}

// UpdateCategory applies a patch. Kind and parent are immutable.
func (e *Engine) UpdateCategory(id string, patch domain.CategoryPatch) (*domain.Category, error) {
	if err := domain.ValidateCategoryPatch(patch); err != nil {
		return nil, err
	}
	cat, err := e.GetCategory(id)
	if err != nil {
		return nil, err
	}
	existing, err := e.listCategoryDocs()
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if check := rules.CheckCategoryRename(*cat, *patch.Name, existing); !check.IsValid {
			return nil, ruleError(check)
		}
		cat.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Color != nil {
		cat.Color = *patch.Color
	}
	if patch.Icon != nil {
		cat.Icon = *patch.Icon
	}
	if patch.Archived != nil && *patch.Archived != cat.Archived {
		if *patch.Archived {
			if check := rules.CheckCategoryArchive(*cat, existing); !check.IsValid {
				return nil, ruleError(check)
			}
		}
		cat.Archived = *patch.Archived
	}
	cat.UpdatedAt = time.Now()

	rev := cat.Rev
	cat.Rev = 0
	body, err := marshalDoc(cat)
	if err != nil {
		return nil, err
	}
	newRev, err := e.store.Update(id, rev, body)
	if err != nil {
		return nil, err
	}
	cat.Rev = newRev
	return cat, nil
}

// ListCategories returns categories sorted by kind then name.
func (e *Engine) ListCategories(activeOnly bool) ([]domain.Category, error) {
	categories, err := e.listCategoryDocs()
	if err != nil {
		return nil, err
	}

	result := make([]domain.Category, 0, len(categories))
	for _, cat := range categories {
		if activeOnly && cat.Archived {
			continue
		}
		result = append(result, cat)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (e *Engine) listCategoryDocs() ([]domain.Category, error) {
	docs, err := e.store.ListByPrefix(domain.PrefixCategory)
	if err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		var cat domain.Category
		if err := json.Unmarshal(doc.Body, &cat); err != nil {
			return nil, fmt.Errorf("failed to decode category %s: %w", doc.ID, err)
		}
		cat.Rev = doc.Rev
		categories = append(categories, cat)
	}
	return categories, nil
}

// ruleError converts a failed rule check into a field-level validation error.
func ruleError(r rules.Result) error {
	ve := &domain.ValidationError{Fields: map[string][]string{"rules": r.Errors}}
	return ve
}
