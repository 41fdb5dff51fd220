package money

import (
	"fmt"
	"sync"

	gomoney "github.com/Rhymond/go-money"
)

// Currency describes how a currency code maps onto integer minor units.
type Currency struct {
	Code          string `json:"code"`
	MinorUnit     int    `json:"minorUnit"` // decimal digits of the minor unit, 0..8
	Symbol        string `json:"symbol"`
	DisplayLocale string `json:"displayLocale,omitempty"`
}

// Registry resolves currency codes to their canonical precision and display
// metadata. Unknown ISO codes are resolved through the go-money currency
// tables on first use; non-ISO currencies (crypto) must be registered
// explicitly.
type Registry struct {
	mu         sync.RWMutex
	currencies map[string]Currency
}

// NewRegistry creates a registry pre-populated with the non-ISO currencies
// the application supports out of the box.
func NewRegistry() *Registry {
	r := &Registry{currencies: make(map[string]Currency)}
	// Satoshi-denominated. go-money has no entry for BTC.
	r.currencies["BTC"] = Currency{Code: "BTC", MinorUnit: 8, Symbol: "₿"}
	return r
}

// Register adds or replaces a currency definition.
func (r *Registry) Register(c Currency) error {
	if c.Code == "" {
		return fmt.Errorf("currency code is required")
	}
	if c.MinorUnit < 0 || c.MinorUnit > 8 {
		return fmt.Errorf("minor unit out of range for %s: %d", c.Code, c.MinorUnit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currencies[c.Code] = c
	return nil
}

// Lookup resolves a currency code, falling back to the go-money ISO tables.
// The second return value is false when the code is unknown everywhere.
func (r *Registry) Lookup(code string) (Currency, bool) {
	r.mu.RLock()
	c, ok := r.currencies[code]
	r.mu.RUnlock()
	if ok {
		return c, true
	}

	iso := gomoney.GetCurrency(code)
	if iso == nil {
		return Currency{}, false
	}
	c = Currency{Code: code, MinorUnit: iso.Fraction, Symbol: iso.Grapheme}

	r.mu.Lock()
	r.currencies[code] = c
	r.mu.Unlock()
	return c, true
}

// MinorUnit returns the canonical precision for a code, or an error for
// unknown currencies.
func (r *Registry) MinorUnit(code string) (int, error) {
	c, ok := r.Lookup(code)
	if !ok {
		return 0, fmt.Errorf("unknown currency: %s", code)
	}
	return c.MinorUnit, nil
}
