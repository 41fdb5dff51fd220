package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString_MinorUnitGrid(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		input    string
		currency string
		want     int64
	}{
		{"10.50", "USD", 1050},
		{"0.01", "USD", 1},
		{"-3.99", "USD", -399},
		{"1000", "CLP", 1000},
		{"0.00000001", "BTC", 1},
		{"1.5", "BTC", 150000000},
		{"0", "EUR", 0},
	}

	for _, tt := range tests {
		m, err := FromString(tt.input, tt.currency, reg)
		require.NoError(t, err, "parse %q %s", tt.input, tt.currency)
		assert.Equal(t, tt.want, m.Amount(), "%q %s", tt.input, tt.currency)
		assert.Equal(t, tt.currency, m.Currency())
	}
}

func TestFromString_RoundsHalfEven(t *testing.T) {
	reg := NewRegistry()

	// Sub-grid precision rounds half-to-even.
	m, err := FromString("1.005", "USD", reg)
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.Amount())

	m, err = FromString("1.015", "USD", reg)
	require.NoError(t, err)
	assert.Equal(t, int64(102), m.Amount())
}

func TestFromString_Invalid(t *testing.T) {
	reg := NewRegistry()

	_, err := FromString("ten dollars", "USD", reg)
	assert.Error(t, err)

	_, err = FromString("10", "XXQ", reg)
	assert.Error(t, err, "unknown currency must fail")
}

func TestAddSub_CurrencyChecked(t *testing.T) {
	a := FromMinorUnits(1050, "USD")
	b := FromMinorUnits(450, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sum.Amount())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(600), diff.Amount())

	_, err = a.Add(FromMinorUnits(100, "EUR"))
	var mismatch *CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "USD", mismatch.Left)
	assert.Equal(t, "EUR", mismatch.Right)
}

func TestDiv(t *testing.T) {
	m := FromMinorUnits(1000, "USD")

	half, err := m.Div(2)
	require.NoError(t, err)
	assert.Equal(t, int64(500), half.Amount())

	// 1000 / 3 = 333.33… rounds to 333
	third, err := m.Div(3)
	require.NoError(t, err)
	assert.Equal(t, int64(333), third.Amount())

	_, err = m.Div(0)
	var dbz *DivisionByZeroError
	require.ErrorAs(t, err, &dbz)
	assert.Equal(t, "USD", dbz.Currency)
}

func TestSignPredicates(t *testing.T) {
	assert.True(t, FromMinorUnits(0, "USD").IsZero())
	assert.True(t, FromMinorUnits(-1, "USD").IsNegative())
	assert.True(t, FromMinorUnits(1, "USD").IsPositive())
	assert.Equal(t, int64(5), FromMinorUnits(-5, "USD").Abs().Amount())
	assert.Equal(t, int64(-5), FromMinorUnits(5, "USD").Negate().Amount())
}

func TestCmp(t *testing.T) {
	a := FromMinorUnits(100, "USD")
	b := FromMinorUnits(200, "USD")

	c, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = b.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	c, err = a.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	_, err = a.Cmp(FromMinorUnits(100, "CLP"))
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []Money{
		FromMinorUnits(1050, "USD"),
		FromMinorUnits(-399, "EUR"),
		FromMinorUnits(1, "BTC"),
		FromMinorUnits(0, "CLP"),
	}

	for _, m := range cases {
		data, err := json.Marshal(m)
		require.NoError(t, err)

		var back Money
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, m.Equal(back), "round trip of %v", m)
	}

	// Wire shape is exactly {amount, currency}.
	data, err := json.Marshal(FromMinorUnits(1050, "USD"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":1050,"currency":"USD"}`, string(data))
}

func TestFormat(t *testing.T) {
	reg := NewRegistry()

	assert.Equal(t, "-50.00 USD", FromMinorUnits(-5000, "USD").Format(reg))
	assert.Equal(t, "1000 CLP", FromMinorUnits(1000, "CLP").Format(reg))
	assert.Equal(t, "0.00000001 BTC", FromMinorUnits(1, "BTC").Format(reg))
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry()

	usd, ok := reg.Lookup("USD")
	require.True(t, ok)
	assert.Equal(t, 2, usd.MinorUnit)

	clp, ok := reg.Lookup("CLP")
	require.True(t, ok)
	assert.Equal(t, 0, clp.MinorUnit)

	btc, ok := reg.Lookup("BTC")
	require.True(t, ok)
	assert.Equal(t, 8, btc.MinorUnit)

	_, ok = reg.Lookup("NOPE")
	assert.False(t, ok)
}

func TestRegistry_RegisterBounds(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(Currency{Code: "XTS", MinorUnit: 4}))
	assert.Error(t, reg.Register(Currency{Code: "BAD", MinorUnit: 9}))
	assert.Error(t, reg.Register(Currency{Code: "", MinorUnit: 2}))
}
