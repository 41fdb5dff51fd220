package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(GateUnlocked, func(e *Event) {
		got = append(got, e)
	})

	bus.Emit(GateUnlocked, "auth", map[string]interface{}{"identity": "user-1"})
	bus.Emit(GateExpired, "auth", nil) // different type, not delivered

	require.Len(t, got, 1)
	assert.Equal(t, GateUnlocked, got[0].Type)
	assert.Equal(t, "auth", got[0].Module)
	assert.Equal(t, "user-1", got[0].Data["identity"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var count int
	bus.SubscribeAll(func(e *Event) { count++ })

	bus.Emit(StateChanged, "auth", nil)
	bus.Emit(StoreOpened, "ledger", nil)
	bus.Emit(UserLogout, "auth", nil)

	assert.Equal(t, 3, count)
}

func TestBus_PanickingListenerIsolated(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var after int
	bus.Subscribe(StateChanged, func(e *Event) {
		panic("listener bug")
	})
	bus.Subscribe(StateChanged, func(e *Event) {
		after++
	})

	// Must not panic, and the second listener must still run.
	assert.NotPanics(t, func() {
		bus.Emit(StateChanged, "auth", nil)
	})
	assert.Equal(t, 1, after)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var typed, all int
	cancelTyped := bus.Subscribe(GateUnlocked, func(e *Event) { typed++ })
	cancelAll := bus.SubscribeAll(func(e *Event) { all++ })

	bus.Emit(GateUnlocked, "auth", nil)
	cancelTyped()
	cancelAll()
	bus.Emit(GateUnlocked, "auth", nil)

	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)
}

func TestBus_MultipleListenersSameType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	bus.Subscribe(JWTValidated, func(e *Event) { order = append(order, 1) })
	bus.Subscribe(JWTValidated, func(e *Event) { order = append(order, 2) })

	bus.Emit(JWTValidated, "auth", nil)
	assert.Equal(t, []int{1, 2}, order)
}
