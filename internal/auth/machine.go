// Package auth coordinates the layered offline auth flow: token identity,
// the optional secondary gate, and the unlock session. It owns the single
// active identity and drives the store registry open and closed as the
// state moves.
package auth

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Skryensya/logdr.io-sub000/internal/auth/gate"
	"github.com/Skryensya/logdr.io-sub000/internal/auth/token"
	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
	"github.com/Skryensya/logdr.io-sub000/internal/ledger"
)

// State is the auth machine's current position.
type State string

const (
	// StateAnonymous - no identity established.
	StateAnonymous State = "ANON"
	// StateTokenValid - token verified, no secondary gate configured. The
	// resting state for gateless identities; data access rides the verified
	// token alone.
	StateTokenValid State = "JWT_OK"
	// StateGated - identity known, secondary unlock required.
	StateGated State = "GATED"
	// StateUnlocked - full access to the identity's store.
	StateUnlocked State = "UNLOCKED"
	// StateTokenStale - token expired after a successful login. Local data
	// stays accessible; only a fresh token restores the full state.
	StateTokenStale State = "JWT_STALE"
	// StateError - an infrastructure failure left the machine unusable
	// until the next successful initialization.
	StateError State = "ERROR"
)

// Status is a point-in-time snapshot of the machine.
type Status struct {
	State            State      `json:"state"`
	Identity         string     `json:"identity,omitempty"`
	Email            string     `json:"email,omitempty"`
	GateMethod       string     `json:"gateMethod,omitempty"`
	SessionExpiresAt *time.Time `json:"sessionExpiresAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

// Machine is the auth state machine. All transitions go through it; it never
// returns errors from transitions, the resulting state and emitted events
// carry the outcome.
type Machine struct {
	validator *token.Validator
	secrets   *gate.SecretGate
	platform  *gate.PlatformGate
	sessions  *gate.SessionGate
	stores    *ledger.Registry
	bus       *events.Bus
	cron      *cron.Cron
	log       zerolog.Logger

	defaultGateDur time.Duration

	mu         sync.Mutex
	state      State
	identity   string
	tokenStr   string
	claims     *token.Claims
	gateMethod domain.GateMethod
	gateDur    time.Duration
	lastError  string
}

// NewMachine wires the machine to its collaborators.
func NewMachine(
	validator *token.Validator,
	secrets *gate.SecretGate,
	platform *gate.PlatformGate,
	sessions *gate.SessionGate,
	stores *ledger.Registry,
	bus *events.Bus,
	log zerolog.Logger,
) *Machine {
	return &Machine{
		validator:      validator,
		secrets:        secrets,
		platform:       platform,
		sessions:       sessions,
		stores:         stores,
		bus:            bus,
		cron:           cron.New(),
		log:            log.With().Str("component", "auth_machine").Logger(),
		state:          StateAnonymous,
		defaultGateDur: 5 * time.Minute,
	}
}

// SetDefaultGateDuration overrides the gate duration used when settings
// cannot be read. Call before Start.
func (m *Machine) SetDefaultGateDuration(d time.Duration) {
	if d > 0 {
		m.defaultGateDur = d
	}
}

// Start begins the periodic re-evaluation loop.
func (m *Machine) Start() error {
	if _, err := m.cron.AddFunc("@every 30s", m.Reevaluate); err != nil {
		return err
	}
	m.cron.Start()
	m.log.Info().Msg("Auth re-evaluation loop started")
	return nil
}

// Stop halts the re-evaluation loop.
func (m *Machine) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Snapshot returns the current status.
func (m *Machine) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Status {
	s := Status{
		State:     m.state,
		Identity:  m.identity,
		LastError: m.lastError,
	}
	if m.claims != nil {
		s.Email = m.claims.Email
	}
	if m.gateMethod != "" {
		s.GateMethod = string(m.gateMethod)
	}
	if m.identity != "" {
		if expiry, ok := m.sessions.ExpiresAt(m.identity); ok {
			s.SessionExpiresAt = &expiry
		}
	}
	return s
}

// InitializeWithToken establishes an identity from a verified token. A token
// for a different identity logs the previous one out first. A rejected token
// leaves the current state untouched and emits an auth error event.
func (m *Machine) InitializeWithToken(tokenStr string) Status {
	if m.validator.IsExpired(tokenStr) {
		// Fast pre-check, no signature cost. A stale credential flags
		// itself without tearing down an already-established identity.
		m.mu.Lock()
		identity := m.identity
		m.mu.Unlock()
		m.setState(StateTokenStale, identity)
		m.emit(events.JWTExpired, map[string]interface{}{"identity": identity})
		return m.Snapshot()
	}

	claims, err := m.validator.Validate(tokenStr)
	if err != nil {
		m.log.Warn().Err(err).Msg("Token rejected")
		m.emit(events.AuthError, map[string]interface{}{"reason": err.Error()})
		m.mu.Lock()
		defer m.mu.Unlock()
		m.state = StateError
		m.lastError = err.Error()
		return m.snapshotLocked()
	}

	identity := claims.Identity()

	m.mu.Lock()
	previous := m.identity
	m.mu.Unlock()
	if previous != "" && previous != identity {
		m.Logout()
	}

	m.setState(StateTokenValid, identity)
	m.emit(events.JWTValidated, map[string]interface{}{"identity": identity})

	eng, err := m.stores.Open(identity)
	if err != nil {
		m.log.Error().Err(err).Str("identity", identity).Msg("Failed to open store")
		m.emit(events.ErrorOccurred, map[string]interface{}{"error": err.Error()})
		m.mu.Lock()
		defer m.mu.Unlock()
		m.state = StateError
		m.lastError = err.Error()
		return m.snapshotLocked()
	}
	m.emit(events.StoreOpened, map[string]interface{}{"identity": identity})

	method, duration := m.effectiveGate(eng, identity)

	m.mu.Lock()
	m.identity = identity
	m.tokenStr = tokenStr
	m.claims = claims
	m.gateMethod = method
	m.gateDur = duration
	m.lastError = ""
	m.mu.Unlock()

	if method == domain.GateNone {
		// Already JWT_OK; that is where a gateless identity rests.
	} else if m.sessions.Valid(identity) {
		// A still-running unlock session from an earlier login survives a
		// token refresh.
		m.setState(StateUnlocked, identity)
	} else {
		m.setState(StateGated, identity)
	}
	return m.Snapshot()
}

// effectiveGate reads the configured gate method from settings and degrades
// to none when the configured factor has no enrollment to check against.
func (m *Machine) effectiveGate(eng *ledger.Engine, identity string) (domain.GateMethod, time.Duration) {
	settings, err := eng.GetSettings()
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to read gate settings, defaulting to no gate")
		return domain.GateNone, m.defaultGateDur
	}
	duration := time.Duration(settings.GateDurationMin) * time.Minute

	switch settings.GateMethod {
	case domain.GatePIN:
		configured, err := m.secrets.Configured(identity)
		if err != nil || !configured {
			m.log.Warn().Str("identity", identity).Msg("PIN gate selected but no secret enrolled, skipping gate")
			return domain.GateNone, duration
		}
		return domain.GatePIN, duration
	case domain.GateWebAuthn:
		configured, err := m.platform.Configured(identity)
		if err != nil || !configured {
			m.log.Warn().Str("identity", identity).Msg("Platform gate selected but no credential enrolled, skipping gate")
			return domain.GateNone, duration
		}
		return domain.GateWebAuthn, duration
	default:
		return domain.GateNone, duration
	}
}

// UnlockWithSecret attempts a secret unlock. On success the machine moves to
// UNLOCKED for the configured gate duration.
func (m *Machine) UnlockWithSecret(secret string) Status {
	m.mu.Lock()
	identity := m.identity
	state := m.state
	duration := m.gateDur
	m.mu.Unlock()

	if state != StateGated {
		return m.Snapshot()
	}

	ok, err := m.secrets.Verify(identity, secret)
	if err != nil {
		m.fail(err)
		return m.Snapshot()
	}
	if !ok {
		m.emit(events.AuthError, map[string]interface{}{"reason": "secret rejected"})
		return m.Snapshot()
	}

	m.sessions.Set(identity, duration)
	m.setState(StateUnlocked, identity)
	m.emit(events.GateUnlocked, map[string]interface{}{"identity": identity, "method": "pin"})
	return m.Snapshot()
}

// BeginPlatformUnlock issues a challenge for the active identity's platform
// credentials.
func (m *Machine) BeginPlatformUnlock() (string, bool) {
	m.mu.Lock()
	identity := m.identity
	state := m.state
	m.mu.Unlock()

	if state != StateGated {
		return "", false
	}
	ch, err := m.platform.NewChallenge(identity)
	if err != nil {
		m.fail(err)
		return "", false
	}
	return ch, true
}

// UnlockWithPlatform attempts a platform key unlock with a signed challenge.
func (m *Machine) UnlockWithPlatform(credentialID, challenge string, signature []byte) Status {
	m.mu.Lock()
	identity := m.identity
	state := m.state
	duration := m.gateDur
	m.mu.Unlock()

	if state != StateGated {
		return m.Snapshot()
	}

	ok, err := m.platform.VerifyAssertion(identity, credentialID, challenge, signature)
	if err != nil {
		m.fail(err)
		return m.Snapshot()
	}
	if !ok {
		m.emit(events.AuthError, map[string]interface{}{"reason": "assertion rejected"})
		return m.Snapshot()
	}

	m.sessions.Set(identity, duration)
	m.setState(StateUnlocked, identity)
	m.emit(events.GateUnlocked, map[string]interface{}{"identity": identity, "method": "webauthn"})
	return m.Snapshot()
}

// Logout drops the identity, clears the unlock session, and closes the
// store. The on-disk data is untouched.
func (m *Machine) Logout() Status {
	m.mu.Lock()
	identity := m.identity
	m.identity = ""
	m.tokenStr = ""
	m.claims = nil
	m.gateMethod = ""
	m.lastError = ""
	m.state = StateAnonymous
	m.mu.Unlock()

	if identity == "" {
		return m.Snapshot()
	}

	m.sessions.Clear(identity)
	if err := m.stores.Close(identity); err != nil {
		m.log.Error().Err(err).Str("identity", identity).Msg("Failed to close store on logout")
	} else {
		m.emit(events.StoreClosed, map[string]interface{}{"identity": identity})
	}
	m.emit(events.UserLogout, map[string]interface{}{"identity": identity})
	m.emit(events.StateChanged, map[string]interface{}{"state": string(StateAnonymous)})
	return m.Snapshot()
}

// DestroyData irreversibly removes the active identity's local store files
// and logs out. Gate enrollment is kept; it lives outside the store.
func (m *Machine) DestroyData() error {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()
	if identity == "" {
		return nil
	}

	if err := m.stores.Destroy(identity); err != nil {
		return err
	}
	m.emit(events.StoreDestroyed, map[string]interface{}{"identity": identity})
	m.Logout()
	return nil
}

// Reevaluate re-checks token expiry and session validity. Runs on a timer
// and after any externally visible change.
func (m *Machine) Reevaluate() {
	m.mu.Lock()
	state := m.state
	identity := m.identity
	tokenStr := m.tokenStr
	method := m.gateMethod
	m.mu.Unlock()

	switch state {
	case StateAnonymous, StateError:
		return
	}

	if tokenStr != "" && m.validator.IsExpired(tokenStr) && state != StateTokenStale {
		// The identity was established while the token was valid; local
		// data stays reachable, only the credential is flagged stale.
		m.setState(StateTokenStale, identity)
		m.emit(events.JWTExpired, map[string]interface{}{"identity": identity})
		return
	}

	// A gate configured after login (enrollment plus a settings change)
	// takes effect here: the gateless resting state drops to GATED, or
	// straight to UNLOCKED when a session is already running.
	if state == StateTokenValid && method != domain.GateNone {
		if m.sessions.Valid(identity) {
			m.setState(StateUnlocked, identity)
		} else {
			m.setState(StateGated, identity)
		}
		return
	}

	if state == StateUnlocked && method != domain.GateNone && !m.sessions.Valid(identity) {
		m.setState(StateGated, identity)
		m.emit(events.GateExpired, map[string]interface{}{"identity": identity})
		return
	}

	// A session opened outside the machine (the other gate method, or a
	// test harness) promotes a gated identity on the next tick.
	if state == StateGated && m.sessions.Valid(identity) {
		m.setState(StateUnlocked, identity)
		m.emit(events.GateUnlocked, map[string]interface{}{"identity": identity, "method": "session"})
	}
}

// Engine returns the active identity's engine when the state permits data
// access. UNLOCKED grants access, JWT_STALE keeps it offline-first, and
// JWT_OK grants it as long as no gate is configured.
func (m *Machine) Engine() (*ledger.Engine, bool) {
	m.mu.Lock()
	state := m.state
	identity := m.identity
	method := m.gateMethod
	m.mu.Unlock()

	switch state {
	case StateUnlocked, StateTokenStale:
	case StateTokenValid:
		if method != domain.GateNone {
			return nil, false
		}
	default:
		return nil, false
	}
	return m.stores.Get(identity)
}

// Identity returns the active identity, if any.
func (m *Machine) Identity() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == "" {
		return "", false
	}
	return m.identity, true
}

// RefreshGate re-reads the gate configuration, after a settings change or a
// new enrollment.
func (m *Machine) RefreshGate() {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()
	if identity == "" {
		return
	}
	eng, ok := m.stores.Get(identity)
	if !ok {
		return
	}
	method, duration := m.effectiveGate(eng, identity)
	m.mu.Lock()
	m.gateMethod = method
	m.gateDur = duration
	m.mu.Unlock()
	m.emit(events.GateConfigured, map[string]interface{}{"method": string(method)})
}

func (m *Machine) setState(next State, identity string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	if identity != "" {
		m.identity = identity
	}
	m.mu.Unlock()

	if prev != next {
		m.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("Auth state changed")
		m.emit(events.StateChanged, map[string]interface{}{
			"from": string(prev), "to": string(next),
		})
	}
}

func (m *Machine) fail(err error) {
	m.log.Error().Err(err).Msg("Auth infrastructure failure")
	m.mu.Lock()
	m.state = StateError
	m.lastError = err.Error()
	m.mu.Unlock()
	m.emit(events.ErrorOccurred, map[string]interface{}{"error": err.Error()})
}

func (m *Machine) emit(t events.EventType, data map[string]interface{}) {
	m.bus.Emit(t, "auth", data)
}
