package gate

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor for newly set secrets.
	DefaultIterations = 100_000

	saltLength = 16
	keyLength  = 32
	minSecret  = 4
)

// SecretRecord is the stored derivation of a gate secret. The secret itself
// is never persisted.
type SecretRecord struct {
	Hash       []byte
	Salt       []byte
	Iterations int
	CreatedAt  time.Time
}

// SecretGate derives and checks PBKDF2-SHA256 gate secrets per identity.
type SecretGate struct {
	store      *ConfigStore
	iterations int
	log        zerolog.Logger
}

// NewSecretGate creates a secret gate. iterations <= 0 selects the default
// work factor.
func NewSecretGate(store *ConfigStore, iterations int, log zerolog.Logger) *SecretGate {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &SecretGate{
		store:      store,
		iterations: iterations,
		log:        log.With().Str("component", "secret_gate").Logger(),
	}
}

func derive(secret string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(secret), salt, iterations, keyLength, sha256.New)
}

// Setup hashes and stores a new secret for the identity, replacing any
// previous one.
func (g *SecretGate) Setup(identity, secret string) error {
	if len(secret) < minSecret {
		return fmt.Errorf("secret must be at least %d characters", minSecret)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	rec := SecretRecord{
		Hash:       derive(secret, salt, g.iterations),
		Salt:       salt,
		Iterations: g.iterations,
		CreatedAt:  time.Now(),
	}
	if err := g.store.saveSecret(identity, rec); err != nil {
		return err
	}
	g.log.Info().Str("identity", identity).Msg("Gate secret configured")
	return nil
}

// Configured reports whether the identity has a secret set.
func (g *SecretGate) Configured(identity string) (bool, error) {
	rec, err := g.store.loadSecret(identity)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Verify checks a secret attempt in constant time against the stored hash.
// A missing configuration verifies false, not an error; callers treat it the
// same as a wrong secret.
func (g *SecretGate) Verify(identity, secret string) (bool, error) {
	rec, err := g.store.loadSecret(identity)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	attempt := derive(secret, rec.Salt, rec.Iterations)
	if len(attempt) != len(rec.Hash) {
		return false, nil
	}
	var diff byte
	for i := range attempt {
		diff |= attempt[i] ^ rec.Hash[i]
	}
	return diff == 0, nil
}

// Change replaces the secret after verifying the current one.
func (g *SecretGate) Change(identity, current, next string) error {
	ok, err := g.Verify(identity, current)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("current secret does not match")
	}
	return g.Setup(identity, next)
}

// Remove deletes the identity's secret configuration.
func (g *SecretGate) Remove(identity string) error {
	if err := g.store.deleteSecret(identity); err != nil {
		return err
	}
	g.log.Info().Str("identity", identity).Msg("Gate secret removed")
	return nil
}
