package gate

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/google/uuid"
)

// Credential is one registered platform key. An identity can hold several,
// one per device.
type Credential struct {
	ID           string     `json:"id"`
	PublicKeyPEM string     `json:"publicKey"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// PlatformGate verifies device-held key credentials via a challenge-response
// signature. The private key never leaves the device; the gate stores only
// public keys and outstanding challenges.
type PlatformGate struct {
	store          *ConfigStore
	relyingPartyID string
	log            zerolog.Logger

	mu         sync.Mutex
	challenges map[string]challenge // identity -> outstanding challenge
}

type challenge struct {
	nonce   []byte
	issued  time.Time
	expires time.Time
}

const challengeTTL = 2 * time.Minute

// NewPlatformGate creates a platform key gate.
func NewPlatformGate(store *ConfigStore, relyingPartyID string, log zerolog.Logger) *PlatformGate {
	return &PlatformGate{
		store:          store,
		relyingPartyID: relyingPartyID,
		log:            log.With().Str("component", "platform_gate").Logger(),
		challenges:     make(map[string]challenge),
	}
}

// Register stores a new credential for the identity from a PEM public key.
func (g *PlatformGate) Register(identity, publicKeyPEM string) (*Credential, error) {
	if _, err := parseECPublicKey(publicKeyPEM); err != nil {
		return nil, err
	}

	cred := Credential{
		ID:           uuid.New().String(),
		PublicKeyPEM: publicKeyPEM,
		CreatedAt:    time.Now(),
	}
	if err := g.store.saveCredential(identity, cred); err != nil {
		return nil, err
	}
	g.log.Info().Str("identity", identity).Str("credential_id", cred.ID).Msg("Platform credential registered")
	return &cred, nil
}

// Supported reports whether platform key unlock can operate at all. It
// requires a relying party ID to bind signatures to.
func (g *PlatformGate) Supported() bool {
	return g.relyingPartyID != ""
}

// PlatformAuthenticatorAvailable reports whether the identity can complete
// a platform unlock right now, meaning the gate is supported and the
// identity holds at least one credential.
func (g *PlatformGate) PlatformAuthenticatorAvailable(identity string) (bool, error) {
	if !g.Supported() {
		return false, nil
	}
	return g.Configured(identity)
}

// Configured reports whether the identity has at least one credential.
func (g *PlatformGate) Configured(identity string) (bool, error) {
	creds, err := g.store.loadCredentials(identity)
	if err != nil {
		return false, err
	}
	return len(creds) > 0, nil
}

// Credentials lists the identity's registered credentials.
func (g *PlatformGate) Credentials(identity string) ([]Credential, error) {
	return g.store.loadCredentials(identity)
}

// RemoveCredential deletes one credential.
func (g *PlatformGate) RemoveCredential(identity, credentialID string) error {
	removed, err := g.store.deleteCredential(identity, credentialID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("credential %s not found", credentialID)
	}
	return nil
}

// RemoveAll deletes every credential of the identity.
func (g *PlatformGate) RemoveAll(identity string) error {
	return g.store.deleteCredentials(identity)
}

// NewChallenge issues a fresh random challenge for the identity. The
// returned string is what the device must sign. Issuing a new challenge
// invalidates any outstanding one.
func (g *PlatformGate) NewChallenge(identity string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	now := time.Now()
	g.mu.Lock()
	g.challenges[identity] = challenge{nonce: nonce, issued: now, expires: now.Add(challengeTTL)}
	g.mu.Unlock()

	return base64.RawURLEncoding.EncodeToString(nonce), nil
}

// VerifyAssertion checks a signed challenge against one of the identity's
// registered credentials. The signature is ASN.1 DER over
// SHA-256(relyingPartyID || challenge). Challenges are single use.
func (g *PlatformGate) VerifyAssertion(identity, credentialID, challengeStr string, signature []byte) (bool, error) {
	g.mu.Lock()
	ch, ok := g.challenges[identity]
	delete(g.challenges, identity)
	g.mu.Unlock()

	if !ok || time.Now().After(ch.expires) {
		return false, nil
	}
	nonce, err := base64.RawURLEncoding.DecodeString(challengeStr)
	if err != nil || !bytesEqual(nonce, ch.nonce) {
		return false, nil
	}

	creds, err := g.store.loadCredentials(identity)
	if err != nil {
		return false, err
	}
	for _, cred := range creds {
		if cred.ID != credentialID {
			continue
		}
		key, err := parseECPublicKey(cred.PublicKeyPEM)
		if err != nil {
			return false, err
		}
		digest := sha256.Sum256(append([]byte(g.relyingPartyID), nonce...))
		if ecdsa.VerifyASN1(key, digest[:], signature) {
			if err := g.store.touchCredential(cred.ID, time.Now()); err != nil {
				g.log.Warn().Err(err).Str("credential_id", cred.ID).Msg("Failed to record credential use")
			}
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func parseECPublicKey(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in credential key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential key: %w", err)
	}
	ec, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("credential key must be ECDSA, got %T", key)
	}
	return ec, nil
}
