package gate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ConfigStore {
	t.Helper()
	store, err := NewConfigStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSecretGateSetupAndVerify(t *testing.T) {
	store := newTestStore(t)
	// Low iteration count keeps the test fast; production uses the default.
	g := NewSecretGate(store, 1000, zerolog.Nop())

	configured, err := g.Configured("alice@example.com")
	require.NoError(t, err)
	assert.False(t, configured)

	require.NoError(t, g.Setup("alice@example.com", "1234"))

	configured, err = g.Configured("alice@example.com")
	require.NoError(t, err)
	assert.True(t, configured)

	ok, err := g.Verify("alice@example.com", "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Verify("alice@example.com", "4321")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unconfigured identity verifies false, not an error.
	ok, err = g.Verify("bob@example.com", "1234")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecretGateRejectsShortSecret(t *testing.T) {
	g := NewSecretGate(newTestStore(t), 1000, zerolog.Nop())
	assert.Error(t, g.Setup("alice@example.com", "123"))
}

func TestSecretGateChange(t *testing.T) {
	g := NewSecretGate(newTestStore(t), 1000, zerolog.Nop())
	require.NoError(t, g.Setup("alice@example.com", "1234"))

	// Wrong current secret refuses the change.
	require.Error(t, g.Change("alice@example.com", "0000", "5678"))

	require.NoError(t, g.Change("alice@example.com", "1234", "5678"))
	ok, err := g.Verify("alice@example.com", "5678")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.Verify("alice@example.com", "1234")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecretGateRemove(t *testing.T) {
	g := NewSecretGate(newTestStore(t), 1000, zerolog.Nop())
	require.NoError(t, g.Setup("alice@example.com", "1234"))
	require.NoError(t, g.Remove("alice@example.com"))

	configured, err := g.Configured("alice@example.com")
	require.NoError(t, err)
	assert.False(t, configured)
}

func TestSecretGateSaltsDiffer(t *testing.T) {
	store := newTestStore(t)
	g := NewSecretGate(store, 1000, zerolog.Nop())

	require.NoError(t, g.Setup("alice@example.com", "1234"))
	first, err := store.loadSecret("alice@example.com")
	require.NoError(t, err)

	require.NoError(t, g.Setup("alice@example.com", "1234"))
	second, err := store.loadSecret("alice@example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func testKeyPEM(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return priv, pemStr
}

func signChallenge(t *testing.T, priv *ecdsa.PrivateKey, rpID, challenge string) []byte {
	t.Helper()
	nonce, err := base64.RawURLEncoding.DecodeString(challenge)
	require.NoError(t, err)
	digest := sha256.Sum256(append([]byte(rpID), nonce...))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	return sig
}

func TestPlatformGateChallengeResponse(t *testing.T) {
	g := NewPlatformGate(newTestStore(t), "finance.local", zerolog.Nop())
	priv, pemStr := testKeyPEM(t)

	cred, err := g.Register("alice@example.com", pemStr)
	require.NoError(t, err)

	configured, err := g.Configured("alice@example.com")
	require.NoError(t, err)
	assert.True(t, configured)

	ch, err := g.NewChallenge("alice@example.com")
	require.NoError(t, err)

	ok, err := g.VerifyAssertion("alice@example.com", cred.ID, ch, signChallenge(t, priv, "finance.local", ch))
	require.NoError(t, err)
	assert.True(t, ok)

	// Challenges are single use.
	ok, err = g.VerifyAssertion("alice@example.com", cred.ID, ch, signChallenge(t, priv, "finance.local", ch))
	require.NoError(t, err)
	assert.False(t, ok)

	creds, err := g.Credentials("alice@example.com")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.NotNil(t, creds[0].LastUsedAt)
}

func TestPlatformGateRejectsWrongKey(t *testing.T) {
	g := NewPlatformGate(newTestStore(t), "finance.local", zerolog.Nop())
	_, pemStr := testKeyPEM(t)
	other, _ := testKeyPEM(t)

	cred, err := g.Register("alice@example.com", pemStr)
	require.NoError(t, err)

	ch, err := g.NewChallenge("alice@example.com")
	require.NoError(t, err)

	ok, err := g.VerifyAssertion("alice@example.com", cred.ID, ch, signChallenge(t, other, "finance.local", ch))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlatformGateRejectsWrongRelyingParty(t *testing.T) {
	g := NewPlatformGate(newTestStore(t), "finance.local", zerolog.Nop())
	priv, pemStr := testKeyPEM(t)

	cred, err := g.Register("alice@example.com", pemStr)
	require.NoError(t, err)

	ch, err := g.NewChallenge("alice@example.com")
	require.NoError(t, err)

	// Signature bound to another relying party does not transfer.
	ok, err := g.VerifyAssertion("alice@example.com", cred.ID, ch, signChallenge(t, priv, "evil.local", ch))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlatformGateCapabilityChecks(t *testing.T) {
	g := NewPlatformGate(newTestStore(t), "finance.local", zerolog.Nop())
	assert.True(t, g.Supported())

	available, err := g.PlatformAuthenticatorAvailable("alice@example.com")
	require.NoError(t, err)
	assert.False(t, available)

	_, pemStr := testKeyPEM(t)
	_, err = g.Register("alice@example.com", pemStr)
	require.NoError(t, err)

	available, err = g.PlatformAuthenticatorAvailable("alice@example.com")
	require.NoError(t, err)
	assert.True(t, available)

	unbound := NewPlatformGate(newTestStore(t), "", zerolog.Nop())
	assert.False(t, unbound.Supported())
	available, err = unbound.PlatformAuthenticatorAvailable("alice@example.com")
	require.NoError(t, err)
	assert.False(t, available)
}

func TestPlatformGateRejectsNonECKey(t *testing.T) {
	g := NewPlatformGate(newTestStore(t), "finance.local", zerolog.Nop())
	_, err := g.Register("alice@example.com", "not a pem")
	assert.Error(t, err)
}

func TestPlatformGateMultipleCredentials(t *testing.T) {
	g := NewPlatformGate(newTestStore(t), "finance.local", zerolog.Nop())
	_, pem1 := testKeyPEM(t)
	priv2, pem2 := testKeyPEM(t)

	_, err := g.Register("alice@example.com", pem1)
	require.NoError(t, err)
	cred2, err := g.Register("alice@example.com", pem2)
	require.NoError(t, err)

	creds, err := g.Credentials("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	// Unlock with the second device.
	ch, err := g.NewChallenge("alice@example.com")
	require.NoError(t, err)
	ok, err := g.VerifyAssertion("alice@example.com", cred2.ID, ch, signChallenge(t, priv2, "finance.local", ch))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, g.RemoveCredential("alice@example.com", cred2.ID))
	creds, err = g.Credentials("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	assert.Error(t, g.RemoveCredential("alice@example.com", "missing-id"))
}

func TestSessionGateLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := NewSessionGateWithClock(clock)

	assert.False(t, g.Valid("alice@example.com"))

	g.Set("alice@example.com", 5*time.Minute)
	assert.True(t, g.Valid("alice@example.com"))

	expiry, ok := g.ExpiresAt("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, now.Add(5*time.Minute), expiry)

	// Self-clearing on expiry.
	now = now.Add(6 * time.Minute)
	assert.False(t, g.Valid("alice@example.com"))
	_, ok = g.ExpiresAt("alice@example.com")
	assert.False(t, ok)
}

func TestSessionGateExtend(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewSessionGateWithClock(func() time.Time { return now })

	// Extending an absent session does nothing.
	assert.False(t, g.Extend("alice@example.com", 5*time.Minute))

	g.Set("alice@example.com", 5*time.Minute)
	now = now.Add(4 * time.Minute)
	assert.True(t, g.Extend("alice@example.com", 5*time.Minute))

	now = now.Add(4 * time.Minute)
	assert.True(t, g.Valid("alice@example.com"))
}

func TestSessionGateClear(t *testing.T) {
	g := NewSessionGate()
	g.Set("alice@example.com", time.Hour)
	g.Set("bob@example.com", time.Hour)

	g.Clear("alice@example.com")
	assert.False(t, g.Valid("alice@example.com"))
	assert.True(t, g.Valid("bob@example.com"))

	g.ClearAll()
	assert.False(t, g.Valid("bob@example.com"))
}
