package ledger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
)

func TestNamespaceKey(t *testing.T) {
	assert.Equal(t, "alice_example_com", NamespaceKey("alice@example.com"))
	assert.Equal(t, "alice_example_com", NamespaceKey("ALICE@Example.Com"))
	assert.Equal(t, "user_123", NamespaceKey("user-123"))
	assert.Equal(t, "plain", NamespaceKey("plain"))
}

func TestRegistryOpenIsIdempotent(t *testing.T) {
	reg := NewRegistry(t.TempDir(), zerolog.Nop())
	t.Cleanup(reg.CloseAll)

	first, err := reg.Open("alice@example.com")
	require.NoError(t, err)
	second, err := reg.Open("alice@example.com")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Same identity, different casing, same store.
	third, err := reg.Open("ALICE@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Same(t, first, third)
}

func TestRegistryConcurrentOpen(t *testing.T) {
	reg := NewRegistry(t.TempDir(), zerolog.Nop())
	t.Cleanup(reg.CloseAll)

	const goroutines = 16
	engines := make([]*Engine, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eng, err := reg.Open("bob@example.com")
			assert.NoError(t, err)
			engines[i] = eng
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, engines[0], engines[i])
	}
	assert.Equal(t, []string{"bob_example_com"}, reg.OpenIdentities())
}

func TestRegistryIsolatesIdentities(t *testing.T) {
	reg := NewRegistry(t.TempDir(), zerolog.Nop())
	t.Cleanup(reg.CloseAll)

	alice, err := reg.Open("alice@example.com")
	require.NoError(t, err)
	bob, err := reg.Open("bob@example.com")
	require.NoError(t, err)
	require.NotSame(t, alice, bob)

	aliceUser, err := alice.GetUser()
	require.NoError(t, err)
	bobUser, err := bob.GetUser()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", aliceUser.UserID)
	assert.Equal(t, "bob@example.com", bobUser.UserID)
}

func TestRegistryCloseAndReopen(t *testing.T) {
	reg := NewRegistry(t.TempDir(), zerolog.Nop())
	t.Cleanup(reg.CloseAll)

	eng, err := reg.Open("alice@example.com")
	require.NoError(t, err)
	name := "Alice"
	_, err = eng.UpdateUser(domain.UserPatch{DisplayName: &name})
	require.NoError(t, err)

	require.NoError(t, reg.Close("alice@example.com"))
	_, ok := reg.Get("alice@example.com")
	assert.False(t, ok)

	// Closing again is a no-op.
	require.NoError(t, reg.Close("alice@example.com"))

	// Reopen finds the persisted data.
	reopened, err := reg.Open("alice@example.com")
	require.NoError(t, err)
	user, err := reopened.GetUser()
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
}

func TestRegistryDestroyRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, zerolog.Nop())
	t.Cleanup(reg.CloseAll)

	_, err := reg.Open("alice@example.com")
	require.NoError(t, err)

	path := filepath.Join(dir, "ledger_alice_example_com.db")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, reg.Destroy("alice@example.com"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// A fresh open after destroy starts from seeded defaults.
	eng, err := reg.Open("alice@example.com")
	require.NoError(t, err)
	user, err := eng.GetUser()
	require.NoError(t, err)
	assert.Equal(t, "alice", user.DisplayName)
}
