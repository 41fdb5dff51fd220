package ledger

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryensya/logdr.io-sub000/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "store_test.db"),
		Profile: database.ProfileLedger,
		Name:    "store_test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, zerolog.Nop())
	require.NoError(t, store.Migrate())
	return store
}

func TestStorePutGet(t *testing.T) {
	store := newTestStore(t)

	rev, err := store.Put("account::abc", json.RawMessage(`{"name":"Checking"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	doc, err := store.Get("account::abc")
	require.NoError(t, err)
	assert.Equal(t, "account::abc", doc.ID)
	assert.Equal(t, int64(1), doc.Rev)
	assert.JSONEq(t, `{"name":"Checking"}`, string(doc.Body))
}

func TestStorePutDuplicateConflicts(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("account::abc", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = store.Put("account::abc", json.RawMessage(`{}`))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "account::abc", conflict.ID)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("account::nope")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "account::nope", notFound.ID)
}

func TestStoreUpdateRevGuard(t *testing.T) {
	store := newTestStore(t)

	rev, err := store.Put("settings::default", json.RawMessage(`{"theme":"light"}`))
	require.NoError(t, err)

	newRev, err := store.Update("settings::default", rev, json.RawMessage(`{"theme":"dark"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), newRev)

	// Stale revision loses.
	_, err = store.Update("settings::default", rev, json.RawMessage(`{"theme":"sepia"}`))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedRev)
	assert.Equal(t, int64(2), conflict.ActualRev)

	doc, err := store.Get("settings::default")
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, string(doc.Body))
}

func TestStoreUpdateMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Update("user::profile", 1, json.RawMessage(`{}`))
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	rev, err := store.Put("category::x", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, store.Delete("category::x", rev))

	_, err = store.Get("category::x")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStoreListByPrefix(t *testing.T) {
	store := newTestStore(t)

	ids := []string{"account::b", "account::a", "category::c", "account::c"}
	for _, id := range ids {
		_, err := store.Put(id, json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	docs, err := store.ListByPrefix("account::")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	// Ascending id order.
	assert.Equal(t, "account::a", docs[0].ID)
	assert.Equal(t, "account::b", docs[1].ID)
	assert.Equal(t, "account::c", docs[2].ID)

	n, err := store.CountByPrefix("category::")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
