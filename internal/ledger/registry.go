package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Skryensya/logdr.io-sub000/internal/database"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
)

// Registry owns the per-identity store handles. Open is idempotent: opening
// an already-open identity returns the cached engine, and concurrent opens of
// the same identity collapse into one initialization via a per-identity
// in-flight latch. This is the one piece of shared, must-serialize state in
// the storage layer.
type Registry struct {
	dataDir string
	log     zerolog.Logger

	mu       sync.Mutex
	bus      *events.Bus
	engines  map[string]*Engine
	inflight map[string]chan struct{}
}

// NewRegistry creates a store registry rooted at dataDir.
func NewRegistry(dataDir string, log zerolog.Logger) *Registry {
	return &Registry{
		dataDir:  dataDir,
		log:      log.With().Str("component", "store_registry").Logger(),
		engines:  make(map[string]*Engine),
		inflight: make(map[string]chan struct{}),
	}
}

// AttachBus connects the registry's engines to the event bus. Engines opened
// before the call pick up the bus too, so wiring order does not matter.
func (r *Registry) AttachBus(bus *events.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = bus
	for _, eng := range r.engines {
		eng.AttachBus(bus)
	}
}

// NamespaceKey derives the physical store namespace from an identity:
// lowercased with every non-alphanumeric character replaced by underscore,
// so the same identity always resolves to the same store file.
func NamespaceKey(identity string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(identity) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (r *Registry) storePath(identity string) string {
	return filepath.Join(r.dataDir, "ledger_"+NamespaceKey(identity)+".db")
}

// Open opens (or returns the cached handle for) the identity's store,
// provisions indexes and views, and seeds default documents. Safe to call
// repeatedly and from concurrent callers.
func (r *Registry) Open(identity string) (*Engine, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	key := NamespaceKey(identity)

	for {
		r.mu.Lock()
		if eng, ok := r.engines[key]; ok {
			r.mu.Unlock()
			return eng, nil
		}
		if wait, ok := r.inflight[key]; ok {
			// Another goroutine is initializing this identity; wait for it
			// and re-check the cache.
			r.mu.Unlock()
			<-wait
			continue
		}
		latch := make(chan struct{})
		r.inflight[key] = latch
		r.mu.Unlock()

		eng, err := r.open(identity, key)

		r.mu.Lock()
		delete(r.inflight, key)
		if err == nil {
			if r.bus != nil {
				eng.AttachBus(r.bus)
			}
			r.engines[key] = eng
		}
		r.mu.Unlock()
		close(latch)

		return eng, err
	}
}

func (r *Registry) open(identity, key string) (*Engine, error) {
	db, err := database.New(database.Config{
		Path:    r.storePath(identity),
		Profile: database.ProfileLedger, // append-only financial audit trail
		Name:    "ledger_" + key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store for identity %s: %w", identity, err)
	}

	store := NewStore(db, r.log)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to provision store for identity %s: %w", identity, err)
	}

	eng := NewEngine(store, r.log)
	if err := eng.Initialize(identity); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store for identity %s: %w", identity, err)
	}

	r.log.Info().Str("identity", identity).Str("namespace", key).Msg("Store opened")
	return eng, nil
}

// Get returns the cached engine for an identity without opening one.
func (r *Registry) Get(identity string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[NamespaceKey(identity)]
	return eng, ok
}

// OpenIdentities lists the namespace keys of currently open stores.
func (r *Registry) OpenIdentities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.engines))
	for k := range r.engines {
		keys = append(keys, k)
	}
	return keys
}

// CheckHealth pings every open store. Keys are namespace keys; a nil value
// means the store answered.
func (r *Registry) CheckHealth(ctx context.Context) map[string]error {
	return r.checkOpen(ctx, false)
}

// VerifyIntegrity runs the full integrity scan on every open store. Expensive
// on large stores; meant for explicit operator requests, not liveness polls.
func (r *Registry) VerifyIntegrity(ctx context.Context) map[string]error {
	return r.checkOpen(ctx, true)
}

func (r *Registry) checkOpen(ctx context.Context, full bool) map[string]error {
	r.mu.Lock()
	engines := make(map[string]*Engine, len(r.engines))
	for k, eng := range r.engines {
		engines[k] = eng
	}
	r.mu.Unlock()

	results := make(map[string]error, len(engines))
	for key, eng := range engines {
		if full {
			results[key] = eng.store.DB().HealthCheck(ctx)
		} else {
			results[key] = eng.store.DB().QuickCheck(ctx)
		}
	}
	return results
}

// Close closes the identity's store and releases the cached handle.
// Closing an identity that is not open is a no-op.
func (r *Registry) Close(identity string) error {
	key := NamespaceKey(identity)

	r.mu.Lock()
	eng, ok := r.engines[key]
	delete(r.engines, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := eng.store.Close(); err != nil {
		return fmt.Errorf("failed to close store for identity %s: %w", identity, err)
	}
	r.log.Info().Str("identity", identity).Msg("Store closed")
	return nil
}

// CloseAll closes every open store. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for key, eng := range engines {
		if err := eng.store.Close(); err != nil {
			r.log.Error().Err(err).Str("namespace", key).Msg("Failed to close store")
		}
	}
}

// Destroy irreversibly removes the identity's store files and releases any
// cached handle.
func (r *Registry) Destroy(identity string) error {
	if err := r.Close(identity); err != nil {
		return err
	}

	path := r.storePath(identity)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove store file %s: %w", p, err)
		}
	}
	r.log.Warn().Str("identity", identity).Msg("Store destroyed")
	return nil
}
