package pattern

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a pattern name has no registered pattern
var ErrNotFound = errors.New("pattern not found")

// Store is the persistence boundary the registry writes through.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(name string, p *Pattern) error
	Get(name string) (*Pattern, error) // ErrNotFound when absent
	List() ([]*Pattern, error)
}

// Registry provides durable storage and lookup of patterns by name.
// Writes to the same name serialize under a per-name lock; writes to
// different names proceed independently.
type Registry struct {
	store Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewRegistry creates a registry backed by the given store
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// nameLock returns the lock guarding writes for a single pattern name
func (r *Registry) nameLock(name string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	mu, ok := r.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[name] = mu
	}
	return mu
}

// Save upserts a pattern by name and returns the stored copy.
// Re-registration under an existing name replaces the step list entirely;
// there is no merge. Last write wins.
func (r *Registry) Save(p *Pattern) (*Pattern, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	mu := r.nameLock(p.Name)
	mu.Lock()
	defer mu.Unlock()

	stored := p.Clone()
	if stored.ID == "" {
		stored.ID = fmt.Sprintf("pat-%s", uuid.New().String()[:8])
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		if existing, err := r.store.Get(p.Name); err == nil {
			stored.CreatedAt = existing.CreatedAt
		} else {
			stored.CreatedAt = now
		}
	}
	stored.UpdatedAt = now

	if err := r.store.Put(stored.Name, stored); err != nil {
		return nil, fmt.Errorf("failed to save pattern %s: %w", stored.Name, err)
	}

	return stored.Clone(), nil
}

// Get returns the pattern registered under name, or ErrNotFound.
// An empty name is always not found.
func (r *Registry) Get(name string) (*Pattern, error) {
	if name == "" {
		return nil, ErrNotFound
	}
	p, err := r.store.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// List returns all currently registered patterns
func (r *Registry) List() ([]*Pattern, error) {
	patterns, err := r.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]*Pattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.Clone())
	}
	return out, nil
}

// ByCategory returns all registered patterns in the given category
func (r *Registry) ByCategory(cat Category) ([]*Pattern, error) {
	patterns, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]*Pattern, 0)
	for _, p := range patterns {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out, nil
}

// RecordObservation increments a pattern's occurrence count and folds a new
// strength observation in. Used by the extractor when a mined candidate
// dedupes onto an existing pattern.
func (r *Registry) RecordObservation(name string, strength float64) error {
	mu := r.nameLock(name)
	mu.Lock()
	defer mu.Unlock()

	p, err := r.store.Get(name)
	if err != nil {
		return err
	}
	p = p.Clone()
	p.Occurrences++
	// Exponential moving average keeps strength recency-weighted
	p.Strength = p.Strength*0.8 + strength*0.2
	p.UpdatedAt = time.Now()

	return r.store.Put(name, p)
}

// RecordOutcome folds an execution outcome into a pattern's success rate.
// The rate is an exponential moving average so recent executions dominate.
func (r *Registry) RecordOutcome(name string, success bool) error {
	mu := r.nameLock(name)
	mu.Lock()
	defer mu.Unlock()

	p, err := r.store.Get(name)
	if err != nil {
		return err
	}
	p = p.Clone()
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = p.SuccessRate*0.8 + outcome*0.2
	p.UpdatedAt = time.Now()

	return r.store.Put(name, p)
}

// SeedBuiltin idempotently installs the built-in pattern catalog. A user-saved
// pattern under the same name is never overwritten if it is newer than the
// seed definition.
func (r *Registry) SeedBuiltin() error {
	seeded := 0
	for _, p := range BuiltinPatterns() {
		mu := r.nameLock(p.Name)
		mu.Lock()

		existing, err := r.store.Get(p.Name)
		if err == nil && existing.UpdatedAt.After(p.UpdatedAt) {
			mu.Unlock()
			continue // User save is newer, leave it alone
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			mu.Unlock()
			return fmt.Errorf("failed to check existing pattern %s: %w", p.Name, err)
		}

		stored := p.Clone()
		if stored.ID == "" {
			stored.ID = fmt.Sprintf("pat-%s", uuid.New().String()[:8])
		}
		if err := r.store.Put(stored.Name, stored); err != nil {
			mu.Unlock()
			return fmt.Errorf("failed to seed pattern %s: %w", stored.Name, err)
		}
		seeded++
		mu.Unlock()
	}

	if seeded > 0 {
		log.Printf("[Registry] Seeded %d built-in patterns", seeded)
	}
	return nil
}

// MemoryStore is an in-memory Store used for tests and single-process runs
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patterns: make(map[string]*Pattern)}
}

func (m *MemoryStore) Put(name string, p *Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[name] = p.Clone()
	return nil
}

func (m *MemoryStore) Get(name string) (*Pattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[name]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) List() ([]*Pattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, p.Clone())
	}
	return out, nil
}
