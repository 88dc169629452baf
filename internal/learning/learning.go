// Package learning closes the loop between execution outcomes and future
// predictions. Outcomes are buffered off the execution hot path and folded
// into pattern success rates and a per-model affinity table on flush.
package learning

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// Event is one recorded execution outcome
type Event struct {
	ExecutionID    string    `json:"execution_id"`
	PatternName    string    `json:"pattern_name"`
	ModelID        string    `json:"model_id,omitempty"`
	Success        bool      `json:"success"`
	StepsCompleted int       `json:"steps_completed"`
	TotalSteps     int       `json:"total_steps"`
	DurationMs     int64     `json:"duration_ms"`
	FailureKind    string    `json:"failure_kind,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink is the persistence boundary for learning state. Implementations must
// be safe for concurrent use.
type Sink interface {
	AppendEvent(e Event) error
	SaveAffinity(patternName, modelID string, score float64) error
	LoadAffinities() (map[string]float64, error) // Keyed "pattern|model"
}

// Publisher fans learning events out to interested subscribers. A nil
// publisher disables fan-out.
type Publisher interface {
	PublishOutcome(e Event) error
}

// Config tunes the learning loop
type Config struct {
	BufferSize    int           // Pending outcomes held before drops begin
	FlushInterval time.Duration // Background flush cadence
	LearnRate     float64       // Affinity step per outcome
	DecayFactor   float64       // Multiplied into affinity on each update
}

// DefaultConfig returns the learning defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:    256,
		FlushInterval: 30 * time.Second,
		LearnRate:     0.1,
		DecayFactor:   0.95,
	}
}

// Tracker buffers execution outcomes and applies them on flush. Recording
// never blocks the caller; a full buffer drops the event and counts the drop.
type Tracker struct {
	registry  *pattern.Registry
	sink      Sink
	publisher Publisher
	config    Config

	pending chan Event

	affinityMu sync.RWMutex
	affinity   map[string]float64

	flushMu sync.Mutex

	dropMu  sync.Mutex
	dropped int64
}

// NewTracker creates a tracker and restores the affinity table from the sink
func NewTracker(registry *pattern.Registry, sink Sink, publisher Publisher, config Config) (*Tracker, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if config.LearnRate <= 0 || config.LearnRate > 1 {
		config.LearnRate = DefaultConfig().LearnRate
	}
	if config.DecayFactor <= 0 || config.DecayFactor > 1 {
		config.DecayFactor = DefaultConfig().DecayFactor
	}

	affinity, err := sink.LoadAffinities()
	if err != nil {
		return nil, fmt.Errorf("failed to load affinities: %w", err)
	}
	if affinity == nil {
		affinity = make(map[string]float64)
	}

	return &Tracker{
		registry:  registry,
		sink:      sink,
		publisher: publisher,
		config:    config,
		pending:   make(chan Event, config.BufferSize),
		affinity:  affinity,
	}, nil
}

// RecordOutcome queues an outcome for the next flush. Never blocks: when the
// buffer is full the event is dropped and counted.
func (t *Tracker) RecordOutcome(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case t.pending <- e:
	default:
		t.dropMu.Lock()
		t.dropped++
		n := t.dropped
		t.dropMu.Unlock()
		log.Printf("[Learning] Warning: outcome buffer full, dropped event for %s (%d total)", e.PatternName, n)
	}
}

// Dropped returns how many outcomes were lost to a full buffer
func (t *Tracker) Dropped() int64 {
	t.dropMu.Lock()
	defer t.dropMu.Unlock()
	return t.dropped
}

// Flush drains the buffer and applies every pending outcome. Safe to call
// concurrently and repeatedly; a flush with nothing pending is a no-op.
// Returns the number of outcomes applied.
func (t *Tracker) Flush() (int, error) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	applied := 0
	var firstErr error
	for {
		select {
		case e := <-t.pending:
			if err := t.apply(e); err != nil && firstErr == nil {
				firstErr = err
			}
			applied++
		default:
			return applied, firstErr
		}
	}
}

// apply folds one outcome into the registry, the affinity table, the sink,
// and the publisher. Partial failure is logged, not fatal: a lost side effect
// must not block the rest of the batch.
func (t *Tracker) apply(e Event) error {
	if err := t.registry.RecordOutcome(e.PatternName, e.Success); err != nil {
		log.Printf("[Learning] Warning: failed to update success rate for %s: %v", e.PatternName, err)
	}

	if e.ModelID != "" {
		score := t.updateAffinity(e.PatternName, e.ModelID, e.Success)
		if err := t.sink.SaveAffinity(e.PatternName, e.ModelID, score); err != nil {
			log.Printf("[Learning] Warning: failed to persist affinity for %s/%s: %v", e.PatternName, e.ModelID, err)
		}
	}

	if err := t.sink.AppendEvent(e); err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}

	if t.publisher != nil {
		if err := t.publisher.PublishOutcome(e); err != nil {
			log.Printf("[Learning] Warning: failed to publish outcome for %s: %v", e.PatternName, err)
		}
	}
	return nil
}

// updateAffinity moves the (pattern, model) score toward the outcome with
// decay so stale history fades. The score stays in [-1, 1].
func (t *Tracker) updateAffinity(patternName, modelID string, success bool) float64 {
	step := t.config.LearnRate
	if !success {
		step = -step
	}

	key := affinityKey(patternName, modelID)
	t.affinityMu.Lock()
	defer t.affinityMu.Unlock()

	score := t.affinity[key]*t.config.DecayFactor + step
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	t.affinity[key] = score
	return score
}

// Affinity returns the learned bias for a (pattern, model) pair, 0 when
// unknown. Satisfies the predictor's affinity source.
func (t *Tracker) Affinity(patternName, modelID string) float64 {
	t.affinityMu.RLock()
	defer t.affinityMu.RUnlock()
	return t.affinity[affinityKey(patternName, modelID)]
}

// Run flushes on a fixed cadence until the context is cancelled, then takes
// a final flush so queued outcomes are not lost on shutdown.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.FlushInterval)
	defer ticker.Stop()

	log.Printf("[Learning] Flush loop started (every %s)", t.config.FlushInterval)
	for {
		select {
		case <-ctx.Done():
			if n, err := t.Flush(); err != nil {
				log.Printf("[Learning] Final flush error after %d applied: %v", n, err)
			}
			log.Printf("[Learning] Flush loop stopped")
			return
		case <-ticker.C:
			if n, err := t.Flush(); err != nil {
				log.Printf("[Learning] Flush error after %d applied: %v", n, err)
			} else if n > 0 {
				log.Printf("[Learning] Applied %d outcomes", n)
			}
		}
	}
}

func affinityKey(patternName, modelID string) string {
	return patternName + "|" + modelID
}

// MemorySink is an in-memory Sink for tests and single-process runs
type MemorySink struct {
	mu         sync.Mutex
	events     []Event
	affinities map[string]float64
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{affinities: make(map[string]float64)}
}

func (m *MemorySink) AppendEvent(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemorySink) SaveAffinity(patternName, modelID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.affinities[affinityKey(patternName, modelID)] = score
	return nil
}

func (m *MemorySink) LoadAffinities() (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.affinities))
	for k, v := range m.affinities {
		out[k] = v
	}
	return out, nil
}

// Events returns a copy of everything appended so far
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
