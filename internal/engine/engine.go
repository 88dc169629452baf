// Package engine is the caller-facing surface of the orchestration system.
// It wires the registry, predictor, adapter, executor, and learning loop
// together: callers ask for a suggestion or an execution and the engine
// handles tier adaptation, caching, outcome recording, and event fan-out.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/tapestry/internal/adapter"
	"github.com/jordanhubbard/tapestry/internal/cache"
	"github.com/jordanhubbard/tapestry/internal/executor"
	"github.com/jordanhubbard/tapestry/internal/extractor"
	"github.com/jordanhubbard/tapestry/internal/learning"
	"github.com/jordanhubbard/tapestry/internal/metrics"
	"github.com/jordanhubbard/tapestry/internal/pattern"
	"github.com/jordanhubbard/tapestry/internal/predictor"
	"github.com/jordanhubbard/tapestry/internal/profile"
	"github.com/jordanhubbard/tapestry/internal/telemetry"
)

// History persists finished executions for later inspection
type History interface {
	SaveExecution(e *executor.Execution) error
}

// EventPublisher fans engine events out to external subscribers
type EventPublisher interface {
	PublishExecutionEvent(ev executor.Event) error
	PublishPatternChange(name, action string) error
}

// Config tunes the engine's components
type Config struct {
	Predictor predictor.Config
	Executor  executor.Config
	Learning  learning.Config
	Extractor extractor.Config
	CacheTTL  time.Duration
}

// DefaultConfig returns engine defaults
func DefaultConfig() Config {
	return Config{
		Predictor: predictor.DefaultConfig(),
		Executor:  executor.DefaultConfig(),
		Learning:  learning.DefaultConfig(),
		Extractor: extractor.DefaultConfig(),
		CacheTTL:  10 * time.Minute,
	}
}

// Deps are the engine's pluggable boundaries. Store and Invoker are
// required; everything else defaults to an in-process implementation or is
// disabled when nil.
type Deps struct {
	Store     pattern.Store
	Invoker   executor.Invoker
	Sink      learning.Sink
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
	Publisher EventPublisher
	History   History
}

// Engine orchestrates predictions, executions, and learning
type Engine struct {
	registry  *pattern.Registry
	predictor *predictor.Predictor
	profiler  *profile.Profiler
	adapter   *adapter.Adapter
	executor  *executor.Executor
	tracker   *learning.Tracker
	extractor *extractor.Extractor
	cache     *cache.Cache
	metrics   *metrics.Metrics
	publisher EventPublisher
	history   History
	cacheTTL  time.Duration
}

// New assembles an engine and seeds the built-in pattern catalog
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine requires a pattern store")
	}
	if deps.Invoker == nil {
		return nil, fmt.Errorf("engine requires a tool invoker")
	}
	if deps.Sink == nil {
		deps.Sink = learning.NewMemorySink()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(nil)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	registry := pattern.NewRegistry(deps.Store)
	if err := registry.SeedBuiltin(); err != nil {
		return nil, fmt.Errorf("failed to seed built-in patterns: %w", err)
	}

	var outcomePublisher learning.Publisher
	if p, ok := deps.Publisher.(learning.Publisher); ok {
		outcomePublisher = p
	}
	tracker, err := learning.NewTracker(registry, deps.Sink, outcomePublisher, cfg.Learning)
	if err != nil {
		return nil, err
	}

	profiler := profile.NewProfiler()

	e := &Engine{
		registry:  registry,
		predictor: predictor.New(registry, tracker, cfg.Predictor),
		profiler:  profiler,
		adapter:   adapter.New(profiler),
		tracker:   tracker,
		extractor: extractor.New(registry, cfg.Extractor),
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		publisher: deps.Publisher,
		history:   deps.History,
		cacheTTL:  cfg.CacheTTL,
	}

	execConfig := cfg.Executor
	userHook := execConfig.OnEvent
	execConfig.OnEvent = func(ev executor.Event) {
		e.onExecutionEvent(ev)
		if userHook != nil {
			userHook(ev)
		}
	}
	e.executor = executor.New(deps.Invoker, execConfig)

	return e, nil
}

// Run drives the background learning flush loop until ctx is cancelled
func (e *Engine) Run(ctx context.Context) {
	e.tracker.Run(ctx)
}

// Registry exposes the pattern registry for direct reads
func (e *Engine) Registry() *pattern.Registry {
	return e.registry
}

// Suggest matches task text against the registry and, on a confident match,
// returns the pattern already adapted for the calling model's tier.
// Predictions are cached per (task, model) until the registry changes.
func (e *Engine) Suggest(ctx context.Context, taskText, modelID string) (predictor.Prediction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "engine.suggest")
	defer span.End()

	started := time.Now()
	key := cache.PredictionKey(taskText, modelID)
	if cached, ok := e.cache.Get(ctx, key); ok {
		if pred, ok := decodePrediction(cached); ok {
			return pred, nil
		}
	}

	pred, err := e.predictor.Predict(taskText, &predictor.Context{ModelID: modelID})
	if err != nil {
		return predictor.Prediction{}, err
	}

	if pred.Outcome == predictor.OutcomeMatched {
		pred.Pattern = e.adaptForModel(pred.Pattern, modelID)
	}

	telemetry.PredictionsTotal.Add(ctx, 1)
	telemetry.PredictionLatency.Record(ctx, float64(time.Since(started).Nanoseconds())/1e6)
	if e.metrics != nil {
		e.metrics.RecordPrediction(string(pred.Outcome), string(pred.Category), time.Since(started).Seconds())
	}
	if err := e.cache.Set(ctx, key, pred, e.cacheTTL); err != nil {
		log.Printf("[Engine] Warning: failed to cache prediction: %v", err)
	}
	return pred, nil
}

// Execute runs a registered pattern by name for the given model. The pattern
// is tier-adapted before running; the outcome feeds the learning loop.
func (e *Engine) Execute(ctx context.Context, patternName string, input map[string]interface{}, modelID string) (*executor.Execution, error) {
	p, err := e.registry.Get(patternName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pattern %s: %w", patternName, err)
	}
	return e.ExecutePattern(ctx, p, input, modelID)
}

// ExecutePattern runs a pattern object directly, without it having to be
// registered. Ad-hoc patterns still get tier adaptation and still feed the
// learning loop under their name.
func (e *Engine) ExecutePattern(ctx context.Context, p *pattern.Pattern, input map[string]interface{}, modelID string) (*executor.Execution, error) {
	if p == nil {
		return nil, fmt.Errorf("pattern is required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	ctx, span := telemetry.Tracer.Start(ctx, "engine.execute")
	defer span.End()

	adapted := e.adaptForModel(p, modelID)

	telemetry.ExecutionsStarted.Add(ctx, 1)
	exec, execErr := e.executor.Execute(ctx, adapted, input, nil)
	if exec != nil {
		exec.ModelID = modelID
		if exec.State == executor.StateCompleted {
			telemetry.ExecutionsCompleted.Add(ctx, 1)
		} else {
			telemetry.ExecutionsFailed.Add(ctx, 1)
		}
		e.recordOutcome(exec)
		if e.history != nil {
			if err := e.history.SaveExecution(exec); err != nil {
				log.Printf("[Engine] Warning: failed to save execution %s: %v", exec.ID, err)
			}
		}
		if e.metrics != nil {
			e.metrics.RecordExecution(exec.PatternName, string(exec.State),
				exec.FinishedAt.Sub(exec.StartedAt).Seconds())
		}
	}
	return exec, execErr
}

// ExecuteTask predicts a pattern for free-form task text and, on a confident
// match, executes it with the bindings extracted from the text merged under
// any caller-supplied input. Without a confident match no execution happens
// and the prediction tells the caller what to do instead.
func (e *Engine) ExecuteTask(ctx context.Context, taskText string, input map[string]interface{}, modelID string) (predictor.Prediction, *executor.Execution, error) {
	pred, err := e.Suggest(ctx, taskText, modelID)
	if err != nil {
		return pred, nil, err
	}
	if pred.Outcome != predictor.OutcomeMatched {
		return pred, nil, nil
	}

	merged := make(map[string]interface{}, len(pred.Bindings)+len(input))
	for k, v := range pred.Bindings {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}

	exec, execErr := e.Execute(ctx, pred.Pattern.Name, merged, modelID)
	return pred, exec, execErr
}

// adaptForModel tier-adapts a pattern, degrading gracefully to the original
// when adaptation fails.
func (e *Engine) adaptForModel(p *pattern.Pattern, modelID string) *pattern.Pattern {
	tier := e.profiler.DetectTier(modelID)
	key := cache.AdaptationKey(p.Name, tier.String())
	if cached, ok := e.cache.Get(context.Background(), key); ok {
		if adapted, ok := decodeAdaptation(cached); ok {
			return adapted
		}
	}

	adapted, err := e.adapter.Adapt(p, adapter.Options{ModelID: modelID, ForceTier: tier})
	if err != nil {
		log.Printf("[Engine] Warning: adaptation of %s failed, using pattern as-is: %v", p.Name, err)
		return p
	}
	telemetry.PatternsAdapted.Add(context.Background(), 1)
	if e.metrics != nil {
		e.metrics.Adaptations.WithLabelValues(tier.String()).Inc()
	}
	if err := e.cache.Set(context.Background(), key, adapted, e.cacheTTL); err != nil {
		log.Printf("[Engine] Warning: failed to cache adaptation: %v", err)
	}
	return adapted
}

// recordOutcome feeds a finished execution into the learning loop. A caller
// abandoning a run says nothing about the pattern's quality, so cancelled
// executions never reach the tracker.
func (e *Engine) recordOutcome(exec *executor.Execution) {
	if exec.FailureKind == executor.KindCancelled {
		return
	}
	success := exec.State == executor.StateCompleted
	e.tracker.RecordOutcome(learning.Event{
		ExecutionID:    exec.ID,
		PatternName:    exec.PatternName,
		ModelID:        exec.ModelID,
		Success:        success,
		StepsCompleted: exec.CurrentStep,
		TotalSteps:     exec.TotalSteps,
		DurationMs:     exec.FinishedAt.Sub(exec.StartedAt).Milliseconds(),
		FailureKind:    string(exec.FailureKind),
		Timestamp:      exec.FinishedAt,
	})
	if e.metrics != nil {
		e.metrics.OutcomesRecorded.WithLabelValues(fmt.Sprintf("%t", success)).Inc()
	}
}

// onExecutionEvent is the executor's transition hook
func (e *Engine) onExecutionEvent(ev executor.Event) {
	if ev.State == executor.StateAdvancing {
		telemetry.StepsExecuted.Add(context.Background(), 1)
		telemetry.StepLatency.Record(context.Background(), float64(ev.DurationMs))
		if e.metrics != nil {
			e.metrics.StepsExecuted.WithLabelValues(ev.Tool).Inc()
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishExecutionEvent(ev); err != nil {
			log.Printf("[Engine] Warning: failed to publish execution event: %v", err)
		}
	}
}

// FlushLearning applies all pending outcomes now. Mostly for tests and
// shutdown paths; normal operation relies on the background loop.
func (e *Engine) FlushLearning() (int, error) {
	n, err := e.tracker.Flush()
	if n > 0 {
		telemetry.OutcomesApplied.Add(context.Background(), int64(n))
	}
	return n, err
}

// SavePattern registers or replaces a pattern and invalidates derived state
func (e *Engine) SavePattern(ctx context.Context, p *pattern.Pattern) (*pattern.Pattern, error) {
	stored, err := e.registry.Save(p)
	if err != nil {
		return nil, err
	}

	e.cache.InvalidateByPrefix(ctx, "predict:")
	e.cache.InvalidateByPrefix(ctx, "adapt:"+stored.Name+":")

	if e.publisher != nil {
		if err := e.publisher.PublishPatternChange(stored.Name, "saved"); err != nil {
			log.Printf("[Engine] Warning: failed to publish pattern change: %v", err)
		}
	}
	return stored, nil
}

// Mine scans a tool-call log for repeated sequences and registers them
func (e *Engine) Mine(ctx context.Context, calls []extractor.ToolCall) ([]*pattern.Pattern, error) {
	created, err := e.extractor.Mine(calls)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		e.cache.InvalidateByPrefix(ctx, "predict:")
		if e.metrics != nil {
			e.metrics.PatternsMined.Add(float64(len(created)))
		}
		if e.publisher != nil {
			for _, p := range created {
				if err := e.publisher.PublishPatternChange(p.Name, "mined"); err != nil {
					log.Printf("[Engine] Warning: failed to publish mined pattern: %v", err)
				}
			}
		}
	}
	return created, nil
}

// decodePrediction recovers a prediction from a cache hit. The memory backend
// serves the stored Go value directly; backends that round-trip through JSON
// (Redis) serve a generic map, which re-decodes into the concrete type.
func decodePrediction(cached interface{}) (predictor.Prediction, bool) {
	if pred, ok := cached.(predictor.Prediction); ok {
		return pred, true
	}
	var pred predictor.Prediction
	if err := cache.Decode(cached, &pred); err != nil || pred.Outcome == "" {
		return predictor.Prediction{}, false
	}
	return pred, true
}

// decodeAdaptation recovers a tier-adapted pattern from a cache hit, with the
// same JSON fallback as decodePrediction. Programmatic Check predicates do not
// survive serialization, matching how patterns load from the database.
func decodeAdaptation(cached interface{}) (*pattern.Pattern, bool) {
	if adapted, ok := cached.(*pattern.Pattern); ok {
		return adapted, true
	}
	adapted := &pattern.Pattern{}
	if err := cache.Decode(cached, adapted); err != nil || adapted.Name == "" {
		return nil, false
	}
	return adapted, true
}

// ModelProfile returns the full capability profile for a model identifier
func (e *Engine) ModelProfile(modelID string) profile.Profile {
	return e.profiler.Get(modelID)
}

// ModelRecommendations returns workflow recommendations for a model
func (e *Engine) ModelRecommendations(modelID string) profile.Recommendations {
	return e.profiler.Recommendations(modelID)
}
