package engine

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/metasys/bops/pkg/telemetry"
)

// Engine loads operations, validates them and stitches them into executables.
type Engine struct {
	mu         sync.RWMutex
	operations map[string]*loadedOperation

	registry   *Registry
	variables  VariableStore
	env        map[string]string
	policy     PolicyEvaluator
	defaultTTL time.Duration

	obs *observer
}

// loadedOperation is an operation that passed every load-time check.
type loadedOperation struct {
	op        *Operation
	report    *ValidationReport
	constants map[string]any
}

// observer bundles the telemetry sinks shared by every execution context.
type observer struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
	journal Journal
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the function registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithVariableStore sets the variable store. Defaults to a MemoryVariableStore.
func WithVariableStore(s VariableStore) Option {
	return func(e *Engine) { e.variables = s }
}

// WithEnv sets the environment map read by "env" dependencies.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.env = maps.Clone(env) }
}

// WithPolicy sets a policy evaluator consulted when operations are loaded.
func WithPolicy(p PolicyEvaluator) Option {
	return func(e *Engine) { e.policy = p }
}

// WithJournal sets the journal that receives finished invocations.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.obs.journal = j }
}

// WithDefaultTTL sets the deadline used when Stitch is called without Timeout.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Engine) { e.defaultTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) { e.obs.logger = l.NewComponentLogger("engine") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.obs.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) { e.obs.tracer = t }
}

// WithEvents sets the event publisher.
func WithEvents(p *telemetry.EventPublisher) Option {
	return func(e *Engine) { e.obs.events = p }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		operations: make(map[string]*loadedOperation),
		registry:   NewRegistry(),
		variables:  NewMemoryVariableStore(),
		env:        make(map[string]string),
		defaultTTL: DefaultTTL,
		obs: &observer{
			logger: telemetry.NewNopLogger(),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's function registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Check runs every load-time check on ops without loading them. Nested
// references may point at the given operations or at operations already
// loaded. Dead nodes are logged as warnings.
func (e *Engine) Check(ctx context.Context, ops ...Operation) ([]*ValidationReport, error) {
	_, reports, err := e.check(ctx, ops)
	return reports, err
}

// Load checks ops and, if every check passes, declares their variables and
// makes them available to Stitch. Either all operations are loaded or none
// are. Variables are declared only once every check has passed; if the store
// fails part way, declarations made for earlier operations stay in the store
// with their initial values, and declaring them again on a later Load keeps
// them as they are.
func (e *Engine) Load(ctx context.Context, ops ...Operation) error {
	loaded, _, err := e.check(ctx, ops)
	if err != nil {
		return err
	}

	for _, lo := range loaded {
		if err := e.variables.Declare(ctx, lo.op.Name, lo.op.Variables); err != nil {
			return fmt.Errorf("failed to declare variables of %q: %w", lo.op.Name, err)
		}
	}

	e.mu.Lock()
	for _, lo := range loaded {
		e.operations[lo.op.Name] = lo
	}
	e.mu.Unlock()

	for _, lo := range loaded {
		e.obs.logger.WithOperation(lo.op.Name).Debug("Operation loaded")
		e.obs.events.Publish(ctx, &telemetry.Event{
			Type:      telemetry.EventOperationLoaded,
			Operation: lo.op.Name,
			Data:      map[string]any{"nodes": len(lo.op.Nodes), "dead_nodes": lo.report.DeadNodes},
		})
	}
	return nil
}

func (e *Engine) check(ctx context.Context, ops []Operation) ([]*loadedOperation, []*ValidationReport, error) {
	known := e.knownOperations()
	for i := range ops {
		if ops[i].Name == "" {
			return nil, nil, NewValidationError("operation has no name", nil).WithCode(ErrCodeDependencyNotMet)
		}
		known[ops[i].Name] = true
	}

	loaded := make([]*loadedOperation, 0, len(ops))
	reports := make([]*ValidationReport, 0, len(ops))

	for i := range ops {
		op := ops[i]
		lo, err := e.checkOperation(ctx, &op, known)
		if err != nil {
			e.obs.metrics.RecordValidationFailure(op.Name, CodeOf(err))
			return nil, nil, err
		}
		loaded = append(loaded, lo)
		reports = append(reports, lo.report)
	}
	return loaded, reports, nil
}

func (e *Engine) checkOperation(ctx context.Context, op *Operation, known map[string]bool) (*loadedOperation, error) {
	logger := e.obs.logger.WithOperation(op.Name)

	report, err := Validate(op)
	if err != nil {
		return nil, err
	}
	for _, key := range report.DeadNodes {
		logger.WithNodeKey(key).Warn(DeadNodeMessage(op.Name, key))
		e.obs.events.Publish(ctx, &telemetry.Event{
			Type:      telemetry.EventNodeDead,
			Operation: op.Name,
			Data:      map[string]any{"key": key},
		})
	}
	e.obs.metrics.SetDeadNodes(op.Name, len(report.DeadNodes))

	constants, err := ResolveConstants(op)
	if err != nil {
		return nil, err
	}

	for _, decl := range op.Variables {
		if _, err := CoerceValue(decl.Type, decl.InitialValue); err != nil {
			return nil, variableTypeError(op.Name, decl.Name, decl.Type, err)
		}
	}

	warnings, err := CheckDependencies(op, report, known, e.registry)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	if e.policy != nil {
		result, err := e.policy.EvaluateOperation(ctx, op)
		if err != nil {
			return nil, NewValidationError("policy evaluation failed", err).
				WithCode(ErrCodePolicyDenied).WithOperation(op.Name)
		}
		for _, w := range result.Warnings {
			logger.WithField("policy", w.Policy).Warn(w.Message)
		}
		if !result.Allowed {
			return nil, policyDeniedError(op.Name, result.Violations)
		}
	}

	return &loadedOperation{op: op, report: report, constants: constants}, nil
}

func policyDeniedError(operation string, violations []PolicyViolation) *EngineError {
	msg := "operation denied by policy"
	if len(violations) > 0 {
		msg = fmt.Sprintf("operation denied by policy %q: %s", violations[0].Policy, violations[0].Message)
	}
	return NewValidationError(msg, nil).
		WithCode(ErrCodePolicyDenied).WithOperation(operation).WithDetail("violations", violations)
}

func (e *Engine) knownOperations() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	known := make(map[string]bool, len(e.operations))
	for name := range e.operations {
		known[name] = true
	}
	return known
}

// Operation returns a loaded operation and its validation report.
func (e *Engine) Operation(name string) (*Operation, *ValidationReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	lo, ok := e.operations[name]
	if !ok {
		return nil, nil, false
	}
	return lo.op, lo.report, true
}

// Operations returns the names of the loaded operations in sorted order.
func (e *Engine) Operations() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.operations))
	for name := range e.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) (*loadedOperation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lo, ok := e.operations[name]
	return lo, ok
}
