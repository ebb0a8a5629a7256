package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/metasys/bops/pkg/telemetry"
)

// StitchOption configures a Stitch call.
type StitchOption func(*session)

// Timeout overrides the engine's default deadline for the stitched operation
// and every nested operation compiled with it.
func Timeout(d time.Duration) StitchOption {
	return func(s *session) { s.timeout = d }
}

// session is one compilation. Nested operations are compiled at most once per
// session and shared by every node that references them.
type session struct {
	engine  *Engine
	timeout time.Duration

	// handles maps nested references ("+name") to their compiled operations
	handles map[string]*operationHandle

	// compiling holds the operations whose pre-pass is on the stack, in order
	compiling []string
}

// operationHandle is installed before its operation is compiled, so an
// operation can reference itself. fn is set once compilation finishes.
type operationHandle struct {
	name string
	fn   Executable
}

func (h *operationHandle) call(ctx context.Context, input map[string]any) (any, error) {
	if h.fn == nil {
		return nil, NewRuntimeError(fmt.Sprintf("operation %q was called before it finished compiling", h.name), nil).
			WithCode(ErrCodeUnresolvedOperation).WithOperation(h.name)
	}
	return h.fn(ctx, input)
}

// Stitch compiles a loaded operation, and every operation it references, into
// an executable wrapped with a deadline.
func (e *Engine) Stitch(ctx context.Context, name string, opts ...StitchOption) (Executable, error) {
	s := e.newSession(opts)
	return s.stitch(ctx, name)
}

// StitchAll compiles every loaded operation in one session.
func (e *Engine) StitchAll(ctx context.Context, opts ...StitchOption) (map[string]Executable, error) {
	s := e.newSession(opts)
	out := make(map[string]Executable)
	for _, name := range e.Operations() {
		if h, ok := s.handles[nestedKey(name)]; ok && h.fn != nil {
			out[name] = h.fn
			continue
		}
		exec, err := s.stitch(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = exec
	}
	return out, nil
}

func (e *Engine) newSession(opts []StitchOption) *session {
	s := &session{
		engine:  e,
		timeout: e.defaultTTL,
		handles: make(map[string]*operationHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nestedKey(name string) string {
	return string(SentinelOperation) + name
}

func (s *session) isCompiling(name string) bool {
	for _, n := range s.compiling {
		if n == name {
			return true
		}
	}
	return false
}

func (s *session) stitch(ctx context.Context, name string) (exec Executable, err error) {
	e := s.engine
	start := time.Now()

	ctx, span := e.obs.tracer.StartStitchSpan(ctx, name)
	defer func() {
		status := StatusSucceeded
		if err != nil {
			status = StatusFailed
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		e.obs.metrics.RecordStitch(name, status, time.Since(start))
	}()

	lo, ok := e.lookup(name)
	if !ok {
		return nil, NewCompileError(fmt.Sprintf("operation %q is not loaded", name), nil).
			WithCode(ErrCodeUnresolvedOperation).WithOperation(name)
	}
	if s.isCompiling(name) {
		return nil, s.mutualRecursionError(name)
	}

	s.compiling = append(s.compiling, name)
	defer func() { s.compiling = s.compiling[:len(s.compiling)-1] }()

	handle, ok := s.handles[nestedKey(name)]
	if !ok {
		handle = &operationHandle{name: name}
		s.handles[nestedKey(name)] = handle
	}

	if err := s.prepass(ctx, lo); err != nil {
		return nil, err
	}

	nodes, output, err := s.compileNodes(lo)
	if err != nil {
		return nil, err
	}

	template := newExecutionContext(
		name,
		lo.constants,
		s.variables(name),
		e.env,
		nodes,
		e.obs,
	)

	exec = e.instrument(name, template, output, s.timeout)
	handle.fn = exec

	e.obs.logger.WithOperation(name).
		WithField("nodes", len(nodes)).
		WithField("timeout", s.timeout.String()).
		Debug("Operation stitched")

	return exec, nil
}

// prepass compiles every operation referenced by a live nested node that is
// not compiled yet. Self references resolve to the handle installed by stitch.
// Dead nodes never run, so the operations they name are not compiled.
func (s *session) prepass(ctx context.Context, lo *loadedOperation) error {
	for _, node := range lo.op.Nodes {
		if !lo.report.Live[node.Key] {
			continue
		}
		ref := lo.report.References[node.Key]
		if ref.Kind != KindOperation || ref.Name == lo.op.Name {
			continue
		}
		if s.isCompiling(ref.Name) {
			return s.mutualRecursionError(ref.Name)
		}
		if h, ok := s.handles[nestedKey(ref.Name)]; ok && h.fn != nil {
			continue
		}
		if _, ok := s.engine.lookup(ref.Name); !ok {
			return NewCompileError(fmt.Sprintf("node references unknown operation %q", ref.Name), nil).
				WithCode(ErrCodeUnresolvedOperation).WithOperation(lo.op.Name).WithNode(node.Key)
		}
		if _, err := s.stitch(ctx, ref.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) mutualRecursionError(name string) *EngineError {
	cycle := append(append([]string(nil), s.compiling...), name)
	return NewCompileError(
		fmt.Sprintf("operations reference each other recursively: %s", strings.Join(cycle, " -> ")),
		nil,
	).WithCode(ErrCodeMutualRecursion).WithOperation(name).WithDetail("cycle", cycle)
}

// compileNodes resolves the function of every live node. Dead nodes are
// never compiled.
func (s *session) compileNodes(lo *loadedOperation) (map[int]*compiledNode, *compiledNode, error) {
	nodes := make(map[int]*compiledNode, len(lo.report.Live))
	var output *compiledNode

	for _, node := range lo.op.Nodes {
		if !lo.report.Live[node.Key] {
			continue
		}

		edges, err := compileEdges(node.Dependencies)
		if err != nil {
			return nil, nil, NewCompileError("invalid dependency", err).
				WithCode(ErrCodeInvalidDependency).WithOperation(lo.op.Name).WithNode(node.Key)
		}

		ref := lo.report.References[node.Key]
		cn := &compiledNode{key: node.Key, ref: ref, deps: edges}

		switch ref.Kind {
		case KindOutput:
			if node.Key == lo.report.OutputKey {
				output = cn
			}
		case KindOperation:
			handle, ok := s.handles[nestedKey(ref.Name)]
			if !ok {
				return nil, nil, NewCompileError(fmt.Sprintf("operation %q was not compiled", ref.Name), nil).
					WithCode(ErrCodeUnresolvedOperation).WithOperation(lo.op.Name).WithNode(node.Key)
			}
			cn.fn = handle.call
		default:
			fn, err := s.engine.registry.Resolve(ref)
			if err != nil {
				return nil, nil, NewCompileError(fmt.Sprintf("cannot resolve %s", ref), err).
					WithCode(ErrCodeUnresolvedReference).WithOperation(lo.op.Name).WithNode(node.Key)
			}
			cn.fn = fn
		}
		nodes[node.Key] = cn
	}

	if output == nil {
		return nil, nil, missingOutputError(lo.op.Name)
	}
	return nodes, output, nil
}

func (s *session) variables(operation string) *Variables {
	v := NewVariables(s.engine.variables, operation)
	metrics := s.engine.obs.metrics
	v.observe = func(_ string, err error) {
		status := StatusSucceeded
		if err != nil {
			status = StatusFailed
		}
		metrics.RecordVariableMutation(operation, status)
	}
	return v
}

// instrument builds the executable of an operation: each call runs on a fresh
// clone of the template context, under the deadline, and is traced, measured
// and journaled.
func (e *Engine) instrument(name string, template *ExecutionContext, output *compiledNode, timeout time.Duration) Executable {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		if input == nil {
			input = make(map[string]any)
		}

		var parent *Invocation
		if outer, ok := FromContext(ctx); ok {
			parent = outer.invocation
		}
		call := template.Clone(parent)
		inv := call.invocation

		ctx = WithExecutionContext(ctx, call)
		ctx, span := e.obs.tracer.StartInvocationSpan(ctx, name, inv.ID)
		defer span.End()

		logger := e.obs.logger.WithOperation(name).WithInvocationID(inv.ID)
		logger.Debug("Invocation started")
		e.obs.metrics.InvocationStarted()
		e.obs.events.Publish(ctx, &telemetry.Event{
			Type:         telemetry.EventInvocationStarted,
			Operation:    name,
			InvocationID: inv.ID,
		})

		out, err := runWithDeadline(ctx, timeout, func(ctx context.Context) (map[string]any, error) {
			return call.resolveInputs(ctx, output.deps, input)
		})

		e.finish(ctx, inv, input, out, err, span)
		return out, err
	}
}

func (e *Engine) finish(ctx context.Context, inv *Invocation, input, output map[string]any, err error, span trace.Span) {
	elapsed := time.Since(inv.StartedAt)
	logger := e.obs.logger.WithOperation(inv.Operation).WithInvocationID(inv.ID)

	status := StatusSucceeded
	eventType := telemetry.EventInvocationCompleted
	switch {
	case errors.Is(err, ErrTimeout):
		status = StatusTimeout
		eventType = telemetry.EventInvocationTimeout
		e.obs.metrics.RecordTimeout(inv.Operation)
	case err != nil:
		status = StatusFailed
		eventType = telemetry.EventInvocationFailed
	}

	if err != nil {
		telemetry.RecordError(span, err)
		logger.WithError(err).WithField("status", status).Debug("Invocation failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.WithField("duration", elapsed.String()).Debug("Invocation completed")
	}

	e.obs.metrics.RecordInvocation(inv.Operation, status, elapsed)
	e.obs.events.Publish(ctx, &telemetry.Event{
		Type:         eventType,
		Operation:    inv.Operation,
		InvocationID: inv.ID,
		Data:         map[string]any{"status": status, "duration_ms": elapsed.Milliseconds()},
	})

	if e.obs.journal == nil {
		return
	}
	record := &InvocationRecord{
		ID:        inv.ID,
		ParentID:  inv.ParentID,
		Operation: inv.Operation,
		Status:    status,
		Input:     input,
		Output:    output,
		StartedAt: inv.StartedAt,
		Duration:  elapsed,
		NodeCalls: inv.Calls(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if jerr := e.obs.journal.RecordInvocation(context.WithoutCancel(ctx), record); jerr != nil {
		logger.WithError(jerr).Warn("Failed to journal invocation")
	}
}
