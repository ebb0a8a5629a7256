package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metasys/bops/pkg/telemetry"
)

// compiledNode is a live node with its function resolved and its
// dependencies parsed.
type compiledNode struct {
	key  int
	ref  Reference
	fn   Function
	deps []edge
}

// edge is a dependency with its resolution mode parsed once.
type edge struct {
	dep  Dependency
	mode Mode
	path string
}

// partial is the single-key object one dependency contributes to its
// consumer's input.
type partial struct {
	target string
	value  any
	bound  bool
}

func compileEdges(deps []Dependency) ([]edge, error) {
	edges := make([]edge, 0, len(deps))
	for _, dep := range deps {
		mode, path, err := dep.Resolution()
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge{dep: dep, mode: mode, path: path})
	}
	return edges, nil
}

// resolveInputs resolves a node's dependencies into its input object.
// Node-origin edges run concurrently and the first failure is returned without
// waiting for the remaining siblings. Static edges are read once the node
// edges have settled, so they observe their siblings' side effects.
func (c *ExecutionContext) resolveInputs(ctx context.Context, edges []edge, input map[string]any) (map[string]any, error) {
	partials := make([]partial, len(edges))

	pending := make([]int, 0, len(edges))
	for i, e := range edges {
		if e.mode != ModeStatic {
			pending = append(pending, i)
		}
	}
	if err := c.fanOut(ctx, edges, pending, partials, input); err != nil {
		return nil, err
	}

	for i, e := range edges {
		if e.mode != ModeStatic {
			continue
		}
		p, err := c.resolveStatic(ctx, e, input)
		if err != nil {
			return nil, err
		}
		partials[i] = p
	}

	return merge(partials), nil
}

// fanOut resolves the node edges at the given indexes concurrently. In-flight
// siblings are not cancelled when one fails; their results are discarded.
func (c *ExecutionContext) fanOut(ctx context.Context, edges []edge, indexes []int, partials []partial, input map[string]any) error {
	switch len(indexes) {
	case 0:
		return nil
	case 1:
		p, err := c.resolveNode(ctx, edges[indexes[0]], input)
		if err != nil {
			return err
		}
		partials[indexes[0]] = p
		return nil
	}

	var g errgroup.Group
	failed := make(chan error, 1)

	for _, i := range indexes {
		g.Go(func() error {
			p, err := c.resolveNode(ctx, edges[i], input)
			if err != nil {
				select {
				case failed <- err:
				default:
				}
				return err
			}
			partials[i] = p
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-failed:
		return err
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveNode resolves a node-origin edge according to its mode.
func (c *ExecutionContext) resolveNode(ctx context.Context, e edge, input map[string]any) (partial, error) {
	target, ok := c.nodes[e.dep.Origin.Key()]
	if !ok {
		return partial{}, unmappedDependencyError(c.operation, -1, e.dep.Origin.Key())
	}

	args, err := c.resolveInputs(ctx, target.deps, input)
	if err != nil {
		return partial{}, err
	}

	switch e.mode {
	case ModeResult:
		out, err := c.call(ctx, target, args, ModeResult)
		if err != nil {
			return partial{}, err
		}
		value, _ := Extract(out, e.path)
		return partial{target: e.dep.TargetPath, value: value, bound: true}, nil

	case ModeModule:
		path := e.path
		deferred := Deferred(func(ctx context.Context) (any, error) {
			out, err := c.call(ctx, target, args, ModeModule)
			if err != nil {
				return nil, err
			}
			value, _ := Extract(out, path)
			return value, nil
		})
		return partial{target: e.dep.TargetPath, value: deferred, bound: true}, nil

	case ModeFireAndForget:
		_, err := c.call(ctx, target, args, ModeFireAndForget)
		return partial{}, err
	}
	return partial{}, fmt.Errorf("unexpected mode %s for node origin", e.mode)
}

// resolveStatic reads a static origin.
func (c *ExecutionContext) resolveStatic(ctx context.Context, e edge, input map[string]any) (partial, error) {
	var value any

	switch e.dep.Origin.Source() {
	case SourceConstants:
		value, _ = Extract(c.constants, e.path)
	case SourceInputs:
		value, _ = Extract(input, e.path)
	case SourceEnv:
		if e.path == "" {
			env := make(map[string]any, len(c.env))
			for k, v := range c.env {
				env[k] = v
			}
			value = env
		} else if v, ok := c.env[e.path]; ok {
			value = v
		}
	case SourceVariables:
		name, rest, _ := strings.Cut(e.path, ".")
		variable, err := c.variables.Get(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrVariableNotFound) {
				return partial{}, err
			}
		} else {
			value, _ = Extract(variable.Value, rest)
		}
	default:
		return partial{}, fmt.Errorf("unknown static origin %q", e.dep.Origin.Source())
	}

	return partial{target: e.dep.TargetPath, value: value, bound: true}, nil
}

// call invokes a node function and records the call on the invocation.
func (c *ExecutionContext) call(ctx context.Context, node *compiledNode, args map[string]any, mode Mode) (out any, err error) {
	ctx = WithExecutionContext(ctx, c)
	ctx, span := c.obs.tracer.StartNodeSpan(ctx, c.operation, node.key, node.ref.String())
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = NewRuntimeError(fmt.Sprintf("node %d panicked: %v", node.key, r), nil).
				WithOperation(c.operation).WithNode(node.key)
		}

		elapsed := time.Since(start)
		status := StatusSucceeded
		record := NodeCallRecord{
			Key:       node.key,
			Reference: node.ref.String(),
			Kind:      node.ref.Kind,
			Mode:      mode.String(),
			StartedAt: start,
			Duration:  elapsed,
		}
		if err != nil {
			status = StatusFailed
			record.Error = err.Error()
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		if c.invocation != nil {
			c.invocation.record(record, out)
		}
		c.obs.metrics.RecordNodeCall(c.operation, string(node.ref.Kind), mode.String(), status, elapsed)
	}()

	return node.fn(ctx, args)
}
