package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MaxRecordedPaths bounds ValidationReport.Paths. PathCount is exact.
const MaxRecordedPaths = 1024

// ValidationReport is the result of a successful pipeline validation.
type ValidationReport struct {
	// Operation is the validated operation's name.
	Operation string

	// OutputKey is the key of the output node.
	OutputKey int

	// Paths lists terminal paths from the output node to a leaf, in walk
	// order, up to MaxRecordedPaths of them.
	Paths [][]int

	// PathCount is the number of terminal paths, saturating at math.MaxInt.
	PathCount int

	// Live contains the keys reachable from the output node.
	Live map[int]bool

	// DeadNodes lists keys unreachable from the output node, in ascending order.
	DeadNodes []int

	// References holds the parsed reference of every node.
	References map[int]Reference
}

// DeadNodeMessage formats the operator warning for a dead node.
func DeadNodeMessage(operation string, key int) string {
	return fmt.Sprintf("Function with key %d in %q is not part of any execution flow and will therefore not be executed", key, operation)
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// pipeline indexes one operation's nodes for validation.
type pipeline struct {
	op *Operation

	// nodes maps keys to their node configuration
	nodes map[int]*Node

	// refs maps keys to parsed references
	refs map[int]Reference

	// state tracks the depth-first walk; visiting nodes are on the stack
	state map[int]visitState

	// counts holds the number of terminal paths below each visited node
	counts map[int]int

	paths [][]int
}

// Validate checks an operation's node graph: unique keys, exactly one output
// node, no cycles reachable from the output, and no dangling node references.
// Unreachable nodes are reported in the ValidationReport rather than failing.
func Validate(op *Operation) (*ValidationReport, error) {
	p := &pipeline{
		op:     op,
		nodes:  make(map[int]*Node, len(op.Nodes)),
		refs:   make(map[int]Reference, len(op.Nodes)),
		state:  make(map[int]visitState, len(op.Nodes)),
		counts: make(map[int]int, len(op.Nodes)),
	}

	if err := p.index(); err != nil {
		return nil, err
	}

	output, err := p.outputNode()
	if err != nil {
		return nil, err
	}

	if err := p.walk(output, nil); err != nil {
		return nil, err
	}
	p.collect(output, nil)

	return p.report(output), nil
}

// index builds the key map and parses references and dependency modes.
func (p *pipeline) index() error {
	for i := range p.op.Nodes {
		node := &p.op.Nodes[i]
		if existing, exists := p.nodes[node.Key]; exists {
			return duplicateKeyError(p.op.Name, node.Key, existing.Reference, node.Reference)
		}

		ref, err := ParseReference(*node)
		if err != nil {
			return NewValidationError("invalid node reference", err).
				WithCode(ErrCodeInvalidReference).WithOperation(p.op.Name).WithNode(node.Key)
		}

		for _, dep := range node.Dependencies {
			if _, _, err := dep.Resolution(); err != nil {
				return NewValidationError("invalid dependency", err).
					WithCode(ErrCodeInvalidDependency).WithOperation(p.op.Name).WithNode(node.Key)
			}
		}

		p.nodes[node.Key] = node
		p.refs[node.Key] = ref
	}
	return nil
}

// outputNode returns the single node whose kind is output.
func (p *pipeline) outputNode() (*Node, error) {
	var output *Node
	for i := range p.op.Nodes {
		node := &p.op.Nodes[i]
		if p.refs[node.Key].Kind != KindOutput {
			continue
		}
		if output != nil {
			return nil, duplicateOutputError(p.op.Name, output.Key, node.Key)
		}
		output = node
	}
	if output == nil {
		return nil, missingOutputError(p.op.Name)
	}
	return output, nil
}

// walk performs a depth-first search over node-origin edges. Reaching a node
// that is still on the stack is a cycle. Each node is expanded once and its
// terminal path count is memoized.
func (p *pipeline) walk(node *Node, stack []int) error {
	switch p.state[node.Key] {
	case visiting:
		return circularDependencyError(p.op.Name, node.Key, stack)
	case visited:
		return nil
	}

	p.state[node.Key] = visiting
	stack = append(stack, node.Key)

	count := 0
	leaf := true
	for _, dep := range node.Dependencies {
		if !dep.Origin.IsNode() {
			continue
		}
		leaf = false
		next, ok := p.nodes[dep.Origin.Key()]
		if !ok {
			return unmappedDependencyError(p.op.Name, node.Key, dep.Origin.Key())
		}
		if err := p.walk(next, stack); err != nil {
			return err
		}
		count = saturatingAdd(count, p.counts[next.Key])
	}
	if leaf {
		count = 1
	}

	p.counts[node.Key] = count
	p.state[node.Key] = visited
	return nil
}

// collect records terminal paths in walk order until MaxRecordedPaths is
// reached. It runs after walk, so the graph below node is acyclic and mapped.
func (p *pipeline) collect(node *Node, current []int) {
	if len(p.paths) >= MaxRecordedPaths {
		return
	}

	path := make([]int, len(current), len(current)+1)
	copy(path, current)
	path = append(path, node.Key)

	if isLeaf(node) {
		p.paths = append(p.paths, path)
		return
	}

	for _, dep := range node.Dependencies {
		if !dep.Origin.IsNode() {
			continue
		}
		p.collect(p.nodes[dep.Origin.Key()], path)
	}
}

// isLeaf reports whether a node has no node-origin edges.
func isLeaf(node *Node) bool {
	for _, dep := range node.Dependencies {
		if dep.Origin.IsNode() {
			return false
		}
	}
	return true
}

func saturatingAdd(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func (p *pipeline) report(output *Node) *ValidationReport {
	live := make(map[int]bool, len(p.nodes))
	dead := make([]int, 0)
	for key := range p.nodes {
		if p.state[key] == visited {
			live[key] = true
			continue
		}
		dead = append(dead, key)
	}
	sort.Ints(dead)

	return &ValidationReport{
		Operation:  p.op.Name,
		OutputKey:  output.Key,
		Paths:      p.paths,
		PathCount:  p.counts[output.Key],
		Live:       live,
		DeadNodes:  dead,
		References: p.refs,
	}
}

// ToDOT renders a validated operation as a Graphviz digraph. Edges point from
// a dependency to its consumer and are styled by resolution mode. Dead nodes
// are drawn greyed out.
func ToDOT(op *Operation, report *ValidationReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", op.Name))
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, node := range op.Nodes {
		ref := report.References[node.Key]
		label := fmt.Sprintf("%d\\n%s", node.Key, ref.String())
		color := getKindColor(ref.Kind)
		if !report.Live[node.Key] {
			color = "lightgray"
		}
		sb.WriteString(fmt.Sprintf("  \"%d\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			node.Key, label, color))
	}
	sb.WriteString("\n")

	for _, node := range op.Nodes {
		for _, dep := range node.Dependencies {
			if !dep.Origin.IsNode() {
				continue
			}
			mode, _, _ := dep.Resolution()
			sb.WriteString(fmt.Sprintf("  \"%d\" -> \"%d\" [%s];\n",
				dep.Origin.Key(), node.Key, getModeStyle(mode, dep.TargetPath)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// getKindColor returns a color for visualizing reference kinds.
func getKindColor(kind Kind) string {
	switch kind {
	case KindOutput:
		return "gold"
	case KindOperation:
		return "lightblue"
	case KindVariable:
		return "lightcoral"
	case KindSchema:
		return "plum"
	case KindExternal:
		return "lightgreen"
	default:
		return "white"
	}
}

// getModeStyle returns a DOT style string for dependency modes.
func getModeStyle(mode Mode, target string) string {
	switch mode {
	case ModeModule:
		return fmt.Sprintf("style=dashed, color=blue, label=%q", target)
	case ModeFireAndForget:
		return "style=dotted, color=gray"
	default:
		return fmt.Sprintf("style=solid, color=black, label=%q", target)
	}
}
