// Package graph drives a conversation through named nodes until it reaches END
// or stops in front of a node that requires an external decision.
//
// Nodes mutate the SessionState they receive. Transitions are either a fixed
// edge or a branch whose condition picks one of a declared set of targets.
// Interrupt-before nodes are never entered on a normal pass; the run returns
// the node name instead, and a later Run with ResumeAt enters it exactly once.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

const (
	START = "__start__"
	END   = "__end__"
)

// DefaultMaxSteps bounds node executions per Run.
const DefaultMaxSteps = 25

var (
	ErrInvalidGraph = errors.New("invalid graph")
	ErrUnknownNode  = errors.New("unknown node")
	ErrMaxSteps     = errors.New("graph exceeded max steps")
)

// NodeFunc is a single computation step.
type NodeFunc func(ctx context.Context, st *statex.SessionState) error

// BranchFunc selects the next node after the node it is attached to.
type BranchFunc func(ctx context.Context, st *statex.SessionState) (string, error)

type Branch struct {
	cond BranchFunc
	ends map[string]bool
}

// NewBranch declares a conditional transition; cond may only return a key of ends.
func NewBranch(cond BranchFunc, ends map[string]bool) *Branch {
	return &Branch{cond: cond, ends: ends}
}

// Next evaluates the condition and rejects targets that were not declared.
func (b *Branch) Next(ctx context.Context, st *statex.SessionState) (string, error) {
	to, err := b.cond(ctx, st)
	if err != nil {
		return "", err
	}
	if !b.ends[to] {
		return "", fmt.Errorf("%w: undeclared branch target %q", ErrInvalidGraph, to)
	}
	return to, nil
}

// Graph is the mutable builder. Compile freezes it into a Runnable.
type Graph struct {
	nodes    map[string]NodeFunc
	edges    map[string]string
	branches map[string]*Branch
}

func New() *Graph {
	return &Graph{
		nodes:    make(map[string]NodeFunc),
		edges:    make(map[string]string),
		branches: make(map[string]*Branch),
	}
}

func (g *Graph) AddNode(name string, fn NodeFunc) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fmt.Errorf("%w: node name is empty", ErrInvalidGraph)
	case name == START || name == END:
		return fmt.Errorf("%w: node name %q is reserved", ErrInvalidGraph, name)
	case fn == nil:
		return fmt.Errorf("%w: node %q has nil func", ErrInvalidGraph, name)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("%w: node %q already exists", ErrInvalidGraph, name)
	}
	g.nodes[name] = fn
	return nil
}

func (g *Graph) AddEdge(from, to string) error {
	if err := g.checkSource(from); err != nil {
		return err
	}
	if err := g.checkTarget(to); err != nil {
		return err
	}
	g.edges[from] = to
	return nil
}

func (g *Graph) AddBranch(from string, b *Branch) error {
	if err := g.checkSource(from); err != nil {
		return err
	}
	if from == START {
		return fmt.Errorf("%w: branch cannot start at %s", ErrInvalidGraph, START)
	}
	if b == nil || b.cond == nil || len(b.ends) == 0 {
		return fmt.Errorf("%w: branch from %q has no condition or targets", ErrInvalidGraph, from)
	}
	for to := range b.ends {
		if err := g.checkTarget(to); err != nil {
			return err
		}
	}
	g.branches[from] = b
	return nil
}

func (g *Graph) checkSource(from string) error {
	if from == END {
		return fmt.Errorf("%w: %s has no outgoing transitions", ErrInvalidGraph, END)
	}
	if from != START {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownNode, from)
		}
	}
	if _, ok := g.edges[from]; ok {
		return fmt.Errorf("%w: %q already has an outgoing edge", ErrInvalidGraph, from)
	}
	if _, ok := g.branches[from]; ok {
		return fmt.Errorf("%w: %q already has a branch", ErrInvalidGraph, from)
	}
	return nil
}

func (g *Graph) checkTarget(to string) error {
	if to == START {
		return fmt.Errorf("%w: %s cannot be a target", ErrInvalidGraph, START)
	}
	if to == END {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, to)
	}
	return nil
}

// Hooks observe execution. Any field may be nil.
type Hooks struct {
	OnNodeStart func(ctx context.Context, graphName, node string)
	OnNodeEnd   func(ctx context.Context, graphName, node string, err error)
	OnInterrupt func(ctx context.Context, graphName, node string)
}

type compileOptions struct {
	name            string
	interruptBefore []string
	maxSteps        int
	hooks           Hooks
}

type CompileOption func(*compileOptions)

func WithGraphName(name string) CompileOption {
	return func(o *compileOptions) {
		o.name = name
	}
}

func WithInterruptBefore(nodes ...string) CompileOption {
	return func(o *compileOptions) {
		o.interruptBefore = append(o.interruptBefore, nodes...)
	}
}

func WithMaxSteps(n int) CompileOption {
	return func(o *compileOptions) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

func WithHooks(h Hooks) CompileOption {
	return func(o *compileOptions) {
		o.hooks = h
	}
}

// Compile validates the transition table and returns an immutable Runnable.
func (g *Graph) Compile(opts ...CompileOption) (*Runnable, error) {
	cfg := compileOptions{name: "graph", maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if _, ok := g.edges[START]; !ok {
		return nil, fmt.Errorf("%w: missing edge from %s", ErrInvalidGraph, START)
	}
	for name := range g.nodes {
		_, hasEdge := g.edges[name]
		_, hasBranch := g.branches[name]
		if !hasEdge && !hasBranch {
			return nil, fmt.Errorf("%w: node %q has no outgoing transition", ErrInvalidGraph, name)
		}
	}

	interrupts := make(map[string]bool, len(cfg.interruptBefore))
	for _, name := range cfg.interruptBefore {
		if _, ok := g.nodes[name]; !ok {
			return nil, fmt.Errorf("%w: interrupt node %q", ErrUnknownNode, name)
		}
		interrupts[name] = true
	}

	r := &Runnable{
		name:            cfg.name,
		nodes:           make(map[string]NodeFunc, len(g.nodes)),
		edges:           make(map[string]string, len(g.edges)),
		branches:        make(map[string]*Branch, len(g.branches)),
		interruptBefore: interrupts,
		maxSteps:        cfg.maxSteps,
		hooks:           cfg.hooks,
	}
	for k, v := range g.nodes {
		r.nodes[k] = v
	}
	for k, v := range g.edges {
		r.edges[k] = v
	}
	for k, v := range g.branches {
		r.branches[k] = v
	}
	return r, nil
}
