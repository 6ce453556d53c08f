package graph

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

// Runnable is a compiled, read-only graph safe for concurrent use across
// different sessions.
type Runnable struct {
	name            string
	nodes           map[string]NodeFunc
	edges           map[string]string
	branches        map[string]*Branch
	interruptBefore map[string]bool
	maxSteps        int
	hooks           Hooks
}

// Result describes how a Run stopped. When Interrupted is true, NextNode is the
// node that must be resumed into.
type Result struct {
	Interrupted bool
	NextNode    string
	Path        []string
}

type runOptions struct {
	resumeAt string
	onNode   func(node string, st *statex.SessionState)
}

type RunOption func(*runOptions)

// ResumeAt starts the run at node instead of START. An interrupt-before marker
// on that node is honoured only on later visits.
func ResumeAt(node string) RunOption {
	return func(o *runOptions) {
		o.resumeAt = node
	}
}

// WithNodeCallback is invoked after every node that completed without error.
func WithNodeCallback(fn func(node string, st *statex.SessionState)) RunOption {
	return func(o *runOptions) {
		o.onNode = fn
	}
}

func (r *Runnable) Name() string {
	return r.name
}

// InterruptsBefore reports whether node is an interrupt point.
func (r *Runnable) InterruptsBefore(node string) bool {
	return r.interruptBefore[node]
}

func (r *Runnable) Run(ctx context.Context, st *statex.SessionState, opts ...RunOption) (Result, error) {
	if st == nil {
		return Result{}, statex.ErrNilSessionState
	}

	var cfg runOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	current := r.edges[START]
	resuming := false
	if cfg.resumeAt != "" {
		if _, ok := r.nodes[cfg.resumeAt]; !ok {
			return Result{}, fmt.Errorf("%w: resume target %q", ErrUnknownNode, cfg.resumeAt)
		}
		current = cfg.resumeAt
		resuming = true
	}

	path := make([]string, 0, 8)
	logger := log.With().Str("graph", r.name).Str("session_id", st.SessionID).Logger()

	for steps := 0; current != END; steps++ {
		if err := ctx.Err(); err != nil {
			return Result{Path: path}, &ExecutionError{Graph: r.name, Node: current, Path: path, Err: err}
		}
		if steps >= r.maxSteps {
			return Result{Path: path}, &ExecutionError{Graph: r.name, Node: current, Path: path, Err: ErrMaxSteps}
		}

		if r.interruptBefore[current] && !(resuming && steps == 0) {
			logger.Debug().Str("node", current).Msg("interrupt before node")
			if r.hooks.OnInterrupt != nil {
				r.hooks.OnInterrupt(ctx, r.name, current)
			}
			return Result{Interrupted: true, NextNode: current, Path: path}, nil
		}

		node := r.nodes[current]
		if r.hooks.OnNodeStart != nil {
			r.hooks.OnNodeStart(ctx, r.name, current)
		}
		err := node(ctx, st)
		if r.hooks.OnNodeEnd != nil {
			r.hooks.OnNodeEnd(ctx, r.name, current, err)
		}
		path = append(path, current)
		if err != nil {
			return Result{Path: path}, &ExecutionError{Graph: r.name, Node: current, Path: path, Err: err}
		}
		if cfg.onNode != nil {
			cfg.onNode(current, st)
		}

		next, err := r.next(ctx, current, st)
		if err != nil {
			return Result{Path: path}, &ExecutionError{Graph: r.name, Node: current, Path: path, Err: err}
		}
		logger.Debug().Str("node", current).Str("next", next).Msg("transition")
		current = next
	}

	return Result{Path: path}, nil
}

func (r *Runnable) next(ctx context.Context, from string, st *statex.SessionState) (string, error) {
	if to, ok := r.edges[from]; ok {
		return to, nil
	}

	b, ok := r.branches[from]
	if !ok {
		return "", fmt.Errorf("%w: no transition from %q", ErrInvalidGraph, from)
	}
	to, err := b.Next(ctx, st)
	if err != nil {
		return "", fmt.Errorf("branch from %q: %w", from, err)
	}
	return to, nil
}
