package graph

import (
	"fmt"
	"strings"
)

// ExecutionError reports the node that failed and the path taken to reach it.
type ExecutionError struct {
	Graph string
	Node  string
	Path  []string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("graph %s: node %s failed (path: %s): %v", e.Graph, e.Node, strings.Join(e.Path, " -> "), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
