// Package hitl implements the Interrupt/Resume Controller that guards
// sensitive tool calls behind an explicit human decision.
//
//	RUNNING --Suspend--> AWAITING_DECISION --Apply--> RESUMING --Resumed--> RUNNING
//
// The controller never blocks. Suspend records a Checkpoint on the session
// state and returns; Apply validates a later decision against that Checkpoint
// and tells the caller which node to resume at.
package hitl

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

const defaultDenialReason = "no reason given"

// DenialMessage is the synthetic tool result appended when a call is denied.
func DenialMessage(reason string) string {
	if reason == "" {
		reason = defaultDenialReason
	}
	return fmt.Sprintf("API call denied by user. Reasoning: '%s'. Continue assisting, accounting for the user's input.", reason)
}

type Controller struct {
	now   func() time.Time
	newID func() string
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func NewController(opts ...Option) *Controller {
	c := &Controller{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Suspend moves a RUNNING session to AWAITING_DECISION in front of nextNode.
// The pending tool call must already be attached; the active assistant is
// recorded as the node to return to on denial.
func (c *Controller) Suspend(st *statex.SessionState, nextNode string) (*statex.Checkpoint, error) {
	if st == nil {
		return nil, statex.ErrNilSessionState
	}
	if st.Status != statex.StatusRunning {
		return nil, fmt.Errorf("%w: cannot suspend from %s", statex.ErrCheckpointCorrupt, st.Status)
	}
	if st.PendingToolCall == nil {
		return nil, fmt.Errorf("%w: no pending tool call to suspend on", statex.ErrCheckpointCorrupt)
	}
	if nextNode == "" || st.ActiveAssistant == "" {
		return nil, fmt.Errorf("%w: next=%q origin=%q", statex.ErrCheckpointCorrupt, nextNode, st.ActiveAssistant)
	}

	cp := &statex.Checkpoint{
		NextNode:   nextNode,
		OriginNode: st.ActiveAssistant,
		CallID:     st.PendingToolCall.ID,
		CreatedAt:  c.now().UTC(),
	}
	st.Checkpoint = cp
	st.Approval = nil
	st.Status = statex.StatusAwaitingDecision

	log.Info().
		Str("session_id", st.SessionID).
		Str("call_id", cp.CallID).
		Str("tool", st.PendingToolCall.Name).
		Str("next_node", nextNode).
		Msg("awaiting decision")
	return cp, nil
}

// Apply consumes a decision for an AWAITING_DECISION session and returns the
// node execution must resume at. On any error st is left untouched.
//
// continue: the exact pending call is approved and execution resumes at the
// checkpointed node.
// deny: a denial tool result correlated by call id is appended, the pending
// call is cleared and execution resumes at the originating assistant.
func (c *Controller) Apply(st *statex.SessionState, d Decision) (string, error) {
	if st == nil {
		return "", statex.ErrNilSessionState
	}
	decision, err := d.Normalize()
	if err != nil {
		return "", err
	}
	if !st.HasPendingDecision() || st.PendingToolCall == nil {
		return "", fmt.Errorf("%w: session_id=%s status=%s", ErrNoPendingDecision, st.SessionID, st.Status)
	}
	cp := st.Checkpoint
	if cp.CallID != st.PendingToolCall.ID {
		return "", fmt.Errorf("%w: checkpoint call_id=%s pending call_id=%s", statex.ErrCheckpointCorrupt, cp.CallID, st.PendingToolCall.ID)
	}
	if decision.CallID != "" && decision.CallID != cp.CallID {
		return "", fmt.Errorf("%w: got call_id=%s want %s", ErrDecisionMismatch, decision.CallID, cp.CallID)
	}

	now := c.now().UTC()
	var resumeAt string
	switch decision.Action {
	case ActionContinue:
		st.Approval = &statex.Approval{CallID: cp.CallID, DecidedAt: now}
		resumeAt = cp.NextNode
	case ActionDeny:
		call := st.PendingToolCall
		st.Append(statex.Turn{
			ID:         c.newID(),
			Role:       statex.RoleToolResult,
			Content:    DenialMessage(decision.Reason),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			IsDenied:   true,
			CreatedAt:  now,
		})
		st.ClearPending()
		resumeAt = cp.OriginNode
	}

	st.Checkpoint = nil
	st.Status = statex.StatusResuming
	st.Touch(now)

	log.Info().
		Str("session_id", st.SessionID).
		Str("call_id", cp.CallID).
		Str("action", string(decision.Action)).
		Str("resume_at", resumeAt).
		Msg("decision applied")
	return resumeAt, nil
}

// Resumed marks the end of the controller's role for the resolved call.
func (c *Controller) Resumed(st *statex.SessionState) {
	if st != nil && st.Status == statex.StatusResuming {
		st.Status = statex.StatusRunning
	}
}
