package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionState is the Conversation State flowing through every graph node and
// the unit persisted per session id.
// - History: append-only transcript (user / assistant / tool_result turns)
// - PendingToolCall: at most one proposed call awaiting execution or decision
// - Checkpoint: set only while the session is AWAITING_DECISION
type SessionState struct {
	SessionID   string            `json:"session_id"`
	History     []Turn            `json:"history,omitempty"`
	UserContext map[string]string `json:"user_context,omitempty"`

	PendingToolCall *ToolCall `json:"pending_tool_call,omitempty"`
	ActiveAssistant string    `json:"active_assistant,omitempty"`

	Status     ControllerStatus `json:"status"`
	Checkpoint *Checkpoint      `json:"checkpoint,omitempty"`
	Approval   *Approval        `json:"approval,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

type Classification string

const (
	ClassificationSafe      Classification = "safe"
	ClassificationSensitive Classification = "sensitive"
)

func (c Classification) Valid() bool {
	return c == ClassificationSafe || c == ClassificationSensitive
}

type ControllerStatus string

const (
	StatusRunning          ControllerStatus = "RUNNING"
	StatusAwaitingDecision ControllerStatus = "AWAITING_DECISION"
	StatusResuming         ControllerStatus = "RESUMING"
)

// ToolCall is a single proposed tool invocation. ID correlates the tool_result
// turn back to the assistant turn that proposed it.
type ToolCall struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Args           map[string]any `json:"args,omitempty"`
	Classification Classification `json:"classification"`
}

type Turn struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content,omitempty"`
	ToolCall   *ToolCall `json:"tool_call,omitempty"`    // assistant turns only
	ToolCallID string    `json:"tool_call_id,omitempty"` // tool_result turns only
	ToolName   string    `json:"tool_name,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
	IsDenied   bool      `json:"is_denied,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Checkpoint marks the node execution is paused before. The surrounding
// SessionState is the snapshot.
type Checkpoint struct {
	NextNode   string    `json:"next_node"`
	OriginNode string    `json:"origin_node"`
	CallID     string    `json:"call_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Approval records an explicit continue decision for exactly one call id.
type Approval struct {
	CallID    string    `json:"call_id"`
	DecidedAt time.Time `json:"decided_at"`
}

/* -------------------------- SessionState helpers ------------------------- */

var (
	ErrPendingToolCall   = errors.New("a tool call is already pending")
	ErrCheckpointCorrupt = errors.New("checkpoint does not match pending tool call")
)

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID:   sessionID,
		UserContext: make(map[string]string, 2),
		Status:      StatusRunning,
		Version:     1,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Append concatenates turns to the history. Existing turns are never rewritten.
func (s *SessionState) Append(turns ...Turn) {
	s.History = append(s.History, turns...)
}

func (s *SessionState) LastTurn() (Turn, bool) {
	if s == nil || len(s.History) == 0 {
		return Turn{}, false
	}
	return s.History[len(s.History)-1], true
}

func (s *SessionState) HasPendingDecision() bool {
	return s != nil && s.Status == StatusAwaitingDecision && s.Checkpoint != nil
}

// SetPending attaches a newly proposed call. Only one call may be pending.
func (s *SessionState) SetPending(call ToolCall) error {
	if s.PendingToolCall != nil {
		return fmt.Errorf("%w: call_id=%s", ErrPendingToolCall, s.PendingToolCall.ID)
	}
	c := call.Clone()
	s.PendingToolCall = &c
	return nil
}

func (s *SessionState) ClearPending() {
	s.PendingToolCall = nil
	s.Approval = nil
}

func (s *SessionState) MergeUserContext(values map[string]string) {
	if len(values) == 0 {
		return
	}
	if s.UserContext == nil {
		s.UserContext = make(map[string]string, len(values))
	}
	for k, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		s.UserContext[k] = strings.TrimSpace(v)
	}
}

func (s *SessionState) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}

	switch s.Status {
	case StatusRunning, StatusResuming:
		if s.Checkpoint != nil {
			return fmt.Errorf("%w: checkpoint present while %s", ErrCheckpointCorrupt, s.Status)
		}
	case StatusAwaitingDecision:
		if s.Checkpoint == nil || s.PendingToolCall == nil {
			return fmt.Errorf("%w: awaiting decision without checkpoint", ErrCheckpointCorrupt)
		}
		if s.Checkpoint.CallID != s.PendingToolCall.ID {
			return fmt.Errorf("%w: checkpoint call_id=%s pending call_id=%s",
				ErrCheckpointCorrupt, s.Checkpoint.CallID, s.PendingToolCall.ID)
		}
	default:
		return fmt.Errorf("invalid controller status %q", s.Status)
	}

	if s.PendingToolCall != nil && !s.PendingToolCall.Classification.Valid() {
		return fmt.Errorf("pending call %s has invalid classification %q", s.PendingToolCall.ID, s.PendingToolCall.Classification)
	}
	return nil
}

// Clone returns a deep copy so stores never share memory with callers.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		for i, t := range s.History {
			out.History[i] = t.Clone()
		}
	}
	if s.UserContext != nil {
		out.UserContext = make(map[string]string, len(s.UserContext))
		for k, v := range s.UserContext {
			out.UserContext[k] = v
		}
	}
	if s.PendingToolCall != nil {
		c := s.PendingToolCall.Clone()
		out.PendingToolCall = &c
	}
	if s.Checkpoint != nil {
		cp := *s.Checkpoint
		out.Checkpoint = &cp
	}
	if s.Approval != nil {
		ap := *s.Approval
		out.Approval = &ap
	}
	return &out
}

func (t Turn) Clone() Turn {
	out := t
	if t.ToolCall != nil {
		c := t.ToolCall.Clone()
		out.ToolCall = &c
	}
	return out
}

func (c ToolCall) Clone() ToolCall {
	out := c
	if c.Args != nil {
		out.Args = cloneMap(c.Args)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return x
	}
}
