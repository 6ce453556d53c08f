package hitl

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestController() *Controller {
	return NewController(
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "turn-denied" }),
	)
}

func pendingState(t *testing.T) *statex.SessionState {
	t.Helper()

	st := statex.NewSessionState("s1", fixedNow)
	st.ActiveAssistant = "reservation_assistant"
	call := statex.ToolCall{
		ID:             "call-x",
		Name:           "CancelReservation",
		Args:           map[string]any{"reservation_uuid": "X"},
		Classification: statex.ClassificationSensitive,
	}
	st.Append(statex.Turn{ID: "a1", Role: statex.RoleAssistant, ToolCall: &call})
	if err := st.SetPending(call); err != nil {
		t.Fatalf("SetPending() error = %v", err)
	}
	return st
}

func TestSuspendRecordsCheckpoint(t *testing.T) {
	t.Parallel()

	c := newTestController()
	st := pendingState(t)

	cp, err := c.Suspend(st, "sensitive_tools")
	if err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	want := statex.Checkpoint{NextNode: "sensitive_tools", OriginNode: "reservation_assistant", CallID: "call-x", CreatedAt: fixedNow}
	if *cp != want {
		t.Fatalf("checkpoint = %+v, want %+v", *cp, want)
	}
	if st.Status != statex.StatusAwaitingDecision || !st.HasPendingDecision() {
		t.Fatalf("status = %s", st.Status)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() after suspend = %v", err)
	}
}

func TestSuspendRequiresRunningStateWithPendingCall(t *testing.T) {
	t.Parallel()

	c := newTestController()

	empty := statex.NewSessionState("s1", fixedNow)
	empty.ActiveAssistant = "reservation_assistant"
	if _, err := c.Suspend(empty, "sensitive_tools"); !errors.Is(err, statex.ErrCheckpointCorrupt) {
		t.Fatalf("Suspend(no pending) error = %v", err)
	}

	st := pendingState(t)
	if _, err := c.Suspend(st, "sensitive_tools"); err != nil {
		t.Fatalf("first Suspend() error = %v", err)
	}
	if _, err := c.Suspend(st, "sensitive_tools"); !errors.Is(err, statex.ErrCheckpointCorrupt) {
		t.Fatalf("second Suspend() error = %v", err)
	}
}

func TestApplyContinueApprovesExactCall(t *testing.T) {
	t.Parallel()

	c := newTestController()
	st := pendingState(t)
	if _, err := c.Suspend(st, "sensitive_tools"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	before := len(st.History)

	resumeAt, err := c.Apply(st, Decision{Action: "Continue", CallID: "call-x"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if resumeAt != "sensitive_tools" {
		t.Fatalf("resumeAt = %q", resumeAt)
	}
	if st.Status != statex.StatusResuming || st.Checkpoint != nil {
		t.Fatalf("status=%s checkpoint=%+v", st.Status, st.Checkpoint)
	}
	if st.Approval == nil || st.Approval.CallID != "call-x" {
		t.Fatalf("approval = %+v", st.Approval)
	}
	if st.PendingToolCall == nil || !reflect.DeepEqual(st.PendingToolCall.Args, map[string]any{"reservation_uuid": "X"}) {
		t.Fatalf("pending call changed: %+v", st.PendingToolCall)
	}
	if len(st.History) != before {
		t.Fatalf("continue must not append turns")
	}

	c.Resumed(st)
	if st.Status != statex.StatusRunning {
		t.Fatalf("status after Resumed = %s", st.Status)
	}
}

func TestApplyTerminateSynthesisesDenial(t *testing.T) {
	t.Parallel()

	c := newTestController()
	st := pendingState(t)
	if _, err := c.Suspend(st, "sensitive_tools"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	resumeAt, err := c.Apply(st, Decision{Action: ActionTerminate})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if resumeAt != "reservation_assistant" {
		t.Fatalf("resumeAt = %q", resumeAt)
	}
	if st.PendingToolCall != nil || st.Approval != nil || st.Checkpoint != nil {
		t.Fatalf("pending state not cleared: %+v", st)
	}
	if len(st.History) != 2 || st.History[0].ToolCall == nil {
		t.Fatalf("original proposal must stay in history: %+v", st.History)
	}
	last := st.History[1]
	if last.Role != statex.RoleToolResult || last.ToolCallID != "call-x" || !last.IsDenied {
		t.Fatalf("denial turn = %+v", last)
	}
	if !strings.Contains(last.Content, "denied") || !strings.Contains(last.Content, "no reason given") {
		t.Fatalf("denial content = %q", last.Content)
	}
}

func TestApplyRejectsMismatchAndLeavesStateAwaiting(t *testing.T) {
	t.Parallel()

	c := newTestController()
	st := pendingState(t)
	if _, err := c.Suspend(st, "sensitive_tools"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	snapshot := st.Clone()

	if _, err := c.Apply(st, Decision{Action: ActionContinue, CallID: "stale"}); !errors.Is(err, ErrDecisionMismatch) {
		t.Fatalf("Apply(stale) error = %v", err)
	}
	if _, err := c.Apply(st, Decision{Action: "maybe"}); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("Apply(invalid) error = %v", err)
	}
	if !reflect.DeepEqual(st, snapshot) {
		t.Fatalf("state changed after rejected decisions")
	}
}

func TestApplyWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	c := newTestController()
	st := statex.NewSessionState("s1", fixedNow)
	if _, err := c.Apply(st, Decision{Action: ActionContinue}); !errors.Is(err, ErrNoPendingDecision) {
		t.Fatalf("Apply() error = %v, want ErrNoPendingDecision", err)
	}
}

func TestDenialMessageCarriesReason(t *testing.T) {
	t.Parallel()

	got := DenialMessage("wrong date")
	want := "API call denied by user. Reasoning: 'wrong date'. Continue assisting, accounting for the user's input."
	if got != want {
		t.Fatalf("DenialMessage() = %q", got)
	}
}

func TestFromAnswer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Decision
	}{
		{in: "y", want: Decision{Action: ActionContinue}},
		{in: " Y ", want: Decision{Action: ActionContinue}},
		{in: "no, move it to friday", want: Decision{Action: ActionDeny, Reason: "no, move it to friday"}},
		{in: "", want: Decision{Action: ActionDeny}},
	}
	for _, tc := range cases {
		if got := FromAnswer(tc.in); got != tc.want {
			t.Fatalf("FromAnswer(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
