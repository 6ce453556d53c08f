package nodes

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testEnv() Env {
	n := 0
	return Env{
		Now: func() time.Time { return testNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
}

type fakeClassifier struct {
	dest contractx.Destination
	err  error
}

func (f fakeClassifier) Classify(context.Context, []statex.Turn) (contractx.Destination, error) {
	return f.dest, f.err
}

type fakeResponder struct {
	responses []contractx.RespondResponse
	err       error
	requests  []contractx.RespondRequest
}

func (f *fakeResponder) Respond(_ context.Context, req contractx.RespondRequest) (contractx.RespondResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return contractx.RespondResponse{}, f.err
	}
	if len(f.responses) == 0 {
		return contractx.RespondResponse{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type fakeRegistry struct {
	router     contractx.Classifier
	assistants map[contractx.AgentType]contractx.Responder
}

func (f fakeRegistry) Router() contractx.Classifier { return f.router }

func (f fakeRegistry) Assistant(agentType contractx.AgentType) (contractx.Responder, bool) {
	r, ok := f.assistants[agentType]
	return r, ok
}

type fakePolicy map[string]statex.Classification

func (f fakePolicy) Classify(_ contractx.AgentType, tool string) (statex.Classification, bool) {
	c, ok := f[tool]
	return c, ok
}

type fakeGateway struct {
	result contractx.ToolResult
	err    error
	calls  []contractx.ToolRequest
}

func (f *fakeGateway) Execute(_ context.Context, _ contractx.AgentType, req contractx.ToolRequest) (contractx.ToolResult, error) {
	f.calls = append(f.calls, req)
	return f.result, f.err
}

func TestNormalizePhoneNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "010-1234-5678", want: "01012345678", wantOK: true},
		{in: " 011 9876 5432 ", want: "01198765432", wantOK: true},
		{in: "(019)1234.5678", want: "01912345678", wantOK: true},
		{in: "012-1234-5678"},
		{in: "0101234567"},
		{in: ""},
		{in: "phone 01012345678"},
	}
	for _, tc := range cases {
		got, ok := NormalizePhoneNumber(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("NormalizePhoneNumber(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFetchUserInfo(t *testing.T) {
	t.Parallel()

	node := NewFetchUserInfo(testEnv())
	branch := UserInfoBranch()

	valid := statex.NewSessionState("s1", testNow)
	valid.MergeUserContext(map[string]string{contractx.UserContextPhoneNumber: "010-1234-5678"})
	if err := node(context.Background(), valid); err != nil {
		t.Fatalf("node() error = %v", err)
	}
	if got := valid.UserContext[contractx.UserContextPhoneNumber]; got != "01012345678" {
		t.Fatalf("normalized phone = %q", got)
	}
	if len(valid.History) != 0 {
		t.Fatalf("valid phone must not append turns")
	}
	if next, _ := branchTarget(t, branch, valid); next != Router {
		t.Fatalf("branch = %q, want router", next)
	}

	invalid := statex.NewSessionState("s2", testNow)
	invalid.MergeUserContext(map[string]string{contractx.UserContextPhoneNumber: "12345"})
	if err := node(context.Background(), invalid); err != nil {
		t.Fatalf("node() error = %v", err)
	}
	last, _ := invalid.LastTurn()
	if last.Role != statex.RoleAssistant || last.Content != InvalidPhoneMessage {
		t.Fatalf("corrective turn = %+v", last)
	}
	if next, _ := branchTarget(t, branch, invalid); next != graphx.END {
		t.Fatalf("branch = %q, want END", next)
	}
}

func TestRouteFailsOpenToTerminate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		classifier contractx.Classifier
	}{
		{name: "capability error", classifier: fakeClassifier{err: errors.New("timeout")}},
		{name: "unknown label", classifier: fakeClassifier{dest: "billing"}},
		{name: "nil classifier", classifier: nil},
	}
	for _, tc := range cases {
		dest, err := Route(context.Background(), tc.classifier, nil)
		if dest != contractx.DestinationTerminate || err == nil {
			t.Fatalf("%s: Route() = (%q, %v), want terminate with error", tc.name, dest, err)
		}
	}

	dest, err := Route(context.Background(), fakeClassifier{dest: contractx.DestinationRetrieval}, nil)
	if err != nil || dest != contractx.DestinationRetrieval {
		t.Fatalf("Route() = (%q, %v)", dest, err)
	}
}

func TestRouterNode(t *testing.T) {
	t.Parallel()

	ok := NewRouter(fakeRegistry{router: fakeClassifier{dest: contractx.DestinationReservation}}, testEnv())
	st := statex.NewSessionState("s1", testNow)
	if err := ok(context.Background(), st); err != nil {
		t.Fatalf("router() error = %v", err)
	}
	if st.ActiveAssistant != ReservationAssistant {
		t.Fatalf("ActiveAssistant = %q", st.ActiveAssistant)
	}
	if next, _ := branchTarget(t, RouterBranch(), st); next != ReservationAssistant {
		t.Fatalf("branch = %q", next)
	}

	failing := NewRouter(fakeRegistry{router: fakeClassifier{err: errors.New("boom")}}, testEnv())
	st = statex.NewSessionState("s2", testNow)
	st.ActiveAssistant = RetrievalAssistant
	if err := failing(context.Background(), st); err != nil {
		t.Fatalf("router() must not fail, got %v", err)
	}
	last, _ := st.LastTurn()
	if st.ActiveAssistant != "" || last.Content != RouterFailureMessage {
		t.Fatalf("terminate state = %q / %+v", st.ActiveAssistant, last)
	}
	if next, _ := branchTarget(t, RouterBranch(), st); next != graphx.END {
		t.Fatalf("branch = %q, want END", next)
	}

	closing := NewRouter(fakeRegistry{router: fakeClassifier{dest: contractx.DestinationTerminate}}, testEnv())
	st = statex.NewSessionState("s3", testNow)
	if err := closing(context.Background(), st); err != nil {
		t.Fatalf("router() error = %v", err)
	}
	if last, _ := st.LastTurn(); last.Content != ClosingMessage {
		t.Fatalf("closing turn = %+v", last)
	}
}

func newAssistant(responder *fakeResponder, policy fakePolicy) graphx.NodeFunc {
	return NewAssistant(AssistantConfig{
		Agent:  contractx.AgentTypeReservation,
		Models: fakeRegistry{assistants: map[contractx.AgentType]contractx.Responder{contractx.AgentTypeReservation: responder}},
		Policy: policy,
		Env:    testEnv(),
	})
}

func TestAssistantFinalText(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{responses: []contractx.RespondResponse{{Text: "  You have one reservation.  "}}}
	st := statex.NewSessionState("s1", testNow)
	st.MergeUserContext(map[string]string{contractx.UserContextPhoneNumber: "01012345678"})

	if err := newAssistant(responder, nil)(context.Background(), st); err != nil {
		t.Fatalf("assistant() error = %v", err)
	}
	last, _ := st.LastTurn()
	if last.Content != "You have one reservation." || last.ToolCall != nil {
		t.Fatalf("turn = %+v", last)
	}
	if st.ActiveAssistant != ReservationAssistant {
		t.Fatalf("ActiveAssistant = %q", st.ActiveAssistant)
	}
	if responder.requests[0].UserContext[contractx.UserContextPhoneNumber] != "01012345678" {
		t.Fatalf("user context not forwarded: %+v", responder.requests[0])
	}
	if next, _ := branchTarget(t, AssistantBranch(), st); next != graphx.END {
		t.Fatalf("branch = %q", next)
	}
}

func TestAssistantRetriesDegenerateOutput(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{responses: []contractx.RespondResponse{{}, {Text: "   "}, {Text: "Here you go."}}}
	st := statex.NewSessionState("s1", testNow)
	st.Append(statex.Turn{ID: "u1", Role: statex.RoleUser, Content: "hi"})

	if err := newAssistant(responder, nil)(context.Background(), st); err != nil {
		t.Fatalf("assistant() error = %v", err)
	}
	if len(responder.requests) != 3 {
		t.Fatalf("capability invoked %d times, want 3", len(responder.requests))
	}
	second := responder.requests[1].History
	if got := second[len(second)-1]; got.Role != statex.RoleUser || got.Content != CorrectiveInstruction {
		t.Fatalf("corrective instruction missing: %+v", got)
	}
	if len(st.History) != 2 {
		t.Fatalf("corrective instruction leaked into history: %+v", st.History)
	}
	if last, _ := st.LastTurn(); last.Content != "Here you go." {
		t.Fatalf("final turn = %+v", last)
	}
}

func TestAssistantGivesUpAfterMaxCorrections(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{}
	st := statex.NewSessionState("s1", testNow)

	if err := newAssistant(responder, nil)(context.Background(), st); err != nil {
		t.Fatalf("assistant() error = %v", err)
	}
	if len(responder.requests) != DefaultMaxCorrections+1 {
		t.Fatalf("capability invoked %d times", len(responder.requests))
	}
	if last, _ := st.LastTurn(); last.Content != EmptyOutputMessage {
		t.Fatalf("final turn = %+v", last)
	}
}

func TestAssistantCapabilityErrorBecomesTerminalTurn(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{err: errors.New("upstream 503")}
	st := statex.NewSessionState("s1", testNow)

	if err := newAssistant(responder, nil)(context.Background(), st); err != nil {
		t.Fatalf("assistant() error = %v", err)
	}
	last, _ := st.LastTurn()
	if !last.IsError || last.Content != CapabilityFailure {
		t.Fatalf("terminal turn = %+v", last)
	}
	if next, _ := branchTarget(t, AssistantBranch(), st); next != graphx.END {
		t.Fatalf("branch = %q", next)
	}
}

func TestAssistantClassifiesFirstToolCall(t *testing.T) {
	t.Parallel()

	policy := fakePolicy{
		"GetReservationsByPhone": statex.ClassificationSafe,
		"CancelReservation":      statex.ClassificationSensitive,
	}

	cases := []struct {
		name string
		call statex.ToolCall
		want string
		cls  statex.Classification
	}{
		{name: "safe", call: statex.ToolCall{ID: "c1", Name: "GetReservationsByPhone"}, want: SafeTools, cls: statex.ClassificationSafe},
		{name: "sensitive", call: statex.ToolCall{ID: "c2", Name: "CancelReservation"}, want: SensitiveTools, cls: statex.ClassificationSensitive},
		{name: "unknown fails closed", call: statex.ToolCall{ID: "c3", Name: "DropTables"}, want: SensitiveTools, cls: statex.ClassificationSensitive},
	}
	for _, tc := range cases {
		responder := &fakeResponder{responses: []contractx.RespondResponse{{
			ToolCalls: []statex.ToolCall{tc.call, {ID: "ignored", Name: "GetReservationsByPhone"}},
		}}}
		st := statex.NewSessionState("s1", testNow)
		if err := newAssistant(responder, policy)(context.Background(), st); err != nil {
			t.Fatalf("%s: assistant() error = %v", tc.name, err)
		}
		if st.PendingToolCall == nil || st.PendingToolCall.ID != tc.call.ID || st.PendingToolCall.Classification != tc.cls {
			t.Fatalf("%s: pending = %+v", tc.name, st.PendingToolCall)
		}
		last, _ := st.LastTurn()
		if last.ToolCall == nil || last.ToolCall.ID != tc.call.ID {
			t.Fatalf("%s: proposal turn = %+v", tc.name, last)
		}
		if next, _ := branchTarget(t, AssistantBranch(), st); next != tc.want {
			t.Fatalf("%s: branch = %q, want %q", tc.name, next, tc.want)
		}
	}
}

func TestAssistantAssignsMissingCallID(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{responses: []contractx.RespondResponse{{
		ToolCalls: []statex.ToolCall{{Name: "GetReservationsByPhone"}},
	}}}
	st := statex.NewSessionState("s1", testNow)
	if err := newAssistant(responder, fakePolicy{"GetReservationsByPhone": statex.ClassificationSafe})(context.Background(), st); err != nil {
		t.Fatalf("assistant() error = %v", err)
	}
	if st.PendingToolCall == nil || !strings.HasPrefix(st.PendingToolCall.ID, "call_") {
		t.Fatalf("pending = %+v", st.PendingToolCall)
	}
}

func pendingCallState(t *testing.T, cls statex.Classification) *statex.SessionState {
	t.Helper()

	st := statex.NewSessionState("s1", testNow)
	st.ActiveAssistant = ReservationAssistant
	st.MergeUserContext(map[string]string{contractx.UserContextPhoneNumber: "01012345678"})
	call := statex.ToolCall{ID: "call-x", Name: "CancelReservation", Args: map[string]any{"reservation_uuid": "X"}, Classification: cls}
	st.Append(statex.Turn{ID: "a1", Role: statex.RoleAssistant, ToolCall: &call})
	if err := st.SetPending(call); err != nil {
		t.Fatalf("SetPending() error = %v", err)
	}
	return st
}

func TestSensitiveToolsRequireMatchingApproval(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{result: contractx.ToolResult{Result: "reservation successfully cancelled"}}
	node := NewSensitiveTools(gw, testEnv())

	st := pendingCallState(t, statex.ClassificationSensitive)
	if err := node(context.Background(), st); !errors.Is(err, contractx.ErrUnapprovedToolCall) {
		t.Fatalf("node() without approval error = %v", err)
	}
	st.Approval = &statex.Approval{CallID: "other"}
	if err := node(context.Background(), st); !errors.Is(err, contractx.ErrUnapprovedToolCall) {
		t.Fatalf("node() with foreign approval error = %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("tool executed without approval")
	}

	st.Approval = &statex.Approval{CallID: "call-x"}
	if err := node(context.Background(), st); err != nil {
		t.Fatalf("node() error = %v", err)
	}
	if len(gw.calls) != 1 || !reflect.DeepEqual(gw.calls[0].Args, map[string]any{"reservation_uuid": "X"}) {
		t.Fatalf("gateway calls = %+v", gw.calls)
	}
	if gw.calls[0].CallID != "call-x" || gw.calls[0].UserContext[contractx.UserContextPhoneNumber] != "01012345678" {
		t.Fatalf("gateway request = %+v", gw.calls[0])
	}
	last, _ := st.LastTurn()
	if last.Role != statex.RoleToolResult || last.ToolCallID != "call-x" || last.Content != "reservation successfully cancelled" {
		t.Fatalf("tool result = %+v", last)
	}
	if st.PendingToolCall != nil || st.Approval != nil {
		t.Fatalf("pending not cleared")
	}
	if next, _ := branchTarget(t, ToolsBranch(), st); next != ReservationAssistant {
		t.Fatalf("branch = %q", next)
	}
}

func TestSafeToolsWrapErrors(t *testing.T) {
	t.Parallel()

	st := pendingCallState(t, statex.ClassificationSafe)
	gw := &fakeGateway{err: errors.New("reservation not found")}
	if err := NewSafeTools(gw, testEnv())(context.Background(), st); err != nil {
		t.Fatalf("node() error = %v", err)
	}
	last, _ := st.LastTurn()
	if !last.IsError || last.Content != "Error: reservation not found\n please fix your mistakes." {
		t.Fatalf("error turn = %+v", last)
	}

	st = pendingCallState(t, statex.ClassificationSafe)
	gw = &fakeGateway{result: contractx.ToolResult{Result: []map[string]any{{"price": 30000}}}}
	if err := NewSafeTools(gw, testEnv())(context.Background(), st); err != nil {
		t.Fatalf("node() error = %v", err)
	}
	if last, _ := st.LastTurn(); last.Content != `[{"price":30000}]` {
		t.Fatalf("json result = %q", last.Content)
	}

	st = pendingCallState(t, statex.ClassificationSensitive)
	if err := NewSafeTools(gw, testEnv())(context.Background(), st); !errors.Is(err, contractx.ErrUnapprovedToolCall) {
		t.Fatalf("safe node ran sensitive call: %v", err)
	}
}

func branchTarget(t *testing.T, b *graphx.Branch, st *statex.SessionState) (string, error) {
	t.Helper()
	return b.Next(context.Background(), st)
}
