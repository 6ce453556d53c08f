package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanpawarit/grooming-reservation-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	"github.com/tanpawarit/grooming-reservation-agent/agent/hitl"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

type scriptedService struct {
	messages  []orchestrator.MessageRequest
	decisions []hitl.Decision
	pending   bool
}

func (s *scriptedService) HandleMessage(_ context.Context, req orchestrator.MessageRequest) (orchestrator.Result, error) {
	s.messages = append(s.messages, req)
	if strings.Contains(req.Text, "cancel") {
		call := &statex.ToolCall{ID: "X", Name: "CancelReservation", Args: map[string]any{"reservation_uuid": "r1"}, Classification: statex.ClassificationSensitive}
		req.OnTurn(statex.Turn{Role: statex.RoleAssistant, ToolCall: call})
		s.pending = true
		return orchestrator.Result{SessionID: req.SessionID, HasPendingDecision: true, Pending: call}, nil
	}
	req.OnTurn(statex.Turn{Role: statex.RoleAssistant, Content: "We open at 10."})
	return orchestrator.Result{SessionID: req.SessionID}, nil
}

func (s *scriptedService) Decide(_ context.Context, sessionID string, d hitl.Decision, onTurn orchestrator.TurnHandler) (orchestrator.Result, error) {
	if !s.pending {
		return orchestrator.Result{}, hitl.ErrNoPendingDecision
	}
	s.decisions = append(s.decisions, d)
	s.pending = false
	onTurn(statex.Turn{Role: statex.RoleToolResult, ToolName: "CancelReservation", Content: "reservation successfully cancelled"})
	onTurn(statex.Turn{Role: statex.RoleAssistant, Content: "Your booking is cancelled."})
	return orchestrator.Result{SessionID: sessionID}, nil
}

type memPhoneBook map[string]string

func (m memPhoneBook) PhoneNumber(_ context.Context, id string) (string, error) {
	p, ok := m[id]
	if !ok {
		return "", contractx.ErrNotFound
	}
	return p, nil
}

func (m memPhoneBook) SetPhoneNumber(_ context.Context, id, phone string) error {
	m[id] = phone
	return nil
}

func TestChatLoopAsksPhoneUntilValid(t *testing.T) {
	svc := &scriptedService{}
	phones := memPhoneBook{}
	var out bytes.Buffer
	in := strings.NewReader("12345\n010-1234-5678\nwhen do you open?\nq\n")

	require.NoError(t, newChatLoop(in, &out, svc, phones, "s1").run(context.Background()))

	assert.Contains(t, out.String(), "not a valid mobile number")
	assert.Equal(t, "01012345678", phones["s1"])
	require.Len(t, svc.messages, 1)
	assert.Equal(t, "01012345678", svc.messages[0].UserContext[contractx.UserContextPhoneNumber])
	assert.Contains(t, out.String(), "Assistant: We open at 10.")
}

func TestChatLoopApproval(t *testing.T) {
	svc := &scriptedService{}
	var out bytes.Buffer
	in := strings.NewReader("cancel my booking\ny\nq\n")

	loop := newChatLoop(in, &out, svc, memPhoneBook{"s1": "01012345678"}, "s1")
	require.NoError(t, loop.run(context.Background()))

	require.Len(t, svc.decisions, 1)
	assert.Equal(t, hitl.Decision{Action: hitl.ActionContinue, CallID: "X"}, svc.decisions[0])
	assert.Contains(t, out.String(), `-> CancelReservation {"reservation_uuid":"r1"} [sensitive]`)
	assert.Contains(t, out.String(), "<- CancelReservation: reservation successfully cancelled")
	assert.Contains(t, out.String(), "Do you approve")
}

func TestChatLoopDenyWithReason(t *testing.T) {
	svc := &scriptedService{}
	var out bytes.Buffer
	in := strings.NewReader("cancel my booking\nno, move it to friday instead\n")

	require.NoError(t, newChatLoop(in, &out, svc, memPhoneBook{"s1": "01012345678"}, "s1").run(context.Background()))

	require.Len(t, svc.decisions, 1)
	assert.Equal(t, hitl.ActionDeny, svc.decisions[0].Action)
	assert.Equal(t, "no, move it to friday instead", svc.decisions[0].Reason)
}

func TestChatLoopQuitAtPhonePrompt(t *testing.T) {
	svc := &scriptedService{}
	var out bytes.Buffer

	require.NoError(t, newChatLoop(strings.NewReader("q\n"), &out, svc, nil, "s1").run(context.Background()))
	assert.Empty(t, svc.messages)
}

func TestChatLoopReportsErrors(t *testing.T) {
	var out bytes.Buffer
	loop := newChatLoop(strings.NewReader(""), &out, &scriptedService{}, nil, "s1")

	assert.True(t, loop.resolvePending(context.Background(), orchestrator.Result{}))

	loop = newChatLoop(strings.NewReader("y\n"), &out, &scriptedService{}, nil, "s1")
	assert.True(t, loop.resolvePending(context.Background(), orchestrator.Result{HasPendingDecision: true}))
	assert.Contains(t, out.String(), "error: "+hitl.ErrNoPendingDecision.Error())
}

func TestChatLoopTruncatesToolResultOnRuneBoundary(t *testing.T) {
	var out bytes.Buffer
	loop := newChatLoop(strings.NewReader(""), &out, &scriptedService{}, nil, "s1")

	loop.printTurn(statex.Turn{Role: statex.RoleToolResult, ToolName: "ListServices", Content: strings.Repeat("가", maxResultChars+100)})

	line := out.String()
	assert.True(t, utf8.ValidString(line))
	assert.Equal(t, "  <- ListServices: "+strings.Repeat("가", maxResultChars)+"...\n", line)

	out.Reset()
	loop.printTurn(statex.Turn{Role: statex.RoleToolResult, ToolName: "ListServices", Content: "목욕 30000원"})
	assert.Equal(t, "  <- ListServices: 목욕 30000원\n", out.String())
}
