package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

// ToolErrorMessage is the content of a tool_result turn for a failed call.
func ToolErrorMessage(msg string) string {
	return fmt.Sprintf("Error: %s\n please fix your mistakes.", msg)
}

// NewSafeTools executes a pending safe call without any decision.
func NewSafeTools(tools contractx.ToolGateway, env Env) graphx.NodeFunc {
	return func(ctx context.Context, st *statex.SessionState) error {
		call := st.PendingToolCall
		if call == nil {
			return fmt.Errorf("%w: no pending tool call", contractx.ErrValidation)
		}
		if call.Classification != statex.ClassificationSafe {
			return fmt.Errorf("%w: call_id=%s is %s", contractx.ErrUnapprovedToolCall, call.ID, call.Classification)
		}
		execute(ctx, tools, env, st)
		return nil
	}
}

// NewSensitiveTools executes the pending call only when a continue decision
// was recorded for exactly that call id.
func NewSensitiveTools(tools contractx.ToolGateway, env Env) graphx.NodeFunc {
	return func(ctx context.Context, st *statex.SessionState) error {
		call := st.PendingToolCall
		if call == nil {
			return fmt.Errorf("%w: no pending tool call", contractx.ErrValidation)
		}
		if st.Approval == nil || st.Approval.CallID != call.ID {
			return fmt.Errorf("%w: call_id=%s", contractx.ErrUnapprovedToolCall, call.ID)
		}
		execute(ctx, tools, env, st)
		return nil
	}
}

// execute runs the pending call with its recorded arguments and always
// resolves it into a tool_result turn.
func execute(ctx context.Context, tools contractx.ToolGateway, env Env, st *statex.SessionState) {
	call := st.PendingToolCall
	logger := log.With().
		Str("session_id", st.SessionID).
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Logger()

	turn := statex.Turn{
		ID:         env.id(),
		Role:       statex.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	var (
		res contractx.ToolResult
		err error
	)
	if tools == nil {
		err = fmt.Errorf("%w: tool gateway is nil", contractx.ErrToolUnavailable)
	} else {
		res, err = tools.Execute(ctx, contractx.AgentType(st.ActiveAssistant), contractx.ToolRequest{
			Tool:        call.Name,
			CallID:      call.ID,
			Args:        call.Clone().Args,
			UserContext: st.UserContext,
		})
	}

	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("tool execution failed")
		turn.Content = ToolErrorMessage(err.Error())
		turn.IsError = true
	case res.Error != "":
		logger.Warn().Str("error", res.Error).Msg("tool returned error")
		turn.Content = ToolErrorMessage(res.Error)
		turn.IsError = true
	default:
		turn.Content = formatResult(res.Result)
		logger.Debug().Msg("tool executed")
	}

	turn.CreatedAt = env.now()
	st.Append(turn)
	st.ClearPending()
}

func formatResult(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// ToolsBranch hands control back to the assistant that proposed the call.
func ToolsBranch() *graphx.Branch {
	return graphx.NewBranch(func(ctx context.Context, st *statex.SessionState) (string, error) {
		switch st.ActiveAssistant {
		case ReservationAssistant, RetrievalAssistant:
			return st.ActiveAssistant, nil
		default:
			return "", fmt.Errorf("%w: active assistant %q", contractx.ErrValidation, st.ActiveAssistant)
		}
	}, map[string]bool{ReservationAssistant: true, RetrievalAssistant: true})
}
