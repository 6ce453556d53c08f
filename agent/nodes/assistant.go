package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

const DefaultMaxCorrections = 2

type AssistantConfig struct {
	Agent  contractx.AgentType
	Models contractx.Registry
	Policy contractx.ToolPolicy
	Env    Env
	// MaxCorrections bounds re-invocations after a degenerate output.
	MaxCorrections int
}

// NewAssistant invokes the domain capability and records either a final text
// turn or exactly one proposed tool call, classified by the policy.
func NewAssistant(cfg AssistantConfig) graphx.NodeFunc {
	if cfg.MaxCorrections <= 0 {
		cfg.MaxCorrections = DefaultMaxCorrections
	}
	return func(ctx context.Context, st *statex.SessionState) error {
		if st == nil {
			return fmt.Errorf("%w: nil state", contractx.ErrValidation)
		}
		if st.PendingToolCall != nil {
			return fmt.Errorf("%w: call_id=%s", statex.ErrPendingToolCall, st.PendingToolCall.ID)
		}
		st.ActiveAssistant = string(cfg.Agent)
		logger := log.With().Str("session_id", st.SessionID).Str("node", string(cfg.Agent)).Logger()

		resp, err := respond(ctx, cfg, st)
		if err != nil {
			logger.Error().Err(err).Msg("assistant capability failed")
			st.Append(statex.Turn{
				ID:        cfg.Env.id(),
				Role:      statex.RoleAssistant,
				Content:   CapabilityFailure,
				IsError:   true,
				CreatedAt: cfg.Env.now(),
			})
			return nil
		}

		text := strings.TrimSpace(resp.Text)
		if len(resp.ToolCalls) == 0 {
			if text == "" {
				logger.Warn().Int("max_corrections", cfg.MaxCorrections).Msg("assistant output stayed empty")
				text = EmptyOutputMessage
			}
			st.Append(statex.Turn{ID: cfg.Env.id(), Role: statex.RoleAssistant, Content: text, CreatedAt: cfg.Env.now()})
			return nil
		}

		if len(resp.ToolCalls) > 1 {
			logger.Debug().Int("tool_calls", len(resp.ToolCalls)).Msg("keeping first tool call only")
		}
		call := resp.ToolCalls[0].Clone()
		if strings.TrimSpace(call.ID) == "" {
			call.ID = "call_" + cfg.Env.id()
		}
		call.Classification = classify(cfg, call.Name)

		st.Append(statex.Turn{
			ID:        cfg.Env.id(),
			Role:      statex.RoleAssistant,
			Content:   text,
			ToolCall:  &call,
			CreatedAt: cfg.Env.now(),
		})
		if err := st.SetPending(call); err != nil {
			return err
		}
		logger.Info().
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Str("classification", string(call.Classification)).
			Msg("tool call proposed")
		return nil
	}
}

// respond re-invokes the capability with a corrective instruction while the
// output is empty. The instruction is not written to the session history.
func respond(ctx context.Context, cfg AssistantConfig, st *statex.SessionState) (contractx.RespondResponse, error) {
	if cfg.Models == nil {
		return contractx.RespondResponse{}, fmt.Errorf("%w: registry is nil", contractx.ErrModelInvoke)
	}
	responder, ok := cfg.Models.Assistant(cfg.Agent)
	if !ok || responder == nil {
		return contractx.RespondResponse{}, fmt.Errorf("%w: assistant %s is not registered", contractx.ErrModelInvoke, cfg.Agent)
	}

	history := st.History
	var resp contractx.RespondResponse
	for attempt := 0; attempt <= cfg.MaxCorrections; attempt++ {
		var err error
		resp, err = responder.Respond(ctx, contractx.RespondRequest{
			History:     history,
			UserContext: st.UserContext,
			Now:         cfg.Env.now(),
		})
		if err != nil {
			return contractx.RespondResponse{}, err
		}
		if len(resp.ToolCalls) > 0 || strings.TrimSpace(resp.Text) != "" {
			return resp, nil
		}
		history = append(history[:len(history):len(history)], statex.Turn{
			ID:        cfg.Env.id(),
			Role:      statex.RoleUser,
			Content:   CorrectiveInstruction,
			CreatedAt: cfg.Env.now(),
		})
	}
	return resp, nil
}

// classify fails closed: a tool the policy does not know needs approval.
func classify(cfg AssistantConfig, tool string) statex.Classification {
	if cfg.Policy == nil {
		return statex.ClassificationSensitive
	}
	c, ok := cfg.Policy.Classify(cfg.Agent, tool)
	if !ok || !c.Valid() {
		return statex.ClassificationSensitive
	}
	return c
}

// AssistantBranch routes a proposed call to its executor, or ends the
// invocation when the assistant produced a final answer.
func AssistantBranch() *graphx.Branch {
	return graphx.NewBranch(func(ctx context.Context, st *statex.SessionState) (string, error) {
		call := st.PendingToolCall
		if call == nil {
			return graphx.END, nil
		}
		switch call.Classification {
		case statex.ClassificationSafe:
			return SafeTools, nil
		case statex.ClassificationSensitive:
			return SensitiveTools, nil
		default:
			return "", fmt.Errorf("%w: call_id=%s classification=%q", contractx.ErrValidation, call.ID, call.Classification)
		}
	}, map[string]bool{SafeTools: true, SensitiveTools: true, graphx.END: true})
}
