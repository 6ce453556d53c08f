package specialist

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

// toSchemaMessages renders the session history in the provider's chat format.
// Tool proposals become assistant tool calls and tool results are correlated
// back to them by call id.
func toSchemaMessages(history []statex.Turn) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(history))
	for _, t := range history {
		switch t.Role {
		case statex.RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case statex.RoleAssistant:
			if t.ToolCall == nil {
				msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
				continue
			}
			args, err := json.Marshal(t.ToolCall.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal args of call_id=%s: %v", contractx.ErrValidation, t.ToolCall.ID, err)
			}
			msgs = append(msgs, schema.AssistantMessage(t.Content, []schema.ToolCall{{
				ID:   t.ToolCall.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      t.ToolCall.Name,
					Arguments: string(args),
				},
			}}))
		case statex.RoleToolResult:
			msgs = append(msgs, schema.ToolMessage(t.Content, t.ToolCallID))
		default:
			return nil, fmt.Errorf("%w: unknown turn role %q", contractx.ErrValidation, t.Role)
		}
	}
	return msgs, nil
}

func toToolCalls(calls []schema.ToolCall) ([]statex.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]statex.ToolCall, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}

		out = append(out, statex.ToolCall{
			ID:   strings.TrimSpace(call.ID),
			Name: name,
			Args: args,
		})
	}
	return out, nil
}

// formatUserInfo lists the resolved user context one key per line.
func formatUserInfo(userContext map[string]string) string {
	if len(userContext) == 0 {
		return "unknown"
	}
	keys := make([]string, 0, len(userContext))
	for k := range userContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(userContext[k])
	}
	return b.String()
}
