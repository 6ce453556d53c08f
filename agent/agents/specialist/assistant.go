package specialist

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

type assistantImpl struct {
	agentType contractx.AgentType
	runner    compose.Runnable[contractx.RespondRequest, contractx.RespondResponse]
}

func newAssistant(
	ctx context.Context,
	agentType contractx.AgentType,
	chatModel einomodel.ToolCallingChatModel,
	tools []*schema.ToolInfo,
	systemPrompt string,
) (*assistantImpl, error) {
	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for assistant=%s: %v", contractx.ErrModelInvoke, agentType, err)
	}
	runner, err := compileAssistantGraph(ctx, agentType, toolModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile assistant graph: %v", contractx.ErrModelInvoke, err)
	}
	return &assistantImpl{agentType: agentType, runner: runner}, nil
}

// Respond returns the raw model decision. Empty output is reported as such so
// the caller can apply its corrective policy.
func (a *assistantImpl) Respond(ctx context.Context, req contractx.RespondRequest) (contractx.RespondResponse, error) {
	out, err := a.runner.Invoke(ctx, req)
	if err != nil {
		return contractx.RespondResponse{}, fmt.Errorf("%w: assistant=%s invoke: %v", contractx.ErrModelInvoke, a.agentType, err)
	}
	return out, nil
}
