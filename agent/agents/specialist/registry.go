package specialist

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	llmx "github.com/tanpawarit/grooming-reservation-agent/agent/llm"
	promptx "github.com/tanpawarit/grooming-reservation-agent/agent/prompt"
)

// ToolSet supplies the tool schemas bound to each assistant's model.
type ToolSet interface {
	Infos(agentType contractx.AgentType) []*schema.ToolInfo
}

type registryImpl struct {
	router     contractx.Classifier
	assistants map[contractx.AgentType]contractx.Responder
}

func (r *registryImpl) Router() contractx.Classifier {
	return r.router
}

func (r *registryImpl) Assistant(agentType contractx.AgentType) (contractx.Responder, bool) {
	a, ok := r.assistants[agentType]
	return a, ok
}

func NewRegistry(ctx context.Context, cfg llmx.Config, tools ToolSet) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models := make(map[contractx.AgentType]einomodel.ToolCallingChatModel, 3)
	for _, agentType := range append([]contractx.AgentType{contractx.AgentTypeRouter}, contractx.Assistants...) {
		modelCfg := cfg.OpenRouterFor(agentType)
		m, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, agentType, err)
		}
		models[agentType] = m
	}
	return newRegistry(ctx, models, promptx.LoadPromptSet(), tools)
}

func newRegistry(
	ctx context.Context,
	models map[contractx.AgentType]einomodel.ToolCallingChatModel,
	prompts promptx.PromptSet,
	tools ToolSet,
) (*registryImpl, error) {
	if tools == nil {
		return nil, fmt.Errorf("%w: tool set is nil", contractx.ErrValidation)
	}
	if err := prompts.Validate(); err != nil {
		return nil, err
	}

	routerModel, ok := models[contractx.AgentTypeRouter]
	if !ok || routerModel == nil {
		return nil, fmt.Errorf("%w: no model for %s", contractx.ErrModelInvoke, contractx.AgentTypeRouter)
	}
	router, err := newRouter(ctx, routerModel, prompts.Router)
	if err != nil {
		return nil, err
	}

	systemPrompts := map[contractx.AgentType]string{
		contractx.AgentTypeReservation: prompts.Reservation,
		contractx.AgentTypeRetrieval:   prompts.Retrieval,
	}
	assistants := make(map[contractx.AgentType]contractx.Responder, len(contractx.Assistants))
	for _, agentType := range contractx.Assistants {
		m, ok := models[agentType]
		if !ok || m == nil {
			return nil, fmt.Errorf("%w: no model for %s", contractx.ErrModelInvoke, agentType)
		}
		a, err := newAssistant(ctx, agentType, m, tools.Infos(agentType), systemPrompts[agentType])
		if err != nil {
			return nil, err
		}
		assistants[agentType] = a
	}

	return &registryImpl{router: router, assistants: assistants}, nil
}
