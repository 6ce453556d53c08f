package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

const (
	ToolGetReservationsByPhone = "GetReservationsByPhone"
	ToolUpdateReservationDate  = "UpdateReservationDate"
	ToolCancelReservation      = "CancelReservation"
	ToolSearchServiceMenu      = "SearchServiceMenu"
	ToolEstimateWeightRange    = "EstimateWeightRange"
	ToolCalculatePrice         = "CalculatePrice"
	ToolCreateReservation      = "CreateReservation"
)

// Handler runs one tool. A returned error is reported to the model as the
// tool result, never as a failure of the conversation.
type Handler func(ctx context.Context, req contractx.ToolRequest) (any, error)

type Spec struct {
	Info    *schema.ToolInfo
	Handler Handler
}

type Dependencies struct {
	Reservations contractx.ReservationBackend
	Menu         contractx.ServiceIndex
	Now          func() time.Time
}

// Observer is notified after every execution.
type Observer func(agentType contractx.AgentType, tool string, err error)

type Catalog struct {
	policy   *Policy
	specs    map[contractx.AgentType]map[string]Spec
	observer Observer
}

type Option func(*Catalog)

func WithObserver(fn Observer) Option {
	return func(c *Catalog) {
		c.observer = fn
	}
}

// NewCatalog binds the tool implementations to the policy. Every classified
// tool must have an implementation and every implementation a classification.
func NewCatalog(policy *Policy, deps Dependencies, opts ...Option) (*Catalog, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: tool policy is nil", contractx.ErrValidation)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Catalog{
		policy: policy,
		specs: map[contractx.AgentType]map[string]Spec{
			contractx.AgentTypeReservation: reservationSpecs(deps),
			contractx.AgentTypeRetrieval:   retrievalSpecs(deps),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	for _, agent := range contractx.Assistants {
		names := policy.Tools(agent)
		if len(names) != len(c.specs[agent]) {
			return nil, fmt.Errorf("%w: %s has %d classified tools and %d implementations", contractx.ErrValidation, agent, len(names), len(c.specs[agent]))
		}
		for _, name := range names {
			if _, ok := c.specs[agent][name]; !ok {
				return nil, fmt.Errorf("%w: %s.%s is classified but not implemented", contractx.ErrValidation, agent, name)
			}
		}
	}
	return c, nil
}

func (c *Catalog) Policy() *Policy {
	return c.policy
}

// Infos returns the tool schemas bound to an assistant's model.
func (c *Catalog) Infos(agentType contractx.AgentType) []*schema.ToolInfo {
	names := c.policy.Tools(agentType)
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		out = append(out, c.specs[agentType][name].Info)
	}
	return out
}

func (c *Catalog) Execute(ctx context.Context, agentType contractx.AgentType, req contractx.ToolRequest) (contractx.ToolResult, error) {
	spec, ok := c.specs[agentType][req.Tool]
	if !ok {
		res, err := DefaultExecutor(agentType)(ctx, req)
		c.observe(agentType, req.Tool, fmt.Errorf("%w: %s", contractx.ErrToolUnavailable, req.Tool))
		return res, err
	}

	out, err := spec.Handler(ctx, req)
	c.observe(agentType, req.Tool, err)
	if err != nil {
		log.Debug().Err(err).Str("tool", req.Tool).Str("call_id", req.CallID).Msg("tool handler returned error")
		return contractx.ToolResult{Tool: req.Tool, CallID: req.CallID, Error: err.Error()}, nil
	}
	return contractx.ToolResult{Tool: req.Tool, CallID: req.CallID, Result: out}, nil
}

func (c *Catalog) observe(agentType contractx.AgentType, tool string, err error) {
	if c.observer != nil {
		c.observer(agentType, tool, err)
	}
}

// DefaultExecutor answers calls to tools that the assistant does not own.
func DefaultExecutor(agentType contractx.AgentType) func(context.Context, contractx.ToolRequest) (contractx.ToolResult, error) {
	return func(_ context.Context, req contractx.ToolRequest) (contractx.ToolResult, error) {
		return contractx.ToolResult{
			Tool:   req.Tool,
			CallID: req.CallID,
			Error:  fmt.Sprintf("tool=%s is unavailable for agent=%s", req.Tool, agentType),
		}, nil
	}
}
