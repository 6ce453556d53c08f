package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

type routerImpl struct {
	runner compose.Runnable[[]statex.Turn, routerLLMOutput]
}

type routerLLMOutput struct {
	Destination string `json:"destination"`
	Reason      string `json:"reason,omitempty"`
}

func newRouter(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*routerImpl, error) {
	runner, err := compileRouterGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile router graph: %v", contractx.ErrModelInvoke, err)
	}
	return &routerImpl{runner: runner}, nil
}

func (r *routerImpl) Classify(ctx context.Context, history []statex.Turn) (contractx.Destination, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("%w: history is empty", contractx.ErrValidation)
	}

	out, err := r.runner.Invoke(ctx, history)
	if err != nil {
		return "", fmt.Errorf("%w: router invoke: %v", contractx.ErrModelInvoke, err)
	}

	dest := contractx.Destination(strings.ToLower(strings.TrimSpace(out.Destination)))
	if !dest.Valid() {
		return "", fmt.Errorf("%w: unsupported destination=%q", contractx.ErrSchemaViolation, out.Destination)
	}
	return dest, nil
}
