package specialist

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

const historyKey = "history"

// conversationTemplate is the system prompt followed by the whole history.
// The system prompt may reference {user_info} and {time}.
func conversationTemplate(systemPrompt string) einoprompt.ChatTemplate {
	return einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(historyKey, false),
	)
}

func compileRouterGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[[]statex.Turn, routerLLMOutput], error) {
	graph := compose.NewGraph[[]statex.Turn, routerLLMOutput]()

	if err := graph.AddLambdaNode("prepare",
		compose.InvokableLambda(func(ctx context.Context, history []statex.Turn) (map[string]any, error) {
			msgs, err := toSchemaMessages(history)
			if err != nil {
				return nil, err
			}
			return map[string]any{historyKey: msgs}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add router prepare node: %w", err)
	}

	if err := addStructuredNodes[routerLLMOutput](graph, chatModel, systemPrompt, "prepare"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(compose.START, "prepare"); err != nil {
		return nil, fmt.Errorf("add router edge start->prepare: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("router.classify_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile router graph: %w", err)
	}
	return runner, nil
}

// addStructuredNodes appends prompt -> model -> parse_json after from and ends
// the graph at the parser.
func addStructuredNodes[T any](
	graph *compose.Graph[[]statex.Turn, T],
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	from string,
) error {
	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	if err := graph.AddChatTemplateNode("prompt", conversationTemplate(systemPrompt)); err != nil {
		return fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(from, "prompt"); err != nil {
		return fmt.Errorf("add structured edge %s->prompt: %w", from, err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return fmt.Errorf("add structured edge parse->end: %w", err)
	}
	return nil
}

func compileAssistantGraph(
	ctx context.Context,
	agentType contractx.AgentType,
	toolModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[contractx.RespondRequest, contractx.RespondResponse], error) {
	graph := compose.NewGraph[contractx.RespondRequest, contractx.RespondResponse]()

	if err := graph.AddLambdaNode("prepare",
		compose.InvokableLambda(func(ctx context.Context, req contractx.RespondRequest) (map[string]any, error) {
			msgs, err := toSchemaMessages(req.History)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				historyKey:  msgs,
				"user_info": formatUserInfo(req.UserContext),
				"time":      req.Now.Format("2006-01-02 15:04 (Monday)"),
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add assistant prepare node: %w", err)
	}
	if err := graph.AddChatTemplateNode("prompt", conversationTemplate(systemPrompt)); err != nil {
		return nil, fmt.Errorf("add assistant prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", toolModel); err != nil {
		return nil, fmt.Errorf("add assistant model node: %w", err)
	}
	if err := graph.AddLambdaNode("to_response",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (contractx.RespondResponse, error) {
			if msg == nil {
				return contractx.RespondResponse{}, fmt.Errorf("%w: %s returned no message", contractx.ErrSchemaViolation, agentType)
			}
			calls, err := toToolCalls(msg.ToolCalls)
			if err != nil {
				return contractx.RespondResponse{}, err
			}
			return contractx.RespondResponse{Text: msg.Content, ToolCalls: calls}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add assistant response node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prepare"},
		{"prepare", "prompt"},
		{"prompt", "model"},
		{"model", "to_response"},
		{"to_response", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add assistant edge %s->%s: %w", e[0], e[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(fmt.Sprintf("%s.respond_graph", agentType)))
	if err != nil {
		return nil, fmt.Errorf("compile assistant graph: %w", err)
	}
	return runner, nil
}
