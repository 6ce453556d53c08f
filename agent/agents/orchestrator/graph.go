package orchestrator

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	nodex "github.com/tanpawarit/grooming-reservation-agent/agent/nodes"
	metricsx "github.com/tanpawarit/grooming-reservation-agent/pkg/metrics"
)

const graphName = "conversation"

// compileConversationGraph wires
//
//	START -> fetch_user_info -> router -> {reservation_assistant | retrieval_assistant | END}
//	assistant -> {safe_tools | sensitive_tools | END}
//	safe_tools | sensitive_tools -> originating assistant
//
// with an interrupt in front of sensitive_tools.
func (o *Orchestrator) compileConversationGraph() (*graphx.Runnable, error) {
	env := nodex.Env{Now: o.now, NewID: o.newID}
	tools := &timedGateway{next: o.tools, metrics: o.metrics}

	assistant := func(agentType contractx.AgentType) graphx.NodeFunc {
		return nodex.NewAssistant(nodex.AssistantConfig{
			Agent:          agentType,
			Models:         o.models,
			Policy:         o.policy,
			Env:            env,
			MaxCorrections: o.maxCorrections,
		})
	}

	g := graphx.New()
	nodes := []struct {
		name string
		fn   graphx.NodeFunc
	}{
		{nodex.FetchUserInfo, nodex.NewFetchUserInfo(env)},
		{nodex.Router, nodex.NewRouter(o.models, env)},
		{nodex.ReservationAssistant, assistant(contractx.AgentTypeReservation)},
		{nodex.RetrievalAssistant, assistant(contractx.AgentTypeRetrieval)},
		{nodex.SafeTools, nodex.NewSafeTools(tools, env)},
		{nodex.SensitiveTools, nodex.NewSensitiveTools(tools, env)},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.fn); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	if err := g.AddEdge(graphx.START, nodex.FetchUserInfo); err != nil {
		return nil, fmt.Errorf("add edge %s->%s: %w", graphx.START, nodex.FetchUserInfo, err)
	}

	branches := []struct {
		from   string
		branch *graphx.Branch
	}{
		{nodex.FetchUserInfo, nodex.UserInfoBranch()},
		{nodex.Router, nodex.RouterBranch()},
		{nodex.ReservationAssistant, nodex.AssistantBranch()},
		{nodex.RetrievalAssistant, nodex.AssistantBranch()},
		{nodex.SafeTools, nodex.ToolsBranch()},
		{nodex.SensitiveTools, nodex.ToolsBranch()},
	}
	for _, b := range branches {
		if err := g.AddBranch(b.from, b.branch); err != nil {
			return nil, fmt.Errorf("add branch from %s: %w", b.from, err)
		}
	}

	runner, err := g.Compile(
		graphx.WithGraphName(graphName),
		graphx.WithInterruptBefore(nodex.SensitiveTools),
		graphx.WithMaxSteps(o.maxSteps),
		graphx.WithHooks(graphx.Hooks{
			OnNodeEnd: func(_ context.Context, graph, node string, err error) {
				o.metrics.NodeVisited(graph, node, err)
			},
			OnInterrupt: func(_ context.Context, _, node string) {
				o.metrics.Interrupted(node)
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("compile conversation graph: %w", err)
	}
	return runner, nil
}

// timedGateway records how long each tool execution takes.
type timedGateway struct {
	next    contractx.ToolGateway
	metrics *metricsx.Recorder
}

func (g *timedGateway) Execute(ctx context.Context, agentType contractx.AgentType, req contractx.ToolRequest) (contractx.ToolResult, error) {
	start := time.Now()
	res, err := g.next.Execute(ctx, agentType, req)
	g.metrics.ObserveToolDuration(req.Tool, time.Since(start))
	return res, err
}
