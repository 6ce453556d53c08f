package specialist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	promptx "github.com/tanpawarit/grooming-reservation-agent/agent/prompt"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
	return f, nil
}

type fakeToolSet map[contractx.AgentType][]*schema.ToolInfo

func (f fakeToolSet) Infos(agentType contractx.AgentType) []*schema.ToolInfo {
	return f[agentType]
}

func userTurn(text string) statex.Turn {
	return statex.Turn{Role: statex.RoleUser, Content: text}
}

func TestRouterClassifySuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		{Role: schema.Assistant, Content: `{"destination":" Reservation_Assistant ","reason":"wants to cancel"}`},
	}}
	router, err := newRouter(context.Background(), fake, "route the customer")
	if err != nil {
		t.Fatalf("newRouter() error = %v", err)
	}

	dest, err := router.Classify(context.Background(), []statex.Turn{userTurn("cancel my booking please")})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if dest != contractx.DestinationReservation {
		t.Fatalf("destination = %q, want %q", dest, contractx.DestinationReservation)
	}

	if len(fake.inputs) != 1 || len(fake.inputs[0]) != 2 {
		t.Fatalf("unexpected model input: %#v", fake.inputs)
	}
	if fake.inputs[0][0].Role != schema.System || fake.inputs[0][1].Content != "cancel my booking please" {
		t.Fatalf("prompt not rendered as system + history: %#v", fake.inputs[0])
	}
}

func TestRouterClassifyRejectsUnknownLabel(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		{Role: schema.Assistant, Content: `{"destination":"billing_assistant"}`},
	}}
	router, err := newRouter(context.Background(), fake, "route the customer")
	if err != nil {
		t.Fatalf("newRouter() error = %v", err)
	}

	_, err = router.Classify(context.Background(), []statex.Turn{userTurn("hello")})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestRouterClassifyErrors(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{err: errors.New("upstream 503")}
	router, err := newRouter(context.Background(), fake, "route the customer")
	if err != nil {
		t.Fatalf("newRouter() error = %v", err)
	}

	if _, err := router.Classify(context.Background(), nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("empty history error = %v", err)
	}
	if _, err := router.Classify(context.Background(), []statex.Turn{userTurn("hi")}); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("model failure error = %v", err)
	}
}

func TestAssistantRespondMapsToolCall(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:   "call_42",
				Type: "function",
				Function: schema.FunctionCall{
					Name:      "CancelReservation",
					Arguments: `{"reservation_uuid":"7d0c0a3e-1f3b-4c52-9a53-2f6f5b1d9e01"}`,
				},
			}},
		},
	}}
	infos := []*schema.ToolInfo{{Name: "CancelReservation"}}
	assistant, err := newAssistant(context.Background(), contractx.AgentTypeReservation, fake, infos, "you help with {user_info} at {time}")
	if err != nil {
		t.Fatalf("newAssistant() error = %v", err)
	}
	if len(fake.tools) != 1 || fake.tools[0].Name != "CancelReservation" {
		t.Fatalf("tools not bound: %#v", fake.tools)
	}

	out, err := assistant.Respond(context.Background(), contractx.RespondRequest{
		History:     []statex.Turn{userTurn("cancel it")},
		UserContext: map[string]string{contractx.UserContextPhoneNumber: "01012345678"},
		Now:         time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %#v", out.ToolCalls)
	}
	call := out.ToolCalls[0]
	if call.ID != "call_42" || call.Name != "CancelReservation" {
		t.Fatalf("unexpected call: %#v", call)
	}
	if call.Args["reservation_uuid"] != "7d0c0a3e-1f3b-4c52-9a53-2f6f5b1d9e01" {
		t.Fatalf("unexpected args: %#v", call.Args)
	}

	system := fake.inputs[0][0].Content
	if !strings.Contains(system, "phone_number: 01012345678") || !strings.Contains(system, "2025-03-01 09:30 (Saturday)") {
		t.Fatalf("system prompt not formatted: %q", system)
	}
}

func TestAssistantRespondRejectsMalformedArgs(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call_1",
				Function: schema.FunctionCall{Name: "CalculatePrice", Arguments: `{"expression":`},
			}},
		},
	}}
	assistant, err := newAssistant(context.Background(), contractx.AgentTypeRetrieval, fake, nil, "menu helper {user_info} {time}")
	if err != nil {
		t.Fatalf("newAssistant() error = %v", err)
	}

	_, err = assistant.Respond(context.Background(), contractx.RespondRequest{History: []statex.Turn{userTurn("price?")}})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke wrap, got %v", err)
	}
}

func TestToSchemaMessagesCorrelatesToolResults(t *testing.T) {
	t.Parallel()

	history := []statex.Turn{
		userTurn("move my booking to friday"),
		{
			Role: statex.RoleAssistant,
			ToolCall: &statex.ToolCall{
				ID:   "call_7",
				Name: "UpdateReservationDate",
				Args: map[string]any{"new_date": "2025-03-07"},
			},
		},
		{Role: statex.RoleToolResult, Content: "reservation successfully updated", ToolCallID: "call_7"},
		{Role: statex.RoleAssistant, Content: "Done, see you on Friday."},
	}

	msgs, err := toSchemaMessages(history)
	if err != nil {
		t.Fatalf("toSchemaMessages() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[1].Role != schema.Assistant || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("tool proposal not mapped: %#v", msgs[1])
	}
	if msgs[1].ToolCalls[0].Function.Arguments != `{"new_date":"2025-03-07"}` {
		t.Fatalf("unexpected arguments: %s", msgs[1].ToolCalls[0].Function.Arguments)
	}
	if msgs[2].Role != schema.Tool || msgs[2].ToolCallID != "call_7" {
		t.Fatalf("tool result not correlated: %#v", msgs[2])
	}
	if msgs[3].Content != "Done, see you on Friday." {
		t.Fatalf("unexpected final message: %#v", msgs[3])
	}

	if _, err := toSchemaMessages([]statex.Turn{{Role: "system", Content: "x"}}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("unknown role error = %v", err)
	}
}

func TestFormatUserInfo(t *testing.T) {
	t.Parallel()

	if got := formatUserInfo(nil); got != "unknown" {
		t.Fatalf("formatUserInfo(nil) = %q", got)
	}
	got := formatUserInfo(map[string]string{"phone_number": "01012345678", "name": "Mina"})
	if got != "name: Mina\nphone_number: 01012345678" {
		t.Fatalf("formatUserInfo() = %q", got)
	}
}

func TestNewRegistryWiresRouterAndAssistants(t *testing.T) {
	t.Parallel()

	models := map[contractx.AgentType]einomodel.ToolCallingChatModel{
		contractx.AgentTypeRouter:      &fakeToolCallingModel{},
		contractx.AgentTypeReservation: &fakeToolCallingModel{},
		contractx.AgentTypeRetrieval:   &fakeToolCallingModel{},
	}
	tools := fakeToolSet{
		contractx.AgentTypeReservation: {{Name: "CancelReservation"}},
		contractx.AgentTypeRetrieval:   {{Name: "SearchServiceMenu"}},
	}

	reg, err := newRegistry(context.Background(), models, promptx.LoadPromptSet(), tools)
	if err != nil {
		t.Fatalf("newRegistry() error = %v", err)
	}
	if reg.Router() == nil {
		t.Fatal("router is nil")
	}
	for _, agentType := range contractx.Assistants {
		if _, ok := reg.Assistant(agentType); !ok {
			t.Fatalf("assistant %s missing", agentType)
		}
	}
	if _, ok := reg.Assistant(contractx.AgentTypeRouter); ok {
		t.Fatal("router must not be registered as an assistant")
	}

	retrievalModel := models[contractx.AgentTypeRetrieval].(*fakeToolCallingModel)
	if len(retrievalModel.tools) != 1 || retrievalModel.tools[0].Name != "SearchServiceMenu" {
		t.Fatalf("retrieval tools = %#v", retrievalModel.tools)
	}
}

func TestNewRegistryRequiresEveryModel(t *testing.T) {
	t.Parallel()

	models := map[contractx.AgentType]einomodel.ToolCallingChatModel{
		contractx.AgentTypeRouter: &fakeToolCallingModel{},
	}
	_, err := newRegistry(context.Background(), models, promptx.LoadPromptSet(), fakeToolSet{})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}

	_, err = newRegistry(context.Background(), models, promptx.LoadPromptSet(), nil)
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil tools, got %v", err)
	}
}
