package contract

import (
	"context"

	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

// Classifier picks the destination for the latest user turn.
type Classifier interface {
	Classify(ctx context.Context, history []statex.Turn) (Destination, error)
}

// Responder produces either a final text or a proposed tool call.
type Responder interface {
	Respond(ctx context.Context, req RespondRequest) (RespondResponse, error)
}

type Registry interface {
	Router() Classifier
	Assistant(agentType AgentType) (Responder, bool)
}

// ToolPolicy is the static classification of every tool per assistant.
type ToolPolicy interface {
	Classify(agentType AgentType, tool string) (statex.Classification, bool)
}

type ToolGateway interface {
	Execute(ctx context.Context, agentType AgentType, req ToolRequest) (ToolResult, error)
}

type ReservationBackend interface {
	ListByPhone(ctx context.Context, phoneNumber string) ([]Reservation, error)
	UpdateDate(ctx context.Context, reservationID string, date string) error
	Cancel(ctx context.Context, reservationID string) error
	Create(ctx context.Context, r Reservation) (Reservation, error)
}

type ServiceIndex interface {
	Search(ctx context.Context, query string, limit int) ([]ServiceMatch, error)
}

// ChatLog records transcript turns outside the checkpoint store.
type ChatLog interface {
	Append(ctx context.Context, sessionID string, turns []statex.Turn) error
}

// DecisionNotifier is told whenever a session starts waiting on a human.
type DecisionNotifier interface {
	NotifyPendingDecision(ctx context.Context, notice PendingDecision) error
}
