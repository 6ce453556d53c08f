package contract

import (
	"time"

	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

type AgentType string

const (
	AgentTypeRouter      AgentType = "router"
	AgentTypeReservation AgentType = "reservation_assistant"
	AgentTypeRetrieval   AgentType = "retrieval_assistant"
)

// Assistants lists the agent types that own a tool set.
var Assistants = []AgentType{AgentTypeReservation, AgentTypeRetrieval}

type Destination string

const (
	DestinationReservation Destination = Destination(AgentTypeReservation)
	DestinationRetrieval   Destination = Destination(AgentTypeRetrieval)
	DestinationTerminate   Destination = "terminate"
)

func (d Destination) Valid() bool {
	switch d {
	case DestinationReservation, DestinationRetrieval, DestinationTerminate:
		return true
	default:
		return false
	}
}

// UserContextPhoneNumber is the verified contact identifier every tool may read.
const UserContextPhoneNumber = "phone_number"

type RespondRequest struct {
	History     []statex.Turn     `json:"history"`
	UserContext map[string]string `json:"user_context,omitempty"`
	Now         time.Time         `json:"now"`
}

type RespondResponse struct {
	Text      string            `json:"text,omitempty"`
	ToolCalls []statex.ToolCall `json:"tool_calls,omitempty"`
}

type ToolRequest struct {
	Tool        string            `json:"tool"`
	CallID      string            `json:"call_id"`
	Args        map[string]any    `json:"args,omitempty"`
	UserContext map[string]string `json:"user_context,omitempty"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	CallID string `json:"call_id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Reservation struct {
	ID              string  `json:"reservation_uuid"`
	PhoneNumber     string  `json:"phone_number,omitempty"`
	PetID           string  `json:"pet_id,omitempty"`
	PetName         string  `json:"pet_name,omitempty"`
	ServiceName     string  `json:"service_name"`
	Weight          float64 `json:"weight,omitempty"`
	ReservationDate string  `json:"reservation_date"`
	Price           int     `json:"price"`
	Status          string  `json:"status"`
}

type ServiceMatch struct {
	ServiceName string  `json:"service_name"`
	Breed       string  `json:"breed,omitempty"`
	WeightRange int     `json:"weight_range,omitempty"`
	Price       int     `json:"price"`
	Description string  `json:"description,omitempty"`
	Distance    float64 `json:"distance"`
}

type PendingDecision struct {
	SessionID   string         `json:"session_id"`
	CallID      string         `json:"call_id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Assistant   string         `json:"assistant"`
	RequestedAt time.Time      `json:"requested_at"`
}
