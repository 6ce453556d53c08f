// Package nodes holds the conversation graph nodes and the branch functions
// that connect them.
package nodes

import (
	"time"

	"github.com/google/uuid"
)

const (
	FetchUserInfo        = "fetch_user_info"
	Router               = "router"
	ReservationAssistant = "reservation_assistant"
	RetrievalAssistant   = "retrieval_assistant"
	SafeTools            = "safe_tools"
	SensitiveTools       = "sensitive_tools"
)

// Fixed texts surfaced to the user or fed back to the model.
const (
	CorrectiveInstruction = "Respond with a real output."
	InvalidPhoneMessage   = "I need a valid mobile phone number (for example 010-1234-5678) before I can help with your grooming reservations. Please share the number you booked with."
	ClosingMessage        = "Thank you for contacting us. Let me know whenever you need help with a grooming reservation."
	RouterFailureMessage  = "Sorry, I could not work out how to help with that. Could you rephrase your request?"
	CapabilityFailure     = "Sorry, something went wrong while handling your request. Please try again in a moment."
	EmptyOutputMessage    = "Sorry, I could not produce an answer for that. Could you rephrase your request?"
)

// Env supplies the clock and id source used when nodes create turns.
type Env struct {
	Now   func() time.Time
	NewID func() string
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e Env) id() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}
