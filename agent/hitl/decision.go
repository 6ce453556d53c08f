package hitl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoPendingDecision = errors.New("session is not awaiting a decision")
	ErrDecisionMismatch  = errors.New("decision does not match the pending tool call")
	ErrInvalidDecision   = errors.New("invalid decision")
)

type Action string

const (
	ActionContinue Action = "continue"
	ActionDeny     Action = "deny"
	// ActionTerminate is accepted from callers and treated as ActionDeny.
	ActionTerminate Action = "terminate"
)

// Decision is the external answer to a suspended sensitive call. CallID is
// optional; when set it must equal the checkpoint's call id.
type Decision struct {
	Action Action `json:"action"`
	CallID string `json:"call_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Normalize lower-cases the action, folds terminate into deny and trims the
// free-text fields.
func (d Decision) Normalize() (Decision, error) {
	out := Decision{
		Action: Action(strings.ToLower(strings.TrimSpace(string(d.Action)))),
		CallID: strings.TrimSpace(d.CallID),
		Reason: strings.TrimSpace(d.Reason),
	}
	switch out.Action {
	case ActionContinue, ActionDeny:
	case ActionTerminate:
		out.Action = ActionDeny
	default:
		return Decision{}, fmt.Errorf("%w: action=%q", ErrInvalidDecision, d.Action)
	}
	return out, nil
}

// FromAnswer maps a free-text confirmation answer: "y" approves, anything
// else denies with the answer as the reason.
func FromAnswer(answer string) Decision {
	answer = strings.TrimSpace(answer)
	if strings.EqualFold(answer, "y") {
		return Decision{Action: ActionContinue}
	}
	return Decision{Action: ActionDeny, Reason: answer}
}
