package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

// Route classifies the conversation. Any failure, including a label outside
// the closed set, yields DestinationTerminate together with the cause.
func Route(ctx context.Context, classifier contractx.Classifier, history []statex.Turn) (contractx.Destination, error) {
	if classifier == nil {
		return contractx.DestinationTerminate, fmt.Errorf("%w: router classifier is nil", contractx.ErrModelInvoke)
	}
	dest, err := classifier.Classify(ctx, history)
	if err != nil {
		return contractx.DestinationTerminate, err
	}
	if !dest.Valid() {
		return contractx.DestinationTerminate, fmt.Errorf("%w: destination=%q", contractx.ErrSchemaViolation, dest)
	}
	return dest, nil
}

// NewRouter records the chosen assistant on the state. On terminate it clears
// the active assistant and appends a closing turn.
func NewRouter(models contractx.Registry, env Env) graphx.NodeFunc {
	return func(ctx context.Context, st *statex.SessionState) error {
		var classifier contractx.Classifier
		if models != nil {
			classifier = models.Router()
		}

		dest, err := Route(ctx, classifier, st.History)
		logger := log.With().Str("session_id", st.SessionID).Str("node", Router).Logger()
		if err != nil {
			logger.Warn().Err(err).Msg("router failed open to terminate")
		} else {
			logger.Debug().Str("destination", string(dest)).Msg("routed")
		}

		if dest == contractx.DestinationTerminate {
			st.ActiveAssistant = ""
			content := ClosingMessage
			if err != nil {
				content = RouterFailureMessage
			}
			st.Append(statex.Turn{ID: env.id(), Role: statex.RoleAssistant, Content: content, CreatedAt: env.now()})
			return nil
		}

		st.ActiveAssistant = string(dest)
		return nil
	}
}

func RouterBranch() *graphx.Branch {
	return graphx.NewBranch(func(ctx context.Context, st *statex.SessionState) (string, error) {
		switch st.ActiveAssistant {
		case ReservationAssistant, RetrievalAssistant:
			return st.ActiveAssistant, nil
		default:
			return graphx.END, nil
		}
	}, map[string]bool{ReservationAssistant: true, RetrievalAssistant: true, graphx.END: true})
}
