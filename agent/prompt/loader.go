package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/reservation.txt
	reservationRaw string

	//go:embed template/retrieval.txt
	retrievalRaw string
)

// PromptSet holds loaded prompt content. Assistant prompts are FString
// templates over {user_info} and {time}.
type PromptSet struct {
	Router      string
	Reservation string
	Retrieval   string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:      strings.TrimSpace(routerRaw),
		Reservation: strings.TrimSpace(reservationRaw),
		Retrieval:   strings.TrimSpace(retrievalRaw),
	}
}

func (p PromptSet) Validate() error {
	for name, v := range map[string]string{
		"router":      p.Router,
		"reservation": p.Reservation,
		"retrieval":   p.Retrieval,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
		}
	}
	return nil
}
