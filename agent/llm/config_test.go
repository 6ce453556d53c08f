package llm

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

func TestOpenRouterForAppliesOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BaseURL:                "https://openrouter.ai/api/v1",
		APIKey:                 " key ",
		Model:                  "openai/gpt-4o-mini",
		MaxCompletionToken:     1000,
		Temperature:            0.5,
		RouterModel:            "openai/gpt-4.1-nano",
		RouterTemperature:      0,
		ReservationTemperature: -1,
		RetrievalModel:         "anthropic/claude-3.5-haiku",
		RetrievalTemperature:   0.2,
	}

	router := cfg.OpenRouterFor(contractx.AgentTypeRouter)
	if router.Model != "openai/gpt-4.1-nano" || router.Temperature != 0 {
		t.Fatalf("router config = %+v", router)
	}
	reservation := cfg.OpenRouterFor(contractx.AgentTypeReservation)
	if reservation.Model != "openai/gpt-4o-mini" || reservation.Temperature != 0.5 {
		t.Fatalf("reservation config = %+v", reservation)
	}
	retrieval := cfg.OpenRouterFor(contractx.AgentTypeRetrieval)
	if retrieval.Model != "anthropic/claude-3.5-haiku" || retrieval.Temperature != 0.2 {
		t.Fatalf("retrieval config = %+v", retrieval)
	}
	if retrieval.APIKey != "key" || retrieval.MaxCompletionToken == nil || *retrieval.MaxCompletionToken != 1000 {
		t.Fatalf("shared fields not copied: %+v", retrieval)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{Model: "m"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("missing api key error = %v", err)
	}
	if err := (Config{APIKey: "k"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("missing model error = %v", err)
	}
	if err := (Config{APIKey: "k", Model: "m"}).Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}
