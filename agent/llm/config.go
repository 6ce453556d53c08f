package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	openrouterx "github.com/tanpawarit/grooming-reservation-agent/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Per-agent overrides; empty model or negative temperature means default.
	RouterModel            string  `envconfig:"ROUTER_MODEL" split_words:"true"`
	ReservationModel       string  `envconfig:"RESERVATION_MODEL" split_words:"true"`
	RetrievalModel         string  `envconfig:"RETRIEVAL_MODEL" split_words:"true"`
	RouterTemperature      float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"0"`
	ReservationTemperature float32 `envconfig:"RESERVATION_TEMPERATURE" split_words:"true" default:"-1"`
	RetrievalTemperature   float32 `envconfig:"RETRIEVAL_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(model string, temperature float32) {
		if v := strings.TrimSpace(model); v != "" {
			modelName = v
		}
		if temperature >= 0 {
			temp = temperature
		}
	}
	switch agentType {
	case contractx.AgentTypeRouter:
		override(c.RouterModel, c.RouterTemperature)
	case contractx.AgentTypeReservation:
		override(c.ReservationModel, c.ReservationTemperature)
	case contractx.AgentTypeRetrieval:
		override(c.RetrievalModel, c.RetrievalTemperature)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
