package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/grooming-reservation-agent/agent/agents/orchestrator"
	"github.com/tanpawarit/grooming-reservation-agent/agent/agents/specialist"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	"github.com/tanpawarit/grooming-reservation-agent/agent/history"
	llmx "github.com/tanpawarit/grooming-reservation-agent/agent/llm"
	"github.com/tanpawarit/grooming-reservation-agent/agent/menu"
	"github.com/tanpawarit/grooming-reservation-agent/agent/reservation"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
	toolx "github.com/tanpawarit/grooming-reservation-agent/agent/tool"
	configx "github.com/tanpawarit/grooming-reservation-agent/pkg/config"
	metricsx "github.com/tanpawarit/grooming-reservation-agent/pkg/metrics"
	openrouterx "github.com/tanpawarit/grooming-reservation-agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/grooming-reservation-agent/pkg/qstash"
)

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	orchestrator *orchestrator.Orchestrator
	history      *history.Store
	metrics      *metricsx.Recorder
	qstash       *qstashx.Client

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close resource")
		}
	}
}

func openHistory() (*history.Store, error) {
	cfg, err := configx.New[history.Config]("HISTORY")
	if err != nil {
		return nil, err
	}
	return history.Open(*cfg)
}

func bootstrap(ctx context.Context) (_ *app, err error) {
	a := &app{metrics: metricsx.New()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	stateCfg, err := configx.New[statex.Config]("STATE")
	if err != nil {
		return nil, err
	}
	backends, err := statex.NewStoreFromConfig(*stateCfg)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	a.closers = append(a.closers, backends.Close)
	locker := statex.NewSessionLocker(
		statex.WithDistributedLocker(backends.Locker),
		statex.WithLockTTL(stateCfg.LockTTL),
	)

	resCfg, err := configx.New[reservation.Config]("RESERVATION")
	if err != nil {
		return nil, err
	}
	reservations, err := reservation.Open(*resCfg)
	if err != nil {
		return nil, fmt.Errorf("reservation backend: %w", err)
	}
	a.closers = append(a.closers, reservations.Close)

	menuIndex, err := a.openMenu(reservations)
	if err != nil {
		return nil, err
	}

	policy, err := toolx.DefaultPolicy()
	if err != nil {
		return nil, err
	}
	catalog, err := toolx.NewCatalog(policy, toolx.Dependencies{
		Reservations: reservations,
		Menu:         menuIndex,
	}, toolx.WithObserver(func(agentType contractx.AgentType, tool string, err error) {
		a.metrics.ToolCalled(string(agentType), tool, err)
	}))
	if err != nil {
		return nil, err
	}

	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		return nil, err
	}
	registry, err := specialist.NewRegistry(ctx, *llmCfg, catalog)
	if err != nil {
		return nil, err
	}

	a.history, err = openHistory()
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	a.closers = append(a.closers, a.history.Close)

	opts := []orchestrator.Option{
		orchestrator.WithLocker(locker),
		orchestrator.WithChatLog(a.history),
		orchestrator.WithMetrics(a.metrics),
	}

	qstashCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, err
	}
	a.qstash, err = qstashx.NewClient(*qstashCfg)
	if err != nil {
		return nil, fmt.Errorf("qstash: %w", err)
	}
	if a.qstash.CanPublish() {
		opts = append(opts, orchestrator.WithNotifier(qstashx.NewNotifier(a.qstash)))
	}

	agentCfg, err := configx.New[orchestrator.Config]("AGENT")
	if err != nil {
		return nil, err
	}
	opts = append(opts, orchestrator.WithConfig(*agentCfg))

	a.orchestrator, err = orchestrator.New(backends.Store, registry, catalog, policy, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openMenu builds the service-menu index. Without an embedding key the
// search tool reports itself unavailable instead of failing startup.
func (a *app) openMenu(reservations *reservation.Backend) (contractx.ServiceIndex, error) {
	cfg, err := configx.New[menu.Config]("MENU")
	if err != nil {
		return nil, err
	}
	client := openrouterx.NewClient(openrouterx.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Timeout: cfg.Timeout,
	})
	if client == nil {
		log.Warn().Msg("MENU_EMBEDDING_API_KEY is not set; service menu search is disabled")
		return nil, nil
	}
	embedder, err := menu.NewOpenAIEmbedder(client, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	db := reservations.DB()
	if cfg.DSN != "" {
		own, err := reservation.Open(reservation.Config{DSN: cfg.DSN, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("menu database: %w", err)
		}
		a.closers = append(a.closers, own.Close)
		db = own.DB()
	}
	return menu.NewPgVectorIndex(db, embedder, *cfg)
}
