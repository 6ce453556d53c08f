// Package orchestrator is the session service around the conversation graph.
// Each call to HandleMessage or Decide is one invocation: load the session,
// run the graph until END or a suspension, persist, and return the new turns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	graphx "github.com/tanpawarit/grooming-reservation-agent/agent/graph"
	"github.com/tanpawarit/grooming-reservation-agent/agent/hitl"
	nodex "github.com/tanpawarit/grooming-reservation-agent/agent/nodes"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
	metricsx "github.com/tanpawarit/grooming-reservation-agent/pkg/metrics"
)

var (
	ErrInvalidMessage  = errors.New("message text is empty")
	ErrDecisionPending = errors.New("session is awaiting a decision")
)

// Config is loaded with the AGENT prefix.
type Config struct {
	MaxSteps       int `envconfig:"MAX_STEPS" split_words:"true" default:"25"`
	MaxCorrections int `envconfig:"MAX_CORRECTIONS" split_words:"true" default:"2"`
}

// TurnHandler receives every turn as soon as the node that produced it
// finishes.
type TurnHandler func(turn statex.Turn)

type MessageRequest struct {
	SessionID   string
	Text        string
	UserContext map[string]string
	OnTurn      TurnHandler
}

// Result describes one invocation. Turns holds only the turns appended by it.
type Result struct {
	SessionID          string                  `json:"session_id"`
	Turns              []statex.Turn           `json:"turns"`
	HasPendingDecision bool                    `json:"has_pending_decision"`
	Pending            *statex.ToolCall        `json:"pending,omitempty"`
	Status             statex.ControllerStatus `json:"status"`
}

type Orchestrator struct {
	store      statex.Store
	models     contractx.Registry
	tools      contractx.ToolGateway
	policy     contractx.ToolPolicy
	controller *hitl.Controller
	locker     *statex.SessionLocker

	chatLog  contractx.ChatLog
	notifier contractx.DecisionNotifier
	metrics  *metricsx.Recorder

	now            func() time.Time
	newID          func() string
	maxSteps       int
	maxCorrections int

	runner *graphx.Runnable
}

type Option func(*Orchestrator)

func WithLocker(l *statex.SessionLocker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

func WithChatLog(l contractx.ChatLog) Option {
	return func(o *Orchestrator) {
		o.chatLog = l
	}
}

func WithNotifier(n contractx.DecisionNotifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithMetrics(m *metricsx.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.MaxSteps > 0 {
			o.maxSteps = cfg.MaxSteps
		}
		if cfg.MaxCorrections > 0 {
			o.maxCorrections = cfg.MaxCorrections
		}
	}
}

func New(
	store statex.Store,
	models contractx.Registry,
	tools contractx.ToolGateway,
	policy contractx.ToolPolicy,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if models == nil {
		return nil, errors.New("model registry is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if policy == nil {
		return nil, errors.New("tool policy is required")
	}

	o := &Orchestrator{
		store:          store,
		models:         models,
		tools:          tools,
		policy:         policy,
		locker:         statex.NewSessionLocker(),
		now:            time.Now,
		newID:          uuid.NewString,
		maxSteps:       graphx.DefaultMaxSteps,
		maxCorrections: nodex.DefaultMaxCorrections,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.controller = hitl.NewController(hitl.WithClock(o.now), hitl.WithIDGenerator(o.newID))

	runner, err := o.compileConversationGraph()
	if err != nil {
		return nil, err
	}
	o.runner = runner
	return o, nil
}

// HandleMessage appends a user turn and runs the graph from its entry node.
// A session that is awaiting a decision rejects new messages untouched.
func (o *Orchestrator) HandleMessage(ctx context.Context, req MessageRequest) (Result, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return Result{}, statex.ErrInvalidSession
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, ErrInvalidMessage
	}

	var out Result
	err := o.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		st, err := o.loadOrCreate(ctx, sessionID)
		if err != nil {
			return err
		}
		if st.HasPendingDecision() {
			return fmt.Errorf("%w: session_id=%s call_id=%s", ErrDecisionPending, sessionID, st.Checkpoint.CallID)
		}

		start := len(st.History)
		st.MergeUserContext(req.UserContext)
		st.Append(statex.Turn{
			ID:        o.newID(),
			Role:      statex.RoleUser,
			Content:   text,
			CreatedAt: o.now().UTC(),
		})

		em := &emitter{st: st, next: start, fn: req.OnTurn}
		em.flush()
		res, runErr := o.runner.Run(ctx, st, graphx.WithNodeCallback(func(string, *statex.SessionState) { em.flush() }))

		out, err = o.finish(ctx, st, start, em, res, runErr)
		return err
	})
	return out, err
}

// Decide applies a human decision to a suspended session and resumes the
// graph at the node the controller selects. Mismatched or stale decisions
// leave the persisted session untouched.
func (o *Orchestrator) Decide(ctx context.Context, sessionID string, decision hitl.Decision, onTurn TurnHandler) (Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Result{}, statex.ErrInvalidSession
	}
	normalized, err := decision.Normalize()
	if err != nil {
		return Result{}, err
	}

	var out Result
	err = o.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		st, err := o.store.Load(ctx, sessionID)
		if err != nil {
			return err
		}

		start := len(st.History)
		resumeAt, err := o.controller.Apply(st, normalized)
		if err != nil {
			return err
		}
		o.metrics.Decided(string(normalized.Action))
		o.controller.Resumed(st)

		em := &emitter{st: st, next: start, fn: onTurn}
		em.flush()
		res, runErr := o.runner.Run(ctx, st,
			graphx.ResumeAt(resumeAt),
			graphx.WithNodeCallback(func(string, *statex.SessionState) { em.flush() }),
		)

		out, err = o.finish(ctx, st, start, em, res, runErr)
		return err
	})
	return out, err
}

// Status returns a snapshot of the whole session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*statex.SessionState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, statex.ErrInvalidSession
	}
	return o.store.Load(ctx, sessionID)
}

// Sessions lists the ids of every live checkpointed session.
func (o *Orchestrator) Sessions(ctx context.Context) ([]string, error) {
	return statex.ListSessions(ctx, o.store)
}

// Reset drops the checkpointed session. The chat history log is kept.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return statex.ErrInvalidSession
	}
	return o.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return o.store.Delete(ctx, sessionID)
	})
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID string) (*statex.SessionState, error) {
	st, err := o.store.Load(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, statex.ErrStateNotFound) {
		return statex.NewSessionState(sessionID, o.now()), nil
	}
	return nil, err
}

// finish suspends or recovers the session after a run, then persists it.
func (o *Orchestrator) finish(
	ctx context.Context,
	st *statex.SessionState,
	start int,
	em *emitter,
	res graphx.Result,
	runErr error,
) (Result, error) {
	logger := log.With().Str("session_id", st.SessionID).Strs("path", res.Path).Logger()

	switch {
	case runErr != nil:
		logger.Error().Err(runErr).Msg("graph invocation failed")
		o.recoverSession(st)
	case res.Interrupted:
		if _, err := o.controller.Suspend(st, res.NextNode); err != nil {
			logger.Error().Err(err).Msg("suspend failed")
			o.recoverSession(st)
		}
	}
	em.flush()

	st.Touch(o.now())
	if err := o.store.Save(context.WithoutCancel(ctx), st); err != nil {
		return Result{}, fmt.Errorf("save session: %w", err)
	}

	turns := make([]statex.Turn, 0, len(st.History)-start)
	for _, t := range st.History[start:] {
		turns = append(turns, t.Clone())
	}
	o.appendChatLog(ctx, st.SessionID, turns)
	if st.HasPendingDecision() {
		o.notify(ctx, st)
	}

	out := Result{
		SessionID:          st.SessionID,
		Turns:              turns,
		HasPendingDecision: st.HasPendingDecision(),
		Status:             st.Status,
	}
	if out.HasPendingDecision {
		c := st.PendingToolCall.Clone()
		out.Pending = &c
	}
	logger.Debug().Int("turns", len(turns)).Bool("pending_decision", out.HasPendingDecision).Msg("invocation finished")
	return out, nil
}

// recoverSession resolves a half-finished call so the session can keep talking and
// leaves a visible error turn.
func (o *Orchestrator) recoverSession(st *statex.SessionState) {
	now := o.now().UTC()
	if call := st.PendingToolCall; call != nil {
		st.Append(statex.Turn{
			ID:         o.newID(),
			Role:       statex.RoleToolResult,
			Content:    nodex.ToolErrorMessage("the call was not executed"),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			IsError:    true,
			CreatedAt:  now,
		})
	}
	st.ClearPending()
	st.Checkpoint = nil
	st.Status = statex.StatusRunning
	st.Append(statex.Turn{
		ID:        o.newID(),
		Role:      statex.RoleAssistant,
		Content:   nodex.CapabilityFailure,
		IsError:   true,
		CreatedAt: now,
	})
}

func (o *Orchestrator) appendChatLog(ctx context.Context, sessionID string, turns []statex.Turn) {
	if o.chatLog == nil || len(turns) == 0 {
		return
	}
	if err := o.chatLog.Append(ctx, sessionID, turns); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("append chat log failed")
	}
}

func (o *Orchestrator) notify(ctx context.Context, st *statex.SessionState) {
	if o.notifier == nil {
		return
	}
	call := st.PendingToolCall
	notice := contractx.PendingDecision{
		SessionID:   st.SessionID,
		CallID:      call.ID,
		Tool:        call.Name,
		Args:        call.Clone().Args,
		Assistant:   st.ActiveAssistant,
		RequestedAt: st.Checkpoint.CreatedAt,
	}
	if err := o.notifier.NotifyPendingDecision(ctx, notice); err != nil {
		log.Warn().Err(err).Str("session_id", st.SessionID).Str("call_id", call.ID).Msg("notify pending decision failed")
	}
}

// emitter forwards history turns to a TurnHandler exactly once each.
type emitter struct {
	st   *statex.SessionState
	next int
	fn   TurnHandler
}

func (e *emitter) flush() {
	for ; e.next < len(e.st.History); e.next++ {
		if e.fn != nil {
			e.fn(e.st.History[e.next].Clone())
		}
	}
}
