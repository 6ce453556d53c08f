// Package server is the HTTP front-end of the orchestrator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/grooming-reservation-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	"github.com/tanpawarit/grooming-reservation-agent/agent/hitl"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
	qstashx "github.com/tanpawarit/grooming-reservation-agent/pkg/qstash"
)

const defaultMaxBodyBytes = 1 << 20

// Config is loaded with the SERVER prefix.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
	// CallbackURL is the public URL QStash signs decision callbacks for.
	CallbackURL  string `envconfig:"CALLBACK_URL" split_words:"true"`
	MaxBodyBytes int64  `envconfig:"MAX_BODY_BYTES" split_words:"true" default:"1048576"`
}

// Service is the part of the orchestrator the handlers use.
type Service interface {
	HandleMessage(ctx context.Context, req orchestrator.MessageRequest) (orchestrator.Result, error)
	Decide(ctx context.Context, sessionID string, decision hitl.Decision, onTurn orchestrator.TurnHandler) (orchestrator.Result, error)
	Status(ctx context.Context, sessionID string) (*statex.SessionState, error)
	Sessions(ctx context.Context) ([]string, error)
	Reset(ctx context.Context, sessionID string) error
}

// SignatureVerifier checks a signed callback body.
type SignatureVerifier interface {
	CanVerify() bool
	Verify(signature string, body []byte, url string) error
}

type messageRequest struct {
	Text        string            `json:"text"`
	UserContext map[string]string `json:"user_context,omitempty"`
}

type callbackRequest struct {
	SessionID string `json:"session_id"`
	hitl.Decision
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	svc      Service
	verifier SignatureVerifier
	metrics  http.Handler
	cfg      Config
}

type Option func(*Handler)

func WithVerifier(v SignatureVerifier) Option {
	return func(h *Handler) {
		h.verifier = v
	}
}

func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func NewHandler(svc Service, cfg Config, opts ...Option) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &Handler{svc: svc, cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(accessLog)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", h.sessions)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.status)
			r.Delete("/", h.reset)
			r.Post("/messages", h.message)
			r.Post("/decision", h.decision)
		})
		r.Post("/callbacks/decision", h.callback)
	})
	return r
}

func (h *Handler) message(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.svc.HandleMessage(r.Context(), orchestrator.MessageRequest{
		SessionID:   chi.URLParam(r, "sessionID"),
		Text:        body.Text,
		UserContext: body.UserContext,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) decision(w http.ResponseWriter, r *http.Request) {
	var d hitl.Decision
	if !h.decode(w, r, &d) {
		return
	}
	h.decide(w, r, chi.URLParam(r, "sessionID"), d)
}

// callback accepts a decision delivered by QStash. The body is verified
// against the Upstash-Signature header before it is parsed.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil || !h.verifier.CanVerify() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "decision callbacks are not enabled"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	if err := h.verifier.Verify(r.Header.Get(qstashx.SignatureHeader), raw, h.callbackURL(r)); err != nil {
		log.Warn().Err(err).Msg("rejected decision callback")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var body callbackRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	h.decide(w, r, body.SessionID, body.Decision)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, sessionID string, d hitl.Decision) {
	res, err := h.svc.Decide(r.Context(), sessionID, d, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.Sessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) callbackURL(r *http.Request) string {
	if u := strings.TrimSpace(h.cfg.CallbackURL); u != "" {
		return u
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, orchestrator.ErrInvalidMessage),
		errors.Is(err, statex.ErrInvalidSession),
		errors.Is(err, hitl.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, statex.ErrStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, statex.ErrListUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, orchestrator.ErrDecisionPending),
		errors.Is(err, hitl.ErrDecisionMismatch),
		errors.Is(err, hitl.ErrNoPendingDecision):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError && code != http.StatusNotImplemented {
		log.Error().Err(err).
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// Serve runs srv until ctx is cancelled, then shuts it down within the
// configured timeout.
func Serve(ctx context.Context, handler http.Handler, cfg Config) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return <-errCh
}
