package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore is the RedisStore layout (JSON value per session plus the
// expiry index) spoken over the Upstash REST API, for deployments without a
// TCP route to Redis. Writes go through /multi-exec so the value and its index
// entry change together.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	prefix     string
	ttl        time.Duration
	now        func() time.Time
}

var _ Lister = (*UpstashRedisStore)(nil)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" required:"true"`
	Token   string        `envconfig:"TOKEN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// restReply is one command's reply. A transaction returns one per command.
type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid upstash redis url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		prefix:     defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return s, nil
}

func (s *UpstashRedisStore) key(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	return s.prefix + sessionID, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	key, err := s.key(sessionID)
	if err != nil {
		return nil, err
	}

	var reply restReply
	if err := s.post(ctx, "", []any{"GET", key}, &reply); err != nil {
		return nil, err
	}
	if err := reply.err(); err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(reply.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}
	// GET returns the stored document as a JSON string.
	var doc string
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}

	var st SessionState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from upstash: %w", err)
	}
	return &st, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *SessionState) error {
	if err := prepareForSave(st); err != nil {
		return err
	}
	key, err := s.key(st.SessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	set := []any{"SET", key, string(data)}
	if s.ttl > 0 {
		set = append(set, "EX", ttlSeconds(s.ttl))
	}
	zadd := []any{"ZADD", sessionIndexKey(s.prefix), indexScore(s.now(), s.ttl), st.SessionID}
	if err := s.transaction(ctx, set, zadd); err != nil {
		return fmt.Errorf("save session to upstash: %w", err)
	}
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.key(sessionID)
	if err != nil {
		return err
	}
	return s.transaction(ctx,
		[]any{"DEL", key},
		[]any{"ZREM", sessionIndexKey(s.prefix), sessionID},
	)
}

// List returns live session ids, pruning index entries whose TTL has passed.
func (s *UpstashRedisStore) List(ctx context.Context) ([]string, error) {
	index := sessionIndexKey(s.prefix)

	var pruned restReply
	if err := s.post(ctx, "", []any{"ZREMRANGEBYSCORE", index, "-inf", expiredBound(s.now())}, &pruned); err != nil {
		return nil, err
	}
	if err := pruned.err(); err != nil {
		return nil, fmt.Errorf("prune expired sessions: %w", err)
	}

	var reply restReply
	if err := s.post(ctx, "", []any{"ZRANGE", index, 0, -1}, &reply); err != nil {
		return nil, err
	}
	if err := reply.err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(reply.Result, &ids); err != nil {
		return nil, fmt.Errorf("decode session index: %w", err)
	}
	return ids, nil
}

func (s *UpstashRedisStore) transaction(ctx context.Context, commands ...[]any) error {
	var replies []restReply
	if err := s.post(ctx, "/multi-exec", commands, &replies); err != nil {
		return err
	}
	if len(replies) != len(commands) {
		return fmt.Errorf("upstash transaction returned %d replies for %d commands", len(replies), len(commands))
	}
	for _, r := range replies {
		if err := r.err(); err != nil {
			return err
		}
	}
	return nil
}

// post sends body to the REST endpoint at path and decodes the reply into out.
// Non-2xx replies surface the error message Upstash puts in the body.
func (s *UpstashRedisStore) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal redis command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build upstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstash request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read upstash response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var failure restReply
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return errors.New(failure.Error)
		}
		return fmt.Errorf("upstash http status=%d body=%s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode upstash response: %w", err)
	}
	return nil
}

func (r restReply) err() error {
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return nil
}
