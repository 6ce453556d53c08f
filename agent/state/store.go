package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrListUnsupported = errors.New("session store cannot list sessions")
)

const (
	defaultStoreKeyPrefix = "grooming:session:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// Store is the persistence contract used by the orchestrator. A saved state
// carries its own checkpoint marker, so one record per session id is enough
// to resume from any process.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

// Lister is implemented by stores that can enumerate live session ids.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ListSessions returns the live session ids of store, sorted.
func ListSessions(ctx context.Context, store Store) ([]string, error) {
	l, ok := store.(Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	ids, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

const (
	DriverMemory  = "memory"
	DriverRedis   = "redis"
	DriverUpstash = "upstash"
)

// Config selects and configures the checkpoint store.
type Config struct {
	Driver    string        `envconfig:"DRIVER" default:"memory"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" split_words:"true" default:"grooming:session:"`
	TTL       time.Duration `envconfig:"TTL" default:"24h"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" split_words:"true" default:"30s"`

	RedisAddr     string `envconfig:"REDIS_ADDR" split_words:"true" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" split_words:"true"`
	RedisDB       int    `envconfig:"REDIS_DB" split_words:"true" default:"0"`

	UpstashURL     string        `envconfig:"UPSTASH_URL" split_words:"true"`
	UpstashToken   string        `envconfig:"UPSTASH_TOKEN" split_words:"true"`
	UpstashTimeout time.Duration `envconfig:"UPSTASH_TIMEOUT" split_words:"true" default:"10s"`
}

// Backends bundles what NewStoreFromConfig built. Locker is nil unless the
// driver supports distributed locking.
type Backends struct {
	Store  Store
	Locker Locker
	Close  func() error
}

func NewStoreFromConfig(cfg Config) (*Backends, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return &Backends{
			Store: NewMemoryStore(),
			Close: func() error { return nil },
		}, nil
	case DriverRedis:
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return &Backends{
			Store:  NewRedisStore(client, WithRedisPrefix(cfg.KeyPrefix), WithRedisTTL(cfg.TTL)),
			Locker: NewRedisLocker(client, cfg.KeyPrefix),
			Close:  client.Close,
		}, nil
	case DriverUpstash:
		store, err := NewUpstashRedisStore(
			UpstashRedisConfig{URL: cfg.UpstashURL, Token: cfg.UpstashToken, Timeout: cfg.UpstashTimeout},
			WithKeyPrefix(cfg.KeyPrefix),
			WithTTL(cfg.TTL),
		)
		if err != nil {
			return nil, err
		}
		return &Backends{
			Store: store,
			Close: func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported state store driver %q", cfg.Driver)
	}
}

// prepareForSave normalises bookkeeping fields shared by every store.
func prepareForSave(st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return ErrInvalidSession
	}
	if st.Version <= 0 {
		st.Version = 1
	}
	if st.Status == "" {
		st.Status = StatusRunning
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	} else {
		st.UpdatedAt = st.UpdatedAt.UTC()
	}
	return st.Validate()
}

// Redis-backed stores keep a sorted set of session ids scored by the unix
// time their key expires, so List can drop ids whose keys are gone.

// noExpiryScore scores sessions saved without a TTL (2100-01-01).
const noExpiryScore = 4102444800

func sessionIndexKey(prefix string) string {
	return prefix + "index"
}

func indexScore(now time.Time, ttl time.Duration) float64 {
	if ttl == 0 {
		return noExpiryScore
	}
	return float64(now.Add(ttl).Unix())
}

// expiredBound is the exclusive ZREMRANGEBYSCORE max for entries expired at now.
func expiredBound(now time.Time) string {
	return "(" + strconv.FormatInt(now.Unix(), 10)
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
