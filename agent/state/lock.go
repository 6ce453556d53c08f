package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrLockAcquire = errors.New("failed to acquire session lock")

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker provides mutual exclusion across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// SessionLocker serialises invocations per session id. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type SessionLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry

	distributed Locker
	ttl         time.Duration
}

type SessionLockerOption func(*SessionLocker)

func WithDistributedLocker(l Locker) SessionLockerOption {
	return func(m *SessionLocker) {
		m.distributed = l
	}
}

func WithLockTTL(ttl time.Duration) SessionLockerOption {
	return func(m *SessionLocker) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func NewSessionLocker(opts ...SessionLockerOption) *SessionLocker {
	m := &SessionLocker{
		entries: make(map[string]*lockEntry),
		ttl:     30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *SessionLocker) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if !ok {
		entry = &lockEntry{}
		m.entries[sessionID] = entry
	}
	entry.refs++
	return entry
}

func (m *SessionLocker) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.entries, sessionID)
	}
}

// WithLock runs fn while holding the session's lock.
func (m *SessionLocker) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}

	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.distributed != nil {
		unlock, err := m.distributed.Lock(ctx, sessionID, m.ttl)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockAcquire, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("release distributed lock failed; it will expire via ttl")
			}
		}()
	}

	return fn(ctx)
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release. While held, the lease is extended every third of its TTL so an
// invocation that outlives the TTL keeps the lock.
type RedisLocker struct {
	client     *backend.Client
	prefix     string
	poll       time.Duration
	renewEvery time.Duration // zero means ttl/3
}

var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultStoreKeyPrefix
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		poll:   100 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis acquire lock: %w", err)
		}
		if ok {
			stop := l.keepAlive(lockKey, token, ttl)
			return func(ctx context.Context) error {
				stop()
				return unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// keepAlive extends the lease until the returned stop func is called or the
// lock is found to belong to someone else. stop waits for the renewer to exit.
func (l *RedisLocker) keepAlive(lockKey, token string, ttl time.Duration) (stop func()) {
	every := l.renewEvery
	if every <= 0 {
		every = ttl / 3
	}
	if every <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			renewed, err := renewScript.Run(context.Background(), l.client, []string{lockKey}, token, ttl.Milliseconds()).Int()
			if err != nil {
				log.Warn().Err(err).Str("lock", lockKey).Msg("renew session lock failed")
				continue
			}
			if renewed == 0 {
				log.Error().Str("lock", lockKey).Msg("session lock lost before release")
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}
