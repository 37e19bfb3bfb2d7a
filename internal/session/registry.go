package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xferlab/xferbridge/internal/audit"
	"github.com/xferlab/xferbridge/internal/protocol"
)

var (
	// ErrSessionExpired covers both never-issued and evicted session ids.
	// Callers must treat it as terminal and never recreate a session
	// implicitly.
	ErrSessionExpired   = errors.New("session: expired or unknown session")
	ErrOperationTimeout = errors.New("session: operation timeout")
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultIdleExpiry    = 30 * time.Minute
)

// Config tunes registry lifecycle behavior.
type Config struct {
	SweepInterval time.Duration
	IdleExpiry    time.Duration
	OpTimeout     time.Duration
	QueueDepth    int
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.IdleExpiry <= 0 {
		c.IdleExpiry = DefaultIdleExpiry
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	return c
}

// Registry is the process-wide session table. The map is guarded with an
// explicit mutex; across distinct sessions operations proceed fully
// independently, this map is the only shared mutable structure.
type Registry struct {
	cfg  Config
	sink audit.Sink

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	swept    chan struct{}
}

// NewRegistry builds the registry and starts the periodic idle sweep.
func NewRegistry(cfg Config, sink audit.Sink) *Registry {
	if sink == nil {
		sink = audit.NopSink{}
	}
	r := &Registry{
		cfg:      cfg.withDefaults(),
		sink:     sink,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		swept:    make(chan struct{}),
	}
	go r.sweeper()
	return r
}

// CreateSpec carries session construction inputs. No credentials: the
// client handle is already authenticated.
type CreateSpec struct {
	Protocol protocol.Protocol
	Client   protocol.Client
	Server   string
	Username string
	Timeout  time.Duration
	IsAdmin  bool
}

// Create registers a new session around an established client handle and
// subscribes to the handle's lifecycle signals: any backend error/close
// evicts the session with a best-effort handle close.
func (r *Registry) Create(spec CreateSpec) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Protocol:     spec.Protocol,
		Client:       spec.Client,
		Server:       spec.Server,
		Username:     spec.Username,
		IsAdmin:      spec.IsAdmin,
		Timeout:      spec.Timeout,
		createdAt:    now,
		lastActivity: now,
		queue:        newOpQueue(r.cfg.QueueDepth),
	}
	s.queue.start(s, func(err error) {
		r.sink.Emit(audit.Event{
			Kind:      audit.KindOperation,
			SessionID: s.ID,
			Server:    s.Server,
			Username:  s.Username,
			Protocol:  string(s.Protocol),
			Detail:    err.Error(),
		})
	})
	spec.Client.SetCloseHandler(func(err error) {
		reason := "backend connection closed"
		if err != nil {
			reason = err.Error()
		}
		go r.evict(s.ID, reason)
	})

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Info().
		Str("session_id", s.ID).
		Str("protocol", string(s.Protocol)).
		Str("server", s.Server).
		Str("username", s.Username).
		Msg("session_created")
	return s
}

// Lookup returns the session or a definite ErrSessionExpired. It never
// blocks and never recreates.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Run submits op to the session's queue and waits for its outcome.
// timeout <= 0 falls through to the session timeout, then the global
// default.
func (r *Registry) Run(id string, timeout time.Duration, op Op) error {
	s, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if timeout <= 0 && s.Timeout <= 0 {
		timeout = r.cfg.OpTimeout
	}
	return s.queue.run(op, timeout)
}

// Disconnect evicts a session; idempotent when it is already gone.
func (r *Registry) Disconnect(id string) bool {
	return r.evict(id, "explicit disconnect")
}

// Sweep evicts every session idle beyond the expiry threshold; returns the
// eviction count.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if s.IdleFor(now) > r.cfg.IdleExpiry {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.evict(id, "idle expiry")
	}
	return len(expired)
}

// DrainAll synchronously closes every live session; invoked on process
// shutdown before exit.
func (r *Registry) DrainAll() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.swept
	})

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.evict(id, "process shutdown")
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) evict(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.queue.stop()
	if err := s.Client.Close(); err != nil {
		log.Debug().Str("session_id", id).Err(err).Msg("session_close_error")
	}
	log.Info().
		Str("session_id", id).
		Str("reason", reason).
		Msg("session_evicted")
	return true
}

func (r *Registry) sweeper() {
	defer close(r.swept)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				log.Info().Int("evicted", n).Msg("session_sweep")
			}
		}
	}
}
