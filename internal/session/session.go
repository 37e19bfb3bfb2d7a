package session

import (
	"sync"
	"time"

	"github.com/xferlab/xferbridge/internal/protocol"
)

// Session binds a generated id to one live backend connection and its
// serialization queue. Exactly one backend client handle per session;
// credentials are never stored past the initial connect.
type Session struct {
	ID       string
	Protocol protocol.Protocol
	Client   protocol.Client
	Server   string
	Username string
	IsAdmin  bool

	// Timeout bounds each queued operation for this session. Zero means
	// the registry's global default applies.
	Timeout time.Duration

	createdAt time.Time

	mu           sync.Mutex
	lastActivity time.Time

	queue *opQueue
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Touch bumps lastActivity; called by the queue worker for every
// operation.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleFor reports how long the session has been without queued activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}
