// Package audit owns the fire-and-forget event collaborator boundary.
//
// Ownership boundary:
// - connection, transfer and generic application events
// - non-blocking emission: the core never awaits the sink and never
//   propagates its failures
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind tags one audit event category.
type Kind string

const (
	KindConnection Kind = "connection"
	KindTransfer   Kind = "transfer"
	KindOperation  Kind = "operation"
)

// Event is one audit record. Fields are populated per kind; zero values
// are omitted from the emitted log line.
type Event struct {
	Kind              Kind
	SessionID         string
	Server            string
	Username          string
	Protocol          string
	RequestedProtocol string
	File              string
	Bytes             int64
	Success           bool
	Detail            string
	At                time.Time
}

// Sink consumes audit events. Implementations must never block the caller.
type Sink interface {
	Emit(Event)
}

// LogSink is a buffered zerolog-backed sink. Emission is non-blocking:
// when the buffer is full the event is dropped and a drop counter bumped.
type LogSink struct {
	logger zerolog.Logger
	events chan Event

	mu      sync.Mutex
	dropped uint64
	closed  bool
	done    chan struct{}
}

func NewLogSink(logger zerolog.Logger, buffer int) *LogSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &LogSink{
		logger: logger.With().Str("component", "audit").Logger(),
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit enqueues one event, dropping it when the buffer is full. The
// buffered send happens under the mutex so a concurrent Close cannot
// close the channel mid-send.
func (s *LogSink) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped++
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *LogSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the drain goroutine after flushing buffered events.
func (s *LogSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.events)
	<-s.done
}

func (s *LogSink) drain() {
	defer close(s.done)
	for event := range s.events {
		s.write(event)
	}
}

func (s *LogSink) write(event Event) {
	evt := s.logger.Info()
	if !event.Success && event.Kind != KindOperation {
		evt = s.logger.Warn()
	}
	evt = evt.
		Str("kind", string(event.Kind)).
		Bool("success", event.Success).
		Time("at", event.At)
	if event.SessionID != "" {
		evt = evt.Str("session_id", event.SessionID)
	}
	if event.Server != "" {
		evt = evt.Str("server", event.Server)
	}
	if event.Username != "" {
		evt = evt.Str("username", event.Username)
	}
	if event.Protocol != "" {
		evt = evt.Str("protocol", event.Protocol)
	}
	if event.RequestedProtocol != "" {
		evt = evt.Str("requested_protocol", event.RequestedProtocol)
	}
	if event.File != "" {
		evt = evt.Str("file", event.File)
	}
	if event.Bytes > 0 {
		evt = evt.Int64("bytes", event.Bytes)
	}
	if event.Detail != "" {
		evt = evt.Str("detail", event.Detail)
	}
	evt.Msg("audit_event")
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}
