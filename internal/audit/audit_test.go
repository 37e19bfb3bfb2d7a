package audit

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLogSinkEmitAndFlush(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	sink := NewLogSink(logger, 8)

	sink.Emit(Event{
		Kind:      KindConnection,
		SessionID: "s-1",
		Server:    "ftp.example.com",
		Username:  "alice",
		Protocol:  "ftp",
		Success:   true,
	})
	sink.Close()

	out := buf.String()
	if !strings.Contains(out, `"kind":"connection"`) {
		t.Fatalf("missing kind in output: %s", out)
	}
	if !strings.Contains(out, `"session_id":"s-1"`) {
		t.Fatalf("missing session id in output: %s", out)
	}
}

func TestLogSinkNeverBlocksWhenFull(t *testing.T) {
	// A sink with a tiny buffer and no reader must drop, not block.
	var buf bytes.Buffer
	sink := &LogSink{
		logger: zerolog.New(&buf),
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	// No drain goroutine running: the second emit must hit the default
	// branch immediately.
	start := time.Now()
	sink.Emit(Event{Kind: KindTransfer})
	sink.Emit(Event{Kind: KindTransfer})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("emit blocked on a full buffer")
	}
	if sink.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", sink.Dropped())
	}
}

func TestLogSinkEmitAfterCloseIsNoop(t *testing.T) {
	sink := NewLogSink(zerolog.Nop(), 4)
	sink.Close()
	sink.Emit(Event{Kind: KindOperation}) // must not panic
}

func TestLogSinkConcurrentEmitAndClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		sink := NewLogSink(zerolog.New(io.Discard), 4)
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					sink.Emit(Event{Kind: KindOperation, Detail: "hammer"})
				}
			}()
		}
		sink.Close()
		wg.Wait()
	}
}
