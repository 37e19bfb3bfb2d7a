package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/xferlab/xferbridge/internal/protocol"
)

// DefaultOpTimeout is the global fallback when neither the call site nor
// the session specifies an operation deadline.
const DefaultOpTimeout = 120 * time.Second

// Op is one unit of backend work executed under the session's queue.
type Op func(c protocol.Client) error

// opQueue serializes backend commands for one session: a single worker
// goroutine consumes a FIFO task channel. The backend command channels are
// not safe for concurrent pipelining; interleaved commands on one
// connection corrupt response attribution.
type opQueue struct {
	tasks chan *queuedOp
	quit  chan struct{}

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup

	done chan struct{}
}

type queuedOp struct {
	op      Op
	timeout time.Duration
	result  chan error
}

func newOpQueue(depth int) *opQueue {
	if depth <= 0 {
		depth = 64
	}
	return &opQueue{
		tasks: make(chan *queuedOp, depth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// start launches the worker. onFailure is the best-effort failure
// notification hook; it must not block.
func (q *opQueue) start(s *Session, onFailure func(error)) {
	go q.worker(s, onFailure)
}

// run appends one unit of work and waits for its real outcome. A failed
// operation is swallowed for queue-continuation purposes only; the caller
// always observes the true error.
func (q *opQueue) run(op Op, timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSessionExpired
	}
	q.submitters.Add(1)
	q.mu.Unlock()
	defer q.submitters.Done()

	t := &queuedOp{op: op, timeout: timeout, result: make(chan error, 1)}
	select {
	case q.tasks <- t:
	case <-q.quit:
		return ErrSessionExpired
	}
	return <-t.result
}

// stop shuts the worker down. Pending and concurrently-submitted tasks are
// failed with ErrSessionExpired rather than executed.
func (q *opQueue) stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.quit)
	<-q.done
}

func (q *opQueue) worker(s *Session, onFailure func(error)) {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			q.failPending()
			return
		case t := <-q.tasks:
			// shutdown wins over a task that raced the quit signal
			select {
			case <-q.quit:
				t.result <- ErrSessionExpired
				continue
			default:
			}
			s.Touch()
			err := q.execute(s, t)
			if err != nil && onFailure != nil {
				onFailure(err)
			}
			t.result <- err
		}
	}
}

// execute races the operation against its timeout. On timeout the
// operation goroutine is abandoned, since queued backend commands have
// no fine-grained cancellation, and the worker continues serving later
// operations.
func (q *opQueue) execute(s *Session, t *queuedOp) error {
	timeout := t.timeout
	if timeout <= 0 {
		timeout = s.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}

	errc := make(chan error, 1)
	go func() {
		errc <- t.op(s.Client)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrOperationTimeout, timeout)
	}
}

// failPending drains everything queued or still arriving during
// shutdown. Submitters are awaited concurrently with the drain: a
// submitter whose task is already queued is itself blocked on that
// task's result, so waiting before draining would never return. Once
// every submitter has left, one final sweep empties the channel.
func (q *opQueue) failPending() {
	waited := make(chan struct{})
	go func() {
		q.submitters.Wait()
		close(waited)
	}()
	for {
		select {
		case t := <-q.tasks:
			t.result <- ErrSessionExpired
		case <-waited:
			for {
				select {
				case t := <-q.tasks:
					t.result <- ErrSessionExpired
				default:
					return
				}
			}
		}
	}
}
