package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
)

var _ core.Notifier = (*Async)(nil)

const defaultSendTimeout = 10 * time.Second

// Async queues messages for a background worker. Notify never returns an
// error: a full queue or a failed send is logged and counted.
type Async struct {
	next    core.Notifier
	queue   chan core.Message
	metrics core.Recorder
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts the worker. metrics may be nil.
func NewAsync(next core.Notifier, bufferSize int, metrics core.Recorder) *Async {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	a := &Async{
		next:    next,
		queue:   make(chan core.Message, bufferSize),
		metrics: metrics,
		timeout: defaultSendTimeout,
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

func (a *Async) Notify(_ context.Context, msg core.Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		log.Printf("[Notify] Dropping %s notification after shutdown", msg.Kind)
		a.record(msg.Kind, false)
		return nil
	}

	select {
	case a.queue <- msg:
	default:
		log.Printf("[Notify] Queue full, dropping %s notification", msg.Kind)
		a.record(msg.Kind, false)
	}
	return nil
}

func (a *Async) worker() {
	defer a.wg.Done()

	for msg := range a.queue {
		// Detached from the request that enqueued it
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Notify(ctx, msg)
		cancel()

		if err != nil {
			log.Printf("[Notify] Failed to send %s notification: %v", msg.Kind, err)
		}
		a.record(msg.Kind, err == nil)
	}
}

// Shutdown stops accepting messages and drains the queue until ctx is done
func (a *Async) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) record(kind core.NotificationKind, success bool) {
	if a.metrics != nil {
		a.metrics.RecordNotification(string(kind), success)
	}
}
