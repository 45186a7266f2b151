// SPDX-License-Identifier: AGPL-3.0-only
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/jolks/persona-agent/internal/logging"
)

// Dispatcher queues notifications and delivers them from a single worker
// goroutine so tool handlers never wait on the network.
type Dispatcher struct {
	sender      Sender
	queue       chan string
	sendTimeout time.Duration
	logger      *logging.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewDispatcher starts a dispatcher with a queue of queueSize messages.
func NewDispatcher(sender Sender, queueSize int, sendTimeout time.Duration, logger *logging.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		sender:      sender,
		queue:       make(chan string, queueSize),
		sendTimeout: sendTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues text for delivery and returns immediately. It reports
// whether the message was accepted; a full queue or a closed dispatcher
// drops the message with a warning.
func (d *Dispatcher) Notify(text string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warnf("Notification dropped, dispatcher closed (%d bytes)", len(text))
		return false
	}

	select {
	case d.queue <- text:
		return true
	default:
		d.logger.Warnf("Notification dropped, queue full (%d bytes)", len(text))
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for text := range d.queue {
		d.deliver(text)
	}
}

func (d *Dispatcher) deliver(text string) {
	ctx := context.Background()
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := d.sender.Send(ctx, text); err != nil {
		d.logger.Errorf("Notification delivery failed after %s (%d bytes): %v", time.Since(start), len(text), err)
		return
	}
	d.logger.Debugf("Notification delivered in %s", time.Since(start))
}

// Close stops accepting messages and waits for queued ones to drain, or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
