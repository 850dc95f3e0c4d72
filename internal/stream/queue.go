package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"aurora-guest-monitor/internal/model"
)

var (
	ErrQueueFull       = errors.New("stream send queue full")
	ErrPublisherClosed = errors.New("stream publisher closed")
)

const defaultQueueSize = 1024

// frameQueue decouples publishers from the network. One goroutine drains it
// in order; offer never blocks, so a stalled backend costs dropped frames
// instead of stalled monitors.
type frameQueue struct {
	frames  chan model.GuestFrame
	send    func(model.GuestFrame)
	done    chan struct{}
	drops   atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func newFrameQueue(size int, send func(model.GuestFrame)) *frameQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &frameQueue{
		frames: make(chan model.GuestFrame, size),
		send:   send,
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *frameQueue) loop() {
	defer close(q.done)
	for f := range q.frames {
		q.send(f)
	}
}

func (q *frameQueue) offer(ctx context.Context, f model.GuestFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrPublisherClosed
	}
	select {
	case q.frames <- f:
		return nil
	default:
		q.drops.Add(1)
		return ErrQueueFull
	}
}

// close stops intake and waits for the sender to drain what is queued. When
// ctx ends first, abort is called and close waits for the sender to exit.
func (q *frameQueue) close(ctx context.Context, abort func()) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		abort()
		<-q.done
		return ctx.Err()
	}
}
