package hub

import (
	"context"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/visioncore/visioncore/server/defs"
)

// Queue is one subscriber's bounded frame buffer.
// The ring evicts the oldest frame when full, so a slow consumer sees gaps
// instead of stalling the publisher. Frames come out in publish order.
type Queue struct {
	lock   sync.Mutex
	ring   ringbuffer.WeightedRingT[defs.Frame]
	closed bool
	wake   chan struct{} // capacity 1, poked on every push
}

func newQueue(maxFrames int) *Queue {
	return &Queue{
		ring: ringbuffer.NewWeightedRingT[defs.Frame](maxFrames),
		wake: make(chan struct{}, 1),
	}
}

// push is called by the hub, with the channel lock held.
// Returns false if the queue has been closed by its consumer, which tells the
// hub to drop this subscriber.
func (q *Queue) push(frame *defs.Frame) bool {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return false
	}
	// Every frame weighs 1, so MaxWeight is simply the frame bound.
	// The ring evicts from the front when full.
	q.ring.Add(1, frame)
	q.lock.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// TryNext pops the oldest buffered frame, or returns nil if the queue is empty.
func (q *Queue) TryNext() *defs.Frame {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.ring.Len() == 0 {
		return nil
	}
	_, frame, _ := q.ring.Next()
	return frame
}

// Next pops the oldest buffered frame, blocking until a frame arrives, the
// context is cancelled, or the queue is closed.
func (q *Queue) Next(ctx context.Context) (*defs.Frame, error) {
	for {
		q.lock.Lock()
		if q.ring.Len() != 0 {
			_, frame, _ := q.ring.Next()
			q.lock.Unlock()
			return frame, nil
		}
		closed := q.closed
		q.lock.Unlock()
		if closed {
			return nil, context.Canceled
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// NextTimeout is Next with a deadline instead of a context.
func (q *Queue) NextTimeout(timeout time.Duration) (*defs.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.Next(ctx)
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.ring.Len()
}

// Close tears the queue down. The hub removes a closed queue from its channel
// on the next publish. Closing twice is harmless.
func (q *Queue) Close() {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
