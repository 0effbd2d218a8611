// Package hub is the process-wide frame bus. Frame producers (camera readers,
// agent tasks) publish into named channels, and consumers either subscribe with
// a small drop-oldest queue, or poll the latest frame at their own rate.
package hub

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/defs"
)

// Number of frames that a subscriber queue buffers before the oldest
// frame gets evicted. Live video wants low latency, not completeness.
const DefaultQueueSize = 3

// Hub manages per-channel frame fan-out.
// There is one Hub per process, created at startup and passed explicitly to
// everything that needs it. All methods are safe for concurrent use.
type Hub struct {
	log      logs.Log
	lock     sync.Mutex // Guards channels map
	channels map[string]*channel
}

// channel is the state for one named frame stream (a camera or an agent output).
// Channels are created on first publish or first subscribe, and live for the
// remainder of the process.
type channel struct {
	lock        sync.Mutex
	name        string
	latest      *defs.Frame
	lastPublish time.Time
	subs        []*Queue
}

func NewHub(log logs.Log) *Hub {
	return &Hub{
		log:      log,
		channels: map[string]*channel{},
	}
}

// Publish stores frame as the channel's latest, and offers it to every
// subscriber queue. Publish never blocks and never fails: a full subscriber
// queue drops its oldest frame, and a queue that has been torn down by its
// consumer is removed from the channel.
func (h *Hub) Publish(channelName string, frame *defs.Frame) {
	ch := h.getChannel(channelName)
	ch.lock.Lock()
	defer ch.lock.Unlock()
	ch.latest = frame
	ch.lastPublish = time.Now()

	var dead []int
	for i, q := range ch.subs {
		if !q.push(frame) {
			dead = append(dead, i)
		}
	}
	// Remove dead queues back to front, so indices stay valid
	for i := len(dead) - 1; i >= 0; i-- {
		di := dead[i]
		ch.subs = append(ch.subs[:di], ch.subs[di+1:]...)
	}
}

// Subscribe creates a new bounded queue on the channel. If the channel already
// has a latest frame, the queue is seeded with it, so a fresh subscriber does
// not have to wait for the next publish.
func (h *Hub) Subscribe(channelName string) *Queue {
	ch := h.getChannel(channelName)
	q := newQueue(DefaultQueueSize)
	ch.lock.Lock()
	defer ch.lock.Unlock()
	if ch.latest != nil {
		q.push(ch.latest)
	}
	ch.subs = append(ch.subs, q)
	return q
}

// Unsubscribe removes the queue from the channel and closes it.
// Unsubscribing a queue that was already removed is a no-op.
func (h *Hub) Unsubscribe(channelName string, q *Queue) {
	ch := h.getChannel(channelName)
	ch.lock.Lock()
	for i, s := range ch.subs {
		if s == q {
			ch.subs = append(ch.subs[:i], ch.subs[i+1:]...)
			break
		}
	}
	ch.lock.Unlock()
	q.Close()
}

// Latest returns the most recently published frame on the channel, or nil if
// nothing has been published yet. This is the non-blocking read used by
// fixed-rate pollers (agent tasks, agent output tracks).
func (h *Hub) Latest(channelName string) *defs.Frame {
	ch := h.getChannel(channelName)
	ch.lock.Lock()
	defer ch.lock.Unlock()
	return ch.latest
}

// LastPublishAt returns the wall clock time of the channel's most recent
// publish, or the zero time if nothing has been published.
func (h *Hub) LastPublishAt(channelName string) time.Time {
	ch := h.getChannel(channelName)
	ch.lock.Lock()
	defer ch.lock.Unlock()
	return ch.lastPublish
}

// NumSubscribers returns the current subscriber count on the channel.
func (h *Hub) NumSubscribers(channelName string) int {
	ch := h.getChannel(channelName)
	ch.lock.Lock()
	defer ch.lock.Unlock()
	return len(ch.subs)
}

func (h *Hub) getChannel(name string) *channel {
	h.lock.Lock()
	defer h.lock.Unlock()
	ch := h.channels[name]
	if ch == nil {
		ch = &channel{name: name}
		h.channels[name] = ch
	}
	return ch
}
