package rtc

import (
	"log/slog"
	"sync"

	"github.com/tetsuo/corestream/internal/corelog"
)

// Consumer.changeSeq increments every time the source feeding a consumer is
// swapped out from under it (republish, or migrating to a new source id).
// Consumer.Wait returns early on a change so the caller can refresh any
// codec/sequence-header state before consuming further packets.

// Consumer is a single subscriber's packet queue: the Source's on_rtp
// fan-out enqueues, the subscriber's own goroutine drains via DumpPacket,
// blocking in Wait when the queue is empty. Grounded in the snapshot-then-
// deliver shape of alxayo-rtmp-go's media.Stream.BroadcastMessage, adapted
// from a push-per-subscriber model to a pull FIFO because spec §4.8 gives
// the consumer, not the source, the blocking wait.
type Consumer struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue []*Packet

	sourceID    string
	preSourceID string
	changeSeq   uint64

	// shouldUpdateSourceID is spec §4.8's flag: UpdateSourceID sets it
	// whenever the source id actually changes, and the next DumpPacket
	// logs the change and clears it, rather than logging synchronously
	// from inside the source's own fan-out lock.
	shouldUpdateSourceID bool

	closed bool
	err    error

	log *slog.Logger
}

// NewConsumer returns a consumer with an empty queue.
func NewConsumer() *Consumer {
	c := &Consumer{log: corelog.Logger().With("component", "rtc_consumer")}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Enqueue appends pkt to the queue and wakes one waiter. Called by the
// Source under its own fan-out critical section; pkt is already this
// consumer's private copy.
func (c *Consumer) Enqueue(pkt *Packet) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, pkt)
	c.mu.Unlock()
	c.cond.Signal()
}

// DumpPacket pops the oldest queued packet. ok is false if the queue is
// empty; callers are expected to call Wait first.
//
// Per spec §4.8: if should_update_source_id is set, the change is logged
// and the flag cleared here, on the consumer's own dequeue path, rather
// than synchronously inside UpdateSourceID (which runs under the source's
// fan-out lock and shouldn't block on logging I/O).
func (c *Consumer) DumpPacket() (pkt *Packet, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shouldUpdateSourceID {
		c.shouldUpdateSourceID = false
		c.log.Info("source id updated", "source_id", c.sourceID, "prev_source_id", c.preSourceID)
	}

	if len(c.queue) == 0 {
		return nil, false
	}
	pkt = c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return pkt, true
}

// Wait blocks until at least n packets are queued, the source changes, or
// the consumer is destroyed, then returns the number of packets currently
// queued.
//
// Per spec §9's open question on wait(-1)/wait(0) equivalence: they are NOT
// made equivalent here. n == 0 is a non-blocking poll — it returns the
// current queue length immediately, matching a caller that wants to drain
// whatever is already buffered without yielding. n < 0 blocks until the
// queue is non-empty (the "wait for at least one packet" idiom used by a
// consumer's read loop); treating a negative n as "wait for n packets" has
// no sensible meaning, so it is normalized to 1. A caller wanting a true
// poll must pass exactly 0.
func (c *Consumer) Wait(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n == 0 {
		return len(c.queue)
	}
	want := n
	if want < 0 {
		want = 1
	}

	startSeq := c.changeSeq
	for len(c.queue) < want && !c.closed && c.changeSeq == startSeq {
		c.cond.Wait()
	}
	return len(c.queue)
}

// OnStreamChange bumps the change sequence and wakes every waiter so a
// blocked Wait returns even though no packet arrived, letting the caller
// notice the source swap.
func (c *Consumer) OnStreamChange() {
	c.mu.Lock()
	c.changeSeq++
	c.mu.Unlock()
	c.cond.Broadcast()
}

// UpdateSourceID records the current and previous source id a consumer is
// attached to, for log correlation across a republish (spec §3.2). When id
// actually differs from the current one, it also raises
// should_update_source_id so the next DumpPacket logs the transition.
func (c *Consumer) UpdateSourceID(id string) {
	c.mu.Lock()
	if id != c.sourceID {
		c.shouldUpdateSourceID = true
	}
	c.preSourceID = c.sourceID
	c.sourceID = id
	c.mu.Unlock()
}

// SourceID returns the current and previous source ids.
func (c *Consumer) SourceID() (current, previous string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceID, c.preSourceID
}

// Close marks the consumer destroyed and wakes any blocked Wait.
func (c *Consumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// QueueLen reports the current queue depth, for circuit-breaker watermarks.
func (c *Consumer) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
