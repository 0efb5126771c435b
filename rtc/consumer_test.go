package rtc_test

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/corestream/internal/corelog"
	"github.com/tetsuo/corestream/rtc"
)

func newTestPacket(seq uint16) *rtc.Packet {
	return rtc.NewPacket(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq},
		Payload: []byte{1, 2, 3},
	})
}

func TestConsumerFIFOOrder(t *testing.T) {
	c := rtc.NewConsumer()
	c.Enqueue(newTestPacket(1))
	c.Enqueue(newTestPacket(2))
	c.Enqueue(newTestPacket(3))

	for _, want := range []uint16{1, 2, 3} {
		pkt, ok := c.DumpPacket()
		require.True(t, ok)
		assert.Equal(t, want, pkt.SequenceNumber)
	}
	_, ok := c.DumpPacket()
	assert.False(t, ok)
}

func TestConsumerCopyIsIndependent(t *testing.T) {
	orig := newTestPacket(7)
	clone := orig.Copy()
	clone.Payload[0] = 0xff
	assert.NotEqual(t, orig.Payload[0], clone.Payload[0])
}

func TestConsumerWaitBlocksUntilEnqueue(t *testing.T) {
	c := rtc.NewConsumer()
	done := make(chan int, 1)
	go func() { done <- c.Wait(1) }()

	select {
	case <-done:
		t.Fatal("wait returned before any packet was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	c.Enqueue(newTestPacket(1))
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("wait never returned after enqueue")
	}
}

func TestConsumerWaitZeroIsNonBlockingPoll(t *testing.T) {
	c := rtc.NewConsumer()
	assert.Equal(t, 0, c.Wait(0))
	c.Enqueue(newTestPacket(1))
	assert.Equal(t, 1, c.Wait(0))
}

func TestConsumerWaitNegativeWaitsForOne(t *testing.T) {
	c := rtc.NewConsumer()
	done := make(chan int, 1)
	go func() { done <- c.Wait(-1) }()

	c.Enqueue(newTestPacket(1))
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("wait(-1) never woke up")
	}
}

func TestConsumerOnStreamChangeWakesWaiter(t *testing.T) {
	c := rtc.NewConsumer()
	done := make(chan int, 1)
	go func() { done <- c.Wait(5) }()

	time.Sleep(10 * time.Millisecond)
	c.OnStreamChange()

	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("stream change did not wake blocked waiter")
	}
}

func TestConsumerUpdateSourceID(t *testing.T) {
	c := rtc.NewConsumer()
	c.UpdateSourceID("a")
	c.UpdateSourceID("b")
	cur, prev := c.SourceID()
	assert.Equal(t, "b", cur)
	assert.Equal(t, "a", prev)
}

// TestConsumerDumpPacketClearsSourceIDUpdateFlag exercises spec §4.8's
// should_update_source_id handshake: a changed source id is logged and
// cleared on the next dequeue, and does not re-log on the one after.
func TestConsumerDumpPacketClearsSourceIDUpdateFlag(t *testing.T) {
	var logBuf bytes.Buffer
	corelog.UseWriter(&logBuf)
	defer corelog.UseWriter(os.Stdout)

	c := rtc.NewConsumer()
	c.UpdateSourceID("a")
	c.Enqueue(newTestPacket(1))
	c.Enqueue(newTestPacket(2))

	_, ok := c.DumpPacket()
	require.True(t, ok)
	_, ok = c.DumpPacket()
	require.True(t, ok)

	cur, _ := c.SourceID()
	assert.Equal(t, "a", cur)
	assert.Equal(t, 1, strings.Count(logBuf.String(), "source id updated"))
}

func TestConsumerCloseWakesWaiter(t *testing.T) {
	c := rtc.NewConsumer()
	done := make(chan int, 1)
	go func() { done <- c.Wait(5) }()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked waiter")
	}
}
