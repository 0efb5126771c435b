package rtc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/corestream/track"

	"github.com/tetsuo/corestream/rtc"
)

// failingInitBridge wraps a stubBridge but fails Initialize, for exercising
// the "publish aborts, exclusivity releases" path.
type failingInitBridge struct {
	*stubBridge
	err error
}

func (b *failingInitBridge) Initialize(rtc.PublishRequest) error { return b.err }

type stubBridge struct {
	initialized  bool
	published    bool
	unpublished  bool
	audioCodecID string
	videoCodecID string
	rtpPackets   []*rtc.Packet
	onRTPErr     error
}

func (b *stubBridge) Initialize(rtc.PublishRequest) error { b.initialized = true; return nil }
func (b *stubBridge) SetupCodec(audioCodecID, videoCodecID string) {
	b.audioCodecID, b.videoCodecID = audioCodecID, videoCodecID
}
func (b *stubBridge) OnPublish()   { b.published = true }
func (b *stubBridge) OnUnpublish() { b.unpublished = true }
func (b *stubBridge) OnRTP(pkt *rtc.Packet) error {
	b.rtpPackets = append(b.rtpPackets, pkt)
	return b.onRTPErr
}

var _ rtc.Bridge = (*stubBridge)(nil)
var _ rtc.EventHandler = (*stubHandler)(nil)

type stubHandler struct {
	unpublished       int
	consumersFinished int
}

func (h *stubHandler) OnUnpublish()         { h.unpublished++ }
func (h *stubHandler) OnConsumersFinished() { h.consumersFinished++ }

func TestSourceFirstIDAssignmentSetsBothIDs(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	s.SetStreamCreated("alpha")
	cur, prev := s.SourceID()
	assert.Equal(t, "alpha", cur)
	assert.Equal(t, "alpha", prev, "first assignment sets preID == id, per spec's documented quirk")

	s.OnSourceChanged("beta")
	cur, prev = s.SourceID()
	assert.Equal(t, "beta", cur)
	assert.Equal(t, "alpha", prev)
}

func TestSourcePublishExclusivity(t *testing.T) {
	bridge := &stubBridge{}
	s := rtc.NewSource(bridge, nil)
	s.SetStreamCreated("s1")

	require.NoError(t, s.OnPublish(rtc.PublishRequest{StreamID: "s1"}, "opus", "h264"))
	assert.True(t, bridge.initialized, "Initialize must run before SetupCodec/OnPublish")
	assert.True(t, bridge.published)
	assert.Equal(t, "h264", bridge.videoCodecID)

	err := s.OnPublish(rtc.PublishRequest{}, "opus", "h264")
	assert.Error(t, err, "a second publisher while delivering must be rejected")
}

func TestSourceOnPublishPropagatesInitializeFailure(t *testing.T) {
	wantErr := errors.New("boom")
	bridge := &stubBridge{onRTPErr: nil}
	s := rtc.NewSource(&failingInitBridge{stubBridge: bridge, err: wantErr}, nil)
	s.SetStreamCreated("s1")

	err := s.OnPublish(rtc.PublishRequest{}, "opus", "h264")
	require.Error(t, err)
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "opus", "h264"), "a failed Initialize must release the exclusivity claim")
}

func TestSourceCanPublish(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	assert.True(t, s.CanPublish())

	s.SetStreamCreated("s1")
	assert.False(t, s.CanPublish(), "a created source is already claimed")

	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "", "h264"))
	s.OnUnpublish()
	assert.True(t, s.CanPublish(), "on_unpublish resets to (false, false)")
}

func TestSourceUnpublishThenRepublish(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	s.SetStreamCreated("s1")
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "", "h264"))
	s.OnUnpublish()
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "", "av1"))
}

func TestSourceGetTrackDesc(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	s.SetStreamCreated("s1")
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "opus", "H264"))

	descs := s.GetTrackDesc(track.TrackVideo, "h264")
	require.Len(t, descs, 1, "codec match must be case-insensitive")
	assert.Equal(t, "H264", descs[0].Codec)

	assert.Empty(t, s.GetTrackDesc(track.TrackAudio, "aac"))
}

func TestSourceGetTrackDescMultipleVideoTracks(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	s.SetStreamCreated("s1")
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "opus", "h264", "vp8", "av1"))

	descs := s.GetTrackDesc(track.TrackVideo, "")
	assert.Len(t, descs, 3, "a simulcast publish must list every video rendition")
}

func TestSourceSubscribeRequiresCreated(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	c := rtc.NewConsumer()
	err := s.Subscribe(c)
	assert.Error(t, err)

	s.SetStreamCreated("s1")
	require.NoError(t, s.Subscribe(c))
}

func TestSourceOnRTPFansOutToAllConsumers(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	s.SetStreamCreated("s1")

	c1, c2 := rtc.NewConsumer(), rtc.NewConsumer()
	require.NoError(t, s.Subscribe(c1))
	require.NoError(t, s.Subscribe(c2))

	require.NoError(t, s.OnRTP(newTestPacket(42)))

	for _, c := range []*rtc.Consumer{c1, c2} {
		pkt, ok := c.DumpPacket()
		require.True(t, ok)
		assert.EqualValues(t, 42, pkt.SequenceNumber)
	}
}

func TestSourceOnRTPRejectsNilPacket(t *testing.T) {
	s := rtc.NewSource(nil, nil)
	s.SetStreamCreated("s1")
	assert.Error(t, s.OnRTP(nil))
}

func TestSourceOnUnpublishFiresHandlerWhenEmpty(t *testing.T) {
	handler := &stubHandler{}
	s := rtc.NewSource(nil, handler)
	s.SetStreamCreated("s1")
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "", "h264"))

	s.OnUnpublish()
	assert.Equal(t, 1, handler.unpublished)
	assert.Equal(t, 1, handler.consumersFinished, "no consumers were ever attached")
}

func TestSourceOnRTPDeliversToBridge(t *testing.T) {
	bridge := &stubBridge{}
	s := rtc.NewSource(bridge, nil)
	s.SetStreamCreated("s1")

	require.NoError(t, s.OnRTP(newTestPacket(7)))
	require.Len(t, bridge.rtpPackets, 1)
	assert.EqualValues(t, 7, bridge.rtpPackets[0].SequenceNumber)
}

func TestSourceOnRTPPropagatesBridgeError(t *testing.T) {
	bridge := &stubBridge{onRTPErr: errors.New("muxer full")}
	s := rtc.NewSource(bridge, nil)
	s.SetStreamCreated("s1")

	c := rtc.NewConsumer()
	require.NoError(t, s.Subscribe(c))

	err := s.OnRTP(newTestPacket(1))
	assert.Error(t, err, "a bridge enqueue failure must propagate")
	_, ok := c.DumpPacket()
	assert.False(t, ok, "consumers must not receive a packet the bridge rejected")
}

// TestSourceOnRTPDiscardsWhenBreakerDying exercises spec §8.2 S5: once the
// ambient circuit breaker reports dying, on_rtp returns success but neither
// the bridge nor any consumer sees the packet.
func TestSourceOnRTPDiscardsWhenBreakerDying(t *testing.T) {
	bridge := &stubBridge{}
	s := rtc.NewSource(bridge, nil)
	s.SetStreamCreated("s1")

	stuck := rtc.NewConsumer()
	require.NoError(t, s.Subscribe(stuck))

	for i := 0; i < 1024; i++ {
		require.NoError(t, s.OnRTP(newTestPacket(uint16(i))))
	}
	queueLenAtDying := stuck.QueueLen()
	bridgePacketsAtDying := len(bridge.rtpPackets)

	require.NoError(t, s.OnRTP(newTestPacket(9999)))
	assert.Equal(t, queueLenAtDying, stuck.QueueLen(), "no consumer may receive a packet once the breaker is dying")
	assert.Equal(t, bridgePacketsAtDying, len(bridge.rtpPackets), "the bridge must not receive a packet once the breaker is dying")
}

func TestSourceConsumersFinishedWaitsForLastUnsubscribe(t *testing.T) {
	handler := &stubHandler{}
	s := rtc.NewSource(nil, handler)
	s.SetStreamCreated("s1")
	require.NoError(t, s.OnPublish(rtc.PublishRequest{}, "", "h264"))

	c := rtc.NewConsumer()
	require.NoError(t, s.Subscribe(c))

	s.OnUnpublish()
	assert.Equal(t, 0, handler.consumersFinished, "a consumer is still attached")

	s.Unsubscribe(c)
	assert.Equal(t, 1, handler.consumersFinished)
}
