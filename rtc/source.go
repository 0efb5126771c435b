package rtc

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tetsuo/corestream/internal/corelog"
	"github.com/tetsuo/corestream/internal/errs"
	"github.com/tetsuo/corestream/track"
)

// TrackDesc describes one negotiated media track for GetTrackDesc lookups.
type TrackDesc struct {
	Kind  track.TrackKind
	Codec string
}

// Source is the fan-out hub for one published stream: a single publisher
// delivers RTP, N consumers each get their own copy. Grounded in
// alxayo-rtmp-go's server.Stream (registry.go) for the publisher-exclusivity
// and subscriber-list shape, generalized per spec §4.7 from a push-only
// broadcast to a source that also tracks created/delivering state and
// source-id correlation across republish.
type Source struct {
	mu sync.Mutex

	id           string
	preID        string
	idSet        bool // true once set_stream_created or on_source_changed has run once
	isCreated    bool
	isDelivering bool

	// dieAt is the death-timestamp of spec §3.2: stamped once the source has
	// no consumers left and isn't publishing either, so a reaper can sweep
	// it after a grace period. Zero means "not dying".
	dieAt time.Time

	bridge  Bridge
	handler EventHandler

	tracks    []TrackDesc
	consumers map[*Consumer]struct{}
	breaker   circuitBreaker

	log *slog.Logger
}

// NewSource creates a source bound to bridge, with handler receiving its
// lifecycle events. handler may be nil, in which case events are discarded.
func NewSource(bridge Bridge, handler EventHandler) *Source {
	if handler == nil {
		handler = noopHandler{}
	}
	return &Source{
		bridge:    bridge,
		handler:   handler,
		consumers: make(map[*Consumer]struct{}),
		breaker:   defaultBreaker(),
		log:       corelog.Logger().With("component", "rtc_source"),
	}
}

// SetStreamCreated marks the source created and assigns its id. Per spec
// §9's documented quirk, the FIRST call to either SetStreamCreated or
// OnSourceChanged sets both id and preID to the same value — there is no
// "previous source" before the very first one, so preID starts out equal
// to id rather than empty. This is intentional, not a bug to fix.
func (s *Source) SetStreamCreated(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isCreated = true
	s.setID(id)
}

func (s *Source) setID(id string) {
	if !s.idSet {
		s.id = id
		s.preID = id
		s.idSet = true
		return
	}
	s.preID = s.id
	s.id = id
}

// OnSourceChanged reassigns the source id, e.g. when a publisher reconnects
// under a new correlation id, and propagates the new id to every attached
// consumer.
func (s *Source) OnSourceChanged(id string) {
	s.mu.Lock()
	prev := s.id
	s.setID(id)
	consumers := s.snapshotConsumers()
	s.mu.Unlock()

	s.log.Info("source changed", "prev_source_id", prev, "source_id", id, "consumers", len(consumers))
	for _, c := range consumers {
		c.UpdateSourceID(id)
		c.OnStreamChange()
	}
}

// SourceID returns the current and previous source ids.
func (s *Source) SourceID() (current, previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.preID
}

// CanPublish reports whether this source will currently accept a publisher.
// Per spec §4.7, can_publish() ⇔ ¬is_created: a freshly built source (or one
// that just went through on_unpublish, which resets is_created to false)
// accepts a new publisher; a source already claimed by one does not.
func (s *Source) CanPublish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.isCreated
}

// OnPublish transitions the source into delivering state for one audio
// track and one or more simultaneous video tracks (simulcast/multi-
// rendition, spec §3.2's "stream description (tracks + payload types)").
// Returns errs.RTCError if a publisher is already attached and delivering
// (exclusivity, spec §8.2 S6), mirroring alxayo-rtmp-go's
// ErrPublisherExists check in registry.Stream.SetPublisher.
//
// Per spec §4.7, the bridge sequence is initialize(request) →
// setup_codec(...) → on_publish(), in that order; a failing Initialize
// aborts the publish and releases the exclusivity claim rather than
// leaving the source stuck in delivering state with no bridge behind it.
func (s *Source) OnPublish(request PublishRequest, audioCodecID string, videoCodecIDs ...string) error {
	s.mu.Lock()
	if s.isDelivering {
		s.mu.Unlock()
		return errs.NewRTCError("on_publish", nil)
	}
	s.isDelivering = true
	s.mu.Unlock()

	if s.bridge != nil {
		if err := s.bridge.Initialize(request); err != nil {
			s.mu.Lock()
			s.isDelivering = false
			s.mu.Unlock()
			return errs.NewRTCError("on_publish", err)
		}
	}

	var primaryVideoCodecID string
	if len(videoCodecIDs) > 0 {
		primaryVideoCodecID = videoCodecIDs[0]
	}

	s.mu.Lock()
	s.tracks = nil
	for _, codecID := range videoCodecIDs {
		if codecID == "" {
			continue
		}
		s.tracks = append(s.tracks, TrackDesc{Kind: track.TrackVideo, Codec: codecID})
	}
	if audioCodecID != "" {
		s.tracks = append(s.tracks, TrackDesc{Kind: track.TrackAudio, Codec: audioCodecID})
	}
	s.dieAt = time.Time{}
	s.isCreated = true
	s.mu.Unlock()

	if s.bridge != nil {
		s.bridge.SetupCodec(audioCodecID, primaryVideoCodecID)
		s.bridge.OnPublish()
	}
	s.log.Info("publish", "source_id", s.id, "audio_codec", audioCodecID, "video_codecs", videoCodecIDs)
	return nil
}

// OnUnpublish transitions the source out of delivering state and notifies
// the handler. Idempotent: calling it when not delivering is a no-op. Per
// spec §4.7 this resets to (false, false): is_created as well as
// is_delivering, so CanPublish opens back up for the next publisher. If no
// consumers are left either, the death-timestamp is stamped.
func (s *Source) OnUnpublish() {
	s.mu.Lock()
	if !s.isDelivering {
		s.mu.Unlock()
		return
	}
	s.isDelivering = false
	s.isCreated = false
	empty := len(s.consumers) == 0
	if empty {
		s.dieAt = time.Now()
	}
	s.mu.Unlock()

	if s.bridge != nil {
		s.bridge.OnUnpublish()
	}
	s.log.Info("unpublish", "source_id", s.id)
	s.handler.OnUnpublish()
	if empty {
		s.handler.OnConsumersFinished()
	}
}

// Subscribe attaches c to this source's fan-out and seeds its source-id
// correlation. Returns errs.RTCError if the source was never created.
func (s *Source) Subscribe(c *Consumer) error {
	s.mu.Lock()
	if !s.isCreated {
		s.mu.Unlock()
		return errs.NewRTCError("rtc_source_subscribe", nil)
	}
	s.consumers[c] = struct{}{}
	id := s.id
	s.mu.Unlock()

	c.UpdateSourceID(id)
	return nil
}

// Unsubscribe detaches c. If it was the last consumer and the source is no
// longer delivering, OnConsumersFinished fires (the publisher already went
// away and was waiting on the consumer set to drain) and the death-
// timestamp is stamped, per spec §4.7's on_consumer_destroy.
func (s *Source) Unsubscribe(c *Consumer) {
	s.mu.Lock()
	_, ok := s.consumers[c]
	delete(s.consumers, c)
	empty := len(s.consumers) == 0
	delivering := s.isDelivering
	if empty && !delivering {
		s.dieAt = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	c.Close()
	if empty && !delivering {
		s.handler.OnConsumersFinished()
	}
}

// OnConsumerDestroy is an alias for Unsubscribe kept under the spec's own
// naming for the same lifecycle event (§4.7).
func (s *Source) OnConsumerDestroy(c *Consumer) { s.Unsubscribe(c) }

// GetTrackDesc returns every negotiated track of kind, matched case-
// insensitively against codec if codec is non-empty (some callers probe
// "is this source carrying h264" without caring about case). Per spec
// §4.7/§8.1.6, kind == track.TrackVideo may match more than one entry
// (simulcast/multi-rendition); the returned slice is empty, not nil, when
// nothing matches.
func (s *Source) GetTrackDesc(kind track.TrackKind, codec string) []TrackDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackDesc, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind != kind {
			continue
		}
		if codec == "" || strings.EqualFold(t.Codec, codec) {
			out = append(out, t)
		}
	}
	return out
}

// OnRTP delivers pkt to the bridge (if any) and fans it out to every
// attached consumer. The whole operation runs under the source's lock so
// it appears atomic to consumers subscribing or unsubscribing concurrently
// (spec §5). Each recipient gets its own Copy() so one recipient's later
// mutation can't corrupt another's view.
//
// Per spec §3.2/§4.7, the circuit breaker is a single ambient indicator
// carried by the source, checked once here against the worst attached
// consumer's backlog — not recomputed per consumer — before the packet is
// handed to anyone. When it reports dying, OnRTP discards the packet and
// returns success (spec §8.2 S5): neither the bridge nor any consumer sees
// it. Otherwise the packet goes to the bridge first, propagating any error
// it returns (spec §4.7 step 2, §6.3) as errs.ErrRTPMuxer, and then to
// every consumer.
func (s *Source) OnRTP(pkt *Packet) error {
	if pkt == nil {
		return errs.NewRTCError("on_rtp", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	level := s.breaker.level(s.maxConsumerQueueLenLocked())
	if level == levelDying {
		s.log.Warn("circuit breaker dying, discarding packet", "source_id", s.id)
		return nil
	}
	if level == levelCritical {
		s.log.Debug("source over critical watermark", "source_id", s.id)
	}

	if s.bridge != nil {
		if err := s.bridge.OnRTP(pkt.Copy()); err != nil {
			return errs.NewRTCError("on_rtp", errs.ErrRTPMuxer)
		}
	}

	for c := range s.consumers {
		c.Enqueue(pkt.Copy())
	}
	return nil
}

// maxConsumerQueueLenLocked reports the deepest backlog among attached
// consumers, the signal the ambient circuit breaker is derived from. Must
// be called with s.mu held.
func (s *Source) maxConsumerQueueLenLocked() int {
	max := 0
	for c := range s.consumers {
		if n := c.QueueLen(); n > max {
			max = n
		}
	}
	return max
}

func (s *Source) snapshotConsumers() []*Consumer {
	out := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		out = append(out, c)
	}
	return out
}
