// Package rtc implements the live fan-out hub: one Source per published
// stream, N Consumers subscribed to it, and a Manager that hands out
// process-wide Source instances by ID, per spec §4.7-§4.9.
package rtc

import "github.com/pion/rtp"

// Packet wraps a pion RTP packet with the Copy the fan-out path needs: every
// consumer enqueues its own copy so one consumer mutating a header field
// (or a downstream writer reusing Payload's backing array) can't corrupt
// another consumer's view of the same packet.
type Packet struct {
	*rtp.Packet
}

// NewPacket wraps p. p must not be nil.
func NewPacket(p *rtp.Packet) *Packet { return &Packet{Packet: p} }

// Copy returns a deep copy: a new header and a new payload backing array.
func (p *Packet) Copy() *Packet {
	if p == nil || p.Packet == nil {
		return nil
	}
	clone := *p.Packet
	if p.Packet.Payload != nil {
		clone.Payload = make([]byte, len(p.Packet.Payload))
		copy(clone.Payload, p.Packet.Payload)
	}
	if p.Packet.Extensions != nil {
		clone.Extensions = append([]rtp.Extension(nil), p.Packet.Extensions...)
	}
	return &Packet{Packet: &clone}
}

// PublishRequest carries what a bridge needs to start delivering a stream
// to a Source (§6.3).
type PublishRequest struct {
	StreamID string
	AppData  map[string]string
}

// Bridge adapts an external signaling/transport layer (RTMP ingest, WHIP,
// a media server) to a Source. The core never constructs one; it is
// injected by the caller and driven from outside this package.
type Bridge interface {
	// Initialize prepares the bridge for request. Called before the first
	// on_publish.
	Initialize(request PublishRequest) error

	// SetupCodec tells the bridge the audio codec and primary video codec
	// the source was published with. Called after Initialize succeeds.
	SetupCodec(audioCodecID, videoCodecID string)

	// OnPublish signals the bridge that the source has transitioned to
	// delivering state.
	OnPublish()

	// OnUnpublish signals the bridge that the source has stopped
	// delivering and is about to be torn down.
	OnUnpublish()

	// OnRTP delivers one packet to the bridge as part of Source.OnRTP's
	// fan-out (spec §4.7 step 2: "if rtc_bridge is set, deliver a copy to
	// the bridge; propagate any error"). An error here (e.g. the bridge's
	// own enqueue failing) aborts the fan-out and is returned from
	// Source.OnRTP, per spec §6.3 ("accept one packet, return error on
	// failure").
	OnRTP(pkt *Packet) error
}
