// Package mp4file assembles complete ISO BMFF files and CMAF fragments out
// of the box primitives in the mp4 package: a progressive (single moov,
// single mdat) encoder for whole-file capture, a fragmented init segment
// plus per-segment encoder pair for live/CMAF delivery, and a stream-driven
// decoder for reading either back (spec §4.4, §4.5, §4.6).
package mp4file

import (
	"github.com/google/uuid"
	"github.com/tetsuo/corestream"
)

// TrackKind distinguishes video and audio tracks.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// TrackConfig describes one track's static properties, fixed once the
// track's sequence header (SPS/PPS, audio specific config) has been seen.
// SampleEntry is a fully-built sample description child (e.g. an "avc1" or
// "mp4a" box, with its avcC/esds already attached) — constructing it from a
// codec's own bitstream is the caller's job; this package only places it.
type TrackConfig struct {
	ID        uint32
	Kind      TrackKind
	TimeScale uint32

	Width, Height uint32 // pixels; video only
	ChannelCount  uint16 // audio only
	SampleRate    uint32 // audio only

	SampleEntry *mp4.Box

	// Encryption, if non-nil, wraps SampleEntry in a protected scheme box
	// (sinf/schm/schi/tenc) per spec §6.5. See cenc.go.
	Encryption *EncryptionConfig
}

// EncryptionConfig configures cbcs Common Encryption for one track's sample
// entries (structural scaffolding only; see mp4's cenc.go package doc and
// DESIGN.md for why no cipher transform is performed here).
type EncryptionConfig struct {
	CryptByteBlock uint8 // + SkipByteBlock must equal 10
	SkipByteBlock  uint8
	KID            [16]byte
	ConstantIV     []byte // 8 or 16 bytes; per-sample IVs are the caller's responsibility
}

// NewDefaultKID generates a random key ID for callers that don't already
// have one negotiated out-of-band with a license server.
func NewDefaultKID() [16]byte {
	return [16]byte(uuid.New())
}

// Sample is one encoded access unit ready to be placed into an mdat.
type Sample struct {
	TrackID            uint32
	Data               []byte
	Duration           uint32 // in TrackConfig.TimeScale units
	PresentationOffset int32
	IsSync             bool
}
