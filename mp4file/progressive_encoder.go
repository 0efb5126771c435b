package mp4file

import (
	"encoding/binary"

	"github.com/tetsuo/corestream"
	"github.com/tetsuo/corestream/internal/errs"
	"github.com/tetsuo/corestream/track"
)

var be = binary.BigEndian

type progressiveState int

const (
	peInit progressiveState = iota
	peWroteFtyp
	peWroteFreePlaceholder
	peWroteMdatHeader
	peReceiving
	peFlushed
)

type peSample struct {
	offset             int64
	size               uint32
	duration           uint32
	presentationOffset int32
	isSync             bool
}

type peTrack struct {
	cfg     TrackConfig
	samples []peSample
}

// ProgressiveEncoder builds a single whole-file MP4 (one moov, one mdat) by
// buffering raw sample bytes in memory and patching the mdat header once
// the final size is known, per spec §4.4's state machine.
type ProgressiveEncoder struct {
	state      progressiveState
	buf        []byte
	mdatOffset int
	mdatBytes  int64
	timescale  uint32

	tracks []*peTrack
	byID   map[uint32]*peTrack
}

// NewProgressiveEncoder creates an encoder using timescale as the movie
// (mvhd) timescale; individual tracks may use a different media timescale.
func NewProgressiveEncoder(timescale uint32) *ProgressiveEncoder {
	return &ProgressiveEncoder{timescale: timescale, byID: make(map[uint32]*peTrack)}
}

// Init writes ftyp, the free placeholder, and the mdat placeholder header,
// transitioning Init → WroteFtyp → WroteFreePlaceholder → WroteMdatHeader.
func (e *ProgressiveEncoder) Init() error {
	if e.state != peInit {
		return errs.NewBoxError(errs.KindIllegalMoov, "progressive init", nil)
	}
	w := mp4.NewWriter(e.buf)
	w.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 0x200, [][4]byte{{'i', 's', 'o', 'm'}, {'i', 's', 'o', '2'}, {'m', 'p', '4', '1'}})
	e.state = peWroteFtyp

	w.WriteFree(8)
	e.state = peWroteFreePlaceholder

	e.mdatOffset = w.Len()
	w.WriteMdat(nil)
	e.state = peWroteMdatHeader

	e.buf = w.Bytes()
	e.state = peReceiving
	return nil
}

// AddTrack registers a track's sample entry. Calling it again for the same
// track ID with a sample entry of a different box type is a codec-config
// mutation mid-stream and is rejected, per spec §4.4 step 2.
func (e *ProgressiveEncoder) AddTrack(cfg TrackConfig) error {
	if existing, ok := e.byID[cfg.ID]; ok {
		if existing.cfg.SampleEntry.Type != cfg.SampleEntry.Type {
			return errs.NewBoxError(sequenceHeaderChangeKind(cfg), "add track", nil)
		}
		existing.cfg = cfg
		return nil
	}
	t := &peTrack{cfg: cfg}
	e.tracks = append(e.tracks, t)
	e.byID[cfg.ID] = t
	return nil
}

func sequenceHeaderChangeKind(cfg TrackConfig) string {
	switch cfg.SampleEntry.Type {
	case mp4.TypeHev1:
		return errs.KindHvccChange
	case mp4.TypeMp4a:
		return errs.KindAscChange
	default:
		return errs.KindAvccChange
	}
}

// WriteSample appends one sample's raw bytes to the mdat payload and
// records its placement for the sample tables built at Flush.
func (e *ProgressiveEncoder) WriteSample(trackID uint32, data []byte, duration uint32, presentationOffset int32, isSync bool) error {
	if e.state != peReceiving {
		return errs.NewBoxError(errs.KindIllegalMoov, "write sample", nil)
	}
	t, ok := e.byID[trackID]
	if !ok {
		return errs.NewBoxError(errs.KindIllegalTrack, "write sample", nil)
	}
	offset := int64(len(e.buf))
	e.buf = append(e.buf, data...)
	e.mdatBytes += int64(len(data))
	t.samples = append(t.samples, peSample{
		offset:             offset,
		size:               uint32(len(data)),
		duration:           duration,
		presentationOffset: presentationOffset,
		isSync:             isSync,
	})
	return nil
}

// Flush builds the moov tree from accumulated samples, appends it, and
// patches the mdat header (upgrading to a 16-byte largesize header by
// consuming the free placeholder if needed). Requires at least one track
// with at least one sample.
func (e *ProgressiveEncoder) Flush() ([]byte, error) {
	if e.state != peReceiving {
		return nil, errs.NewBoxError(errs.KindIllegalMoov, "flush", nil)
	}
	var sampleCount int
	for _, t := range e.tracks {
		sampleCount += len(t.samples)
	}
	if sampleCount == 0 {
		return nil, errs.NewBoxError(errs.KindIllegalMoov, "flush", nil)
	}

	var movieDuration uint64
	moov := mp4.NewBox(mp4.TypeMoov)

	for _, t := range e.tracks {
		if len(t.samples) == 0 {
			continue
		}
		var trackDuration uint64
		samples := make([]track.Sample, len(t.samples))
		for i, s := range t.samples {
			samples[i] = track.Sample{
				TrackID:            t.cfg.ID,
				Offset:             s.offset,
				Size:               s.size,
				Duration:           s.duration,
				PresentationOffset: s.presentationOffset,
				IsSync:             s.isSync,
			}
			trackDuration += uint64(s.duration)
		}
		if trackDuration > movieDuration {
			movieDuration = trackDuration
		}

		stbl := mp4.NewBox(mp4.TypeStbl)
		stsd := mp4.NewBox(mp4.TypeStsd)
		stsd.Stsd = &mp4.Stsd{Entries: []*mp4.Box{sampleEntry(t.cfg)}}
		stbl.Append(stsd)
		track.BuildTables(stbl, samples, t.cfg.Kind == TrackVideo)

		moov.Append(buildTrak(t.cfg, trackDuration, stbl))
	}

	moov.Append(buildMvhd(e.timescale, movieDuration, configsOf(e.tracks)))
	moovBytes, err := mp4.EncodeToBytes(moov)
	if err != nil {
		return nil, err
	}
	e.buf = append(e.buf, moovBytes...)

	e.patchMdatHeader()
	e.state = peFlushed
	return e.buf, nil
}

func (e *ProgressiveEncoder) patchMdatHeader() {
	smallTotal := 8 + e.mdatBytes
	if smallTotal <= 0xffffffff {
		be.PutUint32(e.buf[e.mdatOffset:e.mdatOffset+4], uint32(smallTotal))
		copy(e.buf[e.mdatOffset+4:e.mdatOffset+8], mp4.TypeMdat[:])
		return
	}

	largeTotal := uint64(16 + e.mdatBytes)
	start := e.mdatOffset - 8 // consume the free placeholder
	be.PutUint32(e.buf[start:start+4], 1)
	copy(e.buf[start+4:start+8], mp4.TypeMdat[:])
	be.PutUint64(e.buf[start+8:start+16], largeTotal)
}

func configsOf(tracks []*peTrack) []TrackConfig {
	cfgs := make([]TrackConfig, len(tracks))
	for i, t := range tracks {
		cfgs[i] = t.cfg
	}
	return cfgs
}
