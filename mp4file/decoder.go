package mp4file

import (
	"io"
	"sort"

	"github.com/tetsuo/corestream"
	"github.com/tetsuo/corestream/internal/errs"
	"github.com/tetsuo/corestream/track"
)

var validBrands = map[[4]byte]bool{
	{'i', 's', 'o', 'm'}: true,
	{'i', 's', 'o', '2'}: true,
	{'a', 'v', 'c', '1'}: true,
	{'m', 'p', '4', '1'}: true,
	{'i', 's', 'o', '5'}: true,
}

// FrameTrait classifies one decoded sample for a downstream muxer.
type FrameTrait int

const (
	TraitData FrameTrait = iota
	TraitSequenceHeader
)

// DecodedSample is one sample handed back by Decoder.ReadSample, with
// timestamps converted to milliseconds.
type DecodedSample struct {
	TrackID uint32
	Data    []byte
	DTSMs   int64
	PTSMs   int64
	IsSync  bool
	Trait   FrameTrait
	Codec   string // non-empty only for Trait == TraitSequenceHeader
}

// Decoder reads a whole progressive MP4 file from a seekable source and
// iterates its samples in file order, per spec §4.6.
type Decoder struct {
	r      io.ReadSeeker
	tracks []*track.Track

	seqSent map[uint32]bool
	queue   []queuedSample
	pos     int
}

type queuedSample struct {
	trackID   uint32
	timescale uint32
	offset    int64
	size      uint32
	dts       int64
	ptsOffset int32
	isSync    bool
}

// Open scans top-level boxes from r, validates ftyp, locates moov (handling
// an mdat that precedes it by recording its offset and seeking back once
// moov is fully read), and parses every track's sample tables.
func Open(r io.ReadSeeker) (*Decoder, error) {
	sc := mp4.NewScanner(r)

	var moovBuf []byte
	var mdatOffset int64 = -1
	var sawFtyp bool

	for sc.Next() {
		entry := sc.Entry()
		switch entry.Type {
		case mp4.TypeFtyp:
			buf := make([]byte, entry.DataSize())
			if err := sc.ReadBody(buf); err != nil {
				return nil, err
			}
			info := mp4.ReadFtyp(buf)
			if !validBrands[info.MajorBrand] {
				return nil, errs.NewBoxError(errs.KindIllegalBrand, "open", nil)
			}
			sawFtyp = true
		case mp4.TypeMdat:
			if cur, err := r.Seek(0, io.SeekCurrent); err == nil {
				mdatOffset = cur - entry.HeaderSize
			}
		case mp4.TypeMoov:
			buf := make([]byte, entry.Size)
			if _, err := r.Seek(-entry.HeaderSize, io.SeekCurrent); err != nil {
				return nil, err
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
			moovBuf = buf
		}
		if moovBuf != nil {
			break
		}
	}
	if err := sc.Err(); err != nil && moovBuf == nil {
		return nil, err
	}
	if !sawFtyp {
		return nil, errs.NewBoxError(errs.KindIllegalBrand, "open", nil)
	}
	if moovBuf == nil {
		return nil, errs.NewBoxError(errs.KindIllegalMoov, "open", nil)
	}

	tracks, _, err := track.ParseTracks(moovBuf)
	if err != nil {
		return nil, err
	}

	if mdatOffset >= 0 {
		if _, err := r.Seek(mdatOffset, io.SeekStart); err != nil {
			return nil, err
		}
	}

	d := &Decoder{r: r, tracks: tracks, seqSent: make(map[uint32]bool)}
	d.buildQueue()
	return d, nil
}

func (d *Decoder) buildQueue() {
	var video, audio *track.Track
	for _, t := range d.tracks {
		if len(t.Samples) == 0 {
			continue
		}
		if video == nil && t.Kind == track.TrackVideo {
			video = t
		}
		if audio == nil && t.Kind == track.TrackAudio {
			audio = t
		}
	}

	var jitter int64
	if video != nil && audio != nil {
		maxp := video.Samples[0].DTS
		maxn := audio.Samples[0].DTS
		if maxp*maxn == 0 && maxp+maxn != 0 {
			jitter = maxp - maxn
		}
	}

	for _, t := range d.tracks {
		for _, s := range t.Samples {
			dts := s.DTS
			if audio != nil && t == audio {
				dts += jitter
			}
			d.queue = append(d.queue, queuedSample{
				trackID:   t.ID,
				timescale: t.TimeScale,
				offset:    s.Offset,
				size:      s.Size,
				dts:       dts,
				ptsOffset: s.PresentationOffset,
				isSync:    s.IsSync,
			})
		}
	}
	sort.Slice(d.queue, func(i, j int) bool { return d.queue[i].offset < d.queue[j].offset })
}

// Tracks returns the parsed tracks (codec config, dimensions, sample rate).
func (d *Decoder) Tracks() []*track.Track { return d.tracks }

// ReadSample returns the next sample. Per spec §4.6, the first call for a
// track whose codec config has not been delivered yet returns a
// TraitSequenceHeader sample instead of consuming a data sample. EOF is
// reported as a SYSTEM_FILE_EOF BoxError.
func (d *Decoder) ReadSample() (DecodedSample, error) {
	for _, t := range d.tracks {
		if len(t.Samples) == 0 || d.seqSent[t.ID] {
			continue
		}
		d.seqSent[t.ID] = true
		return DecodedSample{TrackID: t.ID, Trait: TraitSequenceHeader, Codec: t.Codec()}, nil
	}

	if d.pos >= len(d.queue) {
		return DecodedSample{}, errs.NewBoxError(errs.KindFileEOF, "read sample", nil)
	}
	qs := d.queue[d.pos]
	d.pos++

	if _, err := d.r.Seek(qs.offset, io.SeekStart); err != nil {
		return DecodedSample{}, err
	}
	buf := make([]byte, qs.size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return DecodedSample{}, err
	}

	scale := int64(qs.timescale)
	if scale == 0 {
		scale = 1000
	}
	dtsMs := qs.dts * 1000 / scale
	ptsMs := (qs.dts + int64(qs.ptsOffset)) * 1000 / scale

	return DecodedSample{
		TrackID: qs.trackID,
		Data:    buf,
		DTSMs:   dtsMs,
		PTSMs:   ptsMs,
		IsSync:  qs.isSync,
		Trait:   TraitData,
	}, nil
}
