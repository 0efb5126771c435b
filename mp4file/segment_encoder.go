package mp4file

import (
	"github.com/tetsuo/corestream"
	"github.com/tetsuo/corestream/internal/errs"
)

const (
	trunFlagsDefault = mp4.TrunDataOffsetPresent | mp4.TrunSampleDurationPresent |
		mp4.TrunSampleSizePresent | mp4.TrunSampleFlagsPresent | mp4.TrunSampleCTSPresent

	sampleFlagsFirst  = 0x02000000
	sampleFlagsNonKey = 0x01000000

	tfhdDefaultBaseIsMoof = 0x020000
)

// SegmentSample is one sample to place in a CMAF media segment.
type SegmentSample struct {
	Data               []byte
	DTS                int64
	PresentationOffset int32
	IsSync             bool
}

// SegmentInput is one track's contribution to a segment.
type SegmentInput struct {
	TrackID       uint32
	Samples       []SegmentSample
	SegmentEndDTS int64 // used to derive the last sample's duration
}

// BuildSegment builds one CMAF media segment: styp + sidx + moof(mfhd +
// one traf per track) + mdat, per spec §4.5. sequenceNumber is the moof
// sequence_number; baseDecodeTimes maps track ID to its tfdt base.
func BuildSegment(sequenceNumber uint32, inputs []SegmentInput, baseDecodeTimes map[uint32]uint64) ([]byte, error) {
	if len(inputs) == 0 {
		return nil, errs.NewBoxError(errs.KindIllegalMdat, "build segment", nil)
	}

	w := mp4.NewWriter(nil)
	w.WriteStyp([4]byte{'m', 's', 'd', 'h'}, 0, [][4]byte{{'m', 's', 'd', 'h'}, {'m', 's', 'i', 'x'}})

	var totalDuration uint32
	for _, in := range inputs {
		if d := segmentDuration(in); d > totalDuration {
			totalDuration = d
		}
	}
	w.WriteSidx(inputs[0].TrackID, 0, uint64(baseDecodeTimes[inputs[0].TrackID]), 0, 0, totalDuration, true, 1)
	sidxEnd := w.Len()

	moofStart := w.Len()
	w.StartBox(mp4.TypeMoof)
	w.WriteMfhd(sequenceNumber)

	// data_offset for each track's trun, computed once moof's size is
	// known: size(moof) + mdat_header_size, plus the running size of any
	// preceding track's payload already placed earlier in mdat.
	trunPlaceholders := make([]int, len(inputs))
	for i, in := range inputs {
		w.StartBox(mp4.TypeTraf)

		w.WriteTfhd(tfhdDefaultBaseIsMoof, in.TrackID)
		w.WriteTfdt(baseDecodeTimes[in.TrackID])

		entries := make([]mp4.TrunEntryInfo, len(in.Samples))
		for j, s := range in.Samples {
			flags := uint32(sampleFlagsNonKey)
			if j == 0 {
				flags = sampleFlagsFirst
			}
			entries[j] = mp4.TrunEntryInfo{
				Duration:  sampleDuration(in, j),
				Size:      uint32(len(s.Data)),
				Flags:     flags,
				CTSOffset: s.PresentationOffset,
			}
		}

		trunPlaceholders[i] = w.Len()
		w.WriteTrun(trunFlagsDefault, 0, entries)

		w.EndBox() // traf
	}
	w.EndBox() // moof

	mdatHeaderSize := 8
	mdatStart := w.Len()
	buf := w.Bytes()
	buf = append(buf, make([]byte, 8)...) // mdat header placeholder
	payloadStart := len(buf)
	var trackPayloadStart []int
	for _, in := range inputs {
		trackPayloadStart = append(trackPayloadStart, len(buf))
		for _, s := range in.Samples {
			buf = append(buf, s.Data...)
		}
	}

	moofSize := mdatStart - moofStart
	for i := range inputs {
		dataOffset := int32(moofSize + mdatHeaderSize + (trackPayloadStart[i] - payloadStart))
		patchTrunDataOffset(buf, trunPlaceholders[i], dataOffset)
	}

	be.PutUint32(buf[mdatStart:mdatStart+4], uint32(len(buf)-mdatStart))
	copy(buf[mdatStart+4:mdatStart+8], mp4.TypeMdat[:])

	// Patch sidx's referenced_size now that the segment's total byte count
	// (moof + mdat) is known.
	be.PutUint32(buf[sidxEnd-12:sidxEnd-8], uint32(len(buf)-sidxEnd)&0x7fffffff)

	return buf, nil
}

func segmentDuration(in SegmentInput) uint32 {
	if len(in.Samples) == 0 {
		return 0
	}
	first := in.Samples[0].DTS
	return uint32(in.SegmentEndDTS - first)
}

func sampleDuration(in SegmentInput, i int) uint32 {
	if i == len(in.Samples)-1 {
		return uint32(in.SegmentEndDTS - in.Samples[i].DTS)
	}
	return uint32(in.Samples[i+1].DTS - in.Samples[i].DTS)
}

// patchTrunDataOffset rewrites the data_offset field of a trun box written
// with TrunDataOffsetPresent, located at buf[headerStart:].
func patchTrunDataOffset(buf []byte, headerStart int, dataOffset int32) {
	be.PutUint32(buf[headerStart+16:headerStart+20], uint32(dataOffset))
}
