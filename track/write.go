package track

import "github.com/tetsuo/corestream"

// BuildTables appends stts/stss/ctts/stsc/stsz/stco(or co64) to stbl for one
// track's samples, implementing the "Write (encoder path)" algorithm of
// spec §4.3. stbl must already contain its stsd child; samples must be in
// file order with Offset/Size/Duration/PresentationOffset/IsSync populated.
func BuildTables(stbl *mp4.Box, samples []Sample, isVideo bool) {
	stbl.Append(buildStts(samples))
	if isVideo {
		if stss := buildStss(samples); stss != nil {
			stbl.Append(stss)
		}
		if ctts := buildCtts(samples); ctts != nil {
			stbl.Append(ctts)
		}
	}
	stbl.Append(buildStsc(samples))
	stbl.Append(buildStsz(samples))
	stbl.Append(buildChunkOffsets(samples))
}

// buildStts coalesces equal DTS deltas into (count, delta) runs.
func buildStts(samples []Sample) *mp4.Box {
	box := mp4.NewBox(mp4.TypeStts)
	s := &mp4.Stts{}
	if len(samples) == 0 {
		box.Stts = s
		return box
	}

	last := samples[0].Duration
	count := uint32(1)
	for _, sm := range samples[1:] {
		if sm.Duration == last {
			count++
			continue
		}
		s.Entries = append(s.Entries, mp4.STTSEntry{Count: count, Duration: last})
		last = sm.Duration
		count = 1
	}
	s.Entries = append(s.Entries, mp4.STTSEntry{Count: count, Duration: last})
	box.Stts = s
	return box
}

// buildStss lists 1-based indices of key samples. Returns nil when every
// sample is a key frame (spec §4.2: absent stss means every sample is key).
func buildStss(samples []Sample) *mp4.Box {
	var idx []uint32
	allSync := true
	for i, sm := range samples {
		if sm.IsSync {
			idx = append(idx, uint32(i+1))
		} else {
			allSync = false
		}
	}
	if allSync {
		return nil
	}
	box := mp4.NewBox(mp4.TypeStss)
	box.Stco = &mp4.Stco{Entries: idx}
	return box
}

// buildCtts coalesces equal composition offsets into runs, setting
// version=1 iff any offset is negative. Returns nil when every offset is
// zero (no ctts needed).
func buildCtts(samples []Sample) *mp4.Box {
	hasOffset := false
	negative := false
	for _, sm := range samples {
		if sm.PresentationOffset != 0 {
			hasOffset = true
		}
		if sm.PresentationOffset < 0 {
			negative = true
		}
	}
	if !hasOffset {
		return nil
	}

	box := mp4.NewBox(mp4.TypeCtts)
	if negative {
		box.Version = 1
	}

	s := &mp4.Ctts{}
	last := samples[0].PresentationOffset
	count := uint32(1)
	for _, sm := range samples[1:] {
		if sm.PresentationOffset == last {
			count++
			continue
		}
		s.Entries = append(s.Entries, mp4.CTTSEntry{Count: count, CompositionOffset: last})
		last = sm.PresentationOffset
		count = 1
	}
	s.Entries = append(s.Entries, mp4.CTTSEntry{Count: count, CompositionOffset: last})
	box.Ctts = s
	return box
}

// buildStsc emits the single (first=1, samples_per_chunk=1, sdi=1) run
// mandated by spec §4.3's write algorithm: every sample is its own chunk, so
// it pairs correctly with buildChunkOffsets' one-offset-per-sample table.
func buildStsc(samples []Sample) *mp4.Box {
	box := mp4.NewBox(mp4.TypeStsc)
	box.Stsc = &mp4.Stsc{Entries: []mp4.STSCEntry{{
		FirstChunk:          1,
		SamplesPerChunk:     1,
		SampleDescriptionId: 1,
	}}}
	return box
}

// buildStsz emits per-sample sizes (variable mode).
func buildStsz(samples []Sample) *mp4.Box {
	box := mp4.NewBox(mp4.TypeStsz)
	entries := make([]uint32, len(samples))
	for i, sm := range samples {
		entries[i] = sm.Size
	}
	box.Stsz = &mp4.Stsz{SampleSize: 0, Entries: entries}
	return box
}

// buildChunkOffsets picks stco (32-bit) unless the largest sample offset
// requires co64 (64-bit), per spec §4.3.
func buildChunkOffsets(samples []Sample) *mp4.Box {
	var maxOff int64
	for _, sm := range samples {
		if sm.Offset > maxOff {
			maxOff = sm.Offset
		}
	}

	if maxOff < 1<<32 {
		box := mp4.NewBox(mp4.TypeStco)
		entries := make([]uint32, len(samples))
		for i, sm := range samples {
			entries[i] = uint32(sm.Offset)
		}
		box.Stco = &mp4.Stco{Entries: entries}
		return box
	}

	box := mp4.NewBox(mp4.TypeCo64)
	entries := make([]uint64, len(samples))
	for i, sm := range samples {
		entries[i] = uint64(sm.Offset)
	}
	box.Co64 = &mp4.Co64{Entries: entries}
	return box
}
