package mp4file

import "github.com/tetsuo/corestream"

func unityMatrix() [36]byte {
	var m [36]byte
	be32 := func(off int, v uint32) {
		m[off] = byte(v >> 24)
		m[off+1] = byte(v >> 16)
		m[off+2] = byte(v >> 8)
		m[off+3] = byte(v)
	}
	be32(0, 1<<16)
	be32(16, 1<<16)
	be32(32, 1<<30)
	return m
}

func fixed16_16(v uint32) [4]byte {
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func fixed8_8(v uint16) [2]byte {
	return [2]byte{byte(v >> 8), byte(v)}
}

// selfContainedDref builds a dinf/dref pair with a single self-contained
// "url " entry (flags=0x000001, no location string) — every sample
// referenced by this track lives in the same file (spec §4.2).
func selfContainedDref() *mp4.Box {
	dinf := mp4.NewBox(mp4.TypeDinf)
	dref := mp4.NewBox(mp4.TypeDref)
	dref.Dref = &mp4.DrefBox{Entries: []mp4.DrefEntry{{
		Type: [4]byte{'u', 'r', 'l', ' '},
		Buf:  []byte{0x00, 0x00, 0x00, 0x01},
	}}}
	dinf.Append(dref)
	return dinf
}

func sampleEntry(cfg TrackConfig) *mp4.Box {
	entry := cfg.SampleEntry
	if cfg.Encryption != nil {
		entry = wrapProtected(entry, cfg.Encryption)
	}
	return entry
}

// buildEmptyStbl builds the sample table skeleton fragmented tracks carry in
// their init segment: a stsd with the sample entry, and empty stts/stsc/stsz/
// stco, since sample placement lives entirely in moof/traf boxes (spec §4.5).
func buildEmptyStbl(cfg TrackConfig) *mp4.Box {
	stbl := mp4.NewBox(mp4.TypeStbl)

	stsd := mp4.NewBox(mp4.TypeStsd)
	stsd.Stsd = &mp4.Stsd{Entries: []*mp4.Box{sampleEntry(cfg)}}
	stbl.Append(stsd)

	stts := mp4.NewBox(mp4.TypeStts)
	stts.Stts = &mp4.Stts{}
	stbl.Append(stts)

	stsc := mp4.NewBox(mp4.TypeStsc)
	stsc.Stsc = &mp4.Stsc{}
	stbl.Append(stsc)

	stsz := mp4.NewBox(mp4.TypeStsz)
	stsz.Stsz = &mp4.Stsz{}
	stbl.Append(stsz)

	stco := mp4.NewBox(mp4.TypeStco)
	stco.Stco = &mp4.Stco{}
	stbl.Append(stco)

	return stbl
}

// buildMinf builds the media information container for one track: the
// video/sound media header, the data reference, and the sample table
// (either populated with samples, via buildStbl, or the empty fragmented
// skeleton from buildEmptyStbl).
func buildMinf(cfg TrackConfig, stbl *mp4.Box) *mp4.Box {
	minf := mp4.NewBox(mp4.TypeMinf)
	if cfg.Kind == TrackVideo {
		vmhd := mp4.NewBox(mp4.TypeVmhd)
		vmhd.Vmhd = &mp4.Vmhd{}
		minf.Append(vmhd)
	} else {
		smhd := mp4.NewBox(mp4.TypeSmhd)
		smhd.Smhd = &mp4.Smhd{}
		minf.Append(smhd)
	}
	minf.Append(selfContainedDref())
	minf.Append(stbl)
	return minf
}

// buildMdia builds the media container: mdhd, hdlr, minf.
func buildMdia(cfg TrackConfig, duration uint64, minf *mp4.Box) *mp4.Box {
	mdia := mp4.NewBox(mp4.TypeMdia)

	mdhd := mp4.NewBox(mp4.TypeMdhd)
	mdhd.Mdhd = &mp4.Mdhd{
		TimeScale: cfg.TimeScale,
		Duration:  duration,
		Language:  0x55c4, // "und"
		V1:        duration > 0xffffffff,
	}
	mdia.Append(mdhd)

	hdlr := mp4.NewBox(mp4.TypeHdlr)
	if cfg.Kind == TrackVideo {
		hdlr.Hdlr = &mp4.Hdlr{HandlerType: [4]byte{'v', 'i', 'd', 'e'}, Name: "VideoHandler"}
	} else {
		hdlr.Hdlr = &mp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}
	}
	mdia.Append(hdlr)

	mdia.Append(minf)
	return mdia
}

// buildTkhd builds the track header box. flags enables the track
// (0x000001 | in movie 0x000002 | in preview 0x000004 = 0x7), the standard
// posture for a single-presentation track (spec §4.2).
func buildTkhd(cfg TrackConfig, duration uint64) *mp4.Box {
	var volume uint16
	if cfg.Kind == TrackAudio {
		volume = 0x0100
	}
	tkhd := mp4.NewBox(mp4.TypeTkhd)
	tkhd.Flags = 0x7
	tkhd.Tkhd = &mp4.Tkhd{
		TrackId:     cfg.ID,
		Duration:    duration,
		Volume:      volume,
		Matrix:      unityMatrix(),
		TrackWidth:  cfg.Width << 16,
		TrackHeight: cfg.Height << 16,
		V1:          duration > 0xffffffff,
	}
	return tkhd
}

// buildTrak assembles one complete trak box. stbl is the sample table to
// embed (populated or empty, per the caller's encoder).
func buildTrak(cfg TrackConfig, duration uint64, stbl *mp4.Box) *mp4.Box {
	trak := mp4.NewBox(mp4.TypeTrak)
	trak.Append(buildTkhd(cfg, duration))
	trak.Append(buildMdia(cfg, duration, buildMinf(cfg, stbl)))
	return trak
}

// buildMvhd builds the movie header, with nextTrackId one past the highest
// configured track ID.
func buildMvhd(timescale uint32, duration uint64, tracks []TrackConfig) *mp4.Box {
	var nextID uint32 = 1
	for _, t := range tracks {
		if t.ID >= nextID {
			nextID = t.ID + 1
		}
	}
	mvhd := mp4.NewBox(mp4.TypeMvhd)
	mvhd.Mvhd = &mp4.Mvhd{
		TimeScale:       timescale,
		Duration:        duration,
		PreferredRate:   fixed16_16(1 << 16),
		PreferredVolume: fixed8_8(0x0100),
		Matrix:          unityMatrix(),
		NextTrackId:     nextID,
		V1:              duration > 0xffffffff,
	}
	return mvhd
}
