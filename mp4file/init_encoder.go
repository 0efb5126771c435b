package mp4file

import "github.com/tetsuo/corestream"

// BuildInitSegment builds a fragmented-MP4 initialization segment: ftyp
// (major=iso5, compatible=iso6,mp41) plus a moov carrying mvhd (duration=0),
// one trak per track with an empty sample table, and mvex with one trex per
// track, per spec §4.5.
func BuildInitSegment(tracks []TrackConfig) ([]byte, error) {
	w := mp4.NewWriter(nil)
	w.WriteFtyp([4]byte{'i', 's', 'o', '5'}, 0, [][4]byte{{'i', 's', 'o', '6'}, {'m', 'p', '4', '1'}})

	moov := mp4.NewBox(mp4.TypeMoov)
	moov.Append(buildMvhd(tracksTimescale(tracks), 0, tracks))

	for _, cfg := range tracks {
		moov.Append(buildTrak(cfg, 0, buildEmptyStbl(cfg)))
	}

	mvex := mp4.NewBox(mp4.TypeMvex)
	for _, cfg := range tracks {
		trex := mp4.NewBox(mp4.TypeTrex)
		trex.Trex = &mp4.Trex{
			TrackId:                       cfg.ID,
			DefaultSampleDescriptionIndex: 1,
		}
		mvex.Append(trex)
	}
	moov.Append(mvex)

	moovBytes, err := mp4.EncodeToBytes(moov)
	if err != nil {
		return nil, err
	}

	buf := w.Bytes()
	buf = append(buf, moovBytes...)
	return buf, nil
}

func tracksTimescale(tracks []TrackConfig) uint32 {
	for _, t := range tracks {
		if t.TimeScale != 0 {
			return t.TimeScale
		}
	}
	return 1000
}
