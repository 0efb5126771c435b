package mp4

// Common Encryption (CENC) box set, cbcs scheme only (see spec §4.2, §6.5).
//
// Per the open question in spec §9, this package implements the structural
// scaffolding for encrypted sample entries (sinf/schm/schi/tenc, plus
// senc/saiz/saio leaves) but does not perform the actual cbcs block-cipher
// transform over NAL unit payloads — see DESIGN.md for the recorded
// decision. Callers that need genuinely encrypted segments must encrypt
// sample bytes themselves before handing them to the fragmented encoders;
// this package only emits the boxes a conformant cbcs reader expects.

// Frma names the sample entry's original (pre-encryption) box type.
type Frma struct {
	DataFormat BoxType
}

// Schm describes the protection scheme applied to a sample entry.
type Schm struct {
	SchemeType    [4]byte // "cbcs"
	SchemeVersion uint32  // 0x00010000
}

// Tenc carries the default per-track encryption parameters.
type Tenc struct {
	Version                uint8
	DefaultCryptByteBlock  uint8
	DefaultSkipByteBlock   uint8
	DefaultIsProtected     uint8
	DefaultPerSampleIVSize uint8
	DefaultKID             [16]byte
	DefaultConstantIV      []byte // 8 or 16 bytes, present iff IsProtected==1 && PerSampleIVSize==0
}

// SencEntry holds one sample's auxiliary encryption info: an IV plus,
// when subsample encryption is in use, a list of (clear, encrypted) runs.
type SencEntry struct {
	IV         []byte
	Subsamples []SencSubsample
}

// SencSubsample is one (bytes_of_clear_data, bytes_of_protected_data) run.
type SencSubsample struct {
	ClearBytes     uint16
	ProtectedBytes uint32
}

// Senc represents the sample encryption box (scaffolding only; see package doc).
type Senc struct {
	Flags   uint32
	Entries []SencEntry
}

// SampleAuxInfoSizes represents the saiz box: per-sample size of the
// auxiliary (IV/subsample) info written into a paired senc box.
type SampleAuxInfoSizes struct {
	DefaultSize uint8
	Sizes       []uint8 // present only when DefaultSize == 0
}

// SampleAuxInfoOffsets represents the saio box: absolute offsets to each
// sample's auxiliary info, relative to the start of the containing segment.
type SampleAuxInfoOffsets struct {
	Offsets []uint64
}

func init() {
	codecs[TypeFrma] = &codec{decodeFrma, encodeFrma, encodingLengthFrma}
	codecs[TypeSchm] = &codec{decodeSchm, encodeSchm, encodingLengthSchm}
	codecs[TypeTenc] = &codec{decodeTenc, encodeTenc, encodingLengthTenc}
	codecs[TypeSenc] = &codec{decodeSenc, encodeSenc, encodingLengthSenc}
	codecs[TypeSaiz] = &codec{decodeSaiz, encodeSaiz, encodingLengthSaiz}
	codecs[TypeSaio] = &codec{decodeSaio, encodeSaio, encodingLengthSaio}
}

// --- frma ---

func decodeFrma(box *Box, buf []byte, start, _ int) error {
	f := &Frma{}
	copy(f.DataFormat[:], buf[start:start+4])
	box.Frma = f
	return nil
}

func encodeFrma(box *Box, buf []byte, offset int) int {
	copy(buf[offset:offset+4], box.Frma.DataFormat[:])
	return 4
}

func encodingLengthFrma(_ *Box) int { return 4 }

// --- schm ---

func decodeSchm(box *Box, buf []byte, start, _ int) error {
	b := buf[start:]
	s := &Schm{SchemeVersion: be.Uint32(b[4:8])}
	copy(s.SchemeType[:], b[0:4])
	box.Schm = s
	return nil
}

func encodeSchm(box *Box, buf []byte, offset int) int {
	b := buf[offset:]
	s := box.Schm
	copy(b[0:4], s.SchemeType[:])
	be.PutUint32(b[4:8], s.SchemeVersion)
	return 8
}

func encodingLengthSchm(_ *Box) int { return 8 }

// --- tenc ---

func decodeTenc(box *Box, buf []byte, start, _ int) error {
	b := buf[start:]
	t := &Tenc{}
	if b[1] != 0 {
		t.DefaultCryptByteBlock = b[1] >> 4
		t.DefaultSkipByteBlock = b[1] & 0x0f
	}
	t.DefaultIsProtected = b[2]
	t.DefaultPerSampleIVSize = b[3]
	copy(t.DefaultKID[:], b[4:20])
	ptr := 20
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 && len(b) > ptr {
		ivSize := int(b[ptr])
		ptr++
		if ivSize > 0 && len(b) >= ptr+ivSize {
			t.DefaultConstantIV = append([]byte(nil), b[ptr:ptr+ivSize]...)
		}
	}
	box.Tenc = t
	return nil
}

func encodeTenc(box *Box, buf []byte, offset int) int {
	b := buf[offset:]
	t := box.Tenc
	b[0] = 0
	b[1] = t.DefaultCryptByteBlock<<4 | t.DefaultSkipByteBlock&0x0f
	b[2] = t.DefaultIsProtected
	b[3] = t.DefaultPerSampleIVSize
	copy(b[4:20], t.DefaultKID[:])
	ptr := 20
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		b[ptr] = byte(len(t.DefaultConstantIV))
		ptr++
		copy(b[ptr:], t.DefaultConstantIV)
		ptr += len(t.DefaultConstantIV)
	}
	return ptr
}

func encodingLengthTenc(box *Box) int {
	t := box.Tenc
	n := 20
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		n += 1 + len(t.DefaultConstantIV)
	}
	return n
}

// --- senc (scaffolding; see package doc) ---

func decodeSenc(box *Box, buf []byte, start, end int) error {
	b := buf[start:end]
	if len(b) < 4 {
		box.Senc = &Senc{}
		return nil
	}
	s := &Senc{Flags: box.Flags}
	num := int(be.Uint32(b[0:4]))
	ptr := 4
	useSubsamples := s.Flags&0x000002 != 0
	for i := 0; i < num && ptr+8 <= len(b); i++ {
		e := SencEntry{IV: append([]byte(nil), b[ptr:ptr+8]...)}
		ptr += 8
		if useSubsamples && ptr+2 <= len(b) {
			subCount := int(be.Uint16(b[ptr:]))
			ptr += 2
			for j := 0; j < subCount && ptr+6 <= len(b); j++ {
				e.Subsamples = append(e.Subsamples, SencSubsample{
					ClearBytes:     be.Uint16(b[ptr:]),
					ProtectedBytes: be.Uint32(b[ptr+2:]),
				})
				ptr += 6
			}
		}
		s.Entries = append(s.Entries, e)
	}
	box.Senc = s
	return nil
}

func encodeSenc(box *Box, buf []byte, offset int) int {
	b := buf[offset:]
	s := box.Senc
	be.PutUint32(b[0:4], uint32(len(s.Entries)))
	ptr := 4
	useSubsamples := s.Flags&0x000002 != 0
	for _, e := range s.Entries {
		copy(b[ptr:], e.IV)
		ptr += len(e.IV)
		if useSubsamples {
			be.PutUint16(b[ptr:], uint16(len(e.Subsamples)))
			ptr += 2
			for _, ss := range e.Subsamples {
				be.PutUint16(b[ptr:], ss.ClearBytes)
				be.PutUint32(b[ptr+2:], ss.ProtectedBytes)
				ptr += 6
			}
		}
	}
	return ptr
}

func encodingLengthSenc(box *Box) int {
	s := box.Senc
	n := 4
	useSubsamples := s.Flags&0x000002 != 0
	for _, e := range s.Entries {
		n += len(e.IV)
		if useSubsamples {
			n += 2 + len(e.Subsamples)*6
		}
	}
	return n
}

// --- saiz ---

func decodeSaiz(box *Box, buf []byte, start, end int) error {
	b := buf[start:end]
	s := &SampleAuxInfoSizes{DefaultSize: b[0]}
	count := int(be.Uint32(b[1:5]))
	if s.DefaultSize == 0 {
		s.Sizes = append([]byte(nil), b[5:5+count]...)
	}
	box.Saiz = s
	return nil
}

func encodeSaiz(box *Box, buf []byte, offset int) int {
	b := buf[offset:]
	s := box.Saiz
	b[0] = s.DefaultSize
	be.PutUint32(b[1:5], uint32(len(s.Sizes)))
	if s.DefaultSize == 0 {
		copy(b[5:], s.Sizes)
		return 5 + len(s.Sizes)
	}
	return 5
}

func encodingLengthSaiz(box *Box) int {
	if box.Saiz.DefaultSize == 0 {
		return 5 + len(box.Saiz.Sizes)
	}
	return 5
}

// --- saio ---

func decodeSaio(box *Box, buf []byte, start, _ int) error {
	b := buf[start:]
	num := int(be.Uint32(b[0:4]))
	s := &SampleAuxInfoOffsets{Offsets: make([]uint64, num)}
	for i := 0; i < num; i++ {
		s.Offsets[i] = uint64(be.Uint32(b[4+i*4:]))
	}
	box.Saio = s
	return nil
}

func encodeSaio(box *Box, buf []byte, offset int) int {
	b := buf[offset:]
	s := box.Saio
	be.PutUint32(b[0:4], uint32(len(s.Offsets)))
	for i, o := range s.Offsets {
		be.PutUint32(b[4+i*4:], uint32(o))
	}
	return 4 + len(s.Offsets)*4
}

func encodingLengthSaio(box *Box) int {
	return 4 + len(box.Saio.Offsets)*4
}
