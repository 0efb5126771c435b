package mp4

// writerFrame remembers where an open box's header was written so EndBox
// can patch in the final size.
type writerFrame struct {
	headerStart int // offset of the 4-byte size field
	bodyStart   int // offset just past the header (and FullBox fields, if any)
}

const maxWriterDepth = 16

// Writer builds an ISOBMFF buffer box by box without a tree allocation,
// mirroring Reader's zero-allocation philosophy on the encode side (spec
// §4.1, §4.4's progressive encoder). Callers reserve buf up front; Writer
// grows it with append as needed.
type Writer struct {
	buf   []byte
	stack [maxWriterDepth]writerFrame
	depth int
}

// NewWriter creates a Writer over buf, truncated to zero length so callers
// can reuse a preallocated backing array across iterations.
func NewWriter(buf []byte) Writer {
	return Writer{buf: buf[:0]}
}

// Bytes returns the bytes written so far. Valid only once every opened box
// has been closed with EndBox.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) grow(n int) int {
	start := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return start
}

func (w *Writer) putType(t BoxType) {
	start := len(w.buf) - 4
	copy(w.buf[start:start+4], t[:])
}

// StartBox opens a container box of type t, reserving its 8-byte header.
// The size is patched in by the matching EndBox.
func (w *Writer) StartBox(t BoxType) {
	headerStart := w.grow(8)
	w.putType(t)
	w.stack[w.depth] = writerFrame{headerStart: headerStart, bodyStart: len(w.buf)}
	w.depth++
}

// EndBox closes the most recently opened box, patching its size field.
func (w *Writer) EndBox() {
	w.depth--
	f := w.stack[w.depth]
	size := uint32(len(w.buf) - f.headerStart)
	be.PutUint32(w.buf[f.headerStart:f.headerStart+4], size)
}

func (w *Writer) writeFullBoxHeader(t BoxType, version uint8, flags uint32) {
	start := w.grow(12)
	be.PutUint32(w.buf[start:], 0) // size patched by caller's leaf write
	copy(w.buf[start+4:start+8], t[:])
	vf := uint32(version)<<24 | flags&0x00ffffff
	be.PutUint32(w.buf[start+8:start+12], vf)
}

func (w *Writer) writeBoxHeader(t BoxType) int {
	start := w.grow(8)
	copy(w.buf[start+4:start+8], t[:])
	return start
}

func (w *Writer) patchLeafSize(headerStart int) {
	be.PutUint32(w.buf[headerStart:headerStart+4], uint32(len(w.buf)-headerStart))
}

// WriteFtyp appends a complete ftyp box.
func (w *Writer) WriteFtyp(majorBrand [4]byte, minorVersion uint32, compatible [][4]byte) {
	start := w.writeBoxHeader(TypeFtyp)
	n := w.grow(8 + len(compatible)*4)
	copy(w.buf[n:n+4], majorBrand[:])
	be.PutUint32(w.buf[n+4:n+8], minorVersion)
	for i, brand := range compatible {
		copy(w.buf[n+8+i*4:], brand[:])
	}
	w.patchLeafSize(start)
}

// WriteMvhd appends a complete mvhd box: version 0 with 32-bit fields, or
// version 1 with 64-bit times and duration when duration overflows uint32.
func (w *Writer) WriteMvhd(timescale uint32, duration uint64, nextTrackId uint32) {
	if duration > 0xffffffff {
		w.writeMvhd64(timescale, duration, nextTrackId)
		return
	}
	w.writeFullBoxHeader(TypeMvhd, 0, 0)
	n := w.grow(96)
	be.PutUint32(w.buf[n+8:n+12], timescale)
	be.PutUint32(w.buf[n+12:n+16], uint32(duration))
	be.PutUint32(w.buf[n+16:n+20], 1<<16) // PreferredRate = 1.0 (16.16)
	be.PutUint16(w.buf[n+20:n+22], 1<<8) // PreferredVolume = 1.0 (8.8)
	writeUnityMatrix(w.buf[n+32 : n+68])
	be.PutUint32(w.buf[n+92:n+96], nextTrackId)
	w.patchLeafSize(n - 12)
}

func (w *Writer) writeMvhd64(timescale uint32, duration uint64, nextTrackId uint32) {
	w.writeFullBoxHeader(TypeMvhd, 1, 0)
	n := w.grow(108)
	be.PutUint32(w.buf[n+16:n+20], timescale)
	be.PutUint64(w.buf[n+20:n+28], duration)
	be.PutUint32(w.buf[n+28:n+32], 1<<16)
	be.PutUint16(w.buf[n+32:n+34], 1<<8)
	writeUnityMatrix(w.buf[n+44 : n+80])
	be.PutUint32(w.buf[n+104:n+108], nextTrackId)
	w.patchLeafSize(n - 12)
}

func writeUnityMatrix(m []byte) {
	be.PutUint32(m[0:4], 1<<16)
	be.PutUint32(m[16:20], 1<<16)
	be.PutUint32(m[32:36], 1<<30)
}

// WriteTkhd appends a complete tkhd box (version 0 unless duration
// overflows uint32). width/height are 16.16 fixed-point.
func (w *Writer) WriteTkhd(flags uint32, trackId uint32, duration uint64, width, height uint32) {
	if duration > 0xffffffff {
		w.writeTkhd64(flags, trackId, duration, width, height)
		return
	}
	w.writeFullBoxHeader(TypeTkhd, 0, flags)
	n := w.grow(80)
	be.PutUint32(w.buf[n+8:n+12], trackId)
	be.PutUint32(w.buf[n+16:n+20], uint32(duration))
	be.PutUint16(w.buf[n+32:n+34], 0) // Volume = 0 (video track)
	writeUnityMatrix(w.buf[n+36 : n+72])
	be.PutUint32(w.buf[n+72:n+76], width)
	be.PutUint32(w.buf[n+76:n+80], height)
	w.patchLeafSize(n - 12)
}

func (w *Writer) writeTkhd64(flags uint32, trackId uint32, duration uint64, width, height uint32) {
	w.writeFullBoxHeader(TypeTkhd, 1, flags)
	n := w.grow(96)
	be.PutUint32(w.buf[n+16:n+20], trackId)
	be.PutUint64(w.buf[n+24:n+32], duration)
	be.PutUint16(w.buf[n+48:n+50], 0)
	writeUnityMatrix(w.buf[n+52 : n+88])
	be.PutUint32(w.buf[n+88:n+92], width)
	be.PutUint32(w.buf[n+92:n+96], height)
	w.patchLeafSize(n - 12)
}

// WriteMdhd appends a complete mdhd box (version 0 unless duration
// overflows uint32).
func (w *Writer) WriteMdhd(timescale uint32, duration uint64, language uint16) {
	if duration > 0xffffffff {
		w.writeFullBoxHeader(TypeMdhd, 1, 0)
		n := w.grow(32)
		be.PutUint32(w.buf[n+16:n+20], timescale)
		b := w.buf[n+20 : n+26]
		b[0] = byte(duration >> 40)
		b[1] = byte(duration >> 32)
		b[2] = byte(duration >> 24)
		b[3] = byte(duration >> 16)
		b[4] = byte(duration >> 8)
		b[5] = byte(duration)
		be.PutUint16(w.buf[n+28:n+30], language)
		w.patchLeafSize(n - 12)
		return
	}
	w.writeFullBoxHeader(TypeMdhd, 0, 0)
	n := w.grow(20)
	be.PutUint32(w.buf[n+8:n+12], timescale)
	be.PutUint32(w.buf[n+12:n+16], uint32(duration))
	be.PutUint16(w.buf[n+16:n+18], language)
	w.patchLeafSize(n - 12)
}

// WriteHdlr appends a complete hdlr box.
func (w *Writer) WriteHdlr(handlerType [4]byte, name string) {
	w.writeFullBoxHeader(TypeHdlr, 0, 0)
	n := w.grow(20 + len(name) + 1)
	copy(w.buf[n+4:n+8], handlerType[:])
	copy(w.buf[n+20:], name)
	w.patchLeafSize(n - 12)
}

// WriteTrex appends a complete trex box.
func (w *Writer) WriteTrex(trackId, defSampleDescIdx, defSampleDuration, defSampleSize, defSampleFlags uint32) {
	w.writeFullBoxHeader(TypeTrex, 0, 0)
	n := w.grow(20)
	be.PutUint32(w.buf[n:n+4], trackId)
	be.PutUint32(w.buf[n+4:n+8], defSampleDescIdx)
	be.PutUint32(w.buf[n+8:n+12], defSampleDuration)
	be.PutUint32(w.buf[n+12:n+16], defSampleSize)
	be.PutUint32(w.buf[n+16:n+20], defSampleFlags)
	w.patchLeafSize(n - 12)
}

// WriteMehd appends a complete mehd box.
func (w *Writer) WriteMehd(fragmentDuration uint64) {
	if fragmentDuration > 0xffffffff {
		w.writeFullBoxHeader(TypeMehd, 1, 0)
		n := w.grow(8)
		be.PutUint64(w.buf[n:n+8], fragmentDuration)
		w.patchLeafSize(n - 12)
		return
	}
	w.writeFullBoxHeader(TypeMehd, 0, 0)
	n := w.grow(4)
	be.PutUint32(w.buf[n:n+4], uint32(fragmentDuration))
	w.patchLeafSize(n - 12)
}

// WriteMfhd appends a complete mfhd box.
func (w *Writer) WriteMfhd(sequenceNumber uint32) {
	w.writeFullBoxHeader(TypeMfhd, 0, 0)
	n := w.grow(4)
	be.PutUint32(w.buf[n:n+4], sequenceNumber)
	w.patchLeafSize(n - 12)
}

// WriteTfhd appends a complete tfhd box with the given flags and trackId.
func (w *Writer) WriteTfhd(flags uint32, trackId uint32) {
	w.writeFullBoxHeader(TypeTfhd, 0, flags)
	n := w.grow(4)
	be.PutUint32(w.buf[n:n+4], trackId)
	w.patchLeafSize(n - 12)
}

// WriteTfdt appends a complete tfdt box (version 1: 64-bit base decode time).
func (w *Writer) WriteTfdt(baseMediaDecodeTime uint64) {
	w.writeFullBoxHeader(TypeTfdt, 1, 0)
	n := w.grow(8)
	be.PutUint64(w.buf[n:n+8], baseMediaDecodeTime)
	w.patchLeafSize(n - 12)
}

// WriteTrun appends a complete trun box. dataOffset is written only if
// TrunDataOffsetPresent is set in flags. Version is 0 unless any entry has
// a negative CTSOffset, per spec §4.3 ("set trun version=1 iff any
// cts-offset is negative").
func (w *Writer) WriteTrun(flags uint32, dataOffset int32, entries []TrunEntryInfo) {
	version := uint8(0)
	for _, e := range entries {
		if e.CTSOffset < 0 {
			version = 1
			break
		}
	}
	w.writeFullBoxHeader(TypeTrun, version, flags)
	headerLen := 4
	if flags&TrunDataOffsetPresent != 0 {
		headerLen += 4
	}
	entrySize := 0
	if flags&TrunSampleDurationPresent != 0 {
		entrySize += 4
	}
	if flags&TrunSampleSizePresent != 0 {
		entrySize += 4
	}
	if flags&TrunSampleFlagsPresent != 0 {
		entrySize += 4
	}
	if flags&TrunSampleCTSPresent != 0 {
		entrySize += 4
	}
	n := w.grow(headerLen + entrySize*len(entries))
	be.PutUint32(w.buf[n:n+4], uint32(len(entries)))
	p := n + 4
	if flags&TrunDataOffsetPresent != 0 {
		be.PutUint32(w.buf[p:p+4], uint32(dataOffset))
		p += 4
	}
	for _, e := range entries {
		if flags&TrunSampleDurationPresent != 0 {
			be.PutUint32(w.buf[p:p+4], e.Duration)
			p += 4
		}
		if flags&TrunSampleSizePresent != 0 {
			be.PutUint32(w.buf[p:p+4], e.Size)
			p += 4
		}
		if flags&TrunSampleFlagsPresent != 0 {
			be.PutUint32(w.buf[p:p+4], e.Flags)
			p += 4
		}
		if flags&TrunSampleCTSPresent != 0 {
			be.PutUint32(w.buf[p:p+4], uint32(e.CTSOffset))
			p += 4
		}
	}
	w.patchLeafSize(n - 12)
}

// WriteMdat appends an mdat header followed by payload. A zero-length
// payload reserves the header only, for callers that will fill it in place
// and patch the size themselves (spec §4.4's placeholder trick).
func (w *Writer) WriteMdat(payload []byte) {
	start := w.writeBoxHeader(TypeMdat)
	w.buf = append(w.buf, payload...)
	w.patchLeafSize(start)
}

// WriteStyp appends a complete styp box (segment type, spec §4.5).
func (w *Writer) WriteStyp(majorBrand [4]byte, minorVersion uint32, compatible [][4]byte) {
	start := w.writeBoxHeader(TypeStyp)
	n := w.grow(8 + len(compatible)*4)
	copy(w.buf[n:n+4], majorBrand[:])
	be.PutUint32(w.buf[n+4:n+8], minorVersion)
	for i, brand := range compatible {
		copy(w.buf[n+8+i*4:], brand[:])
	}
	w.patchLeafSize(start)
}

// WriteFree reserves an n-byte free box (header included), for the
// placeholder trick described in spec §4.4.
func (w *Writer) WriteFree(n int) {
	start := w.writeBoxHeader(TypeFree)
	w.grow(n - 8)
	w.patchLeafSize(start)
}

// WriteSidx appends a complete sidx box with a single reference, which is
// all a one-moof-per-segment CMAF layout needs (spec §4.5).
func (w *Writer) WriteSidx(referenceId, timescale uint32, earliestPresentationTime, firstOffset uint64, referencedSize, subsegmentDuration uint32, startsWithSAP bool, sapType uint8) {
	v1 := earliestPresentationTime > 0xffffffff || firstOffset > 0xffffffff
	version := uint8(0)
	if v1 {
		version = 1
	}
	w.writeFullBoxHeader(TypeSidx, version, 0)

	size := 8 // reference_ID + timescale
	if v1 {
		size += 16
	} else {
		size += 8
	}
	size += 4 + 12 // reserved+reference_count, then one reference entry

	n := w.grow(size)
	be.PutUint32(w.buf[n:n+4], referenceId)
	be.PutUint32(w.buf[n+4:n+8], timescale)
	p := n + 8
	if v1 {
		be.PutUint64(w.buf[p:p+8], earliestPresentationTime)
		be.PutUint64(w.buf[p+8:p+16], firstOffset)
		p += 16
	} else {
		be.PutUint32(w.buf[p:p+4], uint32(earliestPresentationTime))
		be.PutUint32(w.buf[p+4:p+8], uint32(firstOffset))
		p += 8
	}
	be.PutUint16(w.buf[p:p+2], 0) // reserved
	be.PutUint16(w.buf[p+2:p+4], 1)
	p += 4

	be.PutUint32(w.buf[p:p+4], referencedSize&0x7fffffff)
	be.PutUint32(w.buf[p+4:p+8], subsegmentDuration)
	var sap uint32
	if startsWithSAP {
		sap |= 1 << 31
	}
	sap |= uint32(sapType&0xf) << 28
	be.PutUint32(w.buf[p+8:p+12], sap)

	w.patchLeafSize(n - 12)
}
