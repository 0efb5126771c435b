package mp4

// maxDepth limits the reader's nesting stack (spec §4.1: ~50 concrete node
// types nested no more than a handful of levels deep in practice).
const maxDepth = 16

// readerFrame stores parent state when entering a container box.
type readerFrame struct {
	end    int // parent's iteration end boundary
	boxEnd int // position to resume after exiting this container
}

// Reader provides zero-copy streaming parsing of ISOBMFF boxes over an
// in-memory buffer (spec §4.6's "stream-driven" decode path once a box's
// bytes have been accumulated). It never allocates: Data()/RawBox() return
// slices into the original buffer.
type Reader struct {
	buf []byte
	pos int // next position to parse from
	end int // iteration end boundary

	boxType   BoxType
	boxSize   uint64
	boxStart  int
	boxEnd    int
	dataStart int

	version uint8
	flags   uint32

	stack [maxDepth]readerFrame
	depth int
}

// NewReader creates a Reader for the given buffer.
func NewReader(buf []byte) Reader {
	return Reader{buf: buf, end: len(buf)}
}

// Next advances to the next sibling box. Returns false if no more boxes.
func (r *Reader) Next() bool {
	if r.boxEnd > r.pos {
		r.pos = r.boxEnd
	}

	if r.end-r.pos < 8 {
		return false
	}

	r.boxStart = r.pos
	size := uint64(be.Uint32(r.buf[r.pos:]))
	copy(r.boxType[:], r.buf[r.pos+4:r.pos+8])
	ptr := r.pos + 8

	if size == 1 {
		if r.end-r.pos < 16 {
			return false
		}
		size = be.Uint64(r.buf[ptr:])
		ptr += 8
	}
	if size == 0 {
		size = uint64(r.end - r.pos)
	}

	r.boxSize = size
	r.boxEnd = r.boxStart + int(size)
	if r.boxEnd > r.end {
		return false
	}

	if IsFullBox(r.boxType) {
		if r.boxEnd-ptr < 4 {
			return false
		}
		vf := be.Uint32(r.buf[ptr:])
		r.version = uint8(vf >> 24)
		r.flags = vf & 0x00ffffff
		ptr += 4
	} else {
		r.version = 0
		r.flags = 0
	}

	r.dataStart = ptr
	return true
}

func (r *Reader) Type() BoxType   { return r.boxType }
func (r *Reader) Size() uint64    { return r.boxSize }
func (r *Reader) Version() uint8  { return r.version }
func (r *Reader) Flags() uint32   { return r.flags }
func (r *Reader) Offset() int     { return r.boxStart }
func (r *Reader) DataOffset() int { return r.dataStart }
func (r *Reader) HeaderSize() int { return r.dataStart - r.boxStart }
func (r *Reader) Depth() int      { return r.depth }

// Data returns the current box's data (after all headers). The returned
// slice points into the original buffer.
func (r *Reader) Data() []byte { return r.buf[r.dataStart:r.boxEnd] }

// RawBox returns the entire current box including headers.
func (r *Reader) RawBox() []byte { return r.buf[r.boxStart:r.boxEnd] }

// Enter descends into the current container box to iterate its children.
func (r *Reader) Enter() {
	r.stack[r.depth] = readerFrame{end: r.end, boxEnd: r.boxEnd}
	r.depth++
	r.end = r.boxEnd
	r.pos = r.dataStart
	r.boxEnd = r.dataStart // prevent Next from skipping
}

// Exit returns to the parent container level.
func (r *Reader) Exit() {
	r.depth--
	f := r.stack[r.depth]
	r.end = f.end
	r.pos = f.boxEnd
	r.boxEnd = f.boxEnd
}

// Skip advances the data position by n bytes within the current container.
func (r *Reader) Skip(n int) {
	r.pos += n
	r.boxEnd = r.pos
}

// EntryCount reads the uint32 entry count at the start of box data (stsd, dref).
func (r *Reader) EntryCount() uint32 { return be.Uint32(r.Data()[0:4]) }

// ReadMvhd extracts timescale, duration, and next track ID from an mvhd box.
func (r *Reader) ReadMvhd() (timescale uint32, duration uint64, nextTrackId uint32) {
	data := r.Data()
	if r.Version() == 1 {
		timescale = be.Uint32(data[16:20])
		duration = be.Uint64(data[20:28])
		nextTrackId = be.Uint32(data[104:108])
	} else {
		timescale = be.Uint32(data[8:12])
		duration = uint64(be.Uint32(data[12:16]))
		nextTrackId = be.Uint32(data[92:96])
	}
	return
}

// ReadTkhd extracts trackId, duration, and 16.16 fixed-point width/height.
func (r *Reader) ReadTkhd() (trackId uint32, duration uint64, width, height uint32) {
	data := r.Data()
	if r.Version() == 1 {
		trackId = be.Uint32(data[16:20])
		duration = be.Uint64(data[24:32])
		width = be.Uint32(data[88:92])
		height = be.Uint32(data[92:96])
	} else {
		trackId = be.Uint32(data[8:12])
		duration = uint64(be.Uint32(data[16:20]))
		width = be.Uint32(data[72:76])
		height = be.Uint32(data[76:80])
	}
	return
}

// ReadMdhd extracts timescale, duration, and the packed language code.
func (r *Reader) ReadMdhd() (timescale uint32, duration uint64, language uint16) {
	data := r.Data()
	if r.Version() == 1 {
		timescale = be.Uint32(data[16:20])
		duration = uint64(data[20])<<40 | uint64(data[21])<<32 | uint64(data[22])<<24 |
			uint64(data[23])<<16 | uint64(data[24])<<8 | uint64(data[25])
		language = be.Uint16(data[28:30])
	} else {
		timescale = be.Uint32(data[8:12])
		duration = uint64(be.Uint32(data[12:16]))
		language = be.Uint16(data[16:18])
	}
	return
}

// ReadHdlr extracts the 4-byte handler type from an hdlr box.
func (r *Reader) ReadHdlr() [4]byte {
	var t [4]byte
	copy(t[:], r.Data()[4:8])
	return t
}

// ReadHdlrName extracts the handler name from an hdlr box.
func (r *Reader) ReadHdlrName() string {
	data := r.Data()
	return readString(data, 20, len(data))
}

// ReadMehd extracts the fragment duration from an mehd box.
func (r *Reader) ReadMehd() (fragmentDuration uint64) {
	data := r.Data()
	if r.Version() == 1 {
		return be.Uint64(data[0:8])
	}
	return uint64(be.Uint32(data[0:4]))
}

// ReadTrex extracts trackId and the four default-sample fields from a trex box.
func (r *Reader) ReadTrex() (trackId, defSampleDescIdx, defSampleDuration, defSampleSize, defSampleFlags uint32) {
	data := r.Data()
	trackId = be.Uint32(data[0:4])
	defSampleDescIdx = be.Uint32(data[4:8])
	defSampleDuration = be.Uint32(data[8:12])
	defSampleSize = be.Uint32(data[12:16])
	defSampleFlags = be.Uint32(data[16:20])
	return
}

// ReadMfhd extracts the sequence number from an mfhd box.
func (r *Reader) ReadMfhd() uint32 { return be.Uint32(r.Data()[0:4]) }

// ReadTfhd extracts the track ID from a tfhd box.
func (r *Reader) ReadTfhd() uint32 { return be.Uint32(r.Data()[0:4]) }

// ReadTfdt extracts the base media decode time from a tfdt box.
func (r *Reader) ReadTfdt() uint64 {
	data := r.Data()
	if r.Version() == 1 {
		return be.Uint64(data[0:8])
	}
	return uint64(be.Uint32(data[0:4]))
}

// FtypInfo is the decoded content of an ftyp/styp box.
type FtypInfo struct {
	MajorBrand   [4]byte
	MinorVersion uint32
	Compatible   [][4]byte
}

// ReadFtyp decodes an ftyp/styp box body (data after the box header).
func ReadFtyp(data []byte) FtypInfo {
	f := FtypInfo{MinorVersion: be.Uint32(data[4:8])}
	copy(f.MajorBrand[:], data[0:4])
	for i := 8; i+4 <= len(data); i += 4 {
		var brand [4]byte
		copy(brand[:], data[i:i+4])
		f.Compatible = append(f.Compatible, brand)
	}
	return f
}

// VisualSampleEntryInfo is the fixed-header content of a visual sample
// entry (avc1/hev1), decoded without entering its child boxes.
type VisualSampleEntryInfo struct {
	DataReferenceIndex uint16
	Width, Height      uint16
	CompressorName     string
	ChildOffset        int // byte offset, from the entry's data start, of its first child box
}

// ReadVisualSampleEntry decodes the fixed 78-byte header of a visual
// sample entry. data is the entry's box data (after its own 8-byte header).
func ReadVisualSampleEntry(data []byte) VisualSampleEntryInfo {
	nameLen := int(data[42])
	if nameLen > 31 {
		nameLen = 31
	}
	return VisualSampleEntryInfo{
		DataReferenceIndex: be.Uint16(data[6:8]),
		Width:              be.Uint16(data[24:26]),
		Height:             be.Uint16(data[26:28]),
		CompressorName:     string(data[43 : 43+nameLen]),
		ChildOffset:        78,
	}
}

// AudioSampleEntryInfo is the fixed-header content of an audio sample
// entry (mp4a), decoded without entering its child boxes.
type AudioSampleEntryInfo struct {
	DataReferenceIndex uint16
	ChannelCount       uint16
	SampleSize         uint16
	SampleRate         uint32 // 16.16 fixed point; shift right by 16 for Hz
	ChildOffset        int
}

// ReadAudioSampleEntry decodes the fixed 28-byte header of an audio
// sample entry. data is the entry's box data (after its own 8-byte header).
func ReadAudioSampleEntry(data []byte) AudioSampleEntryInfo {
	return AudioSampleEntryInfo{
		DataReferenceIndex: be.Uint16(data[6:8]),
		ChannelCount:       be.Uint16(data[16:18]),
		SampleSize:         be.Uint16(data[18:20]),
		SampleRate:         be.Uint32(data[24:28]),
		ChildOffset:        28,
	}
}

// ReadAvcC returns the MIME codec suffix ("XXYYZZ" hex profile/compat/level)
// encoded in an avcC box's data.
func ReadAvcC(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 6)
	out[0], out[1] = hex[data[1]>>4], hex[data[1]&0xf]
	out[2], out[3] = hex[data[2]>>4], hex[data[2]&0xf]
	out[4], out[5] = hex[data[3]>>4], hex[data[3]&0xf]
	return string(out)
}

// ReadEsdsCodec returns the "OTI.audioConfig" MIME codec suffix encoded in
// an esds box's data.
func ReadEsdsCodec(data []byte) string {
	oti, audioConfig := parseEsdsOTI(data)
	if oti == 0 {
		return ""
	}
	out := hexByte(oti)
	if audioConfig > 0 {
		out += "." + decimalByte(audioConfig)
	}
	return out
}

func hexByte(b byte) string {
	const hex = "0123456789abcdef"
	if b < 16 {
		return string([]byte{hex[b]})
	}
	return string([]byte{hex[b>>4], hex[b&0xf]})
}

func decimalByte(b byte) string {
	if b < 10 {
		return string([]byte{'0' + b})
	}
	return string([]byte{'0' + b/10, '0' + b%10})
}

// parseEsdsOTI walks the ES_Descriptor tree far enough to recover the
// objectTypeIndication and, for audio, the AudioSpecificConfig's object type.
func parseEsdsOTI(data []byte) (oti, audioConfig byte) {
	desc := decodeDescriptor(data, 0, len(data))
	if desc == nil || desc.tagName != "ESDescriptor" {
		return 0, 0
	}
	dcd, ok := desc.children["DecoderConfigDescriptor"]
	if !ok {
		return 0, 0
	}
	oti = dcd.oti
	if oti == 0 {
		return 0, 0
	}
	if dsi, ok := dcd.children["DecoderSpecificInfo"]; ok && len(dsi.buffer) > 0 {
		audioConfig = (dsi.buffer[0] & 0xf8) >> 3
	}
	return oti, audioConfig
}

// --- sample-table iterators (used by track.ParseTracks and cmd/mp4dump) ---

// StszIter iterates a stsz box's per-sample sizes.
type StszIter struct {
	data       []byte
	sampleSize uint32
	count      uint32
	i          uint32
}

func NewStszIter(data []byte) StszIter {
	return StszIter{data: data, sampleSize: be.Uint32(data[0:4]), count: be.Uint32(data[4:8])}
}

func (it *StszIter) Count() uint32 { return it.count }

func (it *StszIter) Next() (uint32, bool) {
	if it.i >= it.count {
		return 0, false
	}
	var size uint32
	if it.sampleSize != 0 {
		size = it.sampleSize
	} else {
		size = be.Uint32(it.data[8+it.i*4:])
	}
	it.i++
	return size, true
}

// Uint32Iter iterates a count-prefixed list of uint32 entries (stco, stss).
type Uint32Iter struct {
	data  []byte
	count uint32
	i     uint32
}

func NewUint32Iter(data []byte) Uint32Iter {
	return Uint32Iter{data: data, count: be.Uint32(data[0:4])}
}

func (it *Uint32Iter) Count() uint32 { return it.count }

func (it *Uint32Iter) Next() (uint32, bool) {
	if it.i >= it.count {
		return 0, false
	}
	v := be.Uint32(it.data[4+it.i*4:])
	it.i++
	return v, true
}

// Co64Iter iterates a co64 box's 64-bit chunk offsets.
type Co64Iter struct {
	data  []byte
	count uint32
	i     uint32
}

func NewCo64Iter(data []byte) Co64Iter {
	return Co64Iter{data: data, count: be.Uint32(data[0:4])}
}

func (it *Co64Iter) Count() uint32 { return it.count }

func (it *Co64Iter) Next() (uint64, bool) {
	if it.i >= it.count {
		return 0, false
	}
	v := be.Uint64(it.data[4+it.i*8:])
	it.i++
	return v, true
}

// SttsIter iterates a stts box's (count, duration) runs.
type SttsIter struct {
	data  []byte
	count uint32
	i     uint32
}

func NewSttsIter(data []byte) SttsIter {
	return SttsIter{data: data, count: be.Uint32(data[0:4])}
}

func (it *SttsIter) Count() uint32 { return it.count }

func (it *SttsIter) Next() (STTSEntry, bool) {
	if it.i >= it.count {
		return STTSEntry{}, false
	}
	ptr := 4 + it.i*8
	e := STTSEntry{Count: be.Uint32(it.data[ptr:]), Duration: be.Uint32(it.data[ptr+4:])}
	it.i++
	return e, true
}

// CttsEntry is one composition-offset run as seen by CttsIter.
type CttsEntry struct {
	Count  uint32
	Offset int32
}

// CttsIter iterates a ctts box's (count, offset) runs. offset is unsigned
// in v0 and signed in v1 (spec §4.2).
type CttsIter struct {
	data    []byte
	version uint8
	count   uint32
	i       uint32
}

func NewCttsIter(data []byte, version uint8) CttsIter {
	return CttsIter{data: data, version: version, count: be.Uint32(data[0:4])}
}

func (it *CttsIter) Count() uint32 { return it.count }

func (it *CttsIter) Next() (CttsEntry, bool) {
	if it.i >= it.count {
		return CttsEntry{}, false
	}
	ptr := 4 + it.i*8
	e := CttsEntry{Count: be.Uint32(it.data[ptr:]), Offset: int32(be.Uint32(it.data[ptr+4:]))}
	it.i++
	return e, true
}

// StscEntry is one sample-to-chunk run as seen by StscIter.
type StscEntry struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionId uint32
}

// StscIter iterates a stsc box's (first_chunk, samples_per_chunk, sdi) runs.
type StscIter struct {
	data  []byte
	count uint32
	i     uint32
}

func NewStscIter(data []byte) StscIter {
	return StscIter{data: data, count: be.Uint32(data[0:4])}
}

func (it *StscIter) Count() uint32 { return it.count }

func (it *StscIter) Next() (StscEntry, bool) {
	if it.i >= it.count {
		return StscEntry{}, false
	}
	ptr := 4 + it.i*12
	e := StscEntry{
		FirstChunk:          be.Uint32(it.data[ptr:]),
		SamplesPerChunk:     be.Uint32(it.data[ptr+4:]),
		SampleDescriptionId: be.Uint32(it.data[ptr+8:]),
	}
	it.i++
	return e, true
}

// ElstEntryInfo is one edit-list entry as seen by ElstIter.
type ElstEntryInfo struct {
	TrackDuration uint64
	MediaTime     int64
	MediaRateInt  int16
}

// ElstIter iterates an elst box's edit entries. version controls whether
// duration/media-time fields are 32 or 64-bit.
type ElstIter struct {
	data    []byte
	version uint8
	count   uint32
	i       uint32
}

func NewElstIter(data []byte, version uint8) ElstIter {
	return ElstIter{data: data, version: version, count: be.Uint32(data[0:4])}
}

func (it *ElstIter) Count() uint32 { return it.count }

func (it *ElstIter) Next() (ElstEntryInfo, bool) {
	if it.i >= it.count {
		return ElstEntryInfo{}, false
	}
	var e ElstEntryInfo
	var ptr uint32
	entrySize := uint32(12)
	if it.version == 1 {
		entrySize = 20
	}
	ptr = 4 + it.i*entrySize
	if it.version == 1 {
		e.TrackDuration = be.Uint64(it.data[ptr:])
		e.MediaTime = int64(be.Uint64(it.data[ptr+8:]))
		e.MediaRateInt = int16(be.Uint16(it.data[ptr+16:]))
	} else {
		e.TrackDuration = uint64(be.Uint32(it.data[ptr:]))
		e.MediaTime = int64(int32(be.Uint32(it.data[ptr+4:])))
		e.MediaRateInt = int16(be.Uint16(it.data[ptr+8:]))
	}
	it.i++
	return e, true
}

// trun flag bits (spec §4.2).
const (
	TrunDataOffsetPresent       = 0x000001
	TrunFirstSampleFlagsPresent = 0x000004
	TrunSampleDurationPresent   = 0x000100
	TrunSampleSizePresent       = 0x000200
	TrunSampleFlagsPresent      = 0x000400
	TrunSampleCTSPresent        = 0x000800
)

// TrunEntryInfo is one per-sample record as seen by TrunIter.
type TrunEntryInfo struct {
	Duration  uint32
	Size      uint32
	Flags     uint32
	CTSOffset int32
}

// TrunIter iterates a trun box's sample entries according to its flags.
type TrunIter struct {
	data       []byte
	flags      uint32
	version    uint8
	count      uint32
	i          uint32
	entryStart int
	entrySize  int
}

func NewTrunIter(data []byte, flags uint32) TrunIter {
	return NewTrunIterVersion(data, flags, 0)
}

// NewTrunIterVersion is like NewTrunIter but takes the box's version. Next
// reads composition-time offsets as signed 32-bit values for every version.
func NewTrunIterVersion(data []byte, flags uint32, version uint8) TrunIter {
	count := be.Uint32(data[0:4])
	ptr := 4
	if flags&TrunDataOffsetPresent != 0 {
		ptr += 4
	}
	if flags&TrunFirstSampleFlagsPresent != 0 {
		ptr += 4
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
	return TrunIter{data: data, flags: flags, version: version, count: count, entryStart: ptr, entrySize: entrySize}
}

func (it *TrunIter) Count() uint32 { return it.count }

// DataOffset returns the trun's data_offset field (valid only if
// TrunDataOffsetPresent is set).
func (it *TrunIter) DataOffset() int32 {
	if it.flags&TrunDataOffsetPresent == 0 {
		return 0
	}
	return int32(be.Uint32(it.data[4:]))
}

func (it *TrunIter) Next() (TrunEntryInfo, bool) {
	if it.i >= it.count {
		return TrunEntryInfo{}, false
	}
	ptr := it.entryStart + int(it.i)*it.entrySize
	var e TrunEntryInfo
	p := ptr
	if it.flags&TrunSampleDurationPresent != 0 {
		e.Duration = be.Uint32(it.data[p:])
		p += 4
	}
	if it.flags&TrunSampleSizePresent != 0 {
		e.Size = be.Uint32(it.data[p:])
		p += 4
	}
	if it.flags&TrunSampleFlagsPresent != 0 {
		e.Flags = be.Uint32(it.data[p:])
		p += 4
	}
	if it.flags&TrunSampleCTSPresent != 0 {
		e.CTSOffset = int32(be.Uint32(it.data[p:]))
	}
	it.i++
	return e, true
}
