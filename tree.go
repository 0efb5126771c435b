package mp4

import (
	"fmt"

	"github.com/tetsuo/corestream/internal/errs"
)

// Box is a node in the decoded/constructed box tree (spec §3.1, §4.1).
// A box is either a leaf carrying one typed payload field (set by its
// codec's decode function) or a container holding children in append
// order. Exactly one of the typed fields is populated for any given Type.
type Box struct {
	Type    BoxType
	Size    uint64 // total on-wire size including header, valid after Decode/EncodingLength
	Version uint8
	Flags   uint32

	Children map[BoxType][]*Box
	order    []*Box // children in append order; drives encode order

	// Raw holds the box payload for leaf types with no registered codec
	// (the "free-space placeholder" of spec §9: unknown types round-trip
	// their bytes unchanged).
	Raw []byte

	// Typed payloads, one per concrete box kind.
	Ftyp   *Ftyp
	Mvhd   *Mvhd
	Tkhd   *Tkhd
	Mdhd   *Mdhd
	Vmhd   *Vmhd
	Smhd   *Smhd
	Stsd   *Stsd
	Visual *VisualSampleEntry
	AvcC   *AvcC
	Audio  *AudioSampleEntry
	Esds   *Esds
	Stsz   *Stsz
	Stco   *Stco
	Co64   *Co64
	Stts   *Stts
	Ctts   *Ctts
	Stsc   *Stsc
	Dref   *DrefBox
	Elst   *Elst
	Hdlr   *Hdlr
	Mehd   *Mehd
	Trex   *Trex
	Mfhd   *Mfhd
	Tfhd   *Tfhd
	Tfdt   *Tfdt
	Trun   *Trun
	Mdat   *Mdat
	Frma   *Frma
	Schm   *Schm
	Tenc   *Tenc
	Senc   *Senc
	Saiz   *SampleAuxInfoSizes
	Saio   *SampleAuxInfoOffsets
}

// NewBox creates an empty container/leaf box of the given type.
func NewBox(t BoxType) *Box {
	return &Box{Type: t}
}

// Child returns the first child of the given type, or nil.
func (b *Box) Child(t BoxType) *Box {
	if c := b.Children[t]; len(c) > 0 {
		return c[0]
	}
	return nil
}

// ChildList returns all children of the given type.
func (b *Box) ChildList(t BoxType) []*Box {
	return b.Children[t]
}

// Append adds a child box, taking ownership of it (spec §4.1 child management).
func (b *Box) Append(child *Box) {
	if b.Children == nil {
		b.Children = make(map[BoxType][]*Box)
	}
	b.Children[child.Type] = append(b.Children[child.Type], child)
	b.order = append(b.order, child)
}

// Remove deletes all children of the given type.
func (b *Box) Remove(t BoxType) {
	if _, ok := b.Children[t]; !ok {
		return
	}
	delete(b.Children, t)
	kept := b.order[:0]
	for _, c := range b.order {
		if c.Type != t {
			kept = append(kept, c)
		}
	}
	b.order = kept
}

const box32BitSizeLimit = 1<<31 - 1

// Decode reads one box (header plus, recursively, its children or codec
// payload) from buf[start:end] and returns it; the box's Size is the number
// of bytes it occupies. It implements the "discovery" contract of spec §4.1: a
// registered codec type is decoded into its typed field, a known
// container recurses into Children, and anything else is kept as a raw
// free-space placeholder.
func Decode(buf []byte, start, end int) (*Box, error) {
	if end-start < 8 {
		return nil, errs.NewBoxError(errs.KindRequireSpace, "decode box header", fmt.Errorf("need 8 bytes, have %d", end-start))
	}

	size := uint64(be.Uint32(buf[start:]))
	var t BoxType
	copy(t[:], buf[start+4:start+8])
	ptr := start + 8

	if size == 1 {
		if end-start < 16 {
			return nil, errs.NewBoxError(errs.KindRequireSpace, "decode largesize header", fmt.Errorf("need 16 bytes, have %d", end-start))
		}
		size = be.Uint64(buf[ptr:])
		ptr += 8
	}
	if size == 0 {
		size = uint64(end - start)
	}
	if size > uint64(box32BitSizeLimit) && size != uint64(end-start) {
		return nil, errs.NewBoxError(errs.KindBoxOverflow, fmt.Sprintf("box %q", t), fmt.Errorf("declared size %d exceeds 2^31-1", size))
	}

	boxEnd := start + int(size)
	if boxEnd > end || boxEnd < ptr {
		return nil, errs.NewBoxError(errs.KindRequireSpace, fmt.Sprintf("box %q", t), fmt.Errorf("size %d exceeds available %d bytes", size, end-start))
	}

	box := &Box{Type: t, Size: size}

	if IsFullBox(t) {
		if boxEnd-ptr < 4 {
			return nil, errs.NewBoxError(errs.KindRequireSpace, fmt.Sprintf("box %q", t), fmt.Errorf("too short for version/flags"))
		}
		vf := be.Uint32(buf[ptr:])
		box.Version = uint8(vf >> 24)
		box.Flags = vf & 0x00ffffff
		ptr += 4
	}

	if c := getCodec(t); c != nil {
		if err := c.decode(box, buf, ptr, boxEnd); err != nil {
			return nil, fmt.Errorf("decode box %q: %w", t, err)
		}
		return box, nil
	}

	if IsContainerBox(t) {
		for p := ptr; p < boxEnd; {
			child, err := Decode(buf, p, boxEnd)
			if err != nil {
				return nil, err
			}
			box.Append(child)
			p += int(child.Size)
		}
		return box, nil
	}

	box.Raw = append([]byte(nil), buf[ptr:boxEnd]...)
	return box, nil
}

// EncodingLength returns the exact on-wire byte count of the subtree
// rooted at box, matching spec §4.1's nb_bytes().
func EncodingLength(box *Box) uint64 {
	header := uint64(8)
	if IsFullBox(box.Type) {
		header += 4
	}

	var body uint64
	switch {
	case getCodec(box.Type) != nil:
		body = uint64(getCodec(box.Type).encodingLength(box))
	case box.Children != nil:
		for _, child := range box.order {
			body += EncodingLength(child)
		}
	default:
		body = uint64(len(box.Raw))
	}

	total := header + body
	if total > uint64(box32BitSizeLimit) {
		total += 8 // largesize
	}
	return total
}

// encodeBox writes one box (header + payload) to buf starting at offset
// and returns the number of bytes written.
func encodeBox(box *Box, buf []byte, offset int) (int, error) {
	size := EncodingLength(box)
	large := size > uint64(box32BitSizeLimit)

	ptr := offset
	if large {
		be.PutUint32(buf[ptr:], 1)
		copy(buf[ptr+4:ptr+8], box.Type[:])
		be.PutUint64(buf[ptr+8:], size)
		ptr += 16
	} else {
		be.PutUint32(buf[ptr:], uint32(size))
		copy(buf[ptr+4:ptr+8], box.Type[:])
		ptr += 8
	}

	if IsFullBox(box.Type) {
		vf := uint32(box.Version)<<24 | box.Flags&0x00ffffff
		be.PutUint32(buf[ptr:], vf)
		ptr += 4
	}

	if c := getCodec(box.Type); c != nil {
		ptr += c.encode(box, buf, ptr)
		return ptr - offset, nil
	}

	if box.Children != nil {
		for _, child := range box.order {
			n, err := encodeBox(child, buf, ptr)
			if err != nil {
				return 0, err
			}
			ptr += n
		}
		return ptr - offset, nil
	}

	copy(buf[ptr:], box.Raw)
	ptr += len(box.Raw)
	return ptr - offset, nil
}

// EncodeToBytes allocates a buffer of exactly EncodingLength(box) bytes and
// encodes box into it.
func EncodeToBytes(box *Box) ([]byte, error) {
	size := EncodingLength(box)
	buf := make([]byte, size)
	n, err := encodeBox(box, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
