package mp4

// descriptor implements MPEG-4 descriptor parsing for esds boxes.

var tagToName = map[byte]string{
	0x03: "ESDescriptor",
	0x04: "DecoderConfigDescriptor",
	0x05: "DecoderSpecificInfo",
	0x06: "SLConfigDescriptor",
}

type descriptor struct {
	tag      byte
	tagName  string
	length   int
	oti      byte
	buffer   []byte
	children map[string]*descriptor
}

func decodeDescriptor(buf []byte, start, end int) *descriptor {
	if start >= end {
		return nil
	}
	tag := buf[start]
	ptr := start + 1
	length := 0
	for ptr < end {
		lenByte := buf[ptr]
		ptr++
		length = (length << 7) | int(lenByte&0x7f)
		if lenByte&0x80 == 0 {
			break
		}
	}

	tagName := tagToName[tag]
	d := &descriptor{
		tag:      tag,
		tagName:  tagName,
		length:   (ptr - start) + length,
		children: make(map[string]*descriptor),
	}

	switch tagName {
	case "ESDescriptor":
		decodeESDescriptor(d, buf, ptr, end)
	case "DecoderConfigDescriptor":
		decodeDecoderConfigDescriptor(d, buf, ptr, end)
	case "DecoderSpecificInfo":
		dEnd := ptr + length
		if dEnd > end {
			dEnd = end
		}
		d.buffer = buf[ptr:dEnd]
	default:
		dEnd := min(ptr+length, end)
		d.buffer = buf[ptr:dEnd]
	}

	return d
}

func decodeDescriptorArray(buf []byte, start, end int) map[string]*descriptor {
	m := make(map[string]*descriptor)
	ptr := start
	for ptr+2 <= end {
		desc := decodeDescriptor(buf, ptr, end)
		if desc == nil {
			break
		}
		ptr += desc.length
		name := desc.tagName
		if name == "" {
			continue
		}
		m[name] = desc
	}
	return m
}

func decodeESDescriptor(d *descriptor, buf []byte, start, end int) {
	if start+3 > end {
		return
	}
	flags := buf[start+2]
	ptr := start + 3
	if flags&0x80 != 0 {
		ptr += 2
	}
	if flags&0x40 != 0 {
		if ptr >= end {
			return
		}
		l := int(buf[ptr])
		ptr += l + 1
	}
	if flags&0x20 != 0 {
		ptr += 2
	}
	d.children = decodeDescriptorArray(buf, ptr, end)
}

func decodeDecoderConfigDescriptor(d *descriptor, buf []byte, start, end int) {
	if start >= end {
		return
	}
	d.oti = buf[start]
	d.children = decodeDescriptorArray(buf, start+13, end)
}

// appendDescLen appends the variable-length descriptor length encoding:
// groups of 7 bits, most significant group first, continuation bit set on
// every group but the last.
func appendDescLen(buf []byte, n int) []byte {
	var groups [5]byte
	i := 0
	groups[i] = byte(n & 0x7f)
	n >>= 7
	for n > 0 {
		i++
		groups[i] = byte(n&0x7f) | 0x80
		n >>= 7
	}
	for j := i; j >= 0; j-- {
		buf = append(buf, groups[j])
	}
	return buf
}

// oiAAC is the MPEG-4 Audio object type for AAC-LC (0x40) used by
// DecoderConfigDescriptor.objectTypeIndication.
const oiAAC = 0x40

// buildEsdsPayload builds a complete esds box payload wrapping an AAC
// AudioSpecificConfig, per the descriptor tree in spec §4.2:
// ES_Descriptor -> DecoderConfigDescriptor -> DecoderSpecificInfo,
// plus a trailing SLConfigDescriptor with predefined=2.
func buildEsdsPayload(trackID uint16, audioConfig []byte) []byte {
	dsi := []byte{}
	dsi = append(dsi, 0x05)
	dsi = appendDescLen(dsi, len(audioConfig))
	dsi = append(dsi, audioConfig...)

	slc := []byte{0x06}
	slc = appendDescLen(slc, 1)
	slc = append(slc, 0x02)

	dcd := []byte{0x04}
	dcdBody := make([]byte, 0, 13+len(dsi))
	dcdBody = append(dcdBody,
		oiAAC,            // objectTypeIndication
		0x15,             // streamType=audio(5)<<2 | upStream(0) | reserved(1)
		0x00, 0x00, 0x00, // bufferSizeDB
		0x00, 0x00, 0x00, 0x00, // maxBitrate
		0x00, 0x00, 0x00, 0x00, // avgBitrate
	)
	dcdBody = append(dcdBody, dsi...)
	dcd = appendDescLen(dcd, len(dcdBody))
	dcd = append(dcd, dcdBody...)

	esBody := make([]byte, 0, 3+len(dcd)+len(slc))
	esBody = append(esBody, byte(trackID>>8), byte(trackID), 0x00) // ES_ID, flags
	esBody = append(esBody, dcd...)
	esBody = append(esBody, slc...)

	es := []byte{0x03}
	es = appendDescLen(es, len(esBody))
	es = append(es, esBody...)

	return es
}
