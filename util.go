package mp4

import "encoding/binary"

var be = binary.BigEndian

// clearBytes zeroes buf[start:end], tolerating end > len(buf).
func clearBytes(buf []byte, start, end int) {
	if end > len(buf) {
		end = len(buf)
	}
	for i := start; i < end; i++ {
		buf[i] = 0
	}
}

// readString reads a NUL-terminated string starting at off, stopping at end
// if no NUL byte is found.
func readString(b []byte, off, end int) string {
	if off >= end || off >= len(b) {
		return ""
	}
	i := off
	for i < end && i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[off:i])
}
