package mp4

import (
	"fmt"
	"io"

	"github.com/tetsuo/corestream/internal/errs"
)

// Entry describes one top-level box discovered by a Scanner, without its
// body having been read yet.
type Entry struct {
	Type       BoxType
	Size       int64 // total box size including header
	HeaderSize int64 // 8, 16 (largesize), or more for uuid (unused here)
}

// DataSize returns the number of body bytes following the header.
func (e Entry) DataSize() int64 { return e.Size - e.HeaderSize }

// Scanner reads top-level boxes from a stream one header at a time,
// letting the caller decide whether to read a box's body into memory or
// skip past it (spec §4.6's stream-driven decode path, e.g. skipping a
// multi-gigabyte mdat while still inspecting moov).
type Scanner struct {
	r   io.Reader
	cur Entry
	err error

	pending int64 // bytes of the current entry's body not yet consumed
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) Scanner {
	return Scanner{r: r}
}

// Next advances to the next top-level box, discarding any unread body
// bytes from the previous one. Returns false at EOF or on error; check
// Err() to distinguish the two.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if s.pending > 0 {
		if err := s.discard(s.pending); err != nil {
			s.err = err
			return false
		}
		s.pending = 0
	}

	var hdr [8]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		if err != io.EOF {
			s.err = errs.NewBoxError(errs.KindFileEOF, "scan box header", err)
		}
		return false
	}

	size := int64(be.Uint32(hdr[0:4]))
	var t BoxType
	copy(t[:], hdr[4:8])
	headerSize := int64(8)

	if size == 1 {
		var ext [8]byte
		if _, err := io.ReadFull(s.r, ext[:]); err != nil {
			s.err = errs.NewBoxError(errs.KindRequireSpace, "scan largesize", err)
			return false
		}
		size = int64(be.Uint64(ext[:]))
		headerSize = 16
	}
	if size != 0 && size < headerSize {
		s.err = errs.NewBoxError(errs.KindBoxOverflow, fmt.Sprintf("box %q", t), fmt.Errorf("declared size %d smaller than header", size))
		return false
	}

	s.cur = Entry{Type: t, Size: size, HeaderSize: headerSize}
	s.pending = s.cur.DataSize()
	return true
}

// Entry returns the most recently discovered box's header info.
func (s *Scanner) Entry() Entry { return s.cur }

// ReadBody reads the current box's body into buf, which must be sized
// exactly Entry().DataSize(). Consumes the body so the next Next() call
// does not need to skip it.
func (s *Scanner) ReadBody(buf []byte) error {
	if int64(len(buf)) != s.pending {
		return errs.NewBoxError(errs.KindRequireSpace, "scan read body", fmt.Errorf("buffer size %d does not match body size %d", len(buf), s.pending))
	}
	if _, err := io.ReadFull(s.r, buf); err != nil {
		s.err = errs.NewBoxError(errs.KindFileEOF, "scan read body", err)
		return s.err
	}
	s.pending = 0
	return nil
}

func (s *Scanner) discard(n int64) error {
	if sk, ok := s.r.(io.Seeker); ok {
		_, err := sk.Seek(n, io.SeekCurrent)
		return err
	}
	_, err := io.CopyN(io.Discard, s.r, n)
	return err
}

// Err returns the first error encountered by Next or ReadBody, if any.
func (s *Scanner) Err() error { return s.err }
