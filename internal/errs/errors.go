// Package errs defines the typed error kinds used across the mp4, mp4file,
// and rtc packages (spec §7). Box-engine failures share one type, BoxError,
// whose Kind field names the kind; RTC failures use RTCError. Callers
// classify them with IsKind, IsBoxError and IsRTCError (errors.As
// underneath) instead of string matching, and every constructor accepts an
// Op (the operation that failed) and an optional wrapped cause.
package errs

import (
	stdErrors "errors"
	"fmt"
)

// boxMarker is implemented by every box-engine error type.
type boxMarker interface {
	error
	isBox()
}

// BoxError reports a failure in box discovery, decode, or encode.
// Kind is one of the REQUIRE_SPACE/BOX_OVERFLOW/... constants below.
type BoxError struct {
	Kind string
	Op   string
	Err  error
}

func (e *BoxError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mp4: %s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("mp4: %s: %s: %v", e.Kind, e.Op, e.Err)
}
func (e *BoxError) Unwrap() error { return e.Err }
func (e *BoxError) isBox()        {}

// Box error kinds (spec §7).
const (
	KindRequireSpace   = "REQUIRE_SPACE"
	KindBoxOverflow    = "BOX_OVERFLOW"
	KindBoxString      = "BOX_STRING"
	KindIllegalBrand   = "BOX_ILLEGAL_BRAND"
	KindIllegalType    = "BOX_ILLEGAL_TYPE"
	KindMoovOverflow   = "MOOV_OVERFLOW"
	KindIllegalTS      = "ILLEGAL_TIMESTAMP"
	KindIllegalTrack   = "ILLEGAL_TRACK"
	KindIllegalSamples = "ILLEGAL_SAMPLES"
	KindIllegalMoov    = "ILLEGAL_MOOV"
	KindIllegalMdat    = "ILLEGAL_MDAT"
	KindAvccChange     = "AVCC_CHANGE"
	KindHvccChange     = "HVCC_CHANGE"
	KindAscChange      = "ASC_CHANGE"
	KindEsdsSLConfig   = "ESDS_SL_Config"
	KindFileEOF        = "SYSTEM_FILE_EOF"
)

func NewBoxError(kind, op string, cause error) error {
	return &BoxError{Kind: kind, Op: op, Err: cause}
}

// IsKind reports whether err wraps a *BoxError of the given kind.
func IsKind(err error, kind string) bool {
	var be *BoxError
	if !stdErrors.As(err, &be) {
		return false
	}
	return be.Kind == kind
}

// IsBoxError reports whether the error chain contains any box-engine error.
func IsBoxError(err error) bool {
	if err == nil {
		return false
	}
	var bm boxMarker
	return stdErrors.As(err, &bm)
}

// rtcMarker is implemented by every RTC fan-out error type.
type rtcMarker interface {
	error
	isRTC()
}

// RTCError reports a failure in the source/consumer/bridge pipeline.
type RTCError struct {
	Op  string
	Err error
}

func (e *RTCError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rtc: %s", e.Op)
	}
	return fmt.Sprintf("rtc: %s: %v", e.Op, e.Err)
}
func (e *RTCError) Unwrap() error { return e.Err }
func (e *RTCError) isRTC()        {}

func NewRTCError(op string, cause error) error { return &RTCError{Op: op, Err: cause} }

// IsRTCError reports whether the error chain contains any RTC pipeline error.
func IsRTCError(err error) bool {
	if err == nil {
		return false
	}
	var rm rtcMarker
	return stdErrors.As(err, &rm)
}

// ErrRTPMuxer indicates a bridge enqueue failure (spec §7 RTP_MUXER).
var ErrRTPMuxer = stdErrors.New("rtp muxer: enqueue failed")
