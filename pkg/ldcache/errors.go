package ldcache

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the file is shorter than its own
	// headers claim.
	ErrTruncated = errors.New("cache file truncated or corrupt")
	// ErrInvalidMagic is returned when either header's magic does not
	// match, including a bare legacy cache with no embedded new format.
	ErrInvalidMagic = errors.New("invalid cache magic")
	// ErrLengthMismatch is returned when the layout does not span the
	// file exactly (trailing garbage).
	ErrLengthMismatch = errors.New("cache layout does not span the whole file")
	// ErrMissingTerminator is returned when the last byte of the file is
	// not NUL.
	ErrMissingTerminator = errors.New("cache is not NUL terminated")
	// ErrStringOffset is returned when an entry's key or value offset
	// escapes the string table.
	ErrStringOffset = errors.New("string offset out of bounds")
)

// FormatError is returned when the cache file violates a format invariant.
// It records where in the file the violation was detected and wraps one of
// the sentinel errors above for errors.Is.
type FormatError struct {
	off   int64
	msg   string
	entry int // offending entry index, or -1
	err   error
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.entry >= 0 {
		msg += fmt.Sprintf(" in entry %d", e.entry)
	}
	msg += fmt.Sprintf(" at byte %#x", e.off)
	return msg
}

func (e *FormatError) Unwrap() error { return e.err }

// Offset returns the file offset at which the violation was detected.
func (e *FormatError) Offset() int64 { return e.off }

// Entry returns the offending entry index, or -1 if the error is not tied
// to a particular entry.
func (e *FormatError) Entry() int { return e.entry }
