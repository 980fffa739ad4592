// Package ldcache parses the dynamic linker's library lookup cache
// (/etc/ld.so.cache): the legacy ld.so-1.7.0 layout with the newer
// glibc-ld.so.cache1.1 layout embedded in its string table.
//
// The parse is a single validated pass. Every structural region is
// bounds-proven before it is decoded, both magics and the total length are
// checked, and every string offset is verified before any record is
// returned. One violated invariant rejects the whole file.
package ldcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/apex/log"
)

// DefaultPath is where ldconfig writes the cache.
const DefaultPath = "/etc/ld.so.cache"

// A File is a parsed ld.so.cache. Layout regions index into the one buffer
// read at open time; nothing is copied out of it except the resolved
// strings in Libs.
type File struct {
	Old HeaderOld
	New HeaderNew

	// Libs holds the new-format records in file order with their key and
	// value strings resolved.
	Libs []Lib

	Layout    Layout
	ByteOrder binary.ByteOrder

	entries []EntryNew
	data    []byte
}

// Open reads and parses the cache file at path. I/O failures are returned
// as the underlying *os.PathError, distinct from the parse error taxonomy.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse parses a cache image already in memory.
func Parse(data []byte) (*File, error) {
	f := &File{
		ByteOrder: binary.LittleEndian,
		data:      data,
	}
	if err := f.walk(); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	if err := f.extract(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"libs":    len(f.Libs),
		"strtab":  f.Layout.Strings.Len,
		"oldlibs": f.Old.NLibs,
	}).Debug("parsed ld.so.cache")

	return f, nil
}

// Size returns the cache file size in bytes.
func (f *File) Size() int { return len(f.data) }

// walk resolves the six structural regions, validating each reservation
// before the cursor advances.
func (f *File) walk() error {
	c := &cursor{data: f.data}

	var err error
	if f.Layout.OldHeader, err = c.reserve(uint64(oldHeaderSize), "old header"); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(c.bytes(f.Layout.OldHeader)), f.ByteOrder, &f.Old); err != nil {
		return err
	}

	// The legacy entries are never decoded; the array is walked only to
	// find where the embedded new format starts.
	if f.Layout.OldEntries, err = c.reserve(uint64(f.Old.NLibs)*oldEntrySize, "old entries"); err != nil {
		return err
	}

	// The new header sits at the next 8-byte boundary, shifting the
	// start of the legacy string table down by up to 7 bytes.
	if f.Layout.Pad, err = c.align(newHeaderAlign, "alignment pad"); err != nil {
		return err
	}

	if f.Layout.NewHeader, err = c.reserve(uint64(newHeaderSize), "new header"); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(c.bytes(f.Layout.NewHeader)), f.ByteOrder, &f.New); err != nil {
		return err
	}

	if f.Layout.NewEntries, err = c.reserve(uint64(f.New.NLibs)*newEntrySize, "new entries"); err != nil {
		return err
	}
	f.entries = make([]EntryNew, f.New.NLibs)
	if err := binary.Read(bytes.NewReader(c.bytes(f.Layout.NewEntries)), f.ByteOrder, f.entries); err != nil {
		return err
	}

	// StringsLen counts only the bytes past the entry array, but string
	// offsets are encoded against the aligned new-header start, so the
	// string table region spans from there to the end of the file.
	if _, err = c.reserve(uint64(f.New.StringsLen), "string table"); err != nil {
		return err
	}
	f.Layout.Strings = Region{
		Offset: f.Layout.NewHeader.Offset,
		Len:    c.off - f.Layout.NewHeader.Offset,
	}

	if !c.done() {
		return &FormatError{
			off:   int64(c.off),
			msg:   fmt.Sprintf("%d trailing bytes after string table", len(f.data)-c.off),
			entry: -1,
			err:   ErrLengthMismatch,
		}
	}
	return nil
}

// validate checks the format invariants the walk cannot: both magics are
// byte-exact and the final byte is the string table's NUL terminator.
func (f *File) validate() error {
	if string(f.Old.Magic[:]) != MagicOld {
		return &FormatError{
			off:   int64(f.Layout.OldHeader.Offset),
			msg:   fmt.Sprintf("bad old-format magic %q", f.Old.Magic),
			entry: -1,
			err:   ErrInvalidMagic,
		}
	}
	if string(f.New.Magic[:]) != MagicNew {
		return &FormatError{
			off:   int64(f.Layout.NewHeader.Offset),
			msg:   fmt.Sprintf("bad new-format magic %q", f.New.Magic),
			entry: -1,
			err:   ErrInvalidMagic,
		}
	}
	if f.data[len(f.data)-1] != 0 {
		return &FormatError{
			off:   int64(len(f.data) - 1),
			msg:   "last byte is not NUL",
			entry: -1,
			err:   ErrMissingTerminator,
		}
	}
	return nil
}

// extract resolves every entry's key and value. Any out-of-range offset
// fails the whole file; no partial record list is ever produced.
func (f *File) extract() error {
	libs := make([]Lib, 0, len(f.entries))
	for i, e := range f.entries {
		key, err := f.str(e.Key, i)
		if err != nil {
			return err
		}
		value, err := f.str(e.Value, i)
		if err != nil {
			return err
		}
		libs = append(libs, Lib{
			Flags:     e.Flags,
			Key:       key,
			Value:     value,
			OSVersion: e.OSVersion,
			HWCap:     e.HWCap,
		})
	}
	f.Libs = libs
	return nil
}

// str resolves a string-table offset to the NUL-terminated string there.
// The offset must land strictly inside the table, and the terminator
// search is bounded by the table end, never past the buffer.
func (f *File) str(off uint32, entry int) (string, error) {
	strtab := f.Layout.Strings
	if uint64(off) >= uint64(strtab.Len) {
		return "", &FormatError{
			off:   int64(strtab.Offset) + int64(off),
			msg:   fmt.Sprintf("string offset %#x escapes the string table", off),
			entry: entry,
			err:   ErrStringOffset,
		}
	}
	s := f.data[strtab.Offset+int(off) : strtab.End()]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}
