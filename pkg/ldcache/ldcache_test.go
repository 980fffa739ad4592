package ldcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// buildRaw assembles a cache image from raw new-format entries and a
// string blob. The blob sits right after the entry array; entry offsets
// are whatever the caller encoded.
func buildRaw(nOld int, entries []EntryNew, blob []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(MagicOld)
	buf.WriteByte(0) // struct padding; nlibs sits at offset 12
	binary.Write(&buf, binary.LittleEndian, uint32(nOld))
	buf.Write(make([]byte, nOld*oldEntrySize))
	buf.Write(make([]byte, -buf.Len()&(newHeaderAlign-1)))
	buf.WriteString(MagicNew)
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	binary.Write(&buf, binary.LittleEndian, uint32(len(blob)))
	buf.Write(make([]byte, 20))
	binary.Write(&buf, binary.LittleEndian, entries)
	buf.Write(blob)
	return buf.Bytes()
}

// buildCache assembles a valid cache image holding the given records,
// encoding key/value offsets relative to the new-header start as ldconfig
// does.
func buildCache(nOld int, libs []Lib) []byte {
	base := newHeaderSize + newEntrySize*len(libs)
	entries := make([]EntryNew, len(libs))
	var blob []byte
	for i, l := range libs {
		entries[i] = EntryNew{
			Flags:     l.Flags,
			Key:       uint32(base + len(blob)),
			OSVersion: l.OSVersion,
			HWCap:     l.HWCap,
		}
		blob = append(blob, l.Key...)
		blob = append(blob, 0)
		entries[i].Value = uint32(base + len(blob))
		blob = append(blob, l.Value...)
		blob = append(blob, 0)
	}
	return buildRaw(nOld, entries, blob)
}

var testLibs = []Lib{
	{Flags: FlagELF | FlagX8664, Key: "libc.so.6", Value: "/lib/x86_64-linux-gnu/libc.so.6", OSVersion: 0x30000, HWCap: 0},
	{Flags: FlagELF | FlagX8664, Key: "libm.so.6", Value: "/lib/x86_64-linux-gnu/libm.so.6", OSVersion: 0, HWCap: 1 << 62},
	{Flags: FlagELF | FlagI386, Key: "libz.so.1", Value: "/lib32/libz.so.1", OSVersion: 0, HWCap: 0xdeadbeef},
}

func TestParse(t *testing.T) {
	data := buildCache(2, testLibs)

	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := f.Old.Magic.String(); got != MagicOld {
		t.Errorf("old magic = %q, want %q", got, MagicOld)
	}
	if f.Old.NLibs != 2 {
		t.Errorf("old nlibs = %d, want 2", f.Old.NLibs)
	}
	if got := f.New.Magic.String(); got != MagicNew {
		t.Errorf("new magic = %q, want %q", got, MagicNew)
	}
	if f.New.NLibs != 3 {
		t.Errorf("new nlibs = %d, want 3", f.New.NLibs)
	}
	if !reflect.DeepEqual(f.Libs, testLibs) {
		t.Errorf("Libs = %+v, want %+v", f.Libs, testLibs)
	}
	if f.Size() != len(data) {
		t.Errorf("Size() = %d, want %d", f.Size(), len(data))
	}
}

func TestParseLayout(t *testing.T) {
	// 16-byte old header plus 12 bytes per legacy entry lands the cursor
	// on 0 or 4 mod 8, so the pad is 0 or 4 wide.
	tests := []struct {
		nOld    int
		wantPad int
	}{
		{0, 0},
		{1, 4},
		{2, 0},
		{3, 4},
	}
	for _, tt := range tests {
		f, err := Parse(buildCache(tt.nOld, testLibs))
		if err != nil {
			t.Fatalf("nOld=%d: Parse() error = %v", tt.nOld, err)
		}
		l := f.Layout
		if l.OldHeader != (Region{0, oldHeaderSize}) {
			t.Errorf("nOld=%d: old header region = %+v", tt.nOld, l.OldHeader)
		}
		if l.OldEntries.Offset != oldHeaderSize || l.OldEntries.Len != tt.nOld*oldEntrySize {
			t.Errorf("nOld=%d: old entries region = %+v", tt.nOld, l.OldEntries)
		}
		if l.Pad.Len != tt.wantPad {
			t.Errorf("nOld=%d: pad = %d, want %d", tt.nOld, l.Pad.Len, tt.wantPad)
		}
		if l.NewHeader.Offset != l.OldEntries.End()+tt.wantPad {
			t.Errorf("nOld=%d: new header offset = %d", tt.nOld, l.NewHeader.Offset)
		}
		if l.NewHeader.Offset%newHeaderAlign != 0 {
			t.Errorf("nOld=%d: new header offset %d not aligned", tt.nOld, l.NewHeader.Offset)
		}
		if l.Strings.Offset != l.NewHeader.Offset || l.Strings.End() != f.Size() {
			t.Errorf("nOld=%d: strings region = %+v", tt.nOld, l.Strings)
		}
	}
}

func TestParseTruncated(t *testing.T) {
	data := buildCache(1, testLibs)
	for n := range len(data) {
		f, err := Parse(data[:n])
		if f != nil {
			t.Fatalf("len=%d: Parse() returned a file", n)
		}
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("len=%d: Parse() error = %v, want ErrTruncated", n, err)
		}
	}
}

func TestParseBadMagic(t *testing.T) {
	valid := buildCache(0, testLibs)
	newOff := oldHeaderSize // nOld=0 needs no pad; 16 is already aligned

	// every single-byte corruption of either magic must reject the file
	for off := range len(MagicOld) {
		data := bytes.Clone(valid)
		data[off] ^= 0xff
		if _, err := Parse(data); !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("old magic byte %d: error = %v, want ErrInvalidMagic", off, err)
		}
	}
	for off := range len(MagicNew) {
		data := bytes.Clone(valid)
		data[newOff+off] ^= 0xff
		if _, err := Parse(data); !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("new magic byte %d: error = %v, want ErrInvalidMagic", off, err)
		}
	}
}

func TestParseLegacyOnly(t *testing.T) {
	// A bare legacy cache: where the embedded header should be there are
	// only (zero) string bytes. Rejected as a magic mismatch.
	var buf bytes.Buffer
	buf.WriteString(MagicOld)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.Write(make([]byte, oldEntrySize))
	buf.Write(make([]byte, -buf.Len()&(newHeaderAlign-1)))
	buf.Write(make([]byte, newHeaderSize))

	if _, err := Parse(buf.Bytes()); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Parse() error = %v, want ErrInvalidMagic", err)
	}
}

func TestParseStringOffsetOutOfBounds(t *testing.T) {
	base := newHeaderSize + 3*newEntrySize
	blob := []byte("a\x00b\x00c\x00")
	strtabLen := base + len(blob)

	good := func(i uint32) EntryNew {
		return EntryNew{Key: uint32(base) + 2*i, Value: uint32(base) + 2*i}
	}

	tests := []struct {
		name    string
		middle  EntryNew
		wantIdx int
	}{
		{"key at table end", EntryNew{Key: uint32(strtabLen), Value: uint32(base)}, 1},
		{"key past table end", EntryNew{Key: uint32(strtabLen) + 100, Value: uint32(base)}, 1},
		{"value at table end", EntryNew{Key: uint32(base), Value: uint32(strtabLen)}, 1},
		{"value huge", EntryNew{Key: uint32(base), Value: 0xfffffff0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// entry 1 of 3 is bad; the others are fine
			data := buildRaw(0, []EntryNew{good(0), tt.middle, good(2)}, blob)

			f, err := Parse(data)
			if f != nil {
				t.Fatal("Parse() returned records for a file with a bad offset")
			}
			if !errors.Is(err, ErrStringOffset) {
				t.Fatalf("Parse() error = %v, want ErrStringOffset", err)
			}
			var ferr *FormatError
			if !errors.As(err, &ferr) {
				t.Fatalf("Parse() error = %T, want *FormatError", err)
			}
			if ferr.Entry() != tt.wantIdx {
				t.Errorf("Entry() = %d, want %d", ferr.Entry(), tt.wantIdx)
			}
		})
	}
}

func TestParseTrailingGarbage(t *testing.T) {
	data := append(buildCache(0, testLibs), 0)
	if _, err := Parse(data); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Parse() error = %v, want ErrLengthMismatch", err)
	}
}

func TestParseMissingTerminator(t *testing.T) {
	data := buildCache(0, testLibs)
	data[len(data)-1] = 'x'
	if _, err := Parse(data); !errors.Is(err, ErrMissingTerminator) {
		t.Errorf("Parse() error = %v, want ErrMissingTerminator", err)
	}
}

func TestParseAlignmentOutOfBounds(t *testing.T) {
	// The file ends right after one legacy entry (offset 28): the 4-byte
	// alignment pad itself would run past the end of the file.
	var buf bytes.Buffer
	buf.WriteString(MagicOld)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.Write(make([]byte, oldEntrySize))

	if _, err := Parse(buf.Bytes()); !errors.Is(err, ErrTruncated) {
		t.Errorf("Parse() error = %v, want ErrTruncated", err)
	}
}

func TestParseNoEntries(t *testing.T) {
	f, err := Parse(buildRaw(0, nil, []byte{0}))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(f.Libs) != 0 {
		t.Errorf("Libs = %+v, want none", f.Libs)
	}
}

func TestParseKnownImage(t *testing.T) {
	// One record, strings "abc\0def\0\0"; offsets encoded against the
	// aligned new-header start.
	blob := []byte("abc\x00def\x00\x00")
	base := newHeaderSize + newEntrySize
	data := buildRaw(0, []EntryNew{{
		Key:   uint32(base),
		Value: uint32(base) + 4,
	}}, blob)

	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(f.Libs) != 1 {
		t.Fatalf("got %d records, want 1", len(f.Libs))
	}
	if f.Libs[0].Key != "abc" || f.Libs[0].Value != "def" {
		t.Errorf("record = %q => %q, want \"abc\" => \"def\"", f.Libs[0].Key, f.Libs[0].Value)
	}
	if f.New.StringsLen != uint32(len(blob)) {
		t.Errorf("stringslen = %d, want %d", f.New.StringsLen, len(blob))
	}
}

func TestParseCStructOffsets(t *testing.T) {
	// Image built at the exact on-disk offsets ldconfig produces: nlibs
	// at offset 12 (not 11), one legacy entry at 16, new header at the
	// 8-byte boundary 32. A parser that packs the old header to 15
	// bytes misreads nlibs as 0x100 and rejects every real cache.
	var buf bytes.Buffer
	buf.WriteString(MagicOld)                                            // 0x00: magic
	buf.WriteByte(0)                                                     // 0x0b: struct padding
	binary.Write(&buf, binary.LittleEndian, uint32(1))                   // 0x0c: nlibs
	binary.Write(&buf, binary.LittleEndian, EntryOld{FlagELF, 103, 107}) // 0x10: legacy entry
	buf.Write(make([]byte, 4))                                           // 0x1c: alignment pad
	buf.WriteString(MagicNew)                                            // 0x20: new magic
	binary.Write(&buf, binary.LittleEndian, uint32(1))                   // nlibs
	binary.Write(&buf, binary.LittleEndian, uint32(9))                   // stringslen
	buf.Write(make([]byte, 20))                                          // reserved
	binary.Write(&buf, binary.LittleEndian, EntryNew{Key: 72, Value: 76})
	buf.WriteString("abc\x00def\x00\x00")

	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Old.NLibs != 1 {
		t.Errorf("old nlibs = %d, want 1", f.Old.NLibs)
	}
	if f.Layout.NewHeader.Offset != 32 {
		t.Errorf("new header offset = %d, want 32", f.Layout.NewHeader.Offset)
	}
	if len(f.Libs) != 1 || f.Libs[0].Key != "abc" || f.Libs[0].Value != "def" {
		t.Errorf("Libs = %+v, want one \"abc\" => \"def\" record", f.Libs)
	}
}

func TestRoundTrip(t *testing.T) {
	f, err := Parse(buildCache(4, testLibs))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !reflect.DeepEqual(f.Libs, testLibs) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", f.Libs, testLibs)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ld.so.cache")
	if err := os.WriteFile(path, buildCache(0, testLibs), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(f.Libs) != len(testLibs) {
		t.Errorf("got %d records, want %d", len(f.Libs), len(testLibs))
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("Open() succeeded on a missing file")
	}
	// I/O failures stay distinct from the parse taxonomy
	if !os.IsNotExist(err) {
		t.Errorf("Open() error = %v, want not-exist", err)
	}
	if errors.Is(err, ErrTruncated) {
		t.Error("Open() I/O error wraps ErrTruncated")
	}
}
