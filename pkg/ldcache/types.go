package ldcache

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Magic constants identifying the two cache layouts. The old magic is
// stored without a trailing NUL; the new magic carries its version suffix.
const (
	MagicOld = "ld.so-1.7.0"
	MagicNew = "glibc-ld.so.cache1.1"
)

// On-disk sizes (little-endian).
const (
	oldHeaderSize = len(MagicOld) + 1 + 4       // magic + struct pad + nlibs
	oldEntrySize  = 12                          // flags + key + value
	newHeaderSize = len(MagicNew) + 4 + 4 + 5*4 // magic + nlibs + stringslen + reserved
	newEntrySize  = 24                          // flags(+pad) + key + value + osversion + hwcap

	// The embedded new header starts at the next 8-byte boundary past
	// the legacy entry array.
	newHeaderAlign = 8
)

// Entry flag bits ldconfig is known to set. The parser passes Flags
// through untouched; these are for callers that want to mask them.
const (
	FlagELF   = 0x0001
	FlagX8664 = 0x0300
	FlagI386  = 0x0800
)

type oldMagic [len(MagicOld)]byte

func (m oldMagic) String() string { return string(m[:]) }

type newMagic [len(MagicNew)]byte

func (m newMagic) String() string { return string(m[:]) }

// HeaderOld is the legacy ld.so-1.7.0 cache header at offset 0. The magic
// is 11 bytes but struct padding puts nlibs at offset 12, so the header is
// 16 bytes on disk.
type HeaderOld struct {
	Magic oldMagic // "ld.so-1.7.0"
	_     [1]byte
	NLibs uint32 // number of legacy entries
}

func (h HeaderOld) String() string {
	var buf bytes.Buffer
	buf.WriteString("Old Header:\n")
	buf.WriteString(fmt.Sprintf("  Magic: %s\n", h.Magic))
	buf.WriteString(fmt.Sprintf("  Libs:  %d\n", h.NLibs))
	return buf.String()
}

// EntryOld is one legacy library entry. The legacy array is never resolved
// to strings; it is walked only to locate the embedded new-format region.
type EntryOld struct {
	Flags int32  // 0x01 indicates an ELF library
	Key   uint32 // legacy string table offset
	Value uint32 // legacy string table offset
}

// HeaderNew is the glibc-ld.so.cache1.1 header embedded in the legacy
// string table, 8-byte aligned within the file.
type HeaderNew struct {
	Magic      newMagic  // "glibc-ld.so.cache1.1"
	NLibs      uint32    // number of new-format entries
	StringsLen uint32    // byte length of the string data past the entry array
	Unused     [5]uint32 // reserved for future extensions
}

func (h HeaderNew) String() string {
	var buf bytes.Buffer
	buf.WriteString("New Header:\n")
	buf.WriteString(fmt.Sprintf("  Magic:   %s\n", h.Magic))
	buf.WriteString(fmt.Sprintf("  Libs:    %d\n", h.NLibs))
	buf.WriteString(fmt.Sprintf("  Strings: %s\n", humanize.Bytes(uint64(h.StringsLen))))
	return buf.String()
}

// EntryNew is one new-format library entry. Key and Value are byte offsets
// into the string table, relative to the aligned new-header start.
type EntryNew struct {
	Flags     int16 // arch and library type bits
	_         [2]byte
	Key       uint32 // string table offset of the lookup name
	Value     uint32 // string table offset of the library path
	OSVersion uint32 // required OS version
	HWCap     uint64 // hwcap bits needed
}

// Lib is a fully resolved new-format library record.
type Lib struct {
	Flags     int16  `json:"flags"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	OSVersion uint32 `json:"osversion"`
	HWCap     uint64 `json:"hwcap"`
}

func (l Lib) String() string {
	return fmt.Sprintf("%s => %s", l.Key, l.Value)
}

// Region is a byte range inside the cache buffer.
type Region struct {
	Offset int `json:"offset"`
	Len    int `json:"len"`
}

// End returns the exclusive end offset of the region.
func (r Region) End() int { return r.Offset + r.Len }

// Layout records where the walker found each structural region. Strings
// spans from the aligned new-header start to the end of the file, which is
// the range new-format string offsets are encoded against.
type Layout struct {
	OldHeader  Region `json:"old_header"`
	OldEntries Region `json:"old_entries"`
	Pad        Region `json:"pad"`
	NewHeader  Region `json:"new_header"`
	NewEntries Region `json:"new_entries"`
	Strings    Region `json:"strings"`
}
