package ldcache

// cursor walks the cache buffer front to back. Every advance goes through
// reserve, which proves the requested range lies inside the buffer before
// the offset moves; there is no other way to move the cursor.
type cursor struct {
	data []byte
	off  int
}

// reserve claims n bytes at the current offset and returns the claimed
// region. It fails without advancing if [off, off+n) escapes the buffer.
// n is a uint64 so that sizes derived from file-controlled counts cannot
// wrap before the comparison.
func (c *cursor) reserve(n uint64, what string) (Region, error) {
	if n > uint64(len(c.data)-c.off) {
		return Region{}, &FormatError{
			off:   int64(c.off),
			msg:   "reserving " + what + " runs past end of file",
			entry: -1,
			err:   ErrTruncated,
		}
	}
	r := Region{Offset: c.off, Len: int(n)}
	c.off += int(n)
	return r, nil
}

// align advances to the next multiple of a (a power of two), claiming the
// 0..a-1 pad bytes through the same bounds check as any other region.
func (c *cursor) align(a int, what string) (Region, error) {
	return c.reserve(uint64(-c.off&(a-1)), what)
}

// bytes returns the buffer backing a previously reserved region.
func (c *cursor) bytes(r Region) []byte {
	return c.data[r.Offset:r.End()]
}

// done reports whether the cursor consumed the buffer exactly.
func (c *cursor) done() bool { return c.off == len(c.data) }
