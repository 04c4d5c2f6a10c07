// Package readref provides an abstraction over "some bytes, possibly
// lazily read, possibly ranged" so every format reader consumes one
// interface instead of a concrete buffer. Implementations choose their own
// I/O strategy: a whole in-memory slice, an mmap, or a chunk-cached byte
// source (see internal/symbolicate/filecontents).
package readref

import (
	"bytes"
	"fmt"
	"io"
)

// ReadRef is a borrow of "some bytes" that may be backed by memory, an
// mmap, or a chunk cache. Every read is all-or-nothing: ReadBytesAt never
// returns a partial result.
type ReadRef interface {
	// ReadBytesAt returns exactly size bytes starting at offset, or an
	// error if the range is out of bounds or the underlying I/O fails.
	ReadBytesAt(offset, size uint64) ([]byte, error)

	// ReadBytesAtUntil returns the bytes from offset up to (not including)
	// the first occurrence of delim, for reading NUL-terminated strings.
	ReadBytesAtUntil(offset uint64, delim byte) ([]byte, error)

	// Len returns the total size of the addressable range.
	Len() uint64

	// MakeSubrange narrows the visible window to [start, start+size)
	// without copying the backing bytes.
	MakeSubrange(start, size uint64) (RangeReadRef, error)
}

// RangeReadRef is a ReadRef restricted to a sub-window of a parent
// ReadRef. make_subrange composes: ranging a RangeReadRef narrows further
// by adding the offsets onto the same root parent, so nested slices (a
// Mach-O arch slice inside a universal binary, say) stay correct under
// arbitrarily deep nesting.
type RangeReadRef struct {
	parent ReadRef
	base   uint64
	size   uint64
}

var _ ReadRef = RangeReadRef{}

// NewRangeReadRef builds a RangeReadRef over [base, base+size) of parent.
func NewRangeReadRef(parent ReadRef, base, size uint64) (RangeReadRef, error) {
	if base+size > parent.Len() || base+size < base {
		return RangeReadRef{}, fmt.Errorf("readref: range [%d, %d) exceeds parent length %d", base, base+size, parent.Len())
	}
	return RangeReadRef{parent: parent, base: base, size: size}, nil
}

func (r RangeReadRef) Len() uint64 { return r.size }

func (r RangeReadRef) ReadBytesAt(offset, size uint64) ([]byte, error) {
	if offset+size > r.size || offset+size < offset {
		return nil, fmt.Errorf("readref: read [%d, %d) exceeds range length %d", offset, offset+size, r.size)
	}
	return r.parent.ReadBytesAt(r.base+offset, size)
}

func (r RangeReadRef) ReadBytesAtUntil(offset uint64, delim byte) ([]byte, error) {
	if offset > r.size {
		return nil, fmt.Errorf("readref: offset %d exceeds range length %d", offset, r.size)
	}
	b, err := r.parent.ReadBytesAtUntil(r.base+offset, delim)
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) > r.size-offset {
		b = b[:r.size-offset]
	}
	return b, nil
}

func (r RangeReadRef) MakeSubrange(start, size uint64) (RangeReadRef, error) {
	if start+size > r.size || start+size < start {
		return RangeReadRef{}, fmt.Errorf("readref: subrange [%d, %d) exceeds range length %d", start, start+size, r.size)
	}
	return RangeReadRef{parent: r.parent, base: r.base + start, size: size}, nil
}

// ByteSliceRef is the simplest ReadRef: a whole in-memory byte slice, used
// for already-loaded buffers (decompressed DWARF sections, small headers
// read eagerly) rather than file-backed ranges.
type ByteSliceRef []byte

var _ ReadRef = ByteSliceRef(nil)

func (b ByteSliceRef) Len() uint64 { return uint64(len(b)) }

func (b ByteSliceRef) ReadBytesAt(offset, size uint64) ([]byte, error) {
	if offset+size > uint64(len(b)) || offset+size < offset {
		return nil, fmt.Errorf("readref: read [%d, %d) exceeds buffer length %d", offset, offset+size, len(b))
	}
	return b[offset : offset+size], nil
}

func (b ByteSliceRef) ReadBytesAtUntil(offset uint64, delim byte) ([]byte, error) {
	if offset > uint64(len(b)) {
		return nil, fmt.Errorf("readref: offset %d exceeds buffer length %d", offset, len(b))
	}
	rest := b[offset:]
	if idx := bytes.IndexByte(rest, delim); idx >= 0 {
		return rest[:idx], nil
	}
	return rest, nil
}

func (b ByteSliceRef) MakeSubrange(start, size uint64) (RangeReadRef, error) {
	return NewRangeReadRef(b, start, size)
}

// readerAt adapts a ReadRef to io.ReaderAt, so format readers built on
// stdlib/third-party io.ReaderAt-based APIs (debug/elf.NewFile,
// go-macho.NewFile/NewFatFile) pull bytes through ReadRef's own I/O
// strategy — mmap, chunk cache, or a plain slice — on demand per section
// or program header, instead of forcing the whole object to be
// materialized into one buffer up front.
type readerAt struct {
	ref ReadRef
}

// AsReaderAt wraps ref as an io.ReaderAt. Every ReadAt call is served by
// ref.ReadBytesAt, so reads stay as lazy as whatever ref itself is backed
// by.
func AsReaderAt(ref ReadRef) io.ReaderAt {
	return readerAt{ref: ref}
}

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("readref: negative offset %d", off)
	}
	size := r.ref.Len()
	if uint64(off) >= size {
		return 0, io.EOF
	}
	want := uint64(len(p))
	avail := size - uint64(off)
	short := want > avail
	if short {
		want = avail
	}
	data, err := r.ref.ReadBytesAt(uint64(off), want)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if short {
		return n, io.EOF
	}
	return n, nil
}
