// Package filecontents implements FileContents, the ReadRef a dispatcher
// hands to a format reader once a candidate path has been opened. Two
// backings are provided: Direct, a zero-copy mmap of the whole file, and
// Chunked, a fixed-size-chunk reader over an io.ReaderAt with a bounded LRU
// of hot chunks for callers (HTTP symbol servers, say) that cannot or do
// not want to map the whole file.
package filecontents

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/manu343726/symctl/internal/symbolicate/readref"
)

// ChunkSize is the fixed chunk size used by the Chunked backing.
const ChunkSize = 32 * 1024

// DefaultChunkBudget is the default number of chunks retained by the LRU,
// roughly 16 MiB at ChunkSize.
const DefaultChunkBudget = 512

// Direct is a FileContents backed by a whole-file memory mapping. Reads
// are always zero-copy borrows into the mapping.
type Direct struct {
	file *os.File
	m    mmap.MMap
}

var _ readref.ReadRef = (*Direct)(nil)

// OpenDirect memory-maps path read-only and returns a Direct FileContents.
// Close must be called when the caller is done with the query.
func OpenDirect(path string) (*Direct, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filecontents: opening %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filecontents: mapping %s: %w", path, err)
	}
	return &Direct{file: f, m: m}, nil
}

// Close unmaps the file and releases the underlying file handle.
func (d *Direct) Close() error {
	unmapErr := d.m.Unmap()
	closeErr := d.file.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}

func (d *Direct) Len() uint64 { return uint64(len(d.m)) }

func (d *Direct) ReadBytesAt(offset, size uint64) ([]byte, error) {
	if offset+size > uint64(len(d.m)) || offset+size < offset {
		return nil, fmt.Errorf("filecontents: read [%d, %d) exceeds mapped length %d", offset, offset+size, len(d.m))
	}
	return d.m[offset : offset+size], nil
}

func (d *Direct) ReadBytesAtUntil(offset uint64, delim byte) ([]byte, error) {
	if offset > uint64(len(d.m)) {
		return nil, fmt.Errorf("filecontents: offset %d exceeds mapped length %d", offset, len(d.m))
	}
	rest := d.m[offset:]
	if idx := bytes.IndexByte(rest, delim); idx >= 0 {
		return rest[:idx], nil
	}
	return rest, nil
}

func (d *Direct) MakeSubrange(start, size uint64) (readref.RangeReadRef, error) {
	return readref.NewRangeReadRef(d, start, size)
}

// Chunked is a FileContents backed by a caller-supplied io.ReaderAt, read
// in fixed ChunkSize pieces and retained in a bounded LRU keyed by chunk
// index. A read spanning a single chunk returns a borrow into that cached
// chunk (fast path); a read spanning multiple chunks fills a scratch
// buffer (slow path). Parsers must treat either as equally valid; that
// equivalence is what makes chunked reads transparent to the caller.
type Chunked struct {
	ra    io.ReaderAt
	size  uint64
	cache *lru.Cache[uint64, []byte]
}

var _ readref.ReadRef = (*Chunked)(nil)

// NewChunked builds a Chunked FileContents of known total size over ra,
// with an LRU sized in chunks (budget chunks ≈ budget*ChunkSize bytes).
func NewChunked(ra io.ReaderAt, size uint64, budget int) (*Chunked, error) {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}
	cache, err := lru.New[uint64, []byte](budget)
	if err != nil {
		return nil, fmt.Errorf("filecontents: creating chunk cache: %w", err)
	}
	return &Chunked{ra: ra, size: size, cache: cache}, nil
}

func (c *Chunked) Len() uint64 { return c.size }

func (c *Chunked) chunkIndex(offset uint64) uint64 { return offset / ChunkSize }

// fetchChunk returns the (possibly cached) bytes of the chunk with the
// given index, reading from the underlying ReaderAt on a cache miss.
func (c *Chunked) fetchChunk(index uint64) ([]byte, error) {
	if chunk, ok := c.cache.Get(index); ok {
		return chunk, nil
	}
	start := index * ChunkSize
	end := start + ChunkSize
	if end > c.size {
		end = c.size
	}
	buf := make([]byte, end-start)
	if _, err := c.ra.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("filecontents: reading chunk %d: %w", index, err)
	}
	c.cache.Add(index, buf)
	return buf, nil
}

func (c *Chunked) ReadBytesAt(offset, size uint64) ([]byte, error) {
	if offset+size > c.size || offset+size < offset {
		return nil, fmt.Errorf("filecontents: read [%d, %d) exceeds file length %d", offset, offset+size, c.size)
	}
	if size == 0 {
		return nil, nil
	}
	firstChunk := c.chunkIndex(offset)
	lastChunk := c.chunkIndex(offset + size - 1)

	if firstChunk == lastChunk {
		// Fast path: the whole read lands in one chunk, return a borrow.
		chunk, err := c.fetchChunk(firstChunk)
		if err != nil {
			return nil, err
		}
		chunkStart := firstChunk * ChunkSize
		lo := offset - chunkStart
		return chunk[lo : lo+size], nil
	}

	// Slow path: fill a scratch buffer spanning multiple chunks.
	out := make([]byte, size)
	remaining := out
	pos := offset
	for uint64(len(remaining)) > 0 {
		idx := c.chunkIndex(pos)
		chunk, err := c.fetchChunk(idx)
		if err != nil {
			return nil, err
		}
		chunkStart := idx * ChunkSize
		lo := pos - chunkStart
		n := copy(remaining, chunk[lo:])
		remaining = remaining[n:]
		pos += uint64(n)
	}
	return out, nil
}

func (c *Chunked) ReadBytesAtUntil(offset uint64, delim byte) ([]byte, error) {
	if offset > c.size {
		return nil, fmt.Errorf("filecontents: offset %d exceeds file length %d", offset, c.size)
	}
	const probe = 256
	var collected []byte
	pos := offset
	for pos < c.size {
		n := probe
		if pos+uint64(n) > c.size {
			n = int(c.size - pos)
		}
		b, err := c.ReadBytesAt(pos, uint64(n))
		if err != nil {
			return nil, err
		}
		if idx := bytes.IndexByte(b, delim); idx >= 0 {
			return append(collected, b[:idx]...), nil
		}
		collected = append(collected, b...)
		pos += uint64(n)
	}
	return collected, nil
}

func (c *Chunked) MakeSubrange(start, size uint64) (readref.RangeReadRef, error) {
	return readref.NewRangeReadRef(c, start, size)
}
