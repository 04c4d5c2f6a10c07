package filecontents

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthFile deterministically fills size bytes so reads are easy to
// assert on without depending on crypto/rand or time-based seeding.
func synthFile(size int) []byte {
	buf := make([]byte, size)
	r := rand.New(rand.NewSource(42))
	r.Read(buf)
	return buf
}

func TestChunked_TransparentlyMatchesDirectMmapForContiguousReads(t *testing.T) {
	data := synthFile(5 * ChunkSize / 2) // spans multiple chunks, last one partial
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	direct, err := OpenDirect(path)
	require.NoError(t, err)
	defer direct.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	chunked, err := NewChunked(f, uint64(len(data)), 0)
	require.NoError(t, err)

	cases := []struct{ offset, size uint64 }{
		{0, 10},
		{ChunkSize - 5, 10},       // straddles a chunk boundary
		{ChunkSize, ChunkSize},    // exactly one chunk, aligned
		{100, uint64(len(data)) - 200}, // spans many chunks
		{uint64(len(data)) - 1, 1},
	}
	for _, c := range cases {
		wantBytes, err := direct.ReadBytesAt(c.offset, c.size)
		require.NoError(t, err)
		gotBytes, err := chunked.ReadBytesAt(c.offset, c.size)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(wantBytes, gotBytes), "mismatch at offset=%d size=%d", c.offset, c.size)
	}
}

func TestChunked_ReadBytesAtUntil_MatchesDirect(t *testing.T) {
	data := make([]byte, ChunkSize+50)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	data[ChunkSize+10] = 0 // NUL lands just past a chunk boundary

	dir := t.TempDir()
	path := filepath.Join(dir, "strs.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	direct, err := OpenDirect(path)
	require.NoError(t, err)
	defer direct.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	chunked, err := NewChunked(f, uint64(len(data)), 0)
	require.NoError(t, err)

	want, err := direct.ReadBytesAtUntil(ChunkSize-5, 0)
	require.NoError(t, err)
	got, err := chunked.ReadBytesAtUntil(ChunkSize-5, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChunked_OutOfRangeReadErrors(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "small")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(make([]byte, 10))
	require.NoError(t, err)

	chunked, err := NewChunked(f, 10, 0)
	require.NoError(t, err)

	_, err = chunked.ReadBytesAt(5, 100)
	assert.Error(t, err)
}

func TestChunked_RepeatedReadsHitTheCache(t *testing.T) {
	data := synthFile(ChunkSize * 3)
	dir := t.TempDir()
	path := filepath.Join(dir, "cached.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	chunked, err := NewChunked(f, uint64(len(data)), 2)
	require.NoError(t, err)

	first, err := chunked.ReadBytesAt(0, 16)
	require.NoError(t, err)
	second, err := chunked.ReadBytesAt(0, 16)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// A cache hit hands back the same cached chunk, so both reads borrow
	// the same backing bytes.
	assert.Same(t, &first[0], &second[0])
}
