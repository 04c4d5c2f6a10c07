package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
)

func TestGetCandidatePaths_ReturnsDirectFileWhenPresent(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "libfoo.so")
	require.NoError(t, os.WriteFile(binPath, []byte{0x7f, 'E', 'L', 'F'}, 0o644))

	p := Directory{Root: dir}
	candidates, err := p.GetCandidatePaths(context.Background(), "libfoo.so", debugid.Nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, binPath, candidates[0].Path)
}

func TestGetCandidatePaths_PrefersSiblingPDBAfterDirectBinary(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "app.exe")
	pdbPath := filepath.Join(dir, "app.pdb")
	require.NoError(t, os.WriteFile(binPath, []byte("MZ"), 0o644))
	require.NoError(t, os.WriteFile(pdbPath, []byte("Microsoft C/C++"), 0o644))

	p := Directory{Root: dir}
	candidates, err := p.GetCandidatePaths(context.Background(), "app.exe", debugid.Nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, binPath, candidates[0].Path)
	assert.Equal(t, pdbPath, candidates[1].Path)
}

func TestGetCandidatePaths_PrefersDSYMCompanionOverBinary(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "firefox")
	dsymPath := filepath.Join(dir, "firefox.dSYM", "Contents", "Resources", "DWARF", "firefox")
	require.NoError(t, os.MkdirAll(filepath.Dir(dsymPath), 0o755))
	require.NoError(t, os.WriteFile(binPath, []byte{0xfe, 0xed, 0xfa, 0xcf}, 0o644))
	require.NoError(t, os.WriteFile(dsymPath, []byte{0xfe, 0xed, 0xfa, 0xcf}, 0o644))

	p := Directory{Root: dir}
	candidates, err := p.GetCandidatePaths(context.Background(), "firefox", debugid.Nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, dsymPath, candidates[0].Path)
	assert.Equal(t, binPath, candidates[1].Path)
}

func TestGetCandidatePaths_EmptyWhenNothingExists(t *testing.T) {
	dir := t.TempDir()
	p := Directory{Root: dir}
	candidates, err := p.GetCandidatePaths(context.Background(), "missing.so", debugid.Nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestOpenFile_MemoryMapsCandidatePath(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(binPath, []byte("hello"), 0o644))

	p := Directory{Root: dir}
	ref, closer, err := p.OpenFile(context.Background(), dispatch.CandidatePathInfo{Path: binPath})
	require.NoError(t, err)
	defer closer()

	data, err := ref.ReadBytesAt(0, ref.Len())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
