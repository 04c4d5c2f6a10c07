package dwarfengine

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal SectionProvider backed by a name->RawSection
// map, used to exercise the canonical/legacy-name and decompression
// policy without a real object file.
type fakeProvider map[string]RawSection

func (f fakeProvider) Section(name string) (RawSection, bool) {
	s, ok := f[name]
	return s, ok
}

func legacyZlibSection(t *testing.T, payload []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	out := append([]byte{}, legacyZlibMagic...)
	out = append(out, lenPrefix[:]...)
	out = append(out, compressed.Bytes()...)
	return out
}

func TestBuildSectionDataSlices_UsesCanonicalNameView(t *testing.T) {
	provider := fakeProvider{
		".debug_info": {Name: ".debug_info", Data: []byte{1, 2, 3, 4}},
	}
	sections, err := BuildSectionDataSlices(provider)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, sections.Get(DebugInfo))
}

func TestBuildSectionDataSlices_FallsBackToLegacyZdebugName(t *testing.T) {
	payload := []byte("some uncompressed dwarf bytes, repeated to compress well, repeated to compress well")
	provider := fakeProvider{
		".zdebug_info": {Name: ".zdebug_info", Data: legacyZlibSection(t, payload)},
	}
	sections, err := BuildSectionDataSlices(provider)
	require.NoError(t, err)
	assert.Equal(t, payload, sections.Get(DebugInfo))
}

func TestBuildSectionDataSlices_DecompressesCompressedFlaggedSection(t *testing.T) {
	payload := []byte("compressed-via-object-format-metadata")
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	provider := fakeProvider{
		".debug_line": {Name: ".debug_line", Data: buf.Bytes(), Compressed: true},
	}
	sections, err := BuildSectionDataSlices(provider)
	require.NoError(t, err)
	assert.Equal(t, payload, sections.Get(DebugLine))
}

func TestBuildSectionDataSlices_MissingSectionIsEmptyNotError(t *testing.T) {
	sections, err := BuildSectionDataSlices(fakeProvider{})
	require.NoError(t, err)
	assert.Nil(t, sections.Get(DebugAbbrev))
	assert.Nil(t, sections.Get(DebugStrOffsets))
}

func TestBuildSectionDataSlices_CorruptCompressedSectionDropsToEmpty(t *testing.T) {
	provider := fakeProvider{
		".debug_aranges": {Name: ".debug_aranges", Data: []byte{0xde, 0xad, 0xbe, 0xef}, Compressed: true},
	}
	sections, err := BuildSectionDataSlices(provider)
	require.NoError(t, err)
	assert.Nil(t, sections.Get(DebugAranges))
}
