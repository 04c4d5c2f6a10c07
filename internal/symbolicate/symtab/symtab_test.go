package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_SortsDeduplicatesAndSatisfiesInvariants(t *testing.T) {
	table := Build([]SymbolEntry{
		{Addr: 0x200, Name: "second"},
		{Addr: 0x100, Name: "first"},
		{Addr: 0x100, Name: "first_shadowed"},
		{Addr: 0x300, Name: "third"},
	})

	require.NoError(t, table.Validate())
	require.Equal(t, 3, table.Len())
	assert.Equal(t, []uint32{0x100, 0x200, 0x300}, table.Addr)
	assert.Equal(t, "first", table.Name(0))
	assert.Equal(t, "second", table.Name(1))
	assert.Equal(t, "third", table.Name(2))
}

func TestBuild_EmptyInputProducesEmptyValidTable(t *testing.T) {
	table := Build(nil)
	require.NoError(t, table.Validate())
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, []uint32{0}, table.Index)
}

func TestValidate_RejectsMismatchedIndexLength(t *testing.T) {
	table := &CompactSymbolTable{
		Addr:   []uint32{1, 2},
		Index:  []uint32{0, 1},
		Buffer: []byte("a"),
	}
	assert.Error(t, table.Validate())
}

func TestValidate_RejectsNonAscendingAddresses(t *testing.T) {
	table := &CompactSymbolTable{
		Addr:   []uint32{2, 1},
		Index:  []uint32{0, 1, 2},
		Buffer: []byte("ab"),
	}
	assert.Error(t, table.Validate())
}

func TestValidate_RejectsInvalidUTF8(t *testing.T) {
	table := &CompactSymbolTable{
		Addr:   []uint32{1},
		Index:  []uint32{0, 2},
		Buffer: []byte{0xff, 0xfe},
	}
	assert.Error(t, table.Validate())
}

func TestResultSinks_CollectOnlyTheirOwnShape(t *testing.T) {
	table := Build([]SymbolEntry{{Addr: 0x10, Name: "f"}})
	name := "f"
	info := AddressDebugInfo{Address: 0x10, Frames: []InlineStackFrame{{Function: &name}}}

	var tr TableResult
	tr.ConsumeTable(table)
	tr.ConsumeAddressInfo(info)
	assert.Equal(t, table, tr.Table)

	var ar AddressesResult
	ar.ConsumeTable(table)
	ar.ConsumeAddressInfo(info)
	require.Len(t, ar.Entries, 1)
	assert.Equal(t, info, ar.Entries[0])
}

func TestDump_IsByteStableAndRoundTrips(t *testing.T) {
	table := Build([]SymbolEntry{
		{Addr: 0x31fc0, Name: "sandbox::EnumDisplayMonitors(sandbox::IPCInfo*)"},
		{Addr: 0x34670, Name: "mozilla::baseprofiler::profiler_get_profile(double, bool, bool)"},
	})

	first, err := table.Dump()
	require.NoError(t, err)
	second, err := table.Dump()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	parsed, err := ParseSnapshot(first)
	require.NoError(t, err)
	assert.Equal(t, table, parsed)
}

func TestBuild_FirstSeenWinsOnAddressCollision(t *testing.T) {
	// First-seen entry survives an address collision (matches the
	// PE export-table tie-break).
	table := Build([]SymbolEntry{
		{Addr: 0x10, Name: "winner"},
		{Addr: 0x10, Name: "loser"},
	})
	require.Equal(t, 1, table.Len())
	assert.Equal(t, "winner", table.Name(0))
}
