package dwarfengine

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The functions below hand-assemble the minimal .debug_abbrev/.debug_info/
// .debug_line bytes for one compilation unit with a DW_TAG_subprogram
// containing two levels of nested DW_TAG_inlined_subroutine, mirroring what
// a real compiler emits for -O2 inlining: function A calls (inlines) B,
// which calls (inlines) C.

func uleb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func sleb128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBit := b&0x40 != 0
		if (v == 0 && !signBit) || (v == -1 && signBit) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func cstr(s string) []byte {
	return append([]byte(s), 0)
}

func u16(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// Abbreviation codes used by the fixture.
const (
	abbrevCompileUnit        = 1
	abbrevSubprogram         = 2
	abbrevInlineWithChildren = 3
	abbrevInlineLeaf         = 4
)

func buildDebugAbbrev() []byte {
	var b bytes.Buffer

	// 1: DW_TAG_compile_unit, has children, DW_AT_stmt_list(sec_offset)
	b.Write(uleb128(abbrevCompileUnit))
	b.Write(uleb128(0x11)) // DW_TAG_compile_unit
	b.WriteByte(1)         // children
	b.Write(uleb128(0x10)) // DW_AT_stmt_list
	b.Write(uleb128(0x17)) // DW_FORM_sec_offset
	b.Write(uleb128(0))
	b.Write(uleb128(0))

	// 2: DW_TAG_subprogram, has children, low_pc/high_pc(addr)/linkage_name(string)
	b.Write(uleb128(abbrevSubprogram))
	b.Write(uleb128(0x2e)) // DW_TAG_subprogram
	b.WriteByte(1)
	b.Write(uleb128(0x11)) // DW_AT_low_pc
	b.Write(uleb128(0x01)) // DW_FORM_addr
	b.Write(uleb128(0x12)) // DW_AT_high_pc
	b.Write(uleb128(0x01)) // DW_FORM_addr
	b.Write(uleb128(0x6e)) // DW_AT_linkage_name
	b.Write(uleb128(0x08)) // DW_FORM_string
	b.Write(uleb128(0))
	b.Write(uleb128(0))

	// 3: DW_TAG_inlined_subroutine, has children
	writeInlineAbbrev(&b, abbrevInlineWithChildren, true)
	// 4: DW_TAG_inlined_subroutine, leaf (no children)
	writeInlineAbbrev(&b, abbrevInlineLeaf, false)

	b.Write(uleb128(0)) // table terminator
	return b.Bytes()
}

func writeInlineAbbrev(b *bytes.Buffer, code uint64, hasChildren bool) {
	b.Write(uleb128(code))
	b.Write(uleb128(0x1d)) // DW_TAG_inlined_subroutine
	if hasChildren {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
	b.Write(uleb128(0x11)) // DW_AT_low_pc
	b.Write(uleb128(0x01)) // DW_FORM_addr
	b.Write(uleb128(0x12)) // DW_AT_high_pc
	b.Write(uleb128(0x01)) // DW_FORM_addr
	b.Write(uleb128(0x58)) // DW_AT_call_file
	b.Write(uleb128(0x0f)) // DW_FORM_udata
	b.Write(uleb128(0x59)) // DW_AT_call_line
	b.Write(uleb128(0x0f)) // DW_FORM_udata
	b.Write(uleb128(0x6e)) // DW_AT_linkage_name
	b.Write(uleb128(0x08)) // DW_FORM_string
	b.Write(uleb128(0))
	b.Write(uleb128(0))
}

// buildDebugInfo assembles a single DWARF4 CU with the tree:
//
//	A [0x1000,0x2000)
//	  B [0x1000,0x1800) call_file=1 call_line=50 (inlined into A)
//	    C [0x1000,0x1400) call_file=1 call_line=77 (inlined into B, leaf)
func buildDebugInfo() []byte {
	var dies bytes.Buffer

	dies.Write(uleb128(abbrevCompileUnit))
	dies.Write(u32(0)) // DW_AT_stmt_list: offset 0 into .debug_line

	dies.Write(uleb128(abbrevSubprogram))
	dies.Write(u64(0x1000))
	dies.Write(u64(0x2000))
	dies.Write(cstr("A"))

	dies.Write(uleb128(abbrevInlineWithChildren))
	dies.Write(u64(0x1000))
	dies.Write(u64(0x1800))
	dies.Write(uleb128(1))
	dies.Write(uleb128(50))
	dies.Write(cstr("B"))

	dies.Write(uleb128(abbrevInlineLeaf))
	dies.Write(u64(0x1000))
	dies.Write(u64(0x1400))
	dies.Write(uleb128(1))
	dies.Write(uleb128(77))
	dies.Write(cstr("C"))

	// C has no children (its abbrev declares children=0, so it consumes
	// no terminator of its own). What follows closes, in turn, B's
	// children (just C), A's children (just B), and the CU's (just A).
	dies.WriteByte(0)
	dies.WriteByte(0)
	dies.WriteByte(0)

	header := u16(4) // version
	header = append(header, u32(0)...) // debug_abbrev_offset
	header = append(header, byte(8))   // address_size

	body := append(header, dies.Bytes()...)
	var out bytes.Buffer
	out.Write(u32(uint32(len(body))))
	out.Write(body)
	return out.Bytes()
}

// buildDebugLine assembles a DWARF4 line-number program for the same CU
// with three rows plus an end-of-sequence marker:
//
//	0x1000 -> file 1 ("a.c"), line 100
//	0x1100 -> file 2 ("b.c"), line 999
//	0x1400 -> file 1 ("a.c"), line 200
//	0x2000 -> end_sequence
func buildDebugLine() []byte {
	var fileNames bytes.Buffer
	fileNames.Write(cstr("a.c"))
	fileNames.Write(uleb128(0)) // dir index
	fileNames.Write(uleb128(0)) // mtime
	fileNames.Write(uleb128(0)) // length
	fileNames.Write(cstr("b.c"))
	fileNames.Write(uleb128(0))
	fileNames.Write(uleb128(0))
	fileNames.Write(uleb128(0))
	fileNames.WriteByte(0) // terminator

	var header bytes.Buffer
	header.WriteByte(1)                        // minimum_instruction_length
	header.WriteByte(1)                        // maximum_operations_per_instruction
	header.WriteByte(1)                        // default_is_stmt
	lineBase := int8(-5)
	header.WriteByte(byte(lineBase)) // line_base
	header.WriteByte(14)                        // line_range
	header.WriteByte(13)                        // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	header.WriteByte(0) // no include_directories, just the terminator
	header.Write(fileNames.Bytes())

	var program bytes.Buffer
	// DW_LNE_set_address 0x1000
	program.WriteByte(0)
	program.Write(uleb128(9)) // sub-opcode byte + 8-byte address
	program.WriteByte(2)      // DW_LNE_set_address
	program.Write(u64(0x1000))

	program.WriteByte(4) // DW_LNS_set_file
	program.Write(uleb128(1))
	program.WriteByte(3) // DW_LNS_advance_line
	program.Write(sleb128(99))
	program.WriteByte(1) // DW_LNS_copy -> emits (0x1000, a.c, 100)

	program.WriteByte(2) // DW_LNS_advance_pc
	program.Write(uleb128(0x100))
	program.WriteByte(4) // DW_LNS_set_file
	program.Write(uleb128(2))
	program.WriteByte(3) // DW_LNS_advance_line
	program.Write(sleb128(899))
	program.WriteByte(1) // DW_LNS_copy -> emits (0x1100, b.c, 999)

	program.WriteByte(2) // DW_LNS_advance_pc
	program.Write(uleb128(0x300))
	program.WriteByte(4) // DW_LNS_set_file
	program.Write(uleb128(1))
	program.WriteByte(3) // DW_LNS_advance_line
	program.Write(sleb128(-799))
	program.WriteByte(1) // DW_LNS_copy -> emits (0x1400, a.c, 200)

	program.WriteByte(2) // DW_LNS_advance_pc
	program.Write(uleb128(0xc00))
	program.WriteByte(0) // extended opcode
	program.Write(uleb128(1))
	program.WriteByte(1) // DW_LNE_end_sequence -> emits (0x2000, end_sequence)

	headerLength := uint32(header.Len())
	body := u16(4) // version
	body = append(body, u32(headerLength)...)
	body = append(body, header.Bytes()...)
	body = append(body, program.Bytes()...)

	var out bytes.Buffer
	out.Write(u32(uint32(len(body))))
	out.Write(body)
	return out.Bytes()
}

func buildNestedInlineFixture(t *testing.T) *SectionDataSlices {
	t.Helper()
	provider := fakeProvider{
		".debug_abbrev": {Name: ".debug_abbrev", Data: buildDebugAbbrev()},
		".debug_info":   {Name: ".debug_info", Data: buildDebugInfo()},
		".debug_line":   {Name: ".debug_line", Data: buildDebugLine()},
	}
	sections, err := BuildSectionDataSlices(provider)
	require.NoError(t, err)
	return sections
}

func TestAddressToFrames_NestedInlinesInnermostFirstWithShiftedLocations(t *testing.T) {
	sections := buildNestedInlineFixture(t)
	engine, err := New(sections, nil, nil)
	require.NoError(t, err)

	frames, ok := engine.AddressToFrames(0x1100)
	require.True(t, ok)
	require.Len(t, frames, 3)

	require.NotNil(t, frames[0].Function)
	assert.Equal(t, "C", *frames[0].Function)
	require.NotNil(t, frames[0].FilePath)
	assert.Equal(t, "b.c", *frames[0].FilePath)
	require.NotNil(t, frames[0].Line)
	assert.Equal(t, uint32(999), *frames[0].Line)

	require.NotNil(t, frames[1].Function)
	assert.Equal(t, "B", *frames[1].Function)
	require.NotNil(t, frames[1].FilePath)
	assert.Equal(t, "a.c", *frames[1].FilePath)
	require.NotNil(t, frames[1].Line)
	assert.Equal(t, uint32(77), *frames[1].Line)

	require.NotNil(t, frames[2].Function)
	assert.Equal(t, "A", *frames[2].Function)
	require.NotNil(t, frames[2].FilePath)
	assert.Equal(t, "a.c", *frames[2].FilePath)
	require.NotNil(t, frames[2].Line)
	assert.Equal(t, uint32(50), *frames[2].Line)
}

func TestAddressToFrames_OuterFunctionOnlyUsesLineTableForLeaf(t *testing.T) {
	sections := buildNestedInlineFixture(t)
	engine, err := New(sections, nil, nil)
	require.NoError(t, err)

	// 0x1900 is inside A but outside both B and C, so A is itself the
	// leaf frame and must be resolved from the line table, not from a
	// decl_file/decl_line this fixture doesn't even encode.
	frames, ok := engine.AddressToFrames(0x1900)
	require.True(t, ok)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Function)
	assert.Equal(t, "A", *frames[0].Function)
	require.NotNil(t, frames[0].FilePath)
	assert.Equal(t, "a.c", *frames[0].FilePath)
	require.NotNil(t, frames[0].Line)
	assert.Equal(t, uint32(200), *frames[0].Line)
}

func TestAddressToFrames_UnknownAddressReportsNotFound(t *testing.T) {
	sections := buildNestedInlineFixture(t)
	engine, err := New(sections, nil, nil)
	require.NoError(t, err)

	_, ok := engine.AddressToFrames(0x5000)
	assert.False(t, ok)
}
