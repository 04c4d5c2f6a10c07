package pdb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16le(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// buildRecord frames one CodeView symbol record: u16 length (covering
// kind + body), u16 kind, body.
func buildRecord(kind uint16, body []byte) []byte {
	out := u16le(uint16(2 + len(body)))
	out = append(out, u16le(kind)...)
	return append(out, body...)
}

// gproc32Body lays out a PROCSYM32 body: pParent, pEnd, pNext, len,
// DbgStart, DbgEnd, typind, off, seg, flags, name.
func gproc32Body(length, off uint32, seg uint16, name string) []byte {
	var body []byte
	body = append(body, u32le(0)...)      // pParent
	body = append(body, u32le(0)...)      // pEnd
	body = append(body, u32le(0)...)      // pNext
	body = append(body, u32le(length)...) // len
	body = append(body, u32le(0)...)      // DbgStart
	body = append(body, u32le(0)...)      // DbgEnd
	body = append(body, u32le(0)...)      // typind
	body = append(body, u32le(off)...)    // off
	body = append(body, u16le(seg)...)    // seg
	body = append(body, 0)                // flags
	body = append(body, name...)
	return append(body, 0)
}

// pub32Body lays out a PUBSYM32 body: pubsymflags, off, seg, name.
func pub32Body(off uint32, seg uint16, name string) []byte {
	var body []byte
	body = append(body, u32le(0)...)
	body = append(body, u32le(off)...)
	body = append(body, u16le(seg)...)
	body = append(body, name...)
	return append(body, 0)
}

func TestRawSymbolRecords_DecodesProcFromModuleStream(t *testing.T) {
	stream := u32le(4) // CV_SIGNATURE_C13 prefix
	stream = append(stream, buildRecord(symGPROC32, gproc32Body(0x40, 0x1000, 1, "my_func"))...)
	// An unrecognized record kind in between must be skipped by length.
	stream = append(stream, buildRecord(0x1012, []byte{1, 2, 3, 4})...)
	stream = append(stream, buildRecord(symLPROC32, gproc32Body(0x10, 0x2000, 2, "local_func"))...)

	procs, pubs := rawSymbolRecords(stream, true)
	require.Len(t, procs, 2)
	assert.Empty(t, pubs)

	assert.Equal(t, uint16(1), procs[0].Segment)
	assert.Equal(t, uint32(0x1000), procs[0].Offset)
	assert.Equal(t, uint32(0x40), procs[0].Length)
	assert.Equal(t, "my_func", procs[0].Name)

	assert.Equal(t, uint16(2), procs[1].Segment)
	assert.Equal(t, uint32(0x2000), procs[1].Offset)
	assert.Equal(t, "local_func", procs[1].Name)
}

func TestRawSymbolRecords_DecodesPubFromUnprefixedRecordStream(t *testing.T) {
	// The DBI symbol record stream has no signature prefix.
	stream := buildRecord(symPUB32, pub32Body(0x34670, 1, "?profiler_get_profile@baseprofiler@mozilla@@YAXXZ"))

	procs, pubs := rawSymbolRecords(stream, false)
	assert.Empty(t, procs)
	require.Len(t, pubs, 1)
	assert.Equal(t, uint16(1), pubs[0].Segment)
	assert.Equal(t, uint32(0x34670), pubs[0].Offset)
	assert.Equal(t, "?profiler_get_profile@baseprofiler@mozilla@@YAXXZ", pubs[0].Name)
}

func TestRawSymbolRecords_TruncatedRecordStopsCleanly(t *testing.T) {
	stream := u32le(4)
	full := buildRecord(symGPROC32, gproc32Body(0x40, 0x1000, 1, "f"))
	stream = append(stream, full[:len(full)-3]...)

	procs, pubs := rawSymbolRecords(stream, true)
	assert.Empty(t, procs)
	assert.Empty(t, pubs)
}

func TestParseModuleInfoSubstream_ReadsStreamIndexAndSize(t *testing.T) {
	rec := make([]byte, 64)
	binary.LittleEndian.PutUint16(rec[34:36], 7)      // module symbol stream
	binary.LittleEndian.PutUint32(rec[36:40], 0x1234) // symbol byte size
	rec = append(rec, "mod.obj\x00lib.lib\x00"...)
	for len(rec)%4 != 0 {
		rec = append(rec, 0)
	}

	modules, err := parseModuleInfoSubstream(rec)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "mod.obj", modules[0].Name)
	assert.Equal(t, "lib.lib", modules[0].ObjFile)
	assert.Equal(t, uint16(7), modules[0].SymbolStream)
	assert.Equal(t, uint32(0x1234), modules[0].SymbolByteSize)
}
