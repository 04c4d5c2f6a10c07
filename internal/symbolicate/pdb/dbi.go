package pdb

import (
	"encoding/binary"
	"fmt"
)

// streamDBI is the fixed MSF stream index holding the Debug Info (DBI)
// stream.
const streamDBI = 3

// dbiHeader is the fixed-size prefix of the DBI stream. Only the fields
// needed to locate the module info substream are decoded; the rest of
// the DBI stream's many substreams (section contributions, section map,
// type server map, ...) are intentionally left unparsed.
type dbiHeader struct {
	VersionSignature   int32
	VersionHeader      uint32
	Age                uint32
	GlobalStreamIndex  uint16
	BuildNumber        uint16
	PublicStreamIndex  uint16
	PdbDllVersion      uint16
	SymRecordStream    uint16
	PdbDllRbld         uint16
	ModInfoSize        int32
	SectionContribSize int32
	SectionMapSize     int32
	SourceInfoSize     int32
	TypeServerMapSize  int32
	MFCTypeServerIndex uint32
	OptionalDbgSize    int32
	ECSubstreamSize    int32
	Flags              uint16
	Machine            uint16
	Padding            uint32
}

const dbiHeaderSize = 64

// moduleInfo is one entry of the DBI module info substream: the module's
// own symbol stream and that stream's byte size.
type moduleInfo struct {
	Name           string
	ObjFile        string
	SymbolStream   uint16
	SymbolByteSize uint32
}

// parseDBI reads the DBI stream header and its module info substream.
func parseDBI(m *msf) ([]moduleInfo, uint16, error) {
	data := m.Stream(streamDBI)
	if len(data) < dbiHeaderSize {
		return nil, 0, fmt.Errorf("pdb: DBI stream missing or truncated")
	}

	hdr := dbiHeader{
		VersionSignature:   int32(binary.LittleEndian.Uint32(data[0:4])),
		VersionHeader:      binary.LittleEndian.Uint32(data[4:8]),
		Age:                binary.LittleEndian.Uint32(data[8:12]),
		GlobalStreamIndex:  binary.LittleEndian.Uint16(data[12:14]),
		BuildNumber:        binary.LittleEndian.Uint16(data[14:16]),
		PublicStreamIndex:  binary.LittleEndian.Uint16(data[16:18]),
		PdbDllVersion:      binary.LittleEndian.Uint16(data[18:20]),
		SymRecordStream:    binary.LittleEndian.Uint16(data[20:22]),
		PdbDllRbld:         binary.LittleEndian.Uint16(data[22:24]),
		ModInfoSize:        int32(binary.LittleEndian.Uint32(data[24:28])),
		SectionContribSize: int32(binary.LittleEndian.Uint32(data[28:32])),
		SectionMapSize:     int32(binary.LittleEndian.Uint32(data[32:36])),
		SourceInfoSize:     int32(binary.LittleEndian.Uint32(data[36:40])),
		TypeServerMapSize:  int32(binary.LittleEndian.Uint32(data[40:44])),
		MFCTypeServerIndex: binary.LittleEndian.Uint32(data[44:48]),
		OptionalDbgSize:    int32(binary.LittleEndian.Uint32(data[48:52])),
		ECSubstreamSize:    int32(binary.LittleEndian.Uint32(data[52:56])),
		Flags:              binary.LittleEndian.Uint16(data[56:58]),
		Machine:            binary.LittleEndian.Uint16(data[58:60]),
	}

	modStart := dbiHeaderSize
	modEnd := modStart + int(hdr.ModInfoSize)
	if modEnd > len(data) || hdr.ModInfoSize < 0 {
		return nil, 0, fmt.Errorf("pdb: DBI module info substream out of range")
	}

	modules, err := parseModuleInfoSubstream(data[modStart:modEnd])
	return modules, hdr.SymRecordStream, err
}

// parseModuleInfoSubstream decodes a sequence of variable-length module
// info records: a fixed 64-byte prefix (u32 unused, the 28-byte section
// contribution, u16 flags, u16 symbol stream index at offset 34, u32
// symbol byte size at 36, then C11/C13 sizes and source-file bookkeeping
// we skip) followed by two NUL-terminated strings (module name, object
// file name), padded to a 4-byte boundary.
func parseModuleInfoSubstream(data []byte) ([]moduleInfo, error) {
	var modules []moduleInfo
	pos := 0
	for pos+64 <= len(data) {
		rec := data[pos:]
		symbolStream := binary.LittleEndian.Uint16(rec[34:36])
		symbolByteSize := binary.LittleEndian.Uint32(rec[36:40])
		strOff := 64

		name, n, err := readCString(rec[strOff:])
		if err != nil {
			return modules, err
		}
		strOff += n
		objFile, n2, err := readCString(rec[strOff:])
		if err != nil {
			return modules, err
		}
		strOff += n2

		recLen := align4(strOff)
		modules = append(modules, moduleInfo{
			Name:           name,
			ObjFile:        objFile,
			SymbolStream:   symbolStream,
			SymbolByteSize: symbolByteSize,
		})
		pos += recLen
	}
	return modules, nil
}

func readCString(data []byte) (string, int, error) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("pdb: unterminated string in module info")
}

func align4(n int) int {
	return (n + 3) &^ 3
}
