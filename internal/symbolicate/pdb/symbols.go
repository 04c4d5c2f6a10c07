package pdb

import (
	"encoding/binary"
)

// CodeView symbol record kinds relevant to symbol-table extraction. Only
// these are decoded; every other record kind is skipped using its own
// length prefix.
const (
	symPUB32   = 0x110E
	symLPROC32 = 0x110F
	symGPROC32 = 0x1110
)

// procRecord is the subset of PROCSYM32 (S_GPROC32/S_LPROC32) fields
// needed to place a function symbol: its segment:offset, covered byte
// length, and name. The parent/end/next/typeindex/flags fields are
// skipped.
type procRecord struct {
	Segment uint16
	Offset  uint32
	Length  uint32
	Name    string
}

// pubRecord is the subset of PUBSYM32 (S_PUB32) fields needed to place an
// exported symbol.
type pubRecord struct {
	Segment uint16
	Offset  uint32
	Name    string
}

// rawSymbolRecords walks a CodeView symbol stream, returning the decoded
// proc and pub records. Module symbol substreams open with a 4-byte
// CV_SIGNATURE prefix (4 for modern C13 toolchains); the DBI's symbol
// record stream is raw records from offset 0, so callers say which shape
// they hold via hasSignature. Unrecognized record kinds are skipped via
// their own length prefix.
//
// PROCSYM32 body layout (after the 4-byte reclen+kind header): pParent,
// pEnd, pNext, len, DbgStart, DbgEnd u32 each, typind u32, off u32 at 28,
// seg u16 at 32, flags u8 at 34, then the NUL-terminated name. PUBSYM32:
// pubsymflags u32, off u32 at 4, seg u16 at 8, then the name.
func rawSymbolRecords(stream []byte, hasSignature bool) ([]procRecord, []pubRecord) {
	pos := 0
	if hasSignature {
		if len(stream) < 4 {
			return nil, nil
		}
		pos = 4
	}

	var procs []procRecord
	var pubs []pubRecord

	for pos+4 <= len(stream) {
		recLen := int(binary.LittleEndian.Uint16(stream[pos : pos+2]))
		if recLen < 2 {
			break
		}
		recEnd := pos + 2 + recLen
		if recEnd > len(stream) {
			break
		}
		kind := binary.LittleEndian.Uint16(stream[pos+2 : pos+4])
		body := stream[pos+4 : recEnd]

		switch kind {
		case symPUB32:
			if len(body) >= 11 {
				off := binary.LittleEndian.Uint32(body[4:8])
				seg := binary.LittleEndian.Uint16(body[8:10])
				name, _, err := readCString(body[10:])
				if err == nil {
					pubs = append(pubs, pubRecord{Segment: seg, Offset: off, Name: name})
				}
			}
		case symGPROC32, symLPROC32:
			if len(body) >= 36 {
				length := binary.LittleEndian.Uint32(body[12:16])
				off := binary.LittleEndian.Uint32(body[28:32])
				seg := binary.LittleEndian.Uint16(body[32:34])
				name, _, err := readCString(body[35:])
				if err == nil {
					procs = append(procs, procRecord{Segment: seg, Offset: off, Length: length, Name: name})
				}
			}
		}

		pos = recEnd
	}
	return procs, pubs
}
