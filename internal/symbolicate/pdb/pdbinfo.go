package pdb

import (
	"encoding/binary"
	"fmt"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
)

// streamPDBInfo is the fixed MSF stream index holding the PDB Info
// stream, per the MSF container convention.
const streamPDBInfo = 1

// pdbInfoHeader is the fixed-size prefix of the PDB Info stream: version,
// a build timestamp signature, the incrementing age, and the 16-byte GUID
// that together with age forms the debug id.
type pdbInfoHeader struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte
}

// readDebugId extracts (guid, age) from the PDB Info stream (stream 1).
func readDebugId(m *msf) (debugid.DebugId, error) {
	data := m.Stream(streamPDBInfo)
	if len(data) < 28 {
		return debugid.Nil, fmt.Errorf("pdb: PDB Info stream missing or truncated")
	}
	hdr := pdbInfoHeader{
		Version:   binary.LittleEndian.Uint32(data[0:4]),
		Signature: binary.LittleEndian.Uint32(data[4:8]),
		Age:       binary.LittleEndian.Uint32(data[8:12]),
	}
	copy(hdr.GUID[:], data[12:28])
	return debugid.New(hdr.GUID, hdr.Age), nil
}
