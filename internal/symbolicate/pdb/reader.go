package pdb

import (
	"fmt"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/demangle"
	"github.com/manu343726/symctl/internal/symbolicate/symerr"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

// SectionHeader maps a 1-based PE section number to its RVA, used to
// translate PDB segment:offset pairs into relative addresses. When the PE
// itself isn't available (a bare .pdb queried on its own), callers may
// pass nil and segment offsets are reported as-is.
type SectionHeader struct {
	Number         int
	VirtualAddress uint32
}

// File is an opened PDB, ready for debug-id matching and symbol
// extraction.
type File struct {
	msf      *msf
	DebugId  debugid.DebugId
	sections []SectionHeader
}

// Magic is the first bytes of every MSF-container PDB file, used by the
// dispatcher's format-sniffing step.
var Magic = msfMagic

// Open parses the MSF container and PDB Info stream from raw bytes.
func Open(data []byte, sections []SectionHeader) (*File, error) {
	m, err := openMSF(data)
	if err != nil {
		return nil, &symerr.ParseError{Format: "pdb", Err: err}
	}
	id, err := readDebugId(m)
	if err != nil {
		return nil, &symerr.ParseError{Format: "pdb", Err: err}
	}
	return &File{msf: m, DebugId: id, sections: sections}, nil
}

// MatchDebugId compares query against the PDB's own id: a nil query id
// matches any PDB but returns UnmatchedDebugId carrying the PDB's real id
// as Expected, so the caller can retry with it; a non-nil query id must
// equal the PDB's own id exactly.
func (f *File) MatchDebugId(query debugid.DebugId) error {
	if query.IsNil() {
		return &symerr.UnmatchedDebugId{Expected: f.DebugId, Actual: debugid.Nil}
	}
	if !query.Equal(f.DebugId) {
		return &symerr.UnmatchedDebugId{Expected: f.DebugId, Actual: query}
	}
	return nil
}

// rvaOf translates a segment:offset pair into an RVA using the section
// table, or returns the raw offset if no section table was supplied.
func (f *File) rvaOf(segment uint16, offset uint32) uint32 {
	for _, s := range f.sections {
		if s.Number == int(segment) {
			return s.VirtualAddress + offset
		}
	}
	return offset
}

// Symbols walks every module's symbol substream plus the DBI's symbol
// record stream, demangles MSVC-mangled names, merges on RVA keeping the
// first-seen entry, and returns a sorted, unique CompactSymbolTable via
// symtab.Build. demangler may be nil, in which case a fresh per-call one
// is used.
func (f *File) Symbols(demangler *demangle.Demangler) (*symtab.CompactSymbolTable, error) {
	modules, symRecordStream, err := parseDBI(f.msf)
	if err != nil {
		return nil, &symerr.ParseError{Format: "pdb", Err: err}
	}
	if demangler == nil {
		demangler = demangle.New()
	}

	var entries []symtab.SymbolEntry

	for _, mod := range modules {
		if mod.SymbolByteSize == 0 {
			continue
		}
		stream := f.msf.Stream(int(mod.SymbolStream))
		if stream == nil {
			continue
		}
		if uint32(len(stream)) > mod.SymbolByteSize {
			stream = stream[:mod.SymbolByteSize]
		}
		procs, _ := rawSymbolRecords(stream, true)
		for _, p := range procs {
			entries = append(entries, symtab.SymbolEntry{
				Addr: f.rvaOf(p.Segment, p.Offset),
				Name: demangler.Demangle(p.Name),
			})
		}
	}

	if symRecordStream != 0 {
		if stream := f.msf.Stream(int(symRecordStream)); stream != nil {
			_, pubs := rawSymbolRecords(stream, false)
			for _, p := range pubs {
				entries = append(entries, symtab.SymbolEntry{
					Addr: f.rvaOf(p.Segment, p.Offset),
					Name: demangler.Demangle(p.Name),
				})
			}
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("pdb: no symbols found")
	}
	return symtab.Build(entries), nil
}

// AddressToFrame locates the procedure record covering rva and returns a
// single-frame AddressDebugInfo naming it. PDB line-number decoding (the
// C13 line-info subsections following a module's symbol records) is not
// implemented, so the frame carries a demangled function name but no
// file/line, producing a one-frame stack. An rva outside every known
// procedure yields (nil, false).
func (f *File) AddressToFrame(rva uint32, demangler *demangle.Demangler) (symtab.AddressDebugInfo, bool) {
	modules, _, err := parseDBI(f.msf)
	if err != nil {
		return symtab.AddressDebugInfo{}, false
	}
	if demangler == nil {
		demangler = demangle.New()
	}

	for _, mod := range modules {
		if mod.SymbolByteSize == 0 {
			continue
		}
		stream := f.msf.Stream(int(mod.SymbolStream))
		if stream == nil {
			continue
		}
		if uint32(len(stream)) > mod.SymbolByteSize {
			stream = stream[:mod.SymbolByteSize]
		}
		procs, _ := rawSymbolRecords(stream, true)
		for _, p := range procs {
			start := f.rvaOf(p.Segment, p.Offset)
			if rva < start || rva >= start+p.Length {
				continue
			}
			name := demangler.Demangle(p.Name)
			return symtab.AddressDebugInfo{
				Address: rva,
				Frames:  []symtab.InlineStackFrame{{Function: &name}},
			}, true
		}
	}
	return symtab.AddressDebugInfo{}, false
}
