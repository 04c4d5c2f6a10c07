// Package pereader implements the PE + PDB-by-binary reader: given a PE
// buffer, locate the expected sibling PDB via the CodeView debug
// directory, and fall back to the export table (plus function-table
// gap-filling) when no PDB is available. Built on github.com/saferwall/pe
// for header/debug-directory/export-table parsing.
package pereader

import (
	"encoding/binary"
	"fmt"
	"strings"

	swpe "github.com/saferwall/pe"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/pdb"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

// File wraps a parsed PE image.
type File struct {
	pe *swpe.File
}

// Open parses a PE image from raw bytes.
func Open(data []byte) (*File, error) {
	pf, err := swpe.NewBytes(data, &swpe.Options{})
	if err != nil {
		return nil, fmt.Errorf("pereader: %w", err)
	}
	if err := pf.Parse(); err != nil {
		return nil, fmt.Errorf("pereader: parsing: %w", err)
	}
	return &File{pe: pf}, nil
}

// CodeViewInfo is the expected sibling PDB's name and debug id, extracted
// from the IMAGE_DEBUG_TYPE_CODEVIEW directory entry.
type CodeViewInfo struct {
	PDBFileName string
	DebugId     debugid.DebugId
}

// CodeView reads the CodeView debug directory entry, if present.
func (f *File) CodeView() (CodeViewInfo, bool) {
	for _, entry := range f.pe.Debugs {
		pdb70, ok := entry.Info.(swpe.CVInfoPDB70)
		if !ok {
			continue
		}
		guid := [16]byte{}
		binary.LittleEndian.PutUint32(guid[0:4], pdb70.Signature.Data1)
		binary.LittleEndian.PutUint16(guid[4:6], pdb70.Signature.Data2)
		binary.LittleEndian.PutUint16(guid[6:8], pdb70.Signature.Data3)
		copy(guid[8:16], pdb70.Signature.Data4[:])

		name := strings.TrimRight(pdb70.PDBFileName, "\x00")
		return CodeViewInfo{
			PDBFileName: name,
			DebugId:     debugid.New(guid, pdb70.Age),
		}, true
	}
	return CodeViewInfo{}, false
}

// ImageBase returns the image base address from the optional header, the
// relative-address base for a PE image.
func (f *File) ImageBase() uint64 {
	switch oh := f.pe.NtHeader.OptionalHeader.(type) {
	case swpe.ImageOptionalHeader64:
		return oh.ImageBase
	case swpe.ImageOptionalHeader32:
		return uint64(oh.ImageBase)
	default:
		return 0
	}
}

// SectionHeaders returns the image's section table as PDB segment:offset
// translation input, so a PDB opened for this binary can turn internal
// section-relative addresses into RVAs.
func (f *File) SectionHeaders() []pdb.SectionHeader {
	headers := make([]pdb.SectionHeader, 0, len(f.pe.Sections))
	for i, s := range f.pe.Sections {
		headers = append(headers, pdb.SectionHeader{
			Number:         i + 1,
			VirtualAddress: s.Header.VirtualAddress,
		})
	}
	return headers
}

// runtimeFunction mirrors the x64 RUNTIME_FUNCTION entry (.pdata), used
// here purely to discover function start addresses that have no export
// entry, so gaps between exports can still get a placeholder symbol
// rather than being silently omitted.
type runtimeFunction struct {
	BeginAddress uint32
	EndAddress   uint32
	UnwindInfo   uint32
}

// ExportSymbols returns every exported function as SymbolEntry pairs. RVA
// collisions keep the first-seen entry (symtab.Build's stable sort does
// this automatically).
func (f *File) ExportSymbols() []symtab.SymbolEntry {
	var entries []symtab.SymbolEntry
	for _, fn := range f.pe.Export.Functions {
		if fn.Name == "" {
			continue
		}
		entries = append(entries, symtab.SymbolEntry{Addr: fn.FunctionRVA, Name: fn.Name})
	}
	return entries
}

// sectionData returns the raw bytes of the named section, or nil when the
// image has no such section.
func (f *File) sectionData(name string) []byte {
	for i := range f.pe.Sections {
		s := &f.pe.Sections[i]
		if strings.TrimRight(string(s.Header.Name[:]), "\x00") != name {
			continue
		}
		return s.Data(0, s.Header.SizeOfRawData, f.pe)
	}
	return nil
}

// PlaceholderSymbols returns fun_<hex> entries for function starts found
// in the .pdata exception directory that do not already have an export
// name (e.g. "fun_56420" appearing alongside real export names).
func (f *File) PlaceholderSymbols(haveAddr map[uint32]bool) []symtab.SymbolEntry {
	data := f.sectionData(".pdata")
	if data == nil {
		return nil
	}
	const entrySize = 12
	var entries []symtab.SymbolEntry
	for off := 0; off+entrySize <= len(data); off += entrySize {
		var rf runtimeFunction
		rf.BeginAddress = binary.LittleEndian.Uint32(data[off : off+4])
		rf.EndAddress = binary.LittleEndian.Uint32(data[off+4 : off+8])
		rf.UnwindInfo = binary.LittleEndian.Uint32(data[off+8 : off+12])
		if rf.BeginAddress == 0 || haveAddr[rf.BeginAddress] {
			continue
		}
		entries = append(entries, symtab.SymbolEntry{
			Addr: rf.BeginAddress,
			Name: fmt.Sprintf("fun_%x", rf.BeginAddress),
		})
	}
	return entries
}

// Symbols returns the combined export-table plus placeholder symbol list,
// built the way the dispatcher uses it when no sibling PDB is available.
func (f *File) Symbols() []symtab.SymbolEntry {
	exports := f.ExportSymbols()
	have := make(map[uint32]bool, len(exports))
	for _, e := range exports {
		have[e.Addr] = true
	}
	placeholders := f.PlaceholderSymbols(have)
	return append(exports, placeholders...)
}
