// Package machoreader implements the Mach-O format reader: single-arch
// and universal/"fat" binaries, plus dyld shared cache image lookup.
// Built on github.com/blacktop/go-macho, which has first-class FatHeader
// and dyld-cache support.
package machoreader

import (
	"fmt"
	"io"

	macho "github.com/blacktop/go-macho"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dwarfengine"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

// File wraps one architecture slice of a (possibly universal) Mach-O
// image.
type File struct {
	macho        *macho.File
	DebugId      debugid.DebugId
	RelativeBase uint64
}

// Open parses a single-architecture Mach-O image, reading load commands
// and section data lazily through r (see readref.AsReaderAt).
func Open(r io.ReaderAt) (*File, error) {
	mf, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("machoreader: %w", err)
	}
	return wrap(mf)
}

func wrap(mf *macho.File) (*File, error) {
	id := debugid.Nil
	if u := mf.UUID(); u != nil {
		var raw [16]byte
		copy(raw[:], u.UUID[:])
		id = debugid.New(raw, 0)
	}
	return &File{macho: mf, DebugId: id, RelativeBase: textSegmentBase(mf)}, nil
}

// textSegmentBase returns the __TEXT segment's VM address, the
// relative-address base for a Mach-O image.
func textSegmentBase(mf *macho.File) uint64 {
	if seg := mf.Segment("__TEXT"); seg != nil {
		return seg.Addr
	}
	return 0
}

// UniversalSlice is one architecture slice of a universal binary, paired
// with the error (if any) encountered parsing it — a slice that failed to
// parse is recorded but does not abort the fan-out over the rest.
type UniversalSlice struct {
	File *File
	CPU  string
	Err  error
}

// OpenUniversal parses a FatHeader (32 or 64-bit) and recursively opens
// every architecture slice. Outcomes are left to the caller (dispatch):
// the first matching debug id wins; if none match and the query was nil,
// the caller collects the per-slice UnmatchedDebugId errors into a
// NoMatchMultiArch.
func OpenUniversal(r io.ReaderAt) ([]UniversalSlice, error) {
	fat, err := macho.NewFatFile(r)
	if err != nil {
		return nil, fmt.Errorf("machoreader: %w", err)
	}
	slices := make([]UniversalSlice, 0, len(fat.Arches))
	for i := range fat.Arches {
		arch := &fat.Arches[i]
		f, ferr := wrap(arch.File)
		slices = append(slices, UniversalSlice{
			File: f,
			CPU:  arch.CPU.String(),
			Err:  ferr,
		})
	}
	return slices, nil
}

// Symbols returns every named nlist symbol as SymbolEntry pairs.
func (f *File) Symbols() []symtab.SymbolEntry {
	if f.macho.Symtab == nil {
		return nil
	}
	var entries []symtab.SymbolEntry
	for _, sym := range f.macho.Symtab.Syms {
		if sym.Name == "" {
			continue
		}
		if sym.Value == 0 {
			continue
		}
		entries = append(entries, symtab.SymbolEntry{
			Addr: uint32(sym.Value - f.RelativeBase),
			Name: sym.Name,
		})
	}
	return entries
}

// Section implements dwarfengine.SectionProvider over Mach-O's
// "__debug_*" section naming in the "__DWARF" segment.
func (f *File) Section(name string) (dwarfengine.RawSection, bool) {
	machoName := machoSectionName(name)
	sec := f.macho.Section("__DWARF", machoName)
	if sec == nil {
		return dwarfengine.RawSection{}, false
	}
	data, err := sec.Data()
	if err != nil {
		return dwarfengine.RawSection{}, false
	}
	return dwarfengine.RawSection{Name: name, Data: data, Compressed: false}, true
}

// machoSectionName maps a canonical/.zdebug_* DWARF section name to the
// "__debug_*" form Mach-O object files use.
func machoSectionName(name string) string {
	switch {
	case len(name) > len(".debug_") && name[:len(".debug_")] == ".debug_":
		return "__debug_" + name[len(".debug_"):]
	case len(name) > len(".zdebug_") && name[:len(".zdebug_")] == ".zdebug_":
		return "__debug_" + name[len(".zdebug_"):]
	default:
		return name
	}
}
