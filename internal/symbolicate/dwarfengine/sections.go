// Section extraction is a close port of the original Rust implementation's
// SectionDataNoCopy::from_object (lib/src/dwarf.rs in the retrieved
// original sources): try the canonical section name, fall back to the
// legacy ".zdebug_*" name, and decompress either via the object's own
// compression metadata or by detecting the literal "ZLIB\0\0\0\0" prefix
// older Go/macOS toolchains emit.
package dwarfengine

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// SectionName enumerates the ten DWARF sections the engine cares about,
// plus the implicit empty default slot for sections the lower layer
// doesn't name.
type SectionName int

const (
	DebugAbbrev SectionName = iota
	DebugAddr
	DebugAranges
	DebugInfo
	DebugLine
	DebugLineStr
	DebugRanges
	DebugRnglists
	DebugStr
	DebugStrOffsets
	numSections
)

func (s SectionName) canonicalName() string {
	switch s {
	case DebugAbbrev:
		return ".debug_abbrev"
	case DebugAddr:
		return ".debug_addr"
	case DebugAranges:
		return ".debug_aranges"
	case DebugInfo:
		return ".debug_info"
	case DebugLine:
		return ".debug_line"
	case DebugLineStr:
		return ".debug_line_str"
	case DebugRanges:
		return ".debug_ranges"
	case DebugRnglists:
		return ".debug_rnglists"
	case DebugStr:
		return ".debug_str"
	case DebugStrOffsets:
		return ".debug_str_offsets"
	default:
		return ""
	}
}

// legacyName returns the ".zdebug_*" form object files produced by older
// compressed-debug-info toolchains use in place of the canonical name.
func (s SectionName) legacyName() string {
	canon := s.canonicalName()
	if canon == "" {
		return ""
	}
	return ".zdebug_" + canon[len(".debug_"):]
}

// RawSection is whatever the underlying object format exposes for one
// named section: its raw bytes plus whether the format says it is
// zlib-compressed (so the engine must decompress before use).
type RawSection struct {
	Name       string
	Data       []byte
	Compressed bool
}

// SectionProvider enumerates sections by name, the minimal contract the
// DWARF engine needs from an ELF/Mach-O/whatever object reader.
type SectionProvider interface {
	Section(name string) (RawSection, bool)
}

// SectionDataSlices holds the decompressed/viewed bytes for the ten named
// DWARF sections, each either a direct view (no copy) or an owned
// decompressed buffer.
type SectionDataSlices struct {
	sections [numSections][]byte
}

func (s *SectionDataSlices) Get(name SectionName) []byte {
	if name < 0 || name >= numSections {
		return nil
	}
	return s.sections[name]
}

// BuildSectionDataSlices extracts all ten DWARF sections from provider,
// applying the canonical-name / legacy-name / decompression policy above.
func BuildSectionDataSlices(provider SectionProvider) (*SectionDataSlices, error) {
	out := &SectionDataSlices{}
	for name := DebugAbbrev; name < numSections; name++ {
		data, err := extractSection(provider, name)
		if err != nil {
			// Decompression failures or missing sections drop the
			// section as empty; this is best-effort debug data.
			continue
		}
		out.sections[name] = data
	}
	return out, nil
}

func extractSection(provider SectionProvider, name SectionName) ([]byte, error) {
	raw, ok := provider.Section(name.canonicalName())
	usedLegacy := false
	if !ok {
		raw, ok = provider.Section(name.legacyName())
		if !ok {
			return nil, fmt.Errorf("dwarfengine: section %s not present", name.canonicalName())
		}
		usedLegacy = true
	}

	if !raw.Compressed && !usedLegacy {
		return raw.Data, nil
	}

	decompressed, err := decompressSection(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("dwarfengine: decompressing %s: %w", raw.Name, err)
	}
	return decompressed, nil
}

// legacyZlibMagic is the literal prefix old Go binaries on macOS stamp in
// front of a zlib stream instead of using the object format's native
// compression metadata.
var legacyZlibMagic = []byte("ZLIB\x00\x00\x00\x00")

// decompressSection decompresses data, handling both the object format's
// own compression framing (already a raw stream by the time it reaches
// here) and the legacy "ZLIB\0\0\0\0" + big-endian length prefix produced
// by older toolchains. Only zlib streams are decoded; any other
// compression (zstd, say) returns an error.
func decompressSection(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, legacyZlibMagic) {
		if len(data) < len(legacyZlibMagic)+4 {
			return nil, fmt.Errorf("truncated legacy zlib section")
		}
		uncompressedLen := binary.BigEndian.Uint32(data[len(legacyZlibMagic) : len(legacyZlibMagic)+4])
		zr, err := zlib.NewReader(bytes.NewReader(data[len(legacyZlibMagic)+4:]))
		if err != nil {
			return nil, fmt.Errorf("opening legacy zlib stream: %w", err)
		}
		defer zr.Close()
		out := make([]byte, 0, uncompressedLen)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("inflating legacy zlib stream: %w", err)
		}
		return buf.Bytes(), nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening zlib stream: %w", err)
	}
	defer zr.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, fmt.Errorf("inflating zlib stream: %w", err)
	}
	return buf.Bytes(), nil
}
