package dispatch

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/demangle"
	"github.com/manu343726/symctl/internal/symbolicate/dwarfengine"
	"github.com/manu343726/symctl/internal/symbolicate/elfreader"
	"github.com/manu343726/symctl/internal/symbolicate/machoreader"
	"github.com/manu343726/symctl/internal/symbolicate/obslog"
	"github.com/manu343726/symctl/internal/symbolicate/pathmap"
	"github.com/manu343726/symctl/internal/symbolicate/pdb"
	"github.com/manu343726/symctl/internal/symbolicate/pereader"
	"github.com/manu343726/symctl/internal/symbolicate/readref"
	"github.com/manu343726/symctl/internal/symbolicate/symerr"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

// headerPeekSize is how many leading bytes trySymbolicateOneCandidate
// reads up front to sniff the object format — enough to cover the
// longest magic it checks (the 32-byte PDB MSF signature) with room to
// spare, so format detection never needs the whole file.
const headerPeekSize = 64

// logger is the package-level structured logger used by the candidate
// loop. Library callers that want their own sinks call SetLogger once at
// startup; the default discards everything, matching "no global mutable
// state" for query data while still allowing process-wide log config.
var logger = obslog.Discard

// SetLogger installs the logger used for dispatcher trace messages.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

const (
	magicFat32BE = 0xcafebabe
	magicFat64BE = 0xcafebabf
)

// GetCompactSymbolTable is the table-only entry point, equivalent to
// get_compact_symbol_table.
func GetCompactSymbolTable(ctx context.Context, query symtab.SymbolicationQuery, provider FileProvider) (*symtab.CompactSymbolTable, error) {
	query.Addresses = nil
	var sink symtab.TableResult
	if err := SymbolicateInto(ctx, query, provider, &sink); err != nil {
		return nil, err
	}
	return sink.Table, nil
}

// GetSymbolicationResult is the per-address entry point, equivalent to
// get_symbolication_result.
func GetSymbolicationResult(ctx context.Context, query symtab.SymbolicationQuery, provider FileProvider) ([]symtab.AddressDebugInfo, error) {
	var sink symtab.AddressesResult
	if err := SymbolicateInto(ctx, query, provider, &sink); err != nil {
		return nil, err
	}
	return sink.Entries, nil
}

// SymbolicateInto runs one query and writes its outcome into sink —
// callers with their own result shape implement symtab.ResultSink
// instead of going through the two typed wrappers above.
func SymbolicateInto(ctx context.Context, query symtab.SymbolicationQuery, provider FileProvider, sink symtab.ResultSink) error {
	result, err := trySymbolicate(ctx, query, provider, query.Addresses)
	if err != nil {
		return err
	}
	sink.ConsumeTable(result.table)
	for _, info := range result.addresses {
		sink.ConsumeAddressInfo(info)
	}
	return nil
}

type symbolicateResult struct {
	table     *symtab.CompactSymbolTable
	addresses []symtab.AddressDebugInfo
}

// trySymbolicate asks the provider for candidates, tries each in order,
// and returns the last candidate's error if every candidate fails;
// NoCandidatePathForBinary is returned when there are no candidates.
func trySymbolicate(ctx context.Context, query symtab.SymbolicationQuery, provider FileProvider, addresses []uint32) (*symbolicateResult, error) {
	candidates, err := provider.GetCandidatePaths(ctx, query.DebugName, query.DebugId)
	if err != nil {
		return nil, &symerr.HelperError{Kind: symerr.HelperGetCandidatePaths, Err: err}
	}
	if len(candidates) == 0 {
		return nil, &symerr.NoCandidatePathForBinary{DebugName: query.DebugName, DebugId: query.DebugId}
	}

	var lastErr error
	for _, candidate := range candidates {
		logger.DebugContext(ctx, "trying candidate", "debugName", query.DebugName, "path", candidate.Path, "dyldCache", candidate.IsDyldCache())
		result, err := trySymbolicateOneCandidate(ctx, query, candidate, provider, addresses)
		if err == nil {
			return result, nil
		}
		logger.DebugContext(ctx, "candidate failed", "debugName", query.DebugName, "path", candidate.Path, "err", err)
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &symerr.NoCandidatePathForBinary{DebugName: query.DebugName, DebugId: query.DebugId}
}

// trySymbolicateOneCandidate opens one candidate and routes it to the
// matching format reader. Every reader here consumes either a small
// sniffed header or a lazy io.ReaderAt over ref — never the whole file
// materialized into one buffer — so a multi-gigabyte dyld shared cache
// or debug object only ever has the sections/load-commands actually
// touched read off disk. PDB and PE are the two exceptions: saferwall/pe
// only exposes a byte-slice constructor and the hand-rolled PDB MSF
// reader is built around random-access over a single buffer, so those
// two formats still materialize fully.
func trySymbolicateOneCandidate(ctx context.Context, query symtab.SymbolicationQuery, candidate CandidatePathInfo, provider FileProvider, addresses []uint32) (*symbolicateResult, error) {
	if candidate.IsDyldCache() {
		return routeDyldCache(candidate, query.DebugId, addresses)
	}

	ref, closer, err := provider.OpenFile(ctx, candidate)
	if err != nil {
		return nil, &symerr.HelperError{Kind: symerr.HelperOpenFile, Err: err}
	}
	if closer != nil {
		defer closer()
	}

	peekSize := uint64(headerPeekSize)
	if total := ref.Len(); total < peekSize {
		peekSize = total
	}
	header, err := ref.ReadBytesAt(0, peekSize)
	if err != nil {
		return nil, &symerr.HelperError{Kind: symerr.HelperFileReading, Err: err}
	}

	if bytes.HasPrefix(header, pdb.Magic) {
		data, err := ref.ReadBytesAt(0, ref.Len())
		if err != nil {
			return nil, &symerr.HelperError{Kind: symerr.HelperFileReading, Err: err}
		}
		return routePDB(data, query.DebugId, nil, addresses)
	}

	if len(header) >= 4 {
		magic := binary.BigEndian.Uint32(header[:4])
		if magic == magicFat32BE || magic == magicFat64BE {
			return routeMachOUniversal(readref.AsReaderAt(ref), query.DebugId, addresses)
		}
	}

	return routeGenericObject(ctx, header, ref, query.DebugId, provider, addresses)
}

func routeDyldCache(candidate CandidatePathInfo, id debugid.DebugId, addresses []uint32) (*symbolicateResult, error) {
	f, closer, err := machoreader.OpenDyldCacheImage(candidate.DyldCachePath, candidate.DylibPath)
	if err != nil {
		return nil, &symerr.ParseError{Format: "macho", Err: err}
	}
	defer closer()
	if !id.IsNil() && !f.DebugId.Equal(id) {
		return nil, &symerr.UnmatchedDebugId{Expected: f.DebugId, Actual: id}
	}

	result := &symbolicateResult{table: symtab.Build(f.Symbols())}
	if len(addresses) > 0 {
		result.addresses = resolveWithDWARF(f, f.RelativeBase, addresses)
	}
	return result, nil
}

func routeGenericObject(ctx context.Context, header []byte, ref readref.ReadRef, id debugid.DebugId, provider FileProvider, addresses []uint32) (*symbolicateResult, error) {
	switch detectFormat(header) {
	case formatELF:
		return routeELF(ctx, readref.AsReaderAt(ref), id, provider, addresses)
	case formatMachO:
		return routeMachOSingle(readref.AsReaderAt(ref), id, addresses)
	case formatPE:
		data, err := ref.ReadBytesAt(0, ref.Len())
		if err != nil {
			return nil, &symerr.HelperError{Kind: symerr.HelperFileReading, Err: err}
		}
		return routePE(ctx, data, id, provider, addresses)
	default:
		return nil, &symerr.InvalidInputError{Reason: "unrecognized or unsupported object format (COFF/WASM are explicitly rejected)"}
	}
}

type objectFormat int

const (
	formatUnknown objectFormat = iota
	formatELF
	formatMachO
	formatPE
)

func detectFormat(data []byte) objectFormat {
	if len(data) >= 4 && bytes.HasPrefix(data, []byte{0x7f, 'E', 'L', 'F'}) {
		return formatELF
	}
	if len(data) >= 4 {
		magic := binary.LittleEndian.Uint32(data[:4])
		switch magic {
		case 0xfeedface, 0xfeedfacf:
			return formatMachO
		}
		magicBE := binary.BigEndian.Uint32(data[:4])
		switch magicBE {
		case 0xfeedface, 0xfeedfacf:
			return formatMachO
		}
	}
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return formatPE
	}
	return formatUnknown
}

func routePDB(data []byte, id debugid.DebugId, sections []pdb.SectionHeader, addresses []uint32) (*symbolicateResult, error) {
	f, err := pdb.Open(data, sections)
	if err != nil {
		return nil, err
	}
	if err := f.MatchDebugId(id); err != nil {
		return nil, err
	}

	demangler := demangle.New()
	table, err := f.Symbols(demangler)
	if err != nil {
		return nil, &symerr.ParseError{Format: "pdb", Err: err}
	}
	result := &symbolicateResult{table: table}

	for _, addr := range addresses {
		if frame, ok := f.AddressToFrame(addr, demangler); ok {
			result.addresses = append(result.addresses, frame)
		}
	}
	return result, nil
}

// routeELF parses an ELF object. A stripped binary (no DWARF of its own)
// carrying a .gnu_debuglink is unified with its companion in the same
// resolution: the companion supplies the DWARF sections and any symtab
// entries the stripped file lacks, while the stripped file's own symbols
// and relative base stay authoritative.
func routeELF(ctx context.Context, r io.ReaderAt, id debugid.DebugId, provider FileProvider, addresses []uint32) (*symbolicateResult, error) {
	f, err := elfreader.Open(r)
	if err != nil {
		return nil, &symerr.ParseError{Format: "elf", Err: err}
	}
	if !id.IsNil() && !f.DebugId.Equal(id) {
		return nil, &symerr.UnmatchedDebugId{Expected: f.DebugId, Actual: id}
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, &symerr.ParseError{Format: "elf", Err: err}
	}

	var sections sectionProvider = f
	if !f.HasDWARF() && f.DebugLink != "" && provider != nil {
		if companion, release := openDebugLinkCompanion(ctx, f, provider); companion != nil {
			defer release()
			sections = elfreader.CompanionSections{Stripped: f, Companion: companion}
			if extra, err := companion.Symbols(); err == nil {
				// Build keeps the first-seen entry per address, so the
				// stripped file's own symbols win any collision.
				syms = append(syms, extra...)
			}
		}
	}

	result := &symbolicateResult{table: symtab.Build(syms)}
	if len(addresses) > 0 {
		result.addresses = resolveWithDWARF(sections, f.RelativeBase, addresses)
	}
	return result, nil
}

// openDebugLinkCompanion asks the provider for the .gnu_debuglink
// companion's candidates and opens the first one that parses, carries
// DWARF, and matches the stripped binary's build id. Failures here are
// best-effort: no usable companion just means no debug info.
func openDebugLinkCompanion(ctx context.Context, stripped *elfreader.File, provider FileProvider) (*elfreader.File, func()) {
	candidates, err := provider.GetCandidatePaths(ctx, stripped.DebugLink, stripped.DebugId)
	if err != nil {
		return nil, nil
	}
	for _, candidate := range candidates {
		if candidate.IsDyldCache() {
			continue
		}
		ref, closer, err := provider.OpenFile(ctx, candidate)
		if err != nil {
			continue
		}
		companion, err := elfreader.Open(readref.AsReaderAt(ref))
		if err == nil && companion.HasDWARF() &&
			(companion.DebugId.IsNil() || stripped.DebugId.IsNil() || companion.DebugId.Equal(stripped.DebugId)) {
			return companion, func() {
				if closer != nil {
					closer()
				}
			}
		}
		if closer != nil {
			closer()
		}
	}
	return nil, nil
}

// routePE locates the sibling PDB via the CodeView debug directory and
// the provider's candidate-path list, and hands off to the PDB reader on
// first success; only when no PDB is available (or the provider offers
// none) does it fall back to export-table symbols plus fun_<hex>
// placeholders for the gaps.
func routePE(ctx context.Context, data []byte, id debugid.DebugId, provider FileProvider, addresses []uint32) (*symbolicateResult, error) {
	f, err := pereader.Open(data)
	if err != nil {
		return nil, &symerr.ParseError{Format: "pe", Err: err}
	}

	if cv, ok := f.CodeView(); ok && provider != nil {
		candidates, err := provider.GetCandidatePaths(ctx, cv.PDBFileName, cv.DebugId)
		if err == nil {
			sections := f.SectionHeaders()
			for _, candidate := range candidates {
				pdbData, closer, openErr := provider.OpenFile(ctx, candidate)
				if openErr != nil {
					continue
				}
				raw, readErr := pdbData.ReadBytesAt(0, pdbData.Len())
				if closer != nil {
					closer()
				}
				if readErr != nil {
					continue
				}
				if result, pdbErr := routePDB(raw, cv.DebugId, sections, addresses); pdbErr == nil {
					return result, nil
				}
			}
		}
	}

	if !id.IsNil() {
		// No usable PDB: the export-table fallback carries no debug id
		// of its own, so a non-nil query id can never be verified
		// against it. The result's debug id must equal the query, so
		// treat this as the PE's own PDB expectation being unmatched
		// when we know what it should have been.
		if cv, ok := f.CodeView(); ok && !cv.DebugId.Equal(id) {
			return nil, &symerr.UnmatchedDebugId{Expected: cv.DebugId, Actual: id}
		}
	}

	syms := f.Symbols()
	result := &symbolicateResult{table: symtab.Build(syms)}
	return result, nil
}

func routeMachOSingle(r io.ReaderAt, id debugid.DebugId, addresses []uint32) (*symbolicateResult, error) {
	f, err := machoreader.Open(r)
	if err != nil {
		return nil, &symerr.ParseError{Format: "macho", Err: err}
	}
	if !id.IsNil() && !f.DebugId.Equal(id) {
		return nil, &symerr.UnmatchedDebugId{Expected: f.DebugId, Actual: id}
	}

	result := &symbolicateResult{table: symtab.Build(f.Symbols())}
	if len(addresses) > 0 {
		result.addresses = resolveWithDWARF(f, f.RelativeBase, addresses)
	}
	return result, nil
}

func routeMachOUniversal(r io.ReaderAt, id debugid.DebugId, addresses []uint32) (*symbolicateResult, error) {
	slices, err := machoreader.OpenUniversal(r)
	if err != nil {
		return nil, &symerr.ParseError{Format: "macho", Err: err}
	}

	var expectedIds []debugid.DebugId
	var innerErrs []error

	for _, s := range slices {
		if s.Err != nil {
			innerErrs = append(innerErrs, fmt.Errorf("%s: %w", s.CPU, s.Err))
			continue
		}
		expectedIds = append(expectedIds, s.File.DebugId)

		if id.IsNil() || s.File.DebugId.Equal(id) {
			if !id.IsNil() {
				result := &symbolicateResult{table: symtab.Build(s.File.Symbols())}
				if len(addresses) > 0 {
					result.addresses = resolveWithDWARF(s.File, s.File.RelativeBase, addresses)
				}
				return result, nil
			}
			innerErrs = append(innerErrs, &symerr.UnmatchedDebugId{Expected: s.File.DebugId, Actual: debugid.Nil})
			continue
		}
		innerErrs = append(innerErrs, &symerr.UnmatchedDebugId{Expected: s.File.DebugId, Actual: id})
	}

	return nil, &symerr.NoMatchMultiArch{ExpectedIds: expectedIds, Inner: innerErrs}
}

// sectionProvider is satisfied by *elfreader.File, *machoreader.File,
// and elfreader.CompanionSections.
type sectionProvider interface {
	Section(name string) (dwarfengine.RawSection, bool)
}

func resolveWithDWARF(provider sectionProvider, relativeBase uint64, addresses []uint32) []symtab.AddressDebugInfo {
	sections, err := dwarfengine.BuildSectionDataSlices(provider)
	if err != nil {
		return nil
	}
	engine, err := dwarfengine.New(sections, pathmap.Identity{}, demangle.New())
	if err != nil {
		return nil
	}

	// Each requested address is tracked as an AddressPair through this
	// object's own coordinate system — for a universal binary, every
	// slice has its own relative-address base.
	pairs := make([]symtab.AddressPair, 0, len(addresses))
	for _, addr := range addresses {
		pairs = append(pairs, symtab.AddressPair{
			OriginalRelativeAddress: addr,
			VMAddrInThisObject:      relativeBase + uint64(addr),
		})
	}

	var out []symtab.AddressDebugInfo
	for _, pair := range pairs {
		frames, ok := engine.AddressToFrames(pair.VMAddrInThisObject)
		if !ok {
			continue
		}
		out = append(out, symtab.AddressDebugInfo{Address: pair.OriginalRelativeAddress, Frames: frames})
	}
	return out
}
