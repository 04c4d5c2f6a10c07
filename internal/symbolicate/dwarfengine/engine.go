// Engine builds an addr2line-style context over the section slices and
// resolves a VM address to a stack of inline frames, innermost first.
// Frame-chain walking generalizes llvm/dwarfparser.go's approach
// (which produced a single flat SourceLocation per address) to walk
// DW_TAG_inlined_subroutine/DW_AT_abstract_origin chains the way
// psanford-pptrace/internal/dwarfutil and JetSetIlly-Gopher2600's DWARF
// developer package walk DIE trees.
package dwarfengine

import (
	"debug/dwarf"
	"fmt"
	"sort"

	"github.com/manu343726/symctl/internal/symbolicate/demangle"
	"github.com/manu343726/symctl/internal/symbolicate/pathmap"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

// Engine owns a parsed *dwarf.Data and the subprogram/inline index needed
// to answer per-address inline-frame queries.
type Engine struct {
	data    *dwarf.Data
	funcs   []function
	mapper  pathmap.Mapper
	demangl *demangle.Demangler
}

// function is a DW_TAG_subprogram with its address range and its
// pre-parsed tree of nested inlined_subroutine DIEs. lines points at its
// compilation unit's address-keyed line table, shared by every function
// and inline site parsed from the same CU.
type function struct {
	lowPC, highPC uint64
	linkageName   string
	lines         *lineTable
	children      []inlineSite
}

// inlineSite is one DW_TAG_inlined_subroutine, with its own nested
// inline sites for multiply-nested inlining. callFile/callLine are the
// call site of this inline instance, i.e. the location *within its
// enclosing frame* where it was inlined — not this site's own body.
type inlineSite struct {
	lowPC, highPC uint64
	linkageName   string
	callFile      string
	callLine      uint32
	children      []inlineSite
}

// lineRow is one decoded row of a compilation unit's line-number program:
// the file/line attributed to every address from Addr up to the next
// row's Addr (or, if End is set, the first address past the end of a
// sequence — carrying no line info of its own).
type lineRow struct {
	addr uint64
	file string
	line uint32
	end  bool
}

// lineTable is a compilation unit's full line-number program, decoded
// once and sorted by address so AddressToFrames can binary-search the
// exact source line for a leaf address instead of relying on any DIE's
// own decl_file/decl_line (which name where a function or inline site is
// *defined*, not where within it vmaddr actually falls).
type lineTable struct {
	rows []lineRow
}

func newLineTable(lr *dwarf.LineReader) *lineTable {
	if lr == nil {
		return nil
	}
	t := &lineTable{}
	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			break
		}
		row := lineRow{addr: entry.Address, line: uint32(entry.Line), end: entry.EndSequence}
		if entry.File != nil {
			row.file = entry.File.Name
		}
		t.rows = append(t.rows, row)
	}
	sort.Slice(t.rows, func(i, j int) bool { return t.rows[i].addr < t.rows[j].addr })
	return t
}

// lookup returns the file/line attributed to vmaddr by the line-number
// program: the row with the greatest address not exceeding vmaddr,
// provided that row isn't an end-of-sequence marker (which covers no
// address at all).
func (t *lineTable) lookup(vmaddr uint64) (file string, line uint32, ok bool) {
	if t == nil || len(t.rows) == 0 {
		return "", 0, false
	}
	idx := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].addr > vmaddr })
	if idx == 0 {
		return "", 0, false
	}
	row := t.rows[idx-1]
	if row.end {
		return "", 0, false
	}
	return row.file, row.line, true
}

// New builds an Engine from the ten section slices. mapper and demangler
// are per-query and carry no state shared across queries.
func New(sections *SectionDataSlices, mapper pathmap.Mapper, demangler *demangle.Demangler) (*Engine, error) {
	data, err := dwarf.New(
		sections.Get(DebugAbbrev),
		nil, // aranges: not consumed directly, we walk CUs instead
		nil, // frame
		sections.Get(DebugInfo),
		sections.Get(DebugLine),
		nil, // pubnames
		sections.Get(DebugRanges),
		sections.Get(DebugStr),
	)
	if err != nil {
		return nil, fmt.Errorf("dwarfengine: constructing DWARF data: %w", err)
	}

	// DWARF5 sections go in through AddSection; a failure to install one
	// degrades that section to absent, same as any other missing debug
	// data.
	for _, extra := range []struct {
		name string
		sec  SectionName
	}{
		{".debug_addr", DebugAddr},
		{".debug_line_str", DebugLineStr},
		{".debug_str_offsets", DebugStrOffsets},
		{".debug_rnglists", DebugRnglists},
	} {
		if b := sections.Get(extra.sec); len(b) > 0 {
			_ = data.AddSection(extra.name, b)
		}
	}

	if mapper == nil {
		mapper = pathmap.Identity{}
	}
	if demangler == nil {
		demangler = demangle.New()
	}

	e := &Engine{data: data, mapper: mapper, demangl: demangler}
	if err := e.index(); err != nil {
		return nil, fmt.Errorf("dwarfengine: indexing compilation units: %w", err)
	}
	return e, nil
}

// index walks every compilation unit, collecting DW_TAG_subprogram DIEs
// and their nested DW_TAG_inlined_subroutine trees. Errors mid-walk are
// swallowed — an address under a corrupt CU is simply treated as having
// no debug info — and whatever was collected so far is kept.
func (e *Engine) index() error {
	r := e.data.Reader()
	var fileNames []string
	var lines *lineTable
	for {
		entry, err := r.Next()
		if err != nil {
			break
		}
		if entry == nil {
			break
		}
		switch entry.Tag {
		case dwarf.TagCompileUnit:
			if lr, err := e.data.LineReader(entry); err == nil && lr != nil {
				fileNames = lineFileNames(lr)
				lines = newLineTable(lr)
			} else {
				fileNames = nil
				lines = nil
			}
		case dwarf.TagSubprogram:
			fn, err := e.parseSubprogram(r, entry, fileNames, lines)
			if err == nil && fn != nil {
				e.funcs = append(e.funcs, *fn)
			}
		}
	}
	sort.Slice(e.funcs, func(i, j int) bool { return e.funcs[i].lowPC < e.funcs[j].lowPC })
	return nil
}

// lineFileNames returns the CU's file-name table (the DW_AT_call_file /
// DW_AT_decl_file index space), read directly off the line-program
// header without consuming any row — lr is independently walked again
// by newLineTable for the per-address table.
func lineFileNames(lr *dwarf.LineReader) []string {
	var names []string
	for _, f := range lr.Files() {
		if f == nil {
			names = append(names, "")
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

func fileName(names []string, idx int) string {
	if idx < 0 || idx >= len(names) {
		return ""
	}
	return names[idx]
}

// parseSubprogram reads one DW_TAG_subprogram DIE (already positioned at
// entry by r.Next()) and recursively parses its children, descending into
// nested lexical blocks and inlined subroutines until the matching
// end-of-children marker.
func (e *Engine) parseSubprogram(r *dwarf.Reader, entry *dwarf.Entry, fileNames []string, lines *lineTable) (*function, error) {
	low, high, hasRange := rangeOf(entry)
	fn := &function{
		linkageName: e.nameOf(entry),
		lines:       lines,
	}
	if hasRange {
		fn.lowPC, fn.highPC = low, high
	}

	if !entry.Children {
		return fn, nil
	}
	children, err := e.parseChildren(r, fileNames)
	if err != nil {
		return fn, err
	}
	fn.children = children
	return fn, nil
}

// parseChildren consumes DIEs until the end-of-children marker, collecting
// nested inlined_subroutine sites and descending through lexical blocks
// (which do not themselves produce a frame but may contain inline sites).
func (e *Engine) parseChildren(r *dwarf.Reader, fileNames []string) ([]inlineSite, error) {
	var sites []inlineSite
	for {
		entry, err := r.Next()
		if err != nil {
			return sites, err
		}
		if entry == nil {
			return sites, nil
		}
		if entry.Tag == 0 {
			// end of children
			return sites, nil
		}
		switch entry.Tag {
		case dwarf.TagInlinedSubroutine:
			site, err := e.parseInlineSite(r, entry, fileNames)
			if err != nil {
				return sites, err
			}
			sites = append(sites, site)
		case dwarf.TagLexDwarfBlock:
			if entry.Children {
				nested, err := e.parseChildren(r, fileNames)
				sites = append(sites, nested...)
				if err != nil {
					return sites, err
				}
			}
		default:
			if entry.Children {
				if _, err := e.parseChildren(r, fileNames); err != nil {
					return sites, err
				}
			}
		}
	}
}

func (e *Engine) parseInlineSite(r *dwarf.Reader, entry *dwarf.Entry, fileNames []string) (inlineSite, error) {
	low, high, _ := rangeOf(entry)
	site := inlineSite{
		lowPC:       low,
		highPC:      high,
		linkageName: e.nameOf(entry),
		callFile:    fileName(fileNames, intField(entry, dwarf.AttrCallFile)),
		callLine:    uint32(intField(entry, dwarf.AttrCallLine)),
	}
	if entry.Children {
		children, err := e.parseChildren(r, fileNames)
		site.children = children
		if err != nil {
			return site, err
		}
	}
	return site, nil
}

func rangeOf(entry *dwarf.Entry) (low, high uint64, ok bool) {
	lowField := entry.Val(dwarf.AttrLowpc)
	lowAddr, lowOk := lowField.(uint64)
	if !lowOk {
		return 0, 0, false
	}
	highField := entry.Val(dwarf.AttrHighpc)
	switch v := highField.(type) {
	case uint64:
		// DWARF4+ may encode high_pc as an offset from low_pc.
		if v < lowAddr {
			return lowAddr, lowAddr + v, true
		}
		return lowAddr, v, true
	case int64:
		return lowAddr, lowAddr + uint64(v), true
	default:
		return lowAddr, lowAddr, true
	}
}

// nameOf resolves the entity name for a subprogram or inline-site DIE:
// the raw linkage name when present, the plain name otherwise, and
// failing both, the DIE reached through DW_AT_abstract_origin or
// DW_AT_specification — concrete inline instances usually carry only the
// origin reference, with the name living on the abstract DIE.
func (e *Engine) nameOf(entry *dwarf.Entry) string {
	return e.resolveName(entry, 0)
}

// maxOriginHops bounds abstract_origin/specification chasing; real chains
// are one or two hops (concrete -> abstract -> declaration).
const maxOriginHops = 4

func (e *Engine) resolveName(entry *dwarf.Entry, depth int) string {
	if v, ok := entry.Val(dwarf.AttrLinkageName).(string); ok && v != "" {
		return v
	}
	if v, ok := entry.Val(dwarf.AttrName).(string); ok && v != "" {
		return v
	}
	if depth >= maxOriginHops {
		return ""
	}
	for _, attr := range []dwarf.Attr{dwarf.AttrAbstractOrigin, dwarf.AttrSpecification} {
		off, ok := entry.Val(attr).(dwarf.Offset)
		if !ok {
			continue
		}
		r := e.data.Reader()
		r.Seek(off)
		ref, err := r.Next()
		if err != nil || ref == nil {
			continue
		}
		if name := e.resolveName(ref, depth+1); name != "" {
			return name
		}
	}
	return ""
}

func intField(entry *dwarf.Entry, attr dwarf.Attr) int {
	switch v := entry.Val(attr).(type) {
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}

// AddressToFrames resolves one relative address (already translated to
// this object's VM address space) into an ordered, innermost-first list
// of inline frames. An address outside every known subprogram, or one
// that resolves to an empty frame list, is reported by the second return
// being false — the caller must discard such addresses rather than
// emitting an empty AddressDebugInfo.
func (e *Engine) AddressToFrames(vmaddr uint64) ([]symtab.InlineStackFrame, bool) {
	fn := e.findFunction(vmaddr)
	if fn == nil {
		return nil, false
	}

	// chain holds every inline site enclosing vmaddr, outermost first:
	// chain[0] is inlined directly into fn, chain[1] into chain[0], etc.
	var chain []*inlineSite
	sites := fn.children
	for {
		site := findInlineSite(sites, vmaddr)
		if site == nil {
			break
		}
		chain = append(chain, site)
		sites = site.children
	}

	// names holds one entry per frame, outermost (fn) first. depth-1 is
	// the innermost (deepest) entity actually covering vmaddr.
	depth := len(chain) + 1
	names := make([]string, depth)
	names[0] = fn.linkageName
	for i, site := range chain {
		names[i+1] = site.linkageName
	}

	// Each frame's own DIE only records where IT was called from or
	// declared, not where vmaddr falls within it. So frame i's location
	// must come from the entity one level deeper (chain[i], which is
	// literally the call site of names[i+1] inside names[i]) — except
	// the innermost frame, which has no deeper entity and must instead
	// be resolved against the line-number table at vmaddr directly.
	frames := make([]symtab.InlineStackFrame, depth)
	for i := depth - 1; i >= 0; i-- {
		var file string
		var line uint32
		if i == depth-1 {
			file, line, _ = fn.lines.lookup(vmaddr)
		} else {
			file, line = chain[i].callFile, chain[i].callLine
		}
		frames[depth-1-i] = e.buildFrame(names[i], file, line)
	}

	if len(frames) == 0 {
		return nil, false
	}
	return frames, true
}

func (e *Engine) buildFrame(linkageName, file string, line uint32) symtab.InlineStackFrame {
	var frame symtab.InlineStackFrame
	if linkageName != "" {
		demangled := e.demangl.Demangle(linkageName)
		frame.Function = &demangled
	}
	if file != "" {
		mapped := e.mapper.Map(file)
		frame.FilePath = &mapped
	}
	if line != 0 {
		frame.Line = &line
	}
	return frame
}

func (e *Engine) findFunction(vmaddr uint64) *function {
	idx := sort.Search(len(e.funcs), func(i int) bool { return e.funcs[i].lowPC > vmaddr })
	if idx == 0 {
		return nil
	}
	candidate := &e.funcs[idx-1]
	if vmaddr >= candidate.lowPC && vmaddr < candidate.highPC {
		return candidate
	}
	return nil
}

func findInlineSite(sites []inlineSite, vmaddr uint64) *inlineSite {
	for i := range sites {
		if vmaddr >= sites[i].lowPC && vmaddr < sites[i].highPC {
			return &sites[i]
		}
	}
	return nil
}
