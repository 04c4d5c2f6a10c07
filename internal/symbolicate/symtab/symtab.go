// Package symtab defines the output containers every format reader
// produces and the polymorphic sink a pipeline writes into: the compact
// addr->name table for a whole image, and per-address inline frame stacks.
package symtab

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
)

// CompactSymbolTable is three parallel arrays representing a sorted
// function table: Addr (strictly ascending relative addresses), Index
// (cumulative byte offsets into Buffer, length len(Addr)+1), and Buffer
// (the concatenation of UTF-8 symbol names).
type CompactSymbolTable struct {
	Addr   []uint32
	Index  []uint32
	Buffer []byte
}

// Name returns the symbol name for entry i.
func (t *CompactSymbolTable) Name(i int) string {
	return string(t.Buffer[t.Index[i]:t.Index[i+1]])
}

// Len returns the number of entries in the table.
func (t *CompactSymbolTable) Len() int { return len(t.Addr) }

// Validate checks the invariants every successful table must satisfy:
// len(Index) == len(Addr)+1, Addr strictly ascending, and every
// Buffer[Index[i]:Index[i+1]] slice is valid UTF-8.
func (t *CompactSymbolTable) Validate() error {
	if len(t.Index) != len(t.Addr)+1 {
		return fmt.Errorf("symtab: len(Index)=%d, want len(Addr)+1=%d", len(t.Index), len(t.Addr)+1)
	}
	if len(t.Index) == 0 || t.Index[0] != 0 {
		return fmt.Errorf("symtab: Index[0] must be 0")
	}
	for i := 0; i < len(t.Addr)-1; i++ {
		if t.Addr[i] >= t.Addr[i+1] {
			return fmt.Errorf("symtab: Addr not strictly ascending at %d: %d >= %d", i, t.Addr[i], t.Addr[i+1])
		}
	}
	for i := 0; i < len(t.Index)-1; i++ {
		if t.Index[i] > t.Index[i+1] || uint64(t.Index[i+1]) > uint64(len(t.Buffer)) {
			return fmt.Errorf("symtab: Index[%d..%d+1] out of range over buffer of length %d", i, i, len(t.Buffer))
		}
		if !utf8.Valid(t.Buffer[t.Index[i]:t.Index[i+1]]) {
			return fmt.Errorf("symtab: entry %d is not valid UTF-8", i)
		}
	}
	return nil
}

// SymbolEntry is an unsorted, unmerged (address, name) pair as produced by
// a format reader before it is built into a CompactSymbolTable.
type SymbolEntry struct {
	Addr uint32
	Name string
}

// Build sorts entries by address, drops duplicate addresses keeping the
// first-seen entry (matching the PE export table tie-break noted in the
// spec's open questions), and assembles the parallel-array form.
func Build(entries []SymbolEntry) *CompactSymbolTable {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Addr < entries[j].Addr })

	t := &CompactSymbolTable{Index: []uint32{0}}
	var lastAddr uint32
	haveLast := false
	for _, e := range entries {
		if haveLast && e.Addr == lastAddr {
			continue
		}
		t.Addr = append(t.Addr, e.Addr)
		t.Buffer = append(t.Buffer, e.Name...)
		t.Index = append(t.Index, uint32(len(t.Buffer)))
		lastAddr = e.Addr
		haveLast = true
	}
	return t
}

// InlineStackFrame is one frame in the stack resolved for a single
// address. Frames for one address are ordered innermost first.
type InlineStackFrame struct {
	Function *string
	FilePath *string
	Line     *uint32
}

// AddressDebugInfo is the ordered list of frames for one relative address,
// innermost frame first.
type AddressDebugInfo struct {
	Address uint32
	Frames  []InlineStackFrame
}

// SymbolicationQuery is the dispatcher's unit of work.
type SymbolicationQuery struct {
	DebugName string
	DebugId   debugid.DebugId
	Path      string
	Addresses []uint32
}

// AddressPair tracks the mapping between an address in the caller's
// coordinate system and the VM address inside a particular object slice —
// important for universal binaries, where each slice has its own
// relative-address base.
type AddressPair struct {
	OriginalRelativeAddress uint32
	VMAddrInThisObject      uint64
}

// ResultSink is the polymorphic sink a symbolication pipeline writes
// into: the dispatcher hands it the whole-image table, then each
// per-address frame stack it resolved, in address-request order.
type ResultSink interface {
	ConsumeTable(*CompactSymbolTable)
	ConsumeAddressInfo(AddressDebugInfo)
}

// TableResult is a ResultSink that keeps only the whole-image table.
type TableResult struct {
	Table *CompactSymbolTable
}

func (r *TableResult) ConsumeTable(t *CompactSymbolTable) { r.Table = t }

func (r *TableResult) ConsumeAddressInfo(AddressDebugInfo) {}

// AddressesResult is a ResultSink that keeps the per-address frame
// stacks.
type AddressesResult struct {
	Entries []AddressDebugInfo
}

func (r *AddressesResult) ConsumeTable(*CompactSymbolTable) {}

func (r *AddressesResult) ConsumeAddressInfo(info AddressDebugInfo) {
	r.Entries = append(r.Entries, info)
}
