// Package dispatch implements the dispatcher: it drives the caller's file
// provider, detects binary format by magic, routes to the matching format
// reader, and aggregates multi-arch errors. The candidate-path /
// format-sniff / try-next-candidate cascade follows
// original_source/lib/src/lib.rs's try_get_symbolication_result_from_path
// almost exactly.
package dispatch

import (
	"context"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/readref"
)

// CandidatePathInfo is one location the file provider suggests trying for
// a (debug_name, debug_id) pair. Order matters: the dispatcher tries
// candidates strictly in the order returned.
type CandidatePathInfo struct {
	// Path is set for SingleFile(FileLocation::Path) candidates.
	Path string

	// CustomTag is set for SingleFile(FileLocation::Custom) candidates —
	// an opaque caller-defined handle the provider understands but the
	// dispatcher does not interpret.
	CustomTag string

	// DyldCachePath and DylibPath are both set for InDyldCache
	// candidates.
	DyldCachePath string
	DylibPath     string
}

// IsDyldCache reports whether this candidate refers to a dyld shared
// cache image rather than a standalone file.
func (c CandidatePathInfo) IsDyldCache() bool {
	return c.DyldCachePath != "" && c.DylibPath != ""
}

// FileProvider is the caller-supplied helper contract: enumerate
// candidate paths for a binary, and open whichever one the dispatcher
// chooses. Every method takes a context.Context since any method may
// suspend on real I/O.
type FileProvider interface {
	// GetCandidatePaths returns the ordered candidate list for
	// (debugName, id). id may be the nil DebugId, meaning "unknown,
	// return every plausible candidate."
	GetCandidatePaths(ctx context.Context, debugName string, id debugid.DebugId) ([]CandidatePathInfo, error)

	// OpenFile opens one candidate, returning a ReadRef over its
	// contents. The implementation decides whether this is a direct
	// mmap or a chunked reader (see internal/symbolicate/filecontents).
	OpenFile(ctx context.Context, candidate CandidatePathInfo) (readref.ReadRef, func() error, error)
}
