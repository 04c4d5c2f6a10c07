// Package symerr defines the error taxonomy shared by every reader and the
// dispatcher. Errors are plain Go types so callers can type-switch on them;
// wrapping with fmt.Errorf("...: %w", err) preserves the chain for errors.As.
package symerr

import (
	"fmt"
	"strings"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
)

// UnmatchedDebugId is returned when a binary or PDB was opened successfully
// but its debug id does not equal the one the caller asked for. A nil
// Actual means the caller queried with the nil id and is being handed the
// real id so it can retry.
type UnmatchedDebugId struct {
	Expected debugid.DebugId
	Actual   debugid.DebugId
}

func (e *UnmatchedDebugId) Error() string {
	return fmt.Sprintf("debug id mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// NoMatchMultiArch is returned by the dispatcher for a Mach-O universal
// binary when none of the architecture slices match the requested debug id.
type NoMatchMultiArch struct {
	ExpectedIds []debugid.DebugId
	Inner       []error
}

func (e *NoMatchMultiArch) Error() string {
	ids := make([]string, len(e.ExpectedIds))
	for i, id := range e.ExpectedIds {
		ids[i] = id.String()
	}
	return fmt.Sprintf("no matching architecture slice among [%s]", strings.Join(ids, ", "))
}

func (e *NoMatchMultiArch) Unwrap() []error { return e.Inner }

// NoCandidatePathForBinary is returned when the file provider produced no
// candidate paths at all for a (debug_name, debug_id) pair.
type NoCandidatePathForBinary struct {
	DebugName string
	DebugId   debugid.DebugId
}

func (e *NoCandidatePathForBinary) Error() string {
	return fmt.Sprintf("no candidate path for %s (%s)", e.DebugName, e.DebugId)
}

// HelperErrorKind distinguishes which provider call failed.
type HelperErrorKind int

const (
	HelperGetCandidatePaths HelperErrorKind = iota
	HelperOpenFile
	HelperFileReading
)

func (k HelperErrorKind) String() string {
	switch k {
	case HelperGetCandidatePaths:
		return "get_candidate_paths_for_binary_or_pdb"
	case HelperOpenFile:
		return "open_file"
	case HelperFileReading:
		return "file_reading"
	default:
		return "unknown"
	}
}

// HelperError wraps an error surfaced by the caller-supplied file provider,
// tagged with which provider operation produced it.
type HelperError struct {
	Kind HelperErrorKind
	Err  error
}

func (e *HelperError) Error() string {
	return fmt.Sprintf("helper error during %s: %v", e.Kind, e.Err)
}

func (e *HelperError) Unwrap() error { return e.Err }

// InvalidInputError covers unreadable, unsupported (COFF/WASM), or truncated
// input that no reader can make sense of.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ParseError wraps a format-specific parse failure (PDB stream error, ELF
// malformed section, Mach-O bad load command, DWARF read error) with the
// format name that produced it. Recoverable at the dispatcher level: the
// caller tries the next candidate path.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse error: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
