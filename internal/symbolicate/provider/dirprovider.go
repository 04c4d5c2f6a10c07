// Package provider implements the FileProvider contract against a plain
// filesystem directory tree, the helper a CLI front-end needs: given a
// debug name, try the obvious candidate paths (the binary itself, its
// sibling .pdb, a .debug companion, the system debug tree) in the same
// order original_source/lib/src/lib.rs's symbol-server helper does.
package provider

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/elfreader"
	"github.com/manu343726/symctl/internal/symbolicate/filecontents"
	"github.com/manu343726/symctl/internal/symbolicate/readref"
)

// Directory is a FileProvider rooted at a single directory, used by
// cmd/symctl. It does not know anything about dyld shared caches or
// custom-tag locations; both are left for richer providers (a profiler's
// own symbol-server cache, say) to implement against the same interface.
type Directory struct {
	Root string
}

var _ dispatch.FileProvider = Directory{}

// GetCandidatePaths returns, in priority order: the dSYM DWARF companion
// for a Mach-O debug name, the debug_name itself, the companion .pdb next
// to a same-named binary, and the .gnu_debuglink resolution paths for an
// already-known ELF binary under Root.
func (d Directory) GetCandidatePaths(ctx context.Context, debugName string, id debugid.DebugId) ([]dispatch.CandidatePathInfo, error) {
	var candidates []dispatch.CandidatePathInfo

	dsymPath := filepath.Join(d.Root, debugName+".dSYM", "Contents", "Resources", "DWARF", debugName)
	if _, err := os.Stat(dsymPath); err == nil {
		candidates = append(candidates, dispatch.CandidatePathInfo{Path: dsymPath})
	}

	direct := filepath.Join(d.Root, debugName)
	if _, err := os.Stat(direct); err == nil {
		candidates = append(candidates, dispatch.CandidatePathInfo{Path: direct})
	}

	base := debugName
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	pdbPath := filepath.Join(d.Root, base+".pdb")
	if _, err := os.Stat(pdbPath); err == nil {
		candidates = append(candidates, dispatch.CandidatePathInfo{Path: pdbPath})
	}

	if data, err := os.ReadFile(direct); err == nil {
		if ef, err := elfreader.Open(bytes.NewReader(data)); err == nil && ef.DebugLink != "" {
			for _, p := range elfreader.DebugLinkCandidates(direct, ef.DebugLink) {
				if _, err := os.Stat(p); err == nil {
					candidates = append(candidates, dispatch.CandidatePathInfo{Path: p})
				}
			}
		}
	}

	return candidates, nil
}

// OpenFile memory-maps the candidate's path.
func (d Directory) OpenFile(ctx context.Context, candidate dispatch.CandidatePathInfo) (readref.ReadRef, func() error, error) {
	direct, err := filecontents.OpenDirect(candidate.Path)
	if err != nil {
		return nil, nil, err
	}
	return direct, direct.Close, nil
}
