// Package demangle converts mangled symbol names (Itanium C++, Rust, MSVC)
// into displayable forms, passing names through unchanged on failure. The
// Itanium/Rust path is github.com/ianlancetaylor/demangle, the same
// library rhysh/go-perf uses for its symbolication tooling (it calls
// demangle.Filter directly). The MSVC path is the hand-rolled subset
// decoder in msvc.go (no Go library for MSVC mangling exists): scope
// chains, back-references, templates, and the common parameter-type
// encodings, rendered as scope::name(params).
package demangle

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Demangler demangles symbol names. Any per-query memoization lives on
// the Demangler instance, which callers should scope to one query per the
// spec's "no global mutable state" design note.
type Demangler struct {
	cache map[string]string
}

// New returns a Demangler with an empty per-query memoization cache.
func New() *Demangler {
	return &Demangler{cache: make(map[string]string)}
}

// Demangle returns the demangled form of name, or name itself if it is not
// a recognized mangling or demangling fails.
func (d *Demangler) Demangle(name string) string {
	if cached, ok := d.cache[name]; ok {
		return cached
	}
	result := demangleOnce(name)
	d.cache[name] = result
	return result
}

func demangleOnce(name string) string {
	if strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "__Z") ||
		strings.HasPrefix(name, "_R") || strings.HasPrefix(name, "__R") {
		// Mach-O symbols carry an extra leading underscore on top of the
		// Itanium/Rust mangling prefix; strip it before decoding.
		candidate := name
		if strings.HasPrefix(name, "__Z") || strings.HasPrefix(name, "__R") {
			candidate = name[1:]
		}
		if out, err := demangle.ToString(candidate); err == nil {
			return out
		}
		if out, err := demangle.ToString(candidate, demangle.NoParams); err == nil {
			return out
		}
		return name
	}
	if strings.HasPrefix(name, "?") {
		return demangleMSVC(name)
	}
	return name
}
