// Package service implements query_api: routing a batched symbolication
// request to the dispatcher and rendering its response as JSON. The wire
// shape is this repo's own rendering of the loose contract that the core
// only supplies the per-address AddressDebugInfo and leaves response
// framing to the caller.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

// Version selects which response shape Query renders.
type Version int

const (
	V5 Version = iota
	V6a1
)

// module identifies one binary a stack frame references, keyed by the
// pair the dispatcher consumes.
type module struct {
	DebugName  string `json:"debugName"`
	BreakpadId string `json:"breakpadId"`
}

// batchRequestV5 is the actual /symbolicate/v5 wire shape: a list of
// per-module address batches.
type batchRequestV5 struct {
	Memoized bool `json:"memoized,omitempty"`
	Jobs     []struct {
		Stacks [][]struct {
			Module  int    `json:"module"`
			Address uint32 `json:"frame"`
		} `json:"stacks"`
		MemoizedStacks [][]int `json:"memoizedStacks,omitempty"`
	} `json:"jobs"`
	Modules []module `json:"modules"`
}

type responseV5 struct {
	Results []jobResultV5 `json:"results"`
}

type jobResultV5 struct {
	Stacks [][]frameResultV5 `json:"stacks"`
}

type frameResultV5 struct {
	Symbol         string `json:"symbol,omitempty"`
	FunctionOffset uint32 `json:"functionOffset"`
	Error          string `json:"error,omitempty"`
}

type responseV6a1 struct {
	Results []jobResultV6a1 `json:"results"`
}

type jobResultV6a1 struct {
	Stacks [][]frameResultV6a1 `json:"stacks"`
}

type frameResultV6a1 struct {
	Symbol         string        `json:"symbol,omitempty"`
	FunctionOffset uint32        `json:"functionOffset"`
	Inlines        []inlineFrame `json:"inlines,omitempty"`
	Error          string        `json:"error,omitempty"`
}

type inlineFrame struct {
	Function string  `json:"function"`
	File     *string `json:"file,omitempty"`
	Line     *uint32 `json:"line,omitempty"`
}

// QueryAPI routes a request by URL path: /symbolicate/v5 and
// /symbolicate/v6a1 map to their versioned response shapes; anything
// else is an error.
func QueryAPI(ctx context.Context, url string, bodyJSON string, provider dispatch.FileProvider) (string, error) {
	switch {
	case strings.HasSuffix(url, "/symbolicate/v6a1"):
		return Query(ctx, V6a1, bodyJSON, provider)
	case strings.HasSuffix(url, "/symbolicate/v5"):
		return Query(ctx, V5, bodyJSON, provider)
	default:
		return "", fmt.Errorf("service: unknown API path %q", url)
	}
}

// Query handles one batched symbolication request: one dispatcher query
// per module listed in the request, rendered as the requested version's
// JSON response.
func Query(ctx context.Context, version Version, bodyJSON string, provider dispatch.FileProvider) (string, error) {
	var req batchRequestV5
	if err := json.Unmarshal([]byte(bodyJSON), &req); err != nil {
		return "", fmt.Errorf("service: decoding request: %w", err)
	}

	moduleAddrs := make([]map[uint32]bool, len(req.Modules))
	for i := range req.Modules {
		moduleAddrs[i] = make(map[uint32]bool)
	}
	for _, j := range req.Jobs {
		for _, stack := range j.Stacks {
			for _, f := range stack {
				if f.Module >= 0 && f.Module < len(moduleAddrs) {
					moduleAddrs[f.Module][f.Address] = true
				}
			}
		}
	}

	results := make([]map[uint32]symtab.AddressDebugInfo, len(req.Modules))
	errs := make([]error, len(req.Modules))
	for i, mod := range req.Modules {
		id, err := debugid.Parse(mod.BreakpadId)
		if err != nil {
			errs[i] = err
			continue
		}
		var addrs []uint32
		for a := range moduleAddrs[i] {
			addrs = append(addrs, a)
		}
		query := symtab.SymbolicationQuery{DebugName: mod.DebugName, DebugId: id, Addresses: addrs}
		frames, err := dispatch.GetSymbolicationResult(ctx, query, provider)
		if err != nil {
			errs[i] = err
			continue
		}
		byAddr := make(map[uint32]symtab.AddressDebugInfo, len(frames))
		for _, f := range frames {
			byAddr[f.Address] = f
		}
		results[i] = byAddr
	}

	switch version {
	case V6a1:
		return renderV6a1(req, results, errs)
	default:
		return renderV5(req, results, errs)
	}
}

func renderV5(req batchRequestV5, results []map[uint32]symtab.AddressDebugInfo, errs []error) (string, error) {
	var resp responseV5
	for _, j := range req.Jobs {
		var jr jobResultV5
		for _, stack := range j.Stacks {
			var frames []frameResultV5
			for _, f := range stack {
				frames = append(frames, renderFrameV5(f.Module, f.Address, results, errs))
			}
			jr.Stacks = append(jr.Stacks, frames)
		}
		resp.Results = append(resp.Results, jr)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("service: encoding v5 response: %w", err)
	}
	return string(out), nil
}

func renderFrameV5(moduleIdx int, addr uint32, results []map[uint32]symtab.AddressDebugInfo, errs []error) frameResultV5 {
	if moduleIdx < 0 || moduleIdx >= len(errs) {
		return frameResultV5{Error: "module index out of range"}
	}
	if errs[moduleIdx] != nil {
		return frameResultV5{Error: errs[moduleIdx].Error()}
	}
	info, ok := results[moduleIdx][addr]
	if !ok || len(info.Frames) == 0 {
		return frameResultV5{FunctionOffset: addr}
	}
	name := ""
	if f := info.Frames[len(info.Frames)-1].Function; f != nil {
		name = *f
	}
	return frameResultV5{Symbol: name, FunctionOffset: addr}
}

func renderV6a1(req batchRequestV5, results []map[uint32]symtab.AddressDebugInfo, errs []error) (string, error) {
	var resp responseV6a1
	for _, j := range req.Jobs {
		var jr jobResultV6a1
		for _, stack := range j.Stacks {
			var frames []frameResultV6a1
			for _, f := range stack {
				frames = append(frames, renderFrameV6a1(f.Module, f.Address, results, errs))
			}
			jr.Stacks = append(jr.Stacks, frames)
		}
		resp.Results = append(resp.Results, jr)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("service: encoding v6a1 response: %w", err)
	}
	return string(out), nil
}

func renderFrameV6a1(moduleIdx int, addr uint32, results []map[uint32]symtab.AddressDebugInfo, errs []error) frameResultV6a1 {
	if moduleIdx < 0 || moduleIdx >= len(errs) {
		return frameResultV6a1{Error: "module index out of range"}
	}
	if errs[moduleIdx] != nil {
		return frameResultV6a1{Error: errs[moduleIdx].Error()}
	}
	info, ok := results[moduleIdx][addr]
	if !ok || len(info.Frames) == 0 {
		return frameResultV6a1{FunctionOffset: addr}
	}

	out := frameResultV6a1{FunctionOffset: addr}
	if f := info.Frames[len(info.Frames)-1].Function; f != nil {
		out.Symbol = *f
	}
	if len(info.Frames) > 1 {
		for i := 0; i < len(info.Frames)-1; i++ {
			fr := info.Frames[i]
			name := ""
			if fr.Function != nil {
				name = *fr.Function
			}
			out.Inlines = append(out.Inlines, inlineFrame{Function: name, File: fr.FilePath, Line: fr.Line})
		}
	}
	return out
}
