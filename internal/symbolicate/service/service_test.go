package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/readref"
)

// nullProvider never has any candidates, so every module query resolves
// to a NoCandidatePathForBinary error — useful for exercising the
// error-per-frame rendering path without a real binary.
type nullProvider struct{}

func (nullProvider) GetCandidatePaths(ctx context.Context, debugName string, id debugid.DebugId) ([]dispatch.CandidatePathInfo, error) {
	return nil, nil
}

func (nullProvider) OpenFile(ctx context.Context, candidate dispatch.CandidatePathInfo) (readref.ReadRef, func() error, error) {
	return nil, nil, nil
}

const sampleRequest = `{
	"jobs": [
		{"stacks": [[{"module": 0, "frame": 10}]]}
	],
	"modules": [
		{"debugName": "libfoo.so", "breakpadId": "AA152DEB2D9B76084C4C44205044422E1"}
	]
}`

func TestQueryAPI_V5_RendersErrorWhenNoCandidatesFound(t *testing.T) {
	out, err := Query(context.Background(), V5, sampleRequest, nullProvider{})
	require.NoError(t, err)

	var resp responseV5
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].Stacks, 1)
	require.Len(t, resp.Results[0].Stacks[0], 1)
	assert.NotEmpty(t, resp.Results[0].Stacks[0][0].Error)
}

func TestQueryAPI_V6a1_RendersErrorWhenNoCandidatesFound(t *testing.T) {
	out, err := Query(context.Background(), V6a1, sampleRequest, nullProvider{})
	require.NoError(t, err)

	var resp responseV6a1
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].Stacks, 1)
	require.Len(t, resp.Results[0].Stacks[0], 1)
	assert.NotEmpty(t, resp.Results[0].Stacks[0][0].Error)
}

func TestQueryAPI_RejectsMalformedJSON(t *testing.T) {
	_, err := Query(context.Background(), V5, "not json", nullProvider{})
	assert.Error(t, err)
}

func TestQueryAPI_ModuleWithUnparsableBreakpadIdProducesPerFrameError(t *testing.T) {
	req := `{
		"jobs": [{"stacks": [[{"module": 0, "frame": 1}]]}],
		"modules": [{"debugName": "x.so", "breakpadId": "not-hex"}]
	}`
	out, err := Query(context.Background(), V5, req, nullProvider{})
	require.NoError(t, err)

	var resp responseV5
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp.Results[0].Stacks[0][0].Error)
}

func TestRenderFrameV5_OutOfRangeModuleIndexIsAnError(t *testing.T) {
	frame := renderFrameV5(5, 0, nil, []error{nil})
	assert.NotEmpty(t, frame.Error)
}

func TestQueryAPI_RoutesByURLPath(t *testing.T) {
	out, err := QueryAPI(context.Background(), "/symbolicate/v5", sampleRequest, nullProvider{})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	out, err = QueryAPI(context.Background(), "/symbolicate/v6a1", sampleRequest, nullProvider{})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = QueryAPI(context.Background(), "/symbolicate/v9", sampleRequest, nullProvider{})
	assert.Error(t, err)
}
