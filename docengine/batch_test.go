package docengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aep/docbase/apierr"
)

func TestBatchCommitIsAllOrNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	pathA, vA, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"a":1}`), testAuth)
	require.NoError(t, err)

	wrongVersion := vA + 99
	_, err = e.Batch(ctx, "ws1", []BatchOp{
		{Kind: BatchSet, Path: "notes/new-doc", Data: json.RawMessage(`{"b":1}`)},
		{Kind: BatchUpdate, Path: pathA, Data: json.RawMessage(`{"a":2}`), ExpectedVersion: &wrongVersion},
	}, testAuth)
	require.Error(t, err)
	require.True(t, apierr.As(err, apierr.KindVersionConflict))

	_, err = e.Get(ctx, "ws1", "notes/new-doc", testAuth)
	require.True(t, apierr.As(err, apierr.KindNotFound), "batch must not have partially applied")

	doc, err := e.Get(ctx, "ws1", pathA, testAuth)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(doc.Data))
}

func TestBatchCommitAppliesContiguousVersions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	results, err := e.Batch(ctx, "ws1", []BatchOp{
		{Kind: BatchSet, Path: "notes/a", Data: json.RawMessage(`{"v":1}`)},
		{Kind: BatchSet, Path: "notes/b", Data: json.RawMessage(`{"v":2}`)},
		{Kind: BatchSet, Path: "notes/c", Data: json.RawMessage(`{"v":3}`)},
	}, testAuth)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, results[0].Version+1, results[1].Version)
	require.Equal(t, results[1].Version+1, results[2].Version)
}
