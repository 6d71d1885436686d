package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memindex "github.com/nicktill/tinysummary/pkg/index/memory"
	"github.com/nicktill/tinysummary/pkg/storage"
	memstore "github.com/nicktill/tinysummary/pkg/storage/memory"
)

func TestDetachedProducts(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	idx := memindex.New()

	n, err := DetachedProducts(ctx, st, idx)
	require.NoError(t, err)
	require.Zero(t, n)

	// Metadata survives in storage, the index starts empty
	_, err = st.PutProduct(ctx, storage.ProductSummary{Name: "ls8", DatasetCount: 2})
	require.NoError(t, err)
	n, err = DetachedProducts(ctx, st, idx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	idx.Add(dataset("a", "ls8", time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)))
	n, err = DetachedProducts(ctx, st, idx)
	require.NoError(t, err)
	require.Zero(t, n)
}
