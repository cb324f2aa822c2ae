package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMeta(contentKey, docID string) Metadata {
	return Metadata{
		Modality:         "text",
		ContentKey:       contentKey,
		SourceDocumentID: docID,
		ContentType:      "text/plain; charset=utf-8",
		ModelVersion:     "clip-test",
	}
}

func TestMemoryIndexQueryOrdering(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := GKB()

	// 与查询向量的相似度: e1 = 1.0, e2 = 0.0, e3 ≈ 0.707
	require.NoError(t, idx.Upsert(ctx, ns, "e1", []float32{1, 0}, textMeta("k1", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "e2", []float32{0, 1}, textMeta("k2", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "e3", []float32{1, 1}, textMeta("k3", "d1")))

	matches, err := idx.Query(ctx, ns, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "e1", matches[0].EntryID)
	assert.Equal(t, "e3", matches[1].EntryID)
	assert.Equal(t, "e2", matches[2].EntryID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestMemoryIndexTopKTruncation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := GKB()

	require.NoError(t, idx.Upsert(ctx, ns, "e1", []float32{1, 0}, textMeta("k1", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "e2", []float32{0, 1}, textMeta("k2", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "e3", []float32{1, 1}, textMeta("k3", "d1")))

	// topK 小于条目数时恰好返回 topK 条
	matches, err := idx.Query(ctx, ns, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	// topK 大于条目数时返回全部条目
	matches, err = idx.Query(ctx, ns, []float32{1, 0}, 100, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestMemoryIndexInvalidTopK(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	_, err := idx.Query(ctx, GKB(), []float32{1, 0}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = idx.Query(ctx, GKB(), []float32{1, 0}, -3, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMemoryIndexNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, GKB(), "shared", []float32{1, 0}, textMeta("kg", "dg")))
	require.NoError(t, idx.Upsert(ctx, SKB("alice"), "private-a", []float32{1, 0}, textMeta("ka", "da")))
	require.NoError(t, idx.Upsert(ctx, SKB("bob"), "private-b", []float32{1, 0}, textMeta("kb", "db")))

	// alice 的私有空间只能看到自己的条目
	matches, err := idx.Query(ctx, SKB("alice"), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "private-a", matches[0].EntryID)

	// GKB 看不到任何私有条目
	matches, err = idx.Query(ctx, GKB(), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "shared", matches[0].EntryID)

	// 未知用户的私有空间为空而非错误
	matches, err = idx.Query(ctx, SKB("carol"), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryIndexUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := SKB("alice")

	require.NoError(t, idx.Upsert(ctx, ns, "e1", []float32{1, 0}, textMeta("old", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "e1", []float32{0, 1}, textMeta("new", "d1")))

	matches, err := idx.Query(ctx, ns, []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "e1", matches[0].EntryID)
	// 重复写入以最后一次为准
	assert.Equal(t, "new", matches[0].Metadata.ContentKey)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestMemoryIndexTieBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := GKB()

	// 三个条目与查询向量的相似度完全相同
	require.NoError(t, idx.Upsert(ctx, ns, "first", []float32{1, 0}, textMeta("k1", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "second", []float32{1, 0}, textMeta("k2", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "third", []float32{1, 0}, textMeta("k3", "d1")))

	// 重新 upsert 不改变插入顺序
	require.NoError(t, idx.Upsert(ctx, ns, "first", []float32{1, 0}, textMeta("k1b", "d1")))

	for i := 0; i < 5; i++ {
		matches, err := idx.Query(ctx, ns, []float32{1, 0}, 10, nil)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "first", matches[0].EntryID)
		assert.Equal(t, "second", matches[1].EntryID)
		assert.Equal(t, "third", matches[2].EntryID)
	}
}

func TestMemoryIndexDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := GKB()

	require.NoError(t, idx.Upsert(ctx, ns, "e1", []float32{1, 0}, textMeta("k1", "d1")))
	require.NoError(t, idx.Delete(ctx, ns, "e1"))

	matches, err := idx.Query(ctx, ns, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// 删除不存在的条目是空操作
	assert.NoError(t, idx.Delete(ctx, ns, "missing"))
	assert.NoError(t, idx.Delete(ctx, SKB("nobody"), "missing"))
}

func TestMemoryIndexDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := SKB("alice")

	require.NoError(t, idx.Upsert(ctx, ns, "e1", []float32{1, 0}, textMeta("k1", "doc-a")))
	require.NoError(t, idx.Upsert(ctx, ns, "e2", []float32{0, 1}, textMeta("k2", "doc-a")))
	require.NoError(t, idx.Upsert(ctx, ns, "e3", []float32{1, 1}, textMeta("k3", "doc-b")))

	deleted, err := idx.DeleteByDocument(ctx, ns, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	matches, err := idx.Query(ctx, ns, []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "e3", matches[0].EntryID)
}

func TestMemoryIndexQueryFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := GKB()

	imageMeta := textMeta("ki", "doc-a")
	imageMeta.Modality = "image"
	require.NoError(t, idx.Upsert(ctx, ns, "t1", []float32{1, 0}, textMeta("kt", "doc-a")))
	require.NoError(t, idx.Upsert(ctx, ns, "i1", []float32{1, 0}, imageMeta))
	require.NoError(t, idx.Upsert(ctx, ns, "t2", []float32{1, 0}, textMeta("kt2", "doc-b")))

	matches, err := idx.Query(ctx, ns, []float32{1, 0}, 10, &Filter{Modality: "image"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "i1", matches[0].EntryID)

	matches, err = idx.Query(ctx, ns, []float32{1, 0}, 10, &Filter{SourceDocumentID: "doc-b"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "t2", matches[0].EntryID)
}

func TestMemoryIndexSkipsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	ns := GKB()

	require.NoError(t, idx.Upsert(ctx, ns, "dim2", []float32{1, 0}, textMeta("k1", "d1")))
	require.NoError(t, idx.Upsert(ctx, ns, "dim3", []float32{1, 0, 0}, textMeta("k2", "d1")))

	matches, err := idx.Query(ctx, ns, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "dim2", matches[0].EntryID)
}
