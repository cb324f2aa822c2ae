package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/llm"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder 返回由输入内容决定的确定性向量。
type fakeEmbedder struct {
	vectors map[string][]float32 // 按输入文本指定向量，未命中时使用 fallback
	failAll bool
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if f.failAll {
		return nil, fmt.Errorf("%w: 模拟的向量化失败", embedding.ErrEmbedding)
	}
	if v, ok := f.vectors[text]; ok {
		return embedding.Normalize(v), nil
	}
	return embedding.Normalize([]float32{1, 1, 1}), nil
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if f.failAll {
		return nil, fmt.Errorf("%w: 模拟的向量化失败", embedding.ErrEmbedding)
	}
	return embedding.Normalize([]float32{0, 1, 0}), nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

// fakeStore 是内存版的内容存储。
type fakeStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
	failPut      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), contentTypes: make(map[string]string)}
}

func (f *fakeStore) Put(ctx context.Context, contentKey string, payload []byte, contentType string) error {
	if f.failPut {
		return errors.New("模拟的存储写入失败")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.objects[contentKey] = buf
	f.contentTypes[contentKey] = contentType
	return nil
}

func (f *fakeStore) Get(ctx context.Context, contentKey string) ([]byte, string, error) {
	payload, ok := f.objects[contentKey]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", storage.ErrContentNotFound, contentKey)
	}
	return payload, f.contentTypes[contentKey], nil
}

func (f *fakeStore) Delete(ctx context.Context, contentKey string) error {
	delete(f.objects, contentKey)
	return nil
}

// failingIndex 的 Upsert 恒定失败，用于验证孤儿内容的处理。
type failingIndex struct {
	vectorindex.Index
}

func (f *failingIndex) Upsert(ctx context.Context, ns vectorindex.Namespace, entryID string, vector []float32, meta vectorindex.Metadata) error {
	return fmt.Errorf("%w: 模拟的索引写入失败", vectorindex.ErrUnavailable)
}

// fakeGenerator 返回固定回答并记录收到的消息。
type fakeGenerator struct {
	answer   string
	received []llm.Message
	failAll  bool
}

func (f *fakeGenerator) GenerateMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	if f.failAll {
		return "", fmt.Errorf("%w: 模拟的生成失败", llm.ErrGeneration)
	}
	f.received = messages
	return f.answer, nil
}

func (f *fakeGenerator) StreamMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	if f.failAll {
		return fmt.Errorf("%w: 模拟的生成失败", llm.ErrGeneration)
	}
	f.received = messages
	return writer.WriteMessage(1, []byte(f.answer))
}

func TestIngestTextStoresContentAndIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	svc := NewIngestService(&fakeEmbedder{}, store, idx, "clip-test")
	ns := vectorindex.SKB("alice")

	entryID, err := svc.IngestText(ctx, ns, "巴黎是法国的首都", "doc-1")
	require.NoError(t, err)
	require.NotEmpty(t, entryID)

	// 条目可以在同一命名空间检索到
	matches, err := idx.Query(ctx, ns, embedding.Normalize([]float32{1, 1, 1}), 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, entryID, matches[0].EntryID)
	assert.Equal(t, "text", matches[0].Metadata.Modality)
	assert.Equal(t, "doc-1", matches[0].Metadata.SourceDocumentID)
	assert.Equal(t, "clip-test", matches[0].Metadata.ModelVersion)

	// 条目指向的内容可以原样读回
	payload, contentType, err := store.Get(ctx, matches[0].Metadata.ContentKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("巴黎是法国的首都"), payload)
	assert.Equal(t, "text/plain; charset=utf-8", contentType)
}

func TestIngestImageStoresContentAndIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	svc := NewIngestService(&fakeEmbedder{}, store, idx, "clip-test")
	ns := vectorindex.GKB()

	image := []byte{0x89, 0x50, 0x4e, 0x47, 0x01, 0x02}
	entryID, err := svc.IngestImage(ctx, ns, image, "image/png", "doc-2")
	require.NoError(t, err)

	matches, err := idx.Query(ctx, ns, embedding.Normalize([]float32{0, 1, 0}), 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, entryID, matches[0].EntryID)
	assert.Equal(t, "image", matches[0].Metadata.Modality)

	payload, contentType, err := store.Get(ctx, matches[0].Metadata.ContentKey)
	require.NoError(t, err)
	assert.Equal(t, image, payload)
	assert.Equal(t, "image/png", contentType)
}

func TestIngestEmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	svc := NewIngestService(&fakeEmbedder{failAll: true}, store, idx, "clip-test")
	ns := vectorindex.GKB()

	_, err := svc.IngestText(ctx, ns, "任何文本", "doc-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestion)
	assert.ErrorIs(t, err, embedding.ErrEmbedding)

	// 向量化失败时内容存储与索引都不能有残留
	assert.Empty(t, store.objects)
	matches, qErr := idx.Query(ctx, ns, []float32{1, 1, 1}, 5, nil)
	require.NoError(t, qErr)
	assert.Empty(t, matches)
}

func TestIngestStoreFailureWritesNoIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failPut = true
	idx := vectorindex.NewMemoryIndex()
	svc := NewIngestService(&fakeEmbedder{}, store, idx, "clip-test")
	ns := vectorindex.GKB()

	_, err := svc.IngestText(ctx, ns, "任何文本", "doc-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestion)

	matches, qErr := idx.Query(ctx, ns, embedding.Normalize([]float32{1, 1, 1}), 5, nil)
	require.NoError(t, qErr)
	assert.Empty(t, matches)
}

func TestIngestIndexFailureLeavesOrphanedContent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	idx := &failingIndex{Index: vectorindex.NewMemoryIndex()}
	svc := NewIngestService(&fakeEmbedder{}, store, idx, "clip-test")

	_, err := svc.IngestText(ctx, vectorindex.GKB(), "任何文本", "doc-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestion)
	assert.ErrorIs(t, err, vectorindex.ErrUnavailable)

	// 内容已落盘但无条目引用：孤儿内容是允许的失败残留
	assert.Len(t, store.objects, 1)
}

func TestDeleteEntryIsNoopForMissing(t *testing.T) {
	ctx := context.Background()
	svc := NewIngestService(&fakeEmbedder{}, newFakeStore(), vectorindex.NewMemoryIndex(), "clip-test")
	assert.NoError(t, svc.DeleteEntry(ctx, vectorindex.GKB(), "missing"))
}
