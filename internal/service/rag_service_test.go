package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"multi-rag-go/internal/config"
	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRAG(embedder *fakeEmbedder, idx vectorindex.Index, store *fakeStore, gen *fakeGenerator) RAGService {
	return NewRAGService(embedder, idx, store, gen, config.RAGConfig{TopK: 5}, config.LLMConfig{})
}

func TestRAGAnswerEndToEnd(t *testing.T) {
	ctx := context.Background()
	// 问题向量与"埃菲尔铁塔"条目的向量对齐，与无关条目正交
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"埃菲尔铁塔在哪座城市？":                 {1, 0, 0},
		"埃菲尔铁塔位于法国巴黎，是巴黎的地标建筑。": {1, 0, 0},
		"长城是中国古代的军事防御工程。":           {0, 0, 1},
	}}
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	ingest := NewIngestService(embedder, store, idx, "clip-test")
	ns := vectorindex.GKB()

	_, err := ingest.IngestText(ctx, ns, "埃菲尔铁塔位于法国巴黎，是巴黎的地标建筑。", "doc-paris")
	require.NoError(t, err)
	_, err = ingest.IngestText(ctx, ns, "长城是中国古代的军事防御工程。", "doc-wall")
	require.NoError(t, err)

	gen := &fakeGenerator{answer: "埃菲尔铁塔位于巴黎。"}
	rag := newTestRAG(embedder, idx, store, gen)

	resp, err := rag.Answer(ctx, "埃菲尔铁塔在哪座城市？", ns)
	require.NoError(t, err)
	assert.Equal(t, "埃菲尔铁塔位于巴黎。", resp.Answer)
	require.NotEmpty(t, resp.RetrievedContext)

	// 最相关的条目排在首位且携带摘录
	top := resp.RetrievedContext[0]
	assert.True(t, top.HasContent)
	assert.Contains(t, top.Excerpt, "巴黎")
	assert.Equal(t, "doc-paris", top.Metadata.SourceDocumentID)

	// 检索到的内容进入了发给生成模型的用户消息
	require.NotEmpty(t, gen.received)
	userMsg := gen.received[len(gen.received)-1]
	var promptText strings.Builder
	for _, p := range userMsg.Parts {
		promptText.WriteString(p.Text)
	}
	assert.Contains(t, promptText.String(), "巴黎")
	assert.Contains(t, promptText.String(), "埃菲尔铁塔在哪座城市？")
}

func TestRAGAnswerEmptyNamespace(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{}
	gen := &fakeGenerator{answer: "我没有找到相关资料。"}
	rag := newTestRAG(embedder, vectorindex.NewMemoryIndex(), newFakeStore(), gen)

	// 空知识库不是错误：注入"无检索结果"信号后照常生成
	resp, err := rag.Answer(ctx, "任意问题", vectorindex.SKB("nobody"))
	require.NoError(t, err)
	assert.Empty(t, resp.RetrievedContext)
	assert.Equal(t, "我没有找到相关资料。", resp.Answer)

	userMsg := gen.received[len(gen.received)-1]
	var promptText strings.Builder
	for _, p := range userMsg.Parts {
		promptText.WriteString(p.Text)
	}
	assert.Contains(t, promptText.String(), "no relevant context")
}

func TestRAGRetrieveToleratesMissingContent(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{}
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	ns := vectorindex.GKB()

	// 直接写入一个指向不存在内容的索引条目（孤儿的反向情形：内容被删）
	vec, _ := embedder.EmbedText(ctx, "任意")
	require.NoError(t, idx.Upsert(ctx, ns, "dangling", vec, vectorindex.Metadata{
		Modality:   "text",
		ContentKey: "text/gkb/deadbeef.txt",
	}))

	rag := newTestRAG(embedder, idx, store, &fakeGenerator{answer: "ok"})
	retrieved, contextParts, err := rag.Retrieve(ctx, "任意问题", ns)
	require.NoError(t, err)

	// 条目保留在结果列表中但没有摘录，也不进入提示词
	require.Len(t, retrieved, 1)
	assert.Equal(t, "dangling", retrieved[0].EntryID)
	assert.False(t, retrieved[0].HasContent)
	assert.Empty(t, retrieved[0].Excerpt)
	assert.Empty(t, contextParts)
}

func TestRAGRetrieveExcerptTruncatesOnRunes(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{}
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	ingest := NewIngestService(embedder, store, idx, "clip-test")
	ns := vectorindex.GKB()

	// 1800 个 rune（5400 字节）的纯 CJK 文本
	longText := strings.Repeat("巴黎是法国的首都。", 200)
	_, err := ingest.IngestText(ctx, ns, longText, "doc-long")
	require.NoError(t, err)

	rag := newTestRAG(embedder, idx, store, &fakeGenerator{answer: "ok"})
	retrieved, contextParts, err := rag.Retrieve(ctx, "任意问题", ns)
	require.NoError(t, err)
	require.Len(t, retrieved, 1)
	require.True(t, retrieved[0].HasContent)

	// 截断按 rune 计数，结果必须是合法 UTF-8 且保留完整的 1000 个字符
	excerpt := retrieved[0].Excerpt
	assert.True(t, utf8.ValidString(excerpt))
	assert.Equal(t, maxExcerptLen+1, len([]rune(excerpt))) // 1000 字符 + 省略号
	assert.True(t, strings.HasPrefix(excerpt, "巴黎是法国的首都。"))
	assert.True(t, strings.HasSuffix(excerpt, "…"))

	require.Len(t, contextParts, 1)
	assert.True(t, utf8.ValidString(contextParts[0].Text))
}

func TestRAGRetrieveFailsFastOnEmbeddingError(t *testing.T) {
	ctx := context.Background()
	rag := newTestRAG(&fakeEmbedder{failAll: true}, vectorindex.NewMemoryIndex(), newFakeStore(), &fakeGenerator{})

	_, _, err := rag.Retrieve(ctx, "任意问题", vectorindex.GKB())
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrEmbedding)
}

func TestRAGRetrieveImageContextBecomesImagePart(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{"图里有什么？": {0, 1, 0}}}
	store := newFakeStore()
	idx := vectorindex.NewMemoryIndex()
	ingest := NewIngestService(embedder, store, idx, "clip-test")
	ns := vectorindex.SKB("alice")

	_, err := ingest.IngestImage(ctx, ns, []byte{0x89, 0x50, 0x4e, 0x47}, "image/png", "doc-img")
	require.NoError(t, err)

	rag := newTestRAG(embedder, idx, store, &fakeGenerator{answer: "ok"})
	retrieved, contextParts, err := rag.Retrieve(ctx, "图里有什么？", ns)
	require.NoError(t, err)
	require.Len(t, retrieved, 1)
	assert.True(t, retrieved[0].HasContent)
	// 图片条目不产生文本摘录，而是作为图片分片进入提示词
	assert.Empty(t, retrieved[0].Excerpt)
	require.Len(t, contextParts, 1)
	assert.Equal(t, "image_url", contextParts[0].Type)
	require.NotNil(t, contextParts[0].ImageURL)
	assert.True(t, strings.HasPrefix(contextParts[0].ImageURL.URL, "data:image/png;base64,"))
}
