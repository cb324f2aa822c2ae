package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest 记录一次发往 Elasticsearch 的请求。
type capturedRequest struct {
	method string
	path   string
	body   map[string]interface{}
}

// newStubElasticIndex 返回一个指向本地 stub 服务的适配器，
// stub 对一切请求回复 respBody 并记录最后一次请求。
func newStubElasticIndex(t *testing.T, respBody string) (*elasticIndex, *capturedRequest, func()) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.body = nil
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&captured.body)
		}
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respBody))
	}))

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return &elasticIndex{client: client, indexName: "test-index"}, captured, server.Close
}

// filterTerms 从 bool 查询中抽出全部 term 断言，方便校验谓词。
func filterTerms(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	query, ok := body["query"].(map[string]interface{})
	require.True(t, ok, "请求体缺少 query")
	boolQuery, ok := query["bool"].(map[string]interface{})
	require.True(t, ok, "query 缺少 bool")
	filters, ok := boolQuery["filter"].([]interface{})
	require.True(t, ok, "bool 缺少 filter")

	terms := make(map[string]interface{})
	for _, f := range filters {
		term, ok := f.(map[string]interface{})["term"].(map[string]interface{})
		require.True(t, ok, "filter 里出现非 term 断言")
		for field, value := range term {
			terms[field] = value
		}
	}
	return terms
}

func TestElasticDeleteScopesToNamespace(t *testing.T) {
	idx, captured, closeFn := newStubElasticIndex(t, `{"deleted": 1}`)
	defer closeFn()

	err := idx.Delete(context.Background(), SKB("alice"), "entry-1")
	require.NoError(t, err)

	// 删除走 delete-by-query，谓词同时带条目 ID 与命名空间两个字段
	assert.Equal(t, "/test-index/_delete_by_query", captured.path)
	terms := filterTerms(t, captured.body)
	assert.Equal(t, "entry-1", terms["entry_id"])
	assert.Equal(t, "skb", terms["kb_type"])
	assert.Equal(t, "alice", terms["user_key"])
}

func TestElasticDeleteMissingEntryIsNoop(t *testing.T) {
	idx, _, closeFn := newStubElasticIndex(t, `{"deleted": 0}`)
	defer closeFn()

	// 命名空间内不存在该条目时删除数为 0，不是错误
	assert.NoError(t, idx.Delete(context.Background(), GKB(), "missing"))
}

func TestElasticDeleteByDocumentScopesToNamespace(t *testing.T) {
	idx, captured, closeFn := newStubElasticIndex(t, `{"deleted": 2}`)
	defer closeFn()

	deleted, err := idx.DeleteByDocument(context.Background(), SKB("bob"), "doc-9")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	assert.Equal(t, "/test-index/_delete_by_query", captured.path)
	terms := filterTerms(t, captured.body)
	assert.Equal(t, "doc-9", terms["source_document_id"])
	assert.Equal(t, "skb", terms["kb_type"])
	assert.Equal(t, "bob", terms["user_key"])
}
