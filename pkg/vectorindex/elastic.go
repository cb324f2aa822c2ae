package vectorindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"multi-rag-go/internal/config"
	"multi-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// elasticIndex 是基于 Elasticsearch dense_vector kNN 的远程索引适配器。
// 本地命名空间 1:1 映射为文档上的 (kb_type, user_key) 过滤字段。
type elasticIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// esEntry 是存储在 Elasticsearch 中的条目结构。
type esEntry struct {
	EntryID          string    `json:"entry_id"`
	KBType           string    `json:"kb_type"`
	UserKey          string    `json:"user_key"`
	Modality         string    `json:"modality"`
	ContentKey       string    `json:"content_key"`
	SourceDocumentID string    `json:"source_document_id"`
	ContentType      string    `json:"content_type"`
	ModelVersion     string    `json:"model_version"`
	Vector           []float32 `json:"vector"`
}

// newElasticIndex 初始化 Elasticsearch 客户端并确保索引存在。
// 服务不可达或索引创建失败时返回错误，由调用方决定降级。
func newElasticIndex(esCfg config.ElasticsearchConfig, dimensions int) (Index, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: 创建 Elasticsearch 客户端失败: %w", ErrUnavailable, err)
	}

	// 连通性检查：启动时一次性决定是否可用
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("%w: Elasticsearch 不可达: %w", ErrUnavailable, err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: Elasticsearch 返回错误状态: %s", ErrUnavailable, res.Status())
	}

	idx := &elasticIndex{client: client, indexName: esCfg.IndexName}
	if err := idx.createIndexIfNotExists(dimensions); err != nil {
		return nil, err
	}
	return idx, nil
}

func (e *elasticIndex) Name() string {
	return "elasticsearch"
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它。
func (e *elasticIndex) createIndexIfNotExists(dimensions int) error {
	res, err := e.client.Indices.Exists([]string{e.indexName})
	if err != nil {
		return fmt.Errorf("%w: 检查索引是否存在时出错: %w", ErrUnavailable, err)
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("[VectorIndex] 索引 '%s' 已存在", e.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: 检查索引是否存在时收到意外的状态码: %d", ErrUnavailable, res.StatusCode)
	}

	// 向量字段使用 cosine 相似度，维度跟随 embedding 模型配置
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"entry_id": { "type": "keyword" },
				"kb_type": { "type": "keyword" },
				"user_key": { "type": "keyword" },
				"modality": { "type": "keyword" },
				"content_key": { "type": "keyword" },
				"source_document_id": { "type": "keyword" },
				"content_type": { "type": "keyword" },
				"model_version": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dimensions)

	res, err = e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("%w: 创建索引 '%s' 失败: %w", ErrUnavailable, e.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: 创建索引 '%s' 时 Elasticsearch 返回错误: %s", ErrUnavailable, e.indexName, res.String())
	}

	log.Infof("[VectorIndex] 索引 '%s' 创建成功", e.indexName)
	return nil
}

func (e *elasticIndex) Upsert(ctx context.Context, ns Namespace, entryID string, vector []float32, meta Metadata) error {
	doc := esEntry{
		EntryID:          entryID,
		KBType:           string(ns.Kind),
		UserKey:          ns.UserKey,
		Modality:         meta.Modality,
		ContentKey:       meta.ContentKey,
		SourceDocumentID: meta.SourceDocumentID,
		ContentType:      meta.ContentType,
		ModelVersion:     meta.ModelVersion,
		Vector:           vector,
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化索引条目失败: %w", err)
	}

	// 以 entryID 作为文档 ID，重复写入即原子替换
	req := esapi.IndexRequest{
		Index:      e.indexName,
		DocumentID: entryID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("%w: 写入条目到 Elasticsearch 失败: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[VectorIndex] 索引条目到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("%w: Elasticsearch 拒绝了写入: %s", ErrUnavailable, res.Status())
	}
	return nil
}

func (e *elasticIndex) Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter *Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK 必须为正整数, 实际为 %d", ErrInvalidQuery, topK)
	}

	// 命名空间作为强制过滤条件进入 kNN：kb_type 与 user_key 必须同时命中
	namespaceFilter := []map[string]interface{}{
		{"term": map[string]interface{}{"kb_type": string(ns.Kind)}},
		{"term": map[string]interface{}{"user_key": ns.UserKey}},
	}
	if filter != nil {
		if filter.Modality != "" {
			namespaceFilter = append(namespaceFilter, map[string]interface{}{
				"term": map[string]interface{}{"modality": filter.Modality},
			})
		}
		if filter.SourceDocumentID != "" {
			namespaceFilter = append(namespaceFilter, map[string]interface{}{
				"term": map[string]interface{}{"source_document_id": filter.SourceDocumentID},
			})
		}
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{"filter": namespaceFilter},
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: elasticsearch search failed: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorIndex] Elasticsearch 查询返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("%w: elasticsearch returned an error: %s", ErrUnavailable, res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source esEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to decode es response: %w", ErrUnavailable, err)
	}

	matches := make([]Match, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, Match{
			EntryID: hit.ID,
			// ES 对 cosine kNN 的打分是 (1+cos)/2，这里换算回余弦值，
			// 与内存后端保持同一分数尺度
			Score: 2*hit.Score - 1,
			Metadata: Metadata{
				Modality:         hit.Source.Modality,
				ContentKey:       hit.Source.ContentKey,
				SourceDocumentID: hit.Source.SourceDocumentID,
				ContentType:      hit.Source.ContentType,
				ModelVersion:     hit.Source.ModelVersion,
			},
		})
	}
	// 同分条目的先后顺序由 Elasticsearch 决定，属于后端差异，不做承诺
	return matches, nil
}

func (e *elasticIndex) Delete(ctx context.Context, ns Namespace, entryID string) error {
	// 删除必须带命名空间谓词：仅凭 entryID 删除会让一个空间的调用方
	// 误删（或恶意删除）另一个空间的条目
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"entry_id": entryID}},
					{"term": map[string]interface{}{"kb_type": string(ns.Kind)}},
					{"term": map[string]interface{}{"user_key": ns.UserKey}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("failed to encode delete query: %w", err)
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{e.indexName},
		Body:    &buf,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("%w: 从 Elasticsearch 删除条目失败: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: Elasticsearch 拒绝了删除: %s", ErrUnavailable, res.Status())
	}
	// 命名空间内没有该条目时删除数为 0，视为空操作
	return nil
}

func (e *elasticIndex) DeleteByDocument(ctx context.Context, ns Namespace, sourceDocumentID string) (int, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"kb_type": string(ns.Kind)}},
					{"term": map[string]interface{}{"user_key": ns.UserKey}},
					{"term": map[string]interface{}{"source_document_id": sourceDocumentID}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, fmt.Errorf("failed to encode delete query: %w", err)
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{e.indexName},
		Body:    &buf,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return 0, fmt.Errorf("%w: 按文档删除条目失败: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("%w: Elasticsearch 拒绝了按文档删除: %s", ErrUnavailable, res.Status())
	}

	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode delete response: %w", err)
	}
	return result.Deleted, nil
}
