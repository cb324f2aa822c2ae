// Package vectorindex 提供了带命名空间隔离的向量索引抽象。
//
// 索引有两个可互换的后端：基于 Elasticsearch 的远程适配器，以及进程内的
// 内存降级适配器。后端在进程启动时一次性选定，运行期间不再切换，调用方
// 不感知当前激活的是哪个后端。两个后端返回的分数都是余弦相似度
// （[-1, 1]，越大越相关），排序语义一致。
package vectorindex

import (
	"context"
	"errors"

	"multi-rag-go/internal/config"
	"multi-rag-go/pkg/log"
)

var (
	// ErrUnavailable 表示远程向量服务不可达或返回了错误。
	ErrUnavailable = errors.New("vector index unavailable")
	// ErrInvalidQuery 表示查询参数非法，例如 topK <= 0。
	ErrInvalidQuery = errors.New("invalid query")
)

// Kind 是知识库命名空间的类别。
type Kind string

const (
	// KindGKB 是全局共享知识库。
	KindGKB Kind = "gkb"
	// KindSKB 是按用户隔离的私有知识库。
	KindSKB Kind = "skb"
)

// Namespace 是索引内的隔离边界。
// 使用 (Kind, UserKey) 复合键而非字符串拼接，避免恶意构造的
// 用户键与 GKB 条目发生碰撞。
type Namespace struct {
	Kind    Kind
	UserKey string
}

// GKB 返回全局共享命名空间。
func GKB() Namespace {
	return Namespace{Kind: KindGKB}
}

// SKB 返回指定用户的私有命名空间。
func SKB(userKey string) Namespace {
	return Namespace{Kind: KindSKB, UserKey: userKey}
}

// Metadata 是随向量一同存储的元数据。
type Metadata struct {
	// Modality 标识原始内容的模态，"text" 或 "image"。
	Modality string `json:"modality"`
	// ContentKey 指向内容存储中的原始负载。
	ContentKey string `json:"content_key"`
	// SourceDocumentID 标识条目来源的文档，用于按文档清除。
	SourceDocumentID string `json:"source_document_id"`
	// ContentType 是原始负载的 MIME 类型。
	ContentType string `json:"content_type"`
	// ModelVersion 记录产生该向量的模型。
	ModelVersion string `json:"model_version"`
}

// Match 是一条查询命中结果。
type Match struct {
	EntryID  string
	Score    float64
	Metadata Metadata
}

// Filter 是查询时可选的元数据过滤条件，零值字段不参与过滤。
type Filter struct {
	Modality         string
	SourceDocumentID string
}

// Index 定义了向量索引的能力集合 {upsert, query, delete}。
type Index interface {
	// Upsert 写入或替换一个条目。相同 entryID 的重复写入以最后一次为准，
	// 调用方观察不到新旧混合的中间状态。
	Upsert(ctx context.Context, ns Namespace, entryID string, vector []float32, meta Metadata) error
	// Query 返回命名空间内与 vector 最相似的至多 topK 个条目，
	// 按分数严格降序排列。topK <= 0 返回 ErrInvalidQuery。
	Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter *Filter) ([]Match, error)
	// Delete 删除一个条目，条目不存在时为空操作。
	Delete(ctx context.Context, ns Namespace, entryID string) error
	// DeleteByDocument 删除命名空间内来源于指定文档的全部条目，返回删除数量。
	DeleteByDocument(ctx context.Context, ns Namespace, sourceDocumentID string) (int, error)
	// Name 返回后端名称，仅用于启动日志。
	Name() string
}

// New 在启动时选择索引后端：配置了 Elasticsearch 且可达时使用远程适配器，
// 否则透明地使用内存降级适配器。这是唯一的后端选择点，之后不再切换，
// 以避免同一命名空间内混用两个索引的结果集。
func New(cfg config.ElasticsearchConfig, dimensions int) Index {
	if cfg.Addresses == "" {
		log.Warnf("[VectorIndex] 未配置 Elasticsearch 地址，使用内存索引作为降级后端")
		return NewMemoryIndex()
	}

	idx, err := newElasticIndex(cfg, dimensions)
	if err != nil {
		log.Error("[VectorIndex] Elasticsearch 不可用，使用内存索引作为降级后端", err)
		return NewMemoryIndex()
	}

	log.Infof("[VectorIndex] 远程索引后端初始化成功, index: %s", cfg.IndexName)
	return idx
}

// filterMatches 判断元数据是否满足过滤条件。
func filterMatches(meta Metadata, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Modality != "" && meta.Modality != filter.Modality {
		return false
	}
	if filter.SourceDocumentID != "" && meta.SourceDocumentID != filter.SourceDocumentID {
		return false
	}
	return true
}
