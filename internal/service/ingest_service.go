// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"

	"multi-rag-go/internal/model"
	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/vectorindex"

	"github.com/google/uuid"
)

// ErrIngestion 标识摄取流程的失败，包装第一个出错步骤的错误。
var ErrIngestion = errors.New("ingestion failed")

// IngestService 是摄取协调器，负责把一段原始内容变成
// "内容存储里的负载 + 向量索引里的条目"。
//
// 步骤顺序是固定的：先向量化，再写内容，最后写索引。索引写入失败时
// 已落盘的内容成为无引用的孤儿，可以事后回收；反过来的顺序会产生
// 指向空内容的索引条目，这是不允许的。
type IngestService interface {
	// IngestText 将一段文本摄取到指定命名空间，返回生成的条目 ID。
	IngestText(ctx context.Context, ns vectorindex.Namespace, text, sourceDocumentID string) (string, error)
	// IngestImage 将一张图片摄取到指定命名空间，返回生成的条目 ID。
	IngestImage(ctx context.Context, ns vectorindex.Namespace, image []byte, contentType, sourceDocumentID string) (string, error)
	// DeleteEntry 从索引中删除一个条目，条目不存在时为空操作。
	DeleteEntry(ctx context.Context, ns vectorindex.Namespace, entryID string) error
}

type ingestService struct {
	embeddingClient embedding.Client
	contentStore    storage.Store
	index           vectorindex.Index
	modelVersion    string
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(embeddingClient embedding.Client, contentStore storage.Store, index vectorindex.Index, modelVersion string) IngestService {
	return &ingestService{
		embeddingClient: embeddingClient,
		contentStore:    contentStore,
		index:           index,
		modelVersion:    modelVersion,
	}
}

func (s *ingestService) IngestText(ctx context.Context, ns vectorindex.Namespace, text, sourceDocumentID string) (string, error) {
	// 步骤1: 向量化。失败时什么都不写。
	vector, err := s.embeddingClient.EmbedText(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: 文本向量化失败: %w", ErrIngestion, err)
	}

	contentKey := fmt.Sprintf("text/%s/%x.txt", namespaceLabel(ns), md5.Sum([]byte(text)))
	return s.persist(ctx, ns, vector, []byte(text), vectorindex.Metadata{
		Modality:         model.ModalityText,
		ContentKey:       contentKey,
		SourceDocumentID: sourceDocumentID,
		ContentType:      "text/plain; charset=utf-8",
		ModelVersion:     s.modelVersion,
	})
}

func (s *ingestService) IngestImage(ctx context.Context, ns vectorindex.Namespace, image []byte, contentType, sourceDocumentID string) (string, error) {
	vector, err := s.embeddingClient.EmbedImage(ctx, image)
	if err != nil {
		return "", fmt.Errorf("%w: 图片向量化失败: %w", ErrIngestion, err)
	}

	if contentType == "" {
		contentType = "image/png"
	}
	contentKey := fmt.Sprintf("images/%s/%x", namespaceLabel(ns), md5.Sum(image))
	return s.persist(ctx, ns, vector, image, vectorindex.Metadata{
		Modality:         model.ModalityImage,
		ContentKey:       contentKey,
		SourceDocumentID: sourceDocumentID,
		ContentType:      contentType,
		ModelVersion:     s.modelVersion,
	})
}

// persist 执行摄取的后两个步骤：内容落盘，然后写索引。
func (s *ingestService) persist(ctx context.Context, ns vectorindex.Namespace, vector []float32, payload []byte, meta vectorindex.Metadata) (string, error) {
	// 步骤2: 写内容存储。索引条目必须指向已存在的内容。
	if err := s.contentStore.Put(ctx, meta.ContentKey, payload, meta.ContentType); err != nil {
		return "", fmt.Errorf("%w: 写入内容存储失败: %w", ErrIngestion, err)
	}

	// 步骤3: 写向量索引。
	entryID := uuid.NewString()
	if err := s.index.Upsert(ctx, ns, entryID, vector, meta); err != nil {
		// 内容已落盘但索引失败：留下的孤儿内容无任何条目引用，事后可回收
		log.Warnf("[IngestService] 索引写入失败，内容 '%s' 成为孤儿记录", meta.ContentKey)
		return "", fmt.Errorf("%w: 写入向量索引失败: %w", ErrIngestion, err)
	}

	log.Infof("[IngestService] 摄取成功, entry_id: %s, modality: %s, namespace: %s", entryID, meta.Modality, namespaceLabel(ns))
	return entryID, nil
}

func (s *ingestService) DeleteEntry(ctx context.Context, ns vectorindex.Namespace, entryID string) error {
	return s.index.Delete(ctx, ns, entryID)
}

// namespaceLabel 返回命名空间在日志与内容键中的展示形式。
// 隔离判定始终使用复合键，这个字符串只做展示。
func namespaceLabel(ns vectorindex.Namespace) string {
	if ns.Kind == vectorindex.KindSKB {
		return fmt.Sprintf("skb/%s", ns.UserKey)
	}
	return "gkb"
}
