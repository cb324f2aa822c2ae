package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"image/png"

	"multi-rag-go/internal/model"
	"multi-rag-go/internal/repository"
	"multi-rag-go/pkg/extractor"
	"multi-rag-go/pkg/kafka"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/tasks"
	"multi-rag-go/pkg/vectorindex"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// 文本分块参数：块大小与相邻块的重叠，均按 rune 计。
const (
	chunkSize    = 1000
	chunkOverlap = 100
)

// ErrDocumentNotFound 表示文档登记信息不存在或不属于当前用户。
var ErrDocumentNotFound = errors.New("document not found")

// DocumentService 负责文档级别的操作：上传登记、异步摄取、
// 解析试运行、列表与按文档清除。
type DocumentService interface {
	// Upload 登记一个上传的 PDF，原始文件写入对象存储，摄取任务进入队列。
	Upload(ctx context.Context, ownerID uint, ns vectorindex.Namespace, fileName string, pdf []byte) (*model.Document, error)
	// IngestPDF 同步执行 PDF 的解析与逐块摄取，由队列消费者调用。
	IngestPDF(ctx context.Context, ns vectorindex.Namespace, pdf []byte, sourceDocumentID string) error
	// ExtractOnly 只做解析不做摄取，用于上传前预检文档是否可解析。
	ExtractOnly(ctx context.Context, fileName string, pdf []byte) (*model.ExtractionResponseDTO, error)
	// List 返回用户上传的全部文档登记信息。
	List(ownerID uint) ([]model.Document, error)
	// Purge 删除一个文档：先清索引条目，再删原始文件与登记信息。
	Purge(ctx context.Context, ownerID uint, documentID string) error
}

type documentService struct {
	extractorClient *extractor.Client
	ingestService   IngestService
	contentStore    storage.Store
	documentRepo    repository.DocumentRepository
	index           vectorindex.Index
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	extractorClient *extractor.Client,
	ingestService IngestService,
	contentStore storage.Store,
	documentRepo repository.DocumentRepository,
	index vectorindex.Index,
) DocumentService {
	return &documentService{
		extractorClient: extractorClient,
		ingestService:   ingestService,
		contentStore:    contentStore,
		documentRepo:    documentRepo,
		index:           index,
	}
}

// Upload 登记文档并投递异步摄取任务。
// 原始 PDF 先落对象存储，任务消息只携带定位信息。
func (s *documentService) Upload(ctx context.Context, ownerID uint, ns vectorindex.Namespace, fileName string, pdf []byte) (*model.Document, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: 上传内容为空", ErrIngestion)
	}

	docID := uuid.NewString()
	objectKey := fmt.Sprintf("documents/%s.pdf", docID)
	if err := s.contentStore.Put(ctx, objectKey, pdf, "application/pdf"); err != nil {
		return nil, fmt.Errorf("%w: 保存原始文档失败: %w", ErrIngestion, err)
	}

	doc := &model.Document{
		ID:        docID,
		FileName:  fileName,
		FileMD5:   fmt.Sprintf("%x", md5.Sum(pdf)),
		ObjectKey: objectKey,
		KBType:    string(ns.Kind),
		UserKey:   ns.UserKey,
		OwnerID:   ownerID,
		Status:    model.DocumentStatusPending,
	}
	if err := s.documentRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("%w: 登记文档失败: %w", ErrIngestion, err)
	}

	task := tasks.DocumentIngestTask{
		DocumentID: docID,
		ObjectKey:  objectKey,
		FileName:   fileName,
		KBType:     string(ns.Kind),
		UserKey:    ns.UserKey,
	}
	if err := kafka.ProduceDocumentTask(task); err != nil {
		// 任务入队失败时标记文档失败，避免登记信息永远停在待处理
		log.Errorf("[DocumentService] 摄取任务入队失败: %v", err)
		_ = s.documentRepo.UpdateStatus(docID, model.DocumentStatusFailed)
		return nil, fmt.Errorf("%w: 摄取任务入队失败: %w", ErrIngestion, err)
	}

	log.Infof("[DocumentService] 文档已登记并入队: id=%s, file=%s", docID, fileName)
	return doc, nil
}

// IngestPDF 解析 PDF 并将文本分块与图片逐条摄取。
// 任一条目失败即返回错误，由队列的重试机制负责善后。
func (s *documentService) IngestPDF(ctx context.Context, ns vectorindex.Namespace, pdf []byte, sourceDocumentID string) error {
	result, err := s.extractorClient.Extract(ctx, pdf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	chunks := splitText(result.Text, chunkSize, chunkOverlap)
	log.Infof("[DocumentService] 解析完成: %d 个文本块, %d 张图片, doc=%s", len(chunks), len(result.Images), sourceDocumentID)

	for i, chunk := range chunks {
		if _, err := s.ingestService.IngestText(ctx, ns, chunk, sourceDocumentID); err != nil {
			return fmt.Errorf("摄取第 %d 个文本块失败: %w", i, err)
		}
	}

	for i, image := range result.Images {
		normalized, err := normalizeImage(image)
		if err != nil {
			// 无法解码的图片跳过而不是中断整个文档
			log.Warnf("[DocumentService] 跳过无法解码的图片 #%d (doc=%s): %v", i, sourceDocumentID, err)
			continue
		}
		if _, err := s.ingestService.IngestImage(ctx, ns, normalized, "image/png", sourceDocumentID); err != nil {
			return fmt.Errorf("摄取第 %d 张图片失败: %w", i, err)
		}
	}

	return nil
}

// ExtractOnly 执行解析试运行，返回解析结果的统计信息。
func (s *documentService) ExtractOnly(ctx context.Context, fileName string, pdf []byte) (*model.ExtractionResponseDTO, error) {
	result, err := s.extractorClient.Extract(ctx, pdf)
	if err != nil {
		return nil, err
	}
	return &model.ExtractionResponseDTO{
		FileName:   fileName,
		TextLength: len([]rune(result.Text)),
		ImageCount: len(result.Images),
	}, nil
}

func (s *documentService) List(ownerID uint) ([]model.Document, error) {
	return s.documentRepo.FindByOwner(ownerID)
}

// Purge 按文档清除。先删索引条目保证"每个索引条目都有内容"不被破坏，
// 分块内容本身可能被其他文档的相同分块共享（内容键是负载的摘要），
// 因此只删除原始 PDF，分块负载留作孤儿由离线任务回收。
func (s *documentService) Purge(ctx context.Context, ownerID uint, documentID string) error {
	doc, err := s.documentRepo.FindByID(documentID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if doc.OwnerID != ownerID {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	ns := vectorindex.Namespace{Kind: vectorindex.Kind(doc.KBType), UserKey: doc.UserKey}
	deleted, err := s.index.DeleteByDocument(ctx, ns, documentID)
	if err != nil {
		return fmt.Errorf("清除文档索引条目失败: %w", err)
	}
	log.Infof("[DocumentService] 已清除 %d 条索引条目, doc=%s", deleted, documentID)

	if err := s.contentStore.Delete(ctx, doc.ObjectKey); err != nil {
		log.Warnf("[DocumentService] 删除原始文档失败 (key=%s): %v", doc.ObjectKey, err)
	}

	return s.documentRepo.Delete(documentID)
}

// splitText 将文本按 rune 切成重叠的块。
// 空白文本返回空切片，不产生空块。
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// normalizeImage 解码任意格式的图片并统一重编码为 PNG。
// 统一格式能简化内容存储里的 MIME 管理，同时顺带校验图片可解码。
func normalizeImage(image []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("解码图片失败: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("重编码图片失败: %w", err)
	}
	return buf.Bytes(), nil
}
