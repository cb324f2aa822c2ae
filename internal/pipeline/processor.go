// Package pipeline 实现了文档摄取任务的消费端处理流程。
package pipeline

import (
	"context"
	"fmt"

	"multi-rag-go/internal/model"
	"multi-rag-go/internal/repository"
	"multi-rag-go/internal/service"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/tasks"
	"multi-rag-go/pkg/vectorindex"
)

// Processor 消费文档摄取任务：从对象存储取回原始 PDF，
// 执行解析与逐块摄取，最后更新文档登记状态。
type Processor struct {
	documentService service.DocumentService
	documentRepo    repository.DocumentRepository
	contentStore    storage.Store
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(documentService service.DocumentService, documentRepo repository.DocumentRepository, contentStore storage.Store) *Processor {
	return &Processor{
		documentService: documentService,
		documentRepo:    documentRepo,
		contentStore:    contentStore,
	}
}

// Process 处理一个文档摄取任务。
// 返回错误时任务会被队列重试，状态更新为失败的动作只在重试耗尽前
// 的每次失败中重复执行，是幂等的。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIngestTask) error {
	log.Infof("[Processor] 开始处理文档: id=%s, file=%s", task.DocumentID, task.FileName)

	pdf, _, err := p.contentStore.Get(ctx, task.ObjectKey)
	if err != nil {
		p.markFailed(task.DocumentID)
		return fmt.Errorf("取回原始文档失败 (key=%s): %w", task.ObjectKey, err)
	}

	ns := vectorindex.Namespace{Kind: vectorindex.Kind(task.KBType), UserKey: task.UserKey}
	if err := p.documentService.IngestPDF(ctx, ns, pdf, task.DocumentID); err != nil {
		p.markFailed(task.DocumentID)
		return fmt.Errorf("文档摄取失败 (id=%s): %w", task.DocumentID, err)
	}

	if err := p.documentRepo.UpdateStatus(task.DocumentID, model.DocumentStatusCompleted); err != nil {
		return fmt.Errorf("更新文档状态失败 (id=%s): %w", task.DocumentID, err)
	}

	log.Infof("[Processor] 文档处理完成: id=%s", task.DocumentID)
	return nil
}

func (p *Processor) markFailed(documentID string) {
	if err := p.documentRepo.UpdateStatus(documentID, model.DocumentStatusFailed); err != nil {
		log.Errorf("[Processor] 标记文档失败状态出错 (id=%s): %v", documentID, err)
	}
}
