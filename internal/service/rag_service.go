package service

import (
	"context"
	"fmt"
	"strings"

	"multi-rag-go/internal/config"
	"multi-rag-go/internal/model"
	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/llm"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/vectorindex"
)

// defaultTopK 是未配置时的检索条数。
const defaultTopK = 5

// maxExcerptLen 限制注入提示词的文本摘录长度，与摄取分块大小对齐。
const maxExcerptLen = 1000

// RAGService 编排完整的检索增强生成流程：
// 问题向量化 → 命名空间内检索 → 内容回取 → 多模态提示词 → 生成回答。
type RAGService interface {
	// Answer 对一个问题返回生成的回答与完整的检索上下文列表。
	Answer(ctx context.Context, query string, ns vectorindex.Namespace) (*model.QueryResponseDTO, error)
	// Retrieve 执行检索与内容回取，返回检索结果和可注入提示词的上下文分片。
	Retrieve(ctx context.Context, query string, ns vectorindex.Namespace) ([]model.RetrievedContext, []llm.ContentPart, error)
	// BuildMessages 根据检索到的上下文分片组装多模态消息序列。
	BuildMessages(query string, contextParts []llm.ContentPart, history []model.ChatMessage) []llm.Message
}

type ragService struct {
	embeddingClient embedding.Client
	index           vectorindex.Index
	contentStore    storage.Store
	llmClient       llm.Client
	topK            int
	promptCfg       config.LLMPromptConfig
}

// NewRAGService 创建一个新的 RAGService 实例。
func NewRAGService(
	embeddingClient embedding.Client,
	index vectorindex.Index,
	contentStore storage.Store,
	llmClient llm.Client,
	ragCfg config.RAGConfig,
	llmCfg config.LLMConfig,
) RAGService {
	topK := ragCfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &ragService{
		embeddingClient: embeddingClient,
		index:           index,
		contentStore:    contentStore,
		llmClient:       llmClient,
		topK:            topK,
		promptCfg:       llmCfg.Prompt,
	}
}

// Answer 执行完整的 RAG 流程。
func (s *ragService) Answer(ctx context.Context, query string, ns vectorindex.Namespace) (*model.QueryResponseDTO, error) {
	log.Infof("[RAGService] 开始处理查询: '%s'", query)

	retrieved, contextParts, err := s.Retrieve(ctx, query, ns)
	if err != nil {
		return nil, err
	}

	messages := s.BuildMessages(query, contextParts, nil)
	// 生成参数为 nil 时由 LLM 客户端注入配置默认值
	answer, err := s.llmClient.GenerateMessages(ctx, messages, nil)
	if err != nil {
		log.Errorf("[RAGService] 生成回答失败: %v", err)
		return nil, err
	}

	log.Infof("[RAGService] 查询处理完毕, 检索到 %d 条上下文", len(retrieved))
	return &model.QueryResponseDTO{
		Query:            query,
		Answer:           answer,
		RetrievedContext: retrieved,
	}, nil
}

// Retrieve 执行流程的检索部分。
// 单条内容缺失不会中断流程：该条目保留在结果列表中（无摘录），
// 只是不进入提示词。
func (s *ragService) Retrieve(ctx context.Context, query string, ns vectorindex.Namespace) ([]model.RetrievedContext, []llm.ContentPart, error) {
	// 1. 问题向量化，失败则快速返回
	queryVector, err := s.embeddingClient.EmbedText(ctx, query)
	if err != nil {
		log.Errorf("[RAGService] 查询向量化失败: %v", err)
		return nil, nil, err
	}

	// 2. 命名空间内 top-k 检索
	matches, err := s.index.Query(ctx, ns, queryVector, s.topK, nil)
	if err != nil {
		log.Errorf("[RAGService] 向量索引查询失败: %v", err)
		return nil, nil, err
	}
	log.Infof("[RAGService] 向量检索命中 %d 条", len(matches))

	// 3. 逐条回取原始内容
	retrieved := make([]model.RetrievedContext, 0, len(matches))
	var contextParts []llm.ContentPart
	for _, match := range matches {
		rc := model.RetrievedContext{
			EntryID:  match.EntryID,
			Score:    match.Score,
			Metadata: match.Metadata,
		}

		payload, contentType, getErr := s.contentStore.Get(ctx, match.Metadata.ContentKey)
		if getErr != nil {
			// 内容缺失按单条降级处理，条目仍保留在结果里供调用方展示
			log.Warnf("[RAGService] 条目 %s 的内容缺失 (key=%s): %v", match.EntryID, match.Metadata.ContentKey, getErr)
			retrieved = append(retrieved, rc)
			continue
		}

		rc.HasContent = true
		switch match.Metadata.Modality {
		case model.ModalityImage:
			contextParts = append(contextParts, llm.ImagePart(payload, contentType))
		default:
			excerpt := string(payload)
			// 按 rune 截断，避免把多字节字符切成非法 UTF-8
			if runes := []rune(excerpt); len(runes) > maxExcerptLen {
				excerpt = string(runes[:maxExcerptLen]) + "…"
			}
			rc.Excerpt = excerpt
			contextParts = append(contextParts, llm.ContentPart{Type: "text", Text: excerpt})
		}
		retrieved = append(retrieved, rc)
	}

	return retrieved, contextParts, nil
}

// BuildMessages 组装发往生成模型的消息序列：
// system 规则 + 历史对话 + 带上下文包裹的用户消息。
// 没有可用上下文时注入显式的"无检索结果"信号而不是中断。
func (s *ragService) BuildMessages(query string, contextParts []llm.ContentPart, history []model.ChatMessage) []llm.Message {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = "You are an expert assistant. Use the following context to answer the user's question. " +
			"The context may include text snippets and images. Provide a concise and direct answer based only on the provided context."
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = "--- CONTEXT START ---"
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = "--- CONTEXT END ---"
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.TextMessage("system", rules))
	for _, m := range history {
		messages = append(messages, llm.TextMessage(m.Role, m.Content))
	}

	var parts []llm.ContentPart
	parts = append(parts, llm.ContentPart{Type: "text", Text: refStart + "\n"})
	if len(contextParts) > 0 {
		var textBlock strings.Builder
		for _, p := range contextParts {
			if p.Type == "text" {
				textBlock.WriteString("Text: " + p.Text + "\n")
				continue
			}
			if textBlock.Len() > 0 {
				parts = append(parts, llm.ContentPart{Type: "text", Text: textBlock.String()})
				textBlock.Reset()
			}
			parts = append(parts, p)
		}
		if textBlock.Len() > 0 {
			parts = append(parts, llm.ContentPart{Type: "text", Text: textBlock.String()})
		}
	} else {
		noResult := s.promptCfg.NoResultText
		if noResult == "" {
			noResult = "(no relevant context was found for this question)"
		}
		parts = append(parts, llm.ContentPart{Type: "text", Text: noResult + "\n"})
	}
	parts = append(parts, llm.ContentPart{Type: "text", Text: fmt.Sprintf("%s\nUser Question: %s", refEnd, query)})

	messages = append(messages, llm.Message{Role: "user", Parts: parts})
	return messages
}
