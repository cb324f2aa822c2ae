package service

import (
	"context"
	"encoding/json"
	"time"

	"multi-rag-go/internal/model"
	"multi-rag-go/internal/repository"
	"multi-rag-go/pkg/llm"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/vectorindex"

	"github.com/gorilla/websocket"
)

// ChatService 提供基于 WebSocket 的流式 RAG 对话。
// 每轮对话都执行一次检索，历史记录保存在 Redis 中随会话滚动。
type ChatService interface {
	// StreamAnswer 对一个问题执行检索增强的流式生成，
	// 分块写入 conn，结束后发送带引用信息的完成信号并保存历史。
	StreamAnswer(ctx context.Context, conn llm.MessageWriter, userID uint, userKey, question string) error
}

type chatService struct {
	ragService       RAGService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(ragService RAGService, llmClient llm.Client, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		ragService:       ragService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
	}
}

// wsWriterInterceptor 在转发流式分块的同时累积完整回答，
// 流结束后用于落历史记录。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	fullAnswer []byte
}

func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.fullAnswer = append(w.fullAnswer, data...)
	return w.conn.WriteMessage(messageType, data)
}

// completionSignal 是流结束后发送的最后一条消息，携带引用列表。
type completionSignal struct {
	Type             string                   `json:"type"` // "done"
	RetrievedContext []model.RetrievedContext `json:"retrievedContext"`
}

func (s *chatService) StreamAnswer(ctx context.Context, conn llm.MessageWriter, userID uint, userKey, question string) error {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return err
	}
	history, err := s.conversationRepo.GetConversationHistory(ctx, convID)
	if err != nil {
		log.Warnf("[ChatService] 读取对话历史失败，按空历史继续: %v", err)
		history = nil
	}

	// 私有知识库检索；检索失败不终止对话，降级为无上下文生成
	ns := vectorindex.SKB(userKey)
	retrieved, contextParts, err := s.ragService.Retrieve(ctx, question, ns)
	if err != nil {
		log.Warnf("[ChatService] 检索失败，本轮无上下文: %v", err)
		retrieved, contextParts = nil, nil
	}

	messages := s.ragService.BuildMessages(question, contextParts, history)

	interceptor := &wsWriterInterceptor{conn: conn}
	if err := s.llmClient.StreamMessages(ctx, messages, nil, interceptor); err != nil {
		log.Errorf("[ChatService] 流式生成失败: %v", err)
		return err
	}

	if err := s.sendCompletion(conn, retrieved); err != nil {
		log.Warnf("[ChatService] 发送完成信号失败: %v", err)
	}

	// 历史落库与连接生命周期解耦，使用独立的超时上下文
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: string(interceptor.fullAnswer), Timestamp: now},
	)
	if err := s.conversationRepo.UpdateConversationHistory(saveCtx, convID, history); err != nil {
		log.Warnf("[ChatService] 保存对话历史失败: %v", err)
	}

	return nil
}

func (s *chatService) sendCompletion(conn llm.MessageWriter, retrieved []model.RetrievedContext) error {
	signal, err := json.Marshal(completionSignal{Type: "done", RetrievedContext: retrieved})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, signal)
}
