package handler

import (
	"errors"
	"net/http"
	"strings"

	"multi-rag-go/internal/service"
	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/llm"
	"multi-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QueryHandler 负责一次性的 RAG 问答请求。
type QueryHandler struct {
	ragService service.RAGService
}

// NewQueryHandler 创建一个新的 QueryHandler 实例。
func NewQueryHandler(ragService service.RAGService) *QueryHandler {
	return &QueryHandler{ragService: ragService}
}

// QueryRequest 定义了 RAG 查询 API 的请求体结构。
type QueryRequest struct {
	Query  string `json:"query" binding:"required"`
	KBType string `json:"kbType"`
}

// Query 处理一次完整的检索增强问答。
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：query 不能为空",
		})
		return
	}

	user, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	ns, err := resolveNamespace(req.KBType, user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	resp, err := h.ragService.Answer(c.Request.Context(), req.Query, ns)
	if err != nil {
		log.Errorf("Query: RAG 查询失败, user=%s, error: %v", user.Username, err)
		status := http.StatusInternalServerError
		message := "查询失败，请稍后重试"
		switch {
		case errors.Is(err, embedding.ErrEmbedding):
			status = http.StatusBadGateway
			message = "向量化服务暂时不可用"
		case errors.Is(err, llm.ErrGeneration):
			status = http.StatusBadGateway
			message = "AI服务暂时不可用，请稍后重试"
		}
		c.JSON(status, gin.H{"code": status, "message": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}
