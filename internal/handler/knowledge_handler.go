package handler

import (
	"io"
	"net/http"

	"multi-rag-go/internal/model"
	"multi-rag-go/internal/service"
	"multi-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 直接摄取接口允许的最大图片尺寸。
const maxImageSize = 10 << 20 // 10MB

// KnowledgeHandler 负责知识条目的直接摄取与删除。
type KnowledgeHandler struct {
	ingestService service.IngestService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(ingestService service.IngestService) *KnowledgeHandler {
	return &KnowledgeHandler{ingestService: ingestService}
}

// Ingest 处理直接摄取请求。
// multipart 表单：text 与 image 二选一，kb_type 可选（默认 skb）。
func (h *KnowledgeHandler) Ingest(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	ns, err := resolveNamespace(c.PostForm("kb_type"), user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	text := c.PostForm("text")
	fileHeader, fileErr := c.FormFile("image")
	if text == "" && fileErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "必须提供 text 或 image 之一",
		})
		return
	}
	if text != "" && fileErr == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "text 与 image 不能同时提供",
		})
		return
	}

	var entryID string
	if text != "" {
		entryID, err = h.ingestService.IngestText(c.Request.Context(), ns, text, "")
	} else {
		if fileHeader.Size > maxImageSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    http.StatusRequestEntityTooLarge,
				"message": "图片超过大小限制",
			})
			return
		}
		file, openErr := fileHeader.Open()
		if openErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "读取上传图片失败"})
			return
		}
		defer file.Close()
		image, readErr := io.ReadAll(file)
		if readErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "读取上传图片失败"})
			return
		}
		contentType := fileHeader.Header.Get("Content-Type")
		entryID, err = h.ingestService.IngestImage(c.Request.Context(), ns, image, contentType, "")
	}

	if err != nil {
		log.Errorf("Ingest: 摄取失败, user=%s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "摄取失败，请稍后重试",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": model.IngestResponseDTO{
			Status:  "ingested",
			EntryID: entryID,
			KBType:  string(ns.Kind),
		},
	})
}

// DeleteEntry 删除一个知识条目，条目不存在时同样返回成功。
func (h *KnowledgeHandler) DeleteEntry(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	ns, err := resolveNamespace(c.Query("kb_type"), user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	entryID := c.Param("entryId")
	if err := h.ingestService.DeleteEntry(c.Request.Context(), ns, entryID); err != nil {
		log.Errorf("DeleteEntry: 删除失败, entry=%s, error: %v", entryID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "删除失败，请稍后重试",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
