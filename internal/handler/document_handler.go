package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"multi-rag-go/internal/service"
	"multi-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 上传接口允许的最大 PDF 尺寸。
const maxDocumentSize = 50 << 20 // 50MB

// DocumentHandler 负责文档的上传、解析试运行、列表与删除。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// readPDFForm 从 multipart 表单中读取 file 字段的 PDF 内容。
func readPDFForm(c *gin.Context) (string, []byte, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "必须提供 file 字段"})
		return "", nil, false
	}
	if fileHeader.Size > maxDocumentSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    http.StatusRequestEntityTooLarge,
			"message": "文件超过大小限制",
		})
		return "", nil, false
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "仅支持 PDF 文件"})
		return "", nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "读取上传文件失败"})
		return "", nil, false
	}
	defer file.Close()
	pdf, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "读取上传文件失败"})
		return "", nil, false
	}
	return fileHeader.Filename, pdf, true
}

// Upload 处理文档上传，登记后异步摄取。
func (h *DocumentHandler) Upload(c *gin.Context) {
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

	fileName, pdf, ok := readPDFForm(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Upload(c.Request.Context(), user.ID, ns, fileName, pdf)
	if err != nil {
		log.Errorf("Upload: 文档上传失败, user=%s, file=%s, error: %v", user.Username, fileName, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "上传失败，请稍后重试",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "已接收，正在后台处理", "data": doc})
}

// Extract 处理解析试运行请求，只解析不摄取。
func (h *DocumentHandler) Extract(c *gin.Context) {
	fileName, pdf, ok := readPDFForm(c)
	if !ok {
		return
	}

	result, err := h.documentService.ExtractOnly(c.Request.Context(), fileName, pdf)
	if err != nil {
		log.Errorf("Extract: 解析试运行失败, file=%s, error: %v", fileName, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    http.StatusBadGateway,
			"message": "文档解析失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// List 返回当前用户上传的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	docs, err := h.documentService.List(user.ID)
	if err != nil {
		log.Errorf("List: 查询文档列表失败, user=%s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "查询失败，请稍后重试",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}

// Delete 清除一个文档及其全部索引条目。
func (h *DocumentHandler) Delete(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	documentID := c.Param("documentId")
	if err := h.documentService.Purge(c.Request.Context(), user.ID, documentID); err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在"})
			return
		}
		log.Errorf("Delete: 清除文档失败, doc=%s, error: %v", documentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "删除失败，请稍后重试",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
