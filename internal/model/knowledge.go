package model

import "multi-rag-go/pkg/vectorindex"

// 内容模态。
const (
	ModalityText  = "text"
	ModalityImage = "image"
)

// RetrievedContext 是一条检索命中结果，随回答一起返回给调用方用于引用展示。
// 内容存储中缺失负载的条目仍会保留在列表中，只是没有摘录。
type RetrievedContext struct {
	EntryID    string               `json:"entryId"`
	Score      float64              `json:"score"`
	Metadata   vectorindex.Metadata `json:"metadata"`
	Excerpt    string               `json:"excerpt,omitempty"`
	HasContent bool                 `json:"hasContent"`
}

// QueryResponseDTO 是 RAG 查询接口的响应结构。
type QueryResponseDTO struct {
	Query            string             `json:"query"`
	Answer           string             `json:"answer"`
	RetrievedContext []RetrievedContext `json:"retrievedContext"`
}

// IngestResponseDTO 是直接摄取接口的响应结构。
type IngestResponseDTO struct {
	Status  string `json:"status"`
	EntryID string `json:"entryId"`
	KBType  string `json:"kbType"`
}

// ExtractionResponseDTO 是文档解析试运行接口的响应结构。
type ExtractionResponseDTO struct {
	FileName   string `json:"fileName"`
	TextLength int    `json:"textLength"`
	ImageCount int    `json:"imageCount"`
}
