// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIngestTask represents a document ingestion job.
// 任务只携带定位信息，PDF 本体已在入队前写入对象存储。
type DocumentIngestTask struct {
	DocumentID string `json:"document_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	KBType     string `json:"kb_type"` // "gkb" | "skb"
	UserKey    string `json:"user_key"`
}
