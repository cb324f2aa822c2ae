package model

import "time"

// 文档摄取状态。
const (
	DocumentStatusPending   = 0 // 已上传，等待处理
	DocumentStatusCompleted = 1
	DocumentStatusFailed    = 2
)

// Document 对应于数据库中的 documents 表。
// 它登记每个上传文档的元数据和摄取状态，ID 同时作为索引条目元数据中的
// source_document_id。
type Document struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	FileName  string     `gorm:"type:varchar(255);not null" json:"fileName"`
	FileMD5   string     `gorm:"type:varchar(32);not null;index" json:"fileMd5"`
	ObjectKey string     `gorm:"type:varchar(255);not null" json:"objectKey"`
	KBType    string     `gorm:"type:varchar(8);not null" json:"kbType"`
	UserKey   string     `gorm:"type:varchar(64);index" json:"userKey"`
	OwnerID   uint       `gorm:"not null" json:"ownerId"`
	Status    int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	IngestedAt *time.Time `gorm:"default:null" json:"ingestedAt"`
}

func (Document) TableName() string {
	return "documents"
}
