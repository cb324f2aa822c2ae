package repository

import (
	"time"

	"multi-rag-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 接口定义了文档登记信息的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByOwner(ownerID uint) ([]model.Document, error)
	UpdateStatus(id string, status int) error
	Delete(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 登记一个新上传的文档。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据文档 ID 查找登记信息。
func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwner 返回某个用户上传的全部文档。
func (r *documentRepository) FindByOwner(ownerID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("owner_id = ?", ownerID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// UpdateStatus 更新文档的摄取状态，完成时同时记录完成时间。
func (r *documentRepository) UpdateStatus(id string, status int) error {
	updates := map[string]interface{}{"status": status}
	if status == model.DocumentStatusCompleted {
		now := time.Now()
		updates["ingested_at"] = &now
	}
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(updates).Error
}

// Delete 删除文档登记信息。
func (r *documentRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Document{}).Error
}
