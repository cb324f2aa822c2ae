// Package storage 提供了内容存储网关，负责原始文本与图片负载的持久化。
// 底层使用 MinIO 对象存储；未配置时降级为禁用实现，写入被静默接受、
// 读取恒定返回 ErrContentNotFound，检索链路仍可在仅有元数据的情况下工作。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"multi-rag-go/internal/config"
	"multi-rag-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrContentNotFound 表示指定 content key 对应的负载不存在。
// 检索流程将其视为可恢复的单条错误，不会中断整个查询。
var ErrContentNotFound = errors.New("content not found")

// Store 定义了内容存储网关的能力集合。
type Store interface {
	// Put 以 contentKey 为键持久化一段负载。
	Put(ctx context.Context, contentKey string, payload []byte, contentType string) error
	// Get 读取 contentKey 对应的负载及其 content type。
	Get(ctx context.Context, contentKey string) ([]byte, string, error)
	// Delete 删除 contentKey 对应的负载，键不存在时为空操作。
	Delete(ctx context.Context, contentKey string) error
}

// New 根据配置创建内容存储网关。
// 配置不完整或 MinIO 初始化失败时返回禁用实现，服务仍可启动。
func New(cfg config.MinIOConfig) Store {
	if cfg.Endpoint == "" || cfg.BucketName == "" {
		log.Warnf("[ContentStore] MinIO 未配置完整，内容存储降级为禁用模式")
		return &disabledStore{}
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Error("[ContentStore] 初始化 MinIO 客户端失败，降级为禁用模式", err)
		return &disabledStore{}
	}

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Error("[ContentStore] 检查 MinIO 存储桶失败，降级为禁用模式", err)
		return &disabledStore{}
	}
	if !exists {
		log.Infof("[ContentStore] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Error("[ContentStore] 创建 MinIO 存储桶失败，降级为禁用模式", err)
			return &disabledStore{}
		}
	}

	log.Infof("[ContentStore] MinIO 内容存储初始化成功, bucket: %s", cfg.BucketName)
	return &minioStore{client: client, bucket: cfg.BucketName}
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func (s *minioStore) Put(ctx context.Context, contentKey string, payload []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, contentKey, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传内容到 MinIO 失败 (key=%s): %w", contentKey, err)
	}
	return nil
}

func (s *minioStore) Get(ctx context.Context, contentKey string) ([]byte, string, error) {
	object, err := s.client.GetObject(ctx, s.bucket, contentKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("从 MinIO 读取内容失败 (key=%s): %w", contentKey, err)
	}
	defer object.Close()

	payload, err := io.ReadAll(object)
	if err != nil {
		// MinIO 的 GetObject 是惰性的，对象不存在要到读取时才暴露
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, "", fmt.Errorf("%w: %s", ErrContentNotFound, contentKey)
		}
		return nil, "", fmt.Errorf("读取 MinIO 对象流失败 (key=%s): %w", contentKey, err)
	}

	stat, err := object.Stat()
	contentType := "application/octet-stream"
	if err == nil && stat.ContentType != "" {
		contentType = stat.ContentType
	}
	return payload, contentType, nil
}

func (s *minioStore) Delete(ctx context.Context, contentKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, contentKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除 MinIO 对象失败 (key=%s): %w", contentKey, err)
	}
	return nil
}

// disabledStore 是未配置对象存储时的降级实现。
type disabledStore struct{}

func (s *disabledStore) Put(ctx context.Context, contentKey string, payload []byte, contentType string) error {
	log.Debugf("[ContentStore] 存储已禁用，丢弃写入 (key=%s, size=%d)", contentKey, len(payload))
	return nil
}

func (s *disabledStore) Get(ctx context.Context, contentKey string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("%w: %s (存储已禁用)", ErrContentNotFound, contentKey)
}

func (s *disabledStore) Delete(ctx context.Context, contentKey string) error {
	return nil
}
