// Package embedding provides a client for the multimodal embedding model.
// Text and image inputs are projected into the same vector space, so the
// resulting vectors are directly comparable under cosine similarity.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"multi-rag-go/internal/config"
	"multi-rag-go/pkg/log"

	"github.com/disintegration/imaging"
)

// ErrEmbedding 标识向量化阶段的失败，包括非法输入与模型调用失败。
var ErrEmbedding = errors.New("embedding failed")

// Client defines the interface for a multimodal embedding client.
type Client interface {
	// EmbedText 将一段文本向量化。空文本视为非法输入。
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedImage 将一张图片向量化。无法解码的图片视为非法输入。
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	// Dimensions 返回模型的向量维度。
	Dimensions() int
}

type clipCompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &clipCompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Modality   string   `json:"modality"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *clipCompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

// EmbedText calls the embedding API with a text input.
func (c *clipCompatibleClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: 输入文本为空", ErrEmbedding)
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, modality: text, input_len: %d", c.cfg.Model, len(text))
	return c.embed(ctx, text, "text")
}

// EmbedImage calls the embedding API with a base64-encoded image input.
func (c *clipCompatibleClient) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: 输入图片为空", ErrEmbedding)
	}
	// 先在本地解码校验图片格式，避免把坏图发给模型服务
	if _, err := imaging.Decode(bytes.NewReader(image)); err != nil {
		return nil, fmt.Errorf("%w: 不支持的图片格式: %w", ErrEmbedding, err)
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, modality: image, input_size: %d", c.cfg.Model, len(image))
	return c.embed(ctx, base64.StdEncoding.EncodeToString(image), "image")
}

func (c *clipCompatibleClient) embed(ctx context.Context, input, modality string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{input},
		Modality:   modality,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal embedding request: %w", ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create embedding request: %w", ErrEmbedding, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("%w: failed to call embedding api: %w", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: embedding api returned non-200 status: %s", ErrEmbedding, resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("%w: failed to decode embedding response: %w", ErrEmbedding, err)
	}

	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, fmt.Errorf("%w: received empty embedding from api", ErrEmbedding)
	}

	// 统一做 L2 归一化：入库与查询共用同一约定，余弦相似度才有可比性
	vector := Normalize(embeddingResp.Data[0].Embedding)
	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取向量, 维度: %d", len(vector))
	return vector, nil
}

// Normalize 对向量做 L2 归一化。零向量原样返回。
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
