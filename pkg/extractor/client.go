// Package extractor 提供了文档解析服务的客户端。
// 解析服务接收 PDF 字节流，返回全文文本与按出现顺序排列的内嵌图片，
// 本服务自身不解析 PDF 内部结构。
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"multi-rag-go/internal/config"
)

// ErrExtraction 标识文档解析阶段的失败。
var ErrExtraction = errors.New("extraction failed")

// Result 是一次解析的结果。
type Result struct {
	// Text 是文档的全部文本内容。
	Text string
	// Images 是文档内嵌图片的字节序列，保持出现顺序。
	Images [][]byte
}

// Client 是文档解析服务的客户端。
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient 创建一个新的解析客户端实例。
func NewClient(cfg config.ExtractorConfig) *Client {
	return &Client{serverURL: cfg.ServerURL, client: &http.Client{}}
}

type extractResponse struct {
	Text   string   `json:"text"`
	Images []string `json:"images"` // base64 编码
}

// Extract 将 PDF 字节流发送给解析服务，返回文本与图片。
func (c *Client) Extract(ctx context.Context, pdf []byte) (*Result, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: 文档内容为空", ErrExtraction)
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+"/extract", bytes.NewReader(pdf))
	if err != nil {
		return nil, fmt.Errorf("%w: 创建请求失败: %w", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: 调用解析服务失败: %w", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: 解析服务返回错误 [%d]: %s", ErrExtraction, resp.StatusCode, string(body))
	}

	var extractResp extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&extractResp); err != nil {
		return nil, fmt.Errorf("%w: 读取解析响应失败: %w", ErrExtraction, err)
	}

	result := &Result{Text: extractResp.Text}
	for i, encoded := range extractResp.Images {
		image, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: 解码第 %d 张图片失败: %w", ErrExtraction, i, err)
		}
		result.Images = append(result.Images, image)
	}
	return result, nil
}
