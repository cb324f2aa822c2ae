// Package llm provides a client for the multimodal generative model.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"multi-rag-go/internal/config"

	"github.com/gorilla/websocket"
)

// ErrGeneration 标识生成阶段的失败（配额、网络、非法提示词等）。
var ErrGeneration = errors.New("generation failed")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Message 表示一条角色消息，内容由一个或多个多模态分片组成。
type Message struct {
	Role  string
	Parts []ContentPart
}

// ContentPart 是消息内容的一个分片，文本或图片二选一。
type ContentPart struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 以 data URI 形式内联图片。
type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage 构造一条纯文本消息。
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Type: "text", Text: text}}}
}

// ImagePart 将图片字节编码为 data URI 分片。
func ImagePart(image []byte, contentType string) ContentPart {
	if contentType == "" {
		contentType = "image/png"
	}
	uri := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: uri}}
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client defines the interface for an LLM client.
type Client interface {
	// GenerateMessages 以 role-based 多模态消息调用聊天接口，返回完整回答。
	GenerateMessages(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// StreamMessages 以流式方式调用聊天接口，并将分块写入 writer。
	StreamMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// wireMessage 是发往聊天接口的消息结构。
// 纯文本消息编码为字符串 content，多模态消息编码为分片数组。
type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func toWireMessages(messages []Message) []wireMessage {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Parts) == 1 && m.Parts[0].Type == "text" {
			wire = append(wire, wireMessage{Role: m.Role, Content: m.Parts[0].Text})
			continue
		}
		wire = append(wire, wireMessage{Role: m.Role, Content: m.Parts})
	}
	return wire
}

func (c *openAICompatibleClient) buildRequest(messages []Message, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: toWireMessages(messages),
		Stream:   stream,
	}
	// 从配置或传参注入生成参数（传参优先生效）
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
		return reqBody
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}

func (c *openAICompatibleClient) doRequest(ctx context.Context, reqBody chatRequest, stream bool) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal chat request: %w", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create chat request: %w", ErrGeneration, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call chat api: %w", ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: chat api returned non-200 status: %s, body: %s", ErrGeneration, resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// GenerateMessages calls the chat completions API and returns the full answer.
func (c *openAICompatibleClient) GenerateMessages(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	resp, err := c.doRequest(ctx, c.buildRequest(messages, gen, false), false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode chat response: %w", ErrGeneration, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat api returned no choices", ErrGeneration)
	}
	return chatResp.Choices[0].Message.Content, nil
}

// StreamMessages calls the chat completions API and streams the response chunks.
func (c *openAICompatibleClient) StreamMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	resp, err := c.doRequest(ctx, c.buildRequest(messages, gen, true), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("%w: failed to read from stream: %w", ErrGeneration, err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
					return fmt.Errorf("failed to write message to websocket: %w", err)
				}
			}
		}
	}
	return nil
}
