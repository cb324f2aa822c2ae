package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"multi-rag-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, vector []float32, wantModality string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string   `json:"model"`
			Input    []string `json:"input"`
			Modality string   `json:"modality"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, wantModality, req.Modality)
		require.Len(t, req.Input, 1)

		resp := map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": vector}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testConfig(baseURL string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "clip-test",
		Dimensions: 3,
	}
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEmbedTextNormalizesVector(t *testing.T) {
	server := newTestServer(t, []float32{3, 0, 4}, "text")
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	vector, err := client.EmbedText(context.Background(), "埃菲尔铁塔在巴黎")
	require.NoError(t, err)
	require.Len(t, vector, 3)

	// 返回向量必须是 L2 归一化的
	assert.InDelta(t, 1.0, vectorNorm(vector), 1e-6)
	assert.InDelta(t, 0.6, float64(vector[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vector[2]), 1e-6)
}

func TestEmbedTextRejectsEmptyInput(t *testing.T) {
	client := NewClient(testConfig("http://unused"))

	_, err := client.EmbedText(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmbedding)

	_, err = client.EmbedText(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbedImageNormalizesVector(t *testing.T) {
	server := newTestServer(t, []float32{0, 2, 0}, "image")
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	vector, err := client.EmbedImage(context.Background(), encodeTestPNG(t))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorNorm(vector), 1e-6)
}

func TestEmbedImageRejectsInvalidInput(t *testing.T) {
	client := NewClient(testConfig("http://unused"))

	_, err := client.EmbedImage(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmbedding)

	// 无法解码的字节不应发往模型服务
	_, err = client.EmbedImage(context.Background(), []byte("not an image"))
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbedTextServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.EmbedText(context.Background(), "任意文本")
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbedTextEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.EmbedText(context.Background(), "任意文本")
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, out)

	out = Normalize([]float32{2, 0})
	assert.InDelta(t, 1.0, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.0, float64(out[1]), 1e-6)
}
