package service

import (
	"bytes"
	"image"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInput(t *testing.T) {
	assert.Nil(t, splitText("", 1000, 100))
	assert.Equal(t, []string{"短文本"}, splitText("短文本", 1000, 100))
}

func TestSplitTextChunksWithOverlap(t *testing.T) {
	text := strings.Repeat("甲", 250)
	chunks := splitText(text, 100, 20)

	// 步长 80：起点 0, 80, 160；最后一块到达末尾后不再产生新块
	require.Len(t, chunks, 3)
	assert.Len(t, []rune(chunks[0]), 100)
	assert.Len(t, []rune(chunks[1]), 100)
	assert.Len(t, []rune(chunks[2]), 90)

	// 拼接去重后必须覆盖全文，不丢字符
	first := []rune(chunks[0])
	second := []rune(chunks[1])
	third := []rune(chunks[2])
	assert.Equal(t, text, string(first)+string(second[20:])+string(third[20:]))

	// 相邻块共享 overlap 个字符
	assert.Equal(t, string(first[80:]), string(second[:20]))
	assert.Equal(t, string(second[80:]), string(third[:20]))
}

func TestSplitTextExactBoundary(t *testing.T) {
	text := strings.Repeat("乙", 100)
	chunks := splitText(text, 100, 20)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestNormalizeImageReencodesToPNG(t *testing.T) {
	// 构造一张 JPEG，经过归一化后应变成可解码的 PNG
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := normalizeImage(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte{0x89, 'P', 'N', 'G'}))

	_, err = imaging.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
}

func TestNormalizeImageRejectsGarbage(t *testing.T) {
	_, err := normalizeImage([]byte("definitely not an image"))
	assert.Error(t, err)
}
