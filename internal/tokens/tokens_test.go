package tokens

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/genie/internal/domain"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int // minimum expected tokens
		max  int // maximum expected tokens
	}{
		{"empty", "", 0, 0},
		{"hello", "hello", 1, 2},
		{"sentence", "The quick brown fox jumps over the lazy dog.", 8, 12},
		{"code", "func main() { fmt.Println(\"hello\") }", 8, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Count(tt.text)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestCountConversation(t *testing.T) {
	msgs := []domain.Message{
		domain.System("abcd"),
		domain.User("abcdefgh"),
		{Role: domain.RoleUser, Parts: []domain.Part{domain.ImagePart{Base64: "x"}}},
	}

	// 2 reply + (4+1) + (4+2) + 4 framing for the image-only message
	assert.Equal(t, 17, CountConversation(Heuristic{}, msgs))
	assert.Equal(t, 0, CountConversation(Heuristic{}, nil))
}

func TestHeuristic(t *testing.T) {
	assert.Equal(t, 0, Heuristic{}.Count(""))
	assert.Equal(t, 1, Heuristic{}.Count("a"))
	assert.Equal(t, 3, Heuristic{}.Count("hello world"))
}

func TestOpenAITiles(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		detail string
		want   int
	}{
		{"low detail", 4096, 4096, "low", 85},
		{"single tile", 512, 512, "high", 85 + 170},
		{"1024 square", 1024, 1024, "", 85 + 170*4},
		// 2048x4096 -> 1024x2048 -> 768x1536: 2x3 tiles
		{"tall", 2048, 4096, "auto", 85 + 170*6},
		// shortest side under 768 stays
		{"wide strip", 1500, 300, "high", 85 + 170*3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OpenAITiles{}.ImageTokens(tt.w, tt.h, tt.detail))
		})
	}
}

func TestAnthropicArea(t *testing.T) {
	assert.Equal(t, 1334, AnthropicArea{}.ImageTokens(1000, 1000, ""))
	// long edge scaled to 1568
	assert.Equal(t, AnthropicArea{}.ImageTokens(1568, 784, ""), AnthropicArea{}.ImageTokens(3136, 1568, ""))
	assert.Equal(t, 0, AnthropicArea{}.ImageTokens(0, 10, ""))
}

func TestCosterFor(t *testing.T) {
	assert.IsType(t, OpenAITiles{}, CosterFor(domain.FamilyOpenAI))
	assert.IsType(t, AnthropicArea{}, CosterFor(domain.FamilyAnthropic))
	assert.Equal(t, Fixed(FallbackImageTokens), CosterFor("unknown"))

	RegisterImageCoster("custom", Fixed(10))
	assert.Equal(t, 10, CosterFor("custom").ImageTokens(1, 1, ""))
}

func encodePNG(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestImageTokens(t *testing.T) {
	img := domain.ImagePart{Base64: encodePNG(t, 1024, 1024), MediaType: "image/png"}

	w, h, err := ImageSize(img)
	require.NoError(t, err)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1024, h)

	n, err := ImageTokens(OpenAITiles{}, img)
	require.NoError(t, err)
	assert.Equal(t, 765, n)

	n, err = ImageTokens(OpenAITiles{}, domain.ImagePart{Base64: "not base64!"})
	assert.Error(t, err)
	assert.Equal(t, FallbackImageTokens, n)
}
