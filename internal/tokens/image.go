package tokens

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sync"

	"github.com/joss/genie/internal/domain"
)

// ImageCoster converts image dimensions into prompt tokens for one model
// family. Detail is the provider hint carried by the image ("low", "high",
// "auto" or empty).
type ImageCoster interface {
	ImageTokens(width, height int, detail string) int
}

// OpenAITiles is the tile-based formula used by OpenAI vision models: the
// image is fitted inside 2048x2048, its shortest side reduced to 768, and
// every 512px tile costs 170 tokens on top of a base of 85.
type OpenAITiles struct{}

func (OpenAITiles) ImageTokens(width, height int, detail string) int {
	const base, perTile = 85, 170
	if detail == "low" {
		return base
	}
	w, h := float64(width), float64(height)
	if w <= 0 || h <= 0 {
		return base
	}
	if longest := math.Max(w, h); longest > 2048 {
		ratio := 2048 / longest
		w, h = w*ratio, h*ratio
	}
	if shortest := math.Min(w, h); shortest > 768 {
		ratio := 768 / shortest
		w, h = w*ratio, h*ratio
	}
	tiles := int(math.Ceil(w/512) * math.Ceil(h/512))
	return perTile*tiles + base
}

// AnthropicArea charges about one token per 750 pixels after the long edge
// is scaled down to 1568.
type AnthropicArea struct{}

func (AnthropicArea) ImageTokens(width, height int, _ string) int {
	w, h := float64(width), float64(height)
	if w <= 0 || h <= 0 {
		return 0
	}
	if longest := math.Max(w, h); longest > 1568 {
		ratio := 1568 / longest
		w, h = math.Round(w*ratio), math.Round(h*ratio)
	}
	return int(math.Ceil(w * h / 750))
}

// Fixed charges the same amount for every image.
type Fixed int

func (f Fixed) ImageTokens(int, int, string) int { return int(f) }

// FallbackImageTokens is charged when an image cannot be decoded.
const FallbackImageTokens = 765

var (
	costersMu sync.RWMutex
	costers   = map[string]ImageCoster{
		domain.FamilyOpenAI:    OpenAITiles{},
		domain.FamilyAnthropic: AnthropicArea{},
	}
)

// RegisterImageCoster sets the formula for a model family.
func RegisterImageCoster(family string, c ImageCoster) {
	costersMu.Lock()
	defer costersMu.Unlock()
	costers[family] = c
}

// CosterFor returns the formula registered for the family, or a fixed
// estimate for unknown families.
func CosterFor(family string) ImageCoster {
	costersMu.RLock()
	defer costersMu.RUnlock()
	if c, ok := costers[family]; ok {
		return c
	}
	return Fixed(FallbackImageTokens)
}

// ImageSize decodes the dimensions of a base64 image (png, jpeg or gif).
func ImageSize(img domain.ImagePart) (int, int, error) {
	data, err := base64.StdEncoding.DecodeString(img.Base64)
	if err != nil {
		return 0, 0, fmt.Errorf("decode base64: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// ImageTokens prices one image with the coster. Undecodable images are
// charged FallbackImageTokens and the decode error is returned alongside.
func ImageTokens(c ImageCoster, img domain.ImagePart) (int, error) {
	w, h, err := ImageSize(img)
	if err != nil {
		return FallbackImageTokens, err
	}
	return c.ImageTokens(w, h, img.Detail), nil
}
