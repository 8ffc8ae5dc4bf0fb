// Package imaging computes rendition dimensions and resizes JPEG photos.
//
// Scaling follows a single rule: shrink (or grow) uniformly so the image
// fits inside a bound×bound box. Pixels are resampled with Catmull-Rom
// from golang.org/x/image/draw and re-encoded in the source's JPEG format.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension is the default bound on either axis of a rendition.
const DefaultMaxDimension = 512

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

// DefaultMaxPixels caps the declared size of a source image (100 MP).
const DefaultMaxPixels = 100_000_000

var (
	// ErrDecode reports that the source bytes are not a decodable image.
	ErrDecode = errors.New("decode image")
	// ErrEncode reports that the resized image could not be encoded.
	ErrEncode = errors.New("encode image")
)

// Asset is one photo owned by a single pipeline invocation.
type Asset struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
}

// Plan is the target size of a rendition.
type Plan struct {
	TargetWidth  int
	TargetHeight int
}

// IsZero reports whether p carries no usable dimensions.
func (p Plan) IsZero() bool {
	return p.TargetWidth <= 0 || p.TargetHeight <= 0
}

// NewAsset reads the image header to populate the dimensions. Pixel data
// is not decoded here.
func NewAsset(data []byte, contentType string) (Asset, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Asset{}, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}

	log.Debug().
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("size", len(data)).
		Msg("Image header read")

	return Asset{
		Bytes:       data,
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

// CheckPixels rejects an asset whose header declares more than maxPixels
// pixels, before any pixel data is decoded. A non-positive maxPixels
// selects DefaultMaxPixels.
func CheckPixels(asset Asset, maxPixels int) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if px := int64(asset.Width) * int64(asset.Height); px > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, asset.Width, asset.Height, maxPixels)
	}
	return nil
}

// PlanFor computes target dimensions for a width×height source so that the
// larger side equals bound. factor = min(bound/w, bound/h); sources smaller
// than bound are enlarged. Each side is rounded and never drops below 1.
// Non-positive inputs yield a zero Plan.
func PlanFor(width, height, bound int) Plan {
	if width <= 0 || height <= 0 || bound <= 0 {
		return Plan{}
	}

	factor := math.Min(
		float64(bound)/float64(width),
		float64(bound)/float64(height),
	)

	return Plan{
		TargetWidth:  scaleSide(width, factor),
		TargetHeight: scaleSide(height, factor),
	}
}

func scaleSide(side int, factor float64) int {
	n := int(math.Round(float64(side) * factor))
	if n < 1 {
		return 1
	}
	return n
}

// Resize decodes the asset, scales it to plan and encodes it as format
// ("jpg" or "jpeg", any case) at the given quality.
func Resize(asset Asset, plan Plan, format string, quality int) ([]byte, error) {
	if plan.IsZero() {
		return nil, fmt.Errorf("%w: empty scaling plan", ErrDecode)
	}
	if !IsJPEG(format) {
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	src, err := jpeg.Decode(bytes.NewReader(asset.Bytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, plan.TargetWidth, plan.TargetHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	log.Debug().
		Int("orig_width", asset.Width).
		Int("orig_height", asset.Height).
		Int("new_width", plan.TargetWidth).
		Int("new_height", plan.TargetHeight).
		Int("output_size", buf.Len()).
		Msg("Rendition resized")

	return buf.Bytes(), nil
}

// IsJPEG reports whether ext names the JPEG family. The comparison is
// case-insensitive and a leading dot is ignored.
func IsJPEG(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return true
	}
	return false
}
