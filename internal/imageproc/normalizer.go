/**
 * Image Normalizer
 *
 * Turns an arbitrary photograph of a drug package into the canonical
 * NRGBA grid consumed by the OCR engines:
 * decode -> downscale -> deskew -> light denoise -> optional enhancement.
 */

package imageproc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
)

// Image is a normalized image. It is never mutated after Normalize returns.
type Image struct {
	Pixels   *image.NRGBA
	SkewDeg  float64 // rotation applied by deskew, 0 when skipped
	Enhanced bool
}

// Width returns the pixel width.
func (i *Image) Width() int { return i.Pixels.Bounds().Dx() }

// Height returns the pixel height.
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

// PNG encodes the image losslessly for engines that take encoded bytes.
func (i *Image) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, i.Pixels, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Options configures the normalizer.
type Options struct {
	MaxEdge      int
	MinEdge      int
	DenoiseSigma float64
	Deskew       DeskewOptions
	Enhance      EnhanceOptions
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		MaxEdge:      2048,
		MinEdge:      100,
		DenoiseSigma: 0.5,
		Deskew:       DefaultDeskewOptions(),
		Enhance:      DefaultEnhanceOptions(),
	}
}

// Normalizer applies the fixed normalization pipeline.
type Normalizer struct {
	opts Options
}

// NewNormalizer creates a normalizer; zero fields fall back to defaults.
func NewNormalizer(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = def.MaxEdge
	}
	if opts.MinEdge <= 0 {
		opts.MinEdge = def.MinEdge
	}
	if opts.DenoiseSigma <= 0 {
		opts.DenoiseSigma = def.DenoiseSigma
	}
	if opts.Deskew == (DeskewOptions{}) {
		opts.Deskew = def.Deskew
	}
	if opts.Enhance == (EnhanceOptions{}) {
		opts.Enhance = def.Enhance
	}
	return &Normalizer{opts: opts}
}

// Normalize decodes raw and runs the pipeline. Undecodable input and images
// whose longer edge is below MinEdge fail with INVALID_IMAGE.
func (n *Normalizer) Normalize(raw []byte, enhance bool) (*Image, error) {
	if len(raw) == 0 {
		return nil, errors.NewInvalidImageError("empty buffer", nil)
	}

	decoded, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.NewInvalidImageError("cannot decode image", err)
	}

	img := imaging.Clone(decoded)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if max(w, h) < n.opts.MinEdge {
		return nil, errors.NewInvalidImageError(
			fmt.Sprintf("image too small: %dx%d, longer edge must be at least %d", w, h, n.opts.MinEdge), nil)
	}

	img = n.downscale(img)

	out := &Image{}
	if angle, ok := EstimateSkew(img, n.opts.Deskew); ok {
		img = Rotate(img, -angle)
		out.SkewDeg = -angle
	}

	img = imaging.Blur(img, n.opts.DenoiseSigma)

	if enhance {
		img = Enhance(img, n.opts.Enhance)
		out.Enhanced = true
	}

	out.Pixels = img
	return out, nil
}

func (n *Normalizer) downscale(img *image.NRGBA) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if max(w, h) <= n.opts.MaxEdge {
		return img
	}
	if w >= h {
		return imaging.Resize(img, n.opts.MaxEdge, 0, imaging.Box)
	}
	return imaging.Resize(img, 0, n.opts.MaxEdge, imaging.Box)
}
