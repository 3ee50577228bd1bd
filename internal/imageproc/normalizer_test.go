package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
)

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNormalizeRejectsInvalidInput(t *testing.T) {
	n := NewNormalizer(Options{})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"too small", solidPNG(t, 99, 40, color.NRGBA{255, 255, 255, 255})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw, false)
			if !errors.Is(err, errors.ErrorInvalidImage) {
				t.Fatalf("error = %v, want INVALID_IMAGE", err)
			}
		})
	}
}

func TestNormalizeBounds(t *testing.T) {
	n := NewNormalizer(Options{MaxEdge: 400})
	white := color.NRGBA{255, 255, 255, 255}

	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape downscaled", 800, 200, 400, 100},
		{"portrait downscaled", 150, 600, 100, 400},
		{"never upscaled", 120, 100, 120, 100},
		{"exact minimum kept", 100, 20, 100, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := n.Normalize(solidPNG(t, tt.w, tt.h, white), false)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if img.Width() != tt.wantW || img.Height() != tt.wantH {
				t.Fatalf("size = %dx%d, want %dx%d", img.Width(), img.Height(), tt.wantW, tt.wantH)
			}
			if img.SkewDeg != 0 {
				t.Errorf("blank image should not be rotated, got %v", img.SkewDeg)
			}
		})
	}
}

func TestNormalizeOutputFormatIndependentOfBranches(t *testing.T) {
	n := NewNormalizer(Options{})
	raw := solidPNG(t, 200, 150, color.NRGBA{200, 180, 160, 255})

	for _, enhance := range []bool{false, true} {
		img, err := n.Normalize(raw, enhance)
		if err != nil {
			t.Fatalf("Normalize(enhance=%v): %v", enhance, err)
		}
		if img.Pixels == nil || img.Pixels.Bounds().Min != (image.Point{}) {
			t.Fatalf("enhance=%v: unexpected pixel grid", enhance)
		}
		if img.Enhanced != enhance {
			t.Errorf("Enhanced = %v, want %v", img.Enhanced, enhance)
		}
		encoded, err := img.PNG()
		if err != nil || len(encoded) == 0 {
			t.Fatalf("PNG: %v", err)
		}
	}
}

// skewedLines draws dark horizontal bars on white paper, tilted by deg
// (positive descends to the right).
func skewedLines(w, h int, deg float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	slope := math.Tan(deg * math.Pi / 180)
	for _, base := range []int{h / 4, h / 2, 3 * h / 4} {
		for x := w / 10; x < w-w/10; x++ {
			y0 := int(math.Round(float64(base) + float64(x-w/2)*slope))
			for y := y0; y < y0+4; y++ {
				o := y*img.Stride + x*4
				img.Pix[o], img.Pix[o+1], img.Pix[o+2] = 20, 20, 20
			}
		}
	}
	return img
}

func TestEstimateSkewOnDrawnLines(t *testing.T) {
	opts := DefaultDeskewOptions()
	for _, angle := range []float64{-3, 2.5} {
		got, ok := EstimateSkew(skewedLines(600, 400, angle), opts)
		if !ok {
			t.Fatalf("angle %v: no skew found", angle)
		}
		if math.Abs(got-angle) > 0.5 {
			t.Errorf("angle %v: estimated %v", angle, got)
		}
	}
}

func TestDeskewRoundTripStraightensLines(t *testing.T) {
	opts := DefaultDeskewOptions()
	for _, angle := range []float64{3, -3} {
		img := skewedLines(600, 400, angle)
		est, ok := EstimateSkew(img, opts)
		if !ok {
			t.Fatalf("angle %v: no skew found", angle)
		}

		straightened := Rotate(img, -est)
		residual, found := EstimateSkew(straightened, opts)
		if found && math.Abs(residual) > 0.5 {
			t.Errorf("angle %v: residual skew %v after rotating by %v", angle, residual, -est)
		}
	}
}

func TestEstimateSkewBlankImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	if _, ok := EstimateSkew(img, DefaultDeskewOptions()); ok {
		t.Fatal("blank image must not yield a skew")
	}
}

func TestMeanSkewIgnoresSteepSegments(t *testing.T) {
	segs := [][4]float64{
		{0, 0, 100, 2},   // ~1.15 deg
		{100, 4, 0, 0},   // reversed endpoints, ~2.29 deg
		{10, 0, 10, 100}, // vertical
		{0, 0, 100, 50},  // ~26.6 deg
	}
	got, ok := meanSkew(segs, 5)
	if !ok {
		t.Fatal("expected a skew")
	}
	want := (math.Atan2(2, 100) + math.Atan2(4, 100)) / 2 * 180 / math.Pi
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("meanSkew = %v, want %v", got, want)
	}

	if _, ok := meanSkew(segs[2:], 5); ok {
		t.Error("steep segments alone must not yield a skew")
	}
}

func TestRotateKeepsCanvas(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 120, 80))
	out := Rotate(img, 4)
	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), img.Bounds())
	}
}
