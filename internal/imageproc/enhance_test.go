package imageproc

import (
	"image"
	"testing"
)

func TestEnhanceKeepsUniformImageUniform(t *testing.T) {
	const w, h = 64, 48
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 128, 128, 128, 255
	}

	out := Enhance(img, DefaultEnhanceOptions())
	for i := 4; i < len(out.Pix); i += 4 {
		if out.Pix[i] != out.Pix[0] || out.Pix[i+3] != 255 {
			t.Fatalf("pixel %d = %v, first = %v", i/4, out.Pix[i:i+4], out.Pix[0:4])
		}
	}
}

func TestEnhanceDarkensInkAndLightensPaper(t *testing.T) {
	const w, h = 160, 160
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*img.Stride + x*4
			v := uint8(170)
			if x%8 < 4 {
				v = 70
			}
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = v, v, v, 255
		}
	}

	out := Enhance(img, DefaultEnhanceOptions())
	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds changed: %v", out.Bounds())
	}

	ink := out.Pix[80*out.Stride+1*4]
	paper := out.Pix[80*out.Stride+5*4]
	if ink >= paper {
		t.Fatalf("ink %d should stay darker than paper %d", ink, paper)
	}
	if img.Pix[80*img.Stride+1*4] != 70 {
		t.Fatal("input must not be modified")
	}
}
