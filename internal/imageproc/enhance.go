package imageproc

import (
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// EnhanceOptions controls the contrast enhancement branch.
type EnhanceOptions struct {
	ClipLimit  float64 // CLAHE clip limit
	Tiles      int     // CLAHE tiles per axis
	InkGain    float32
	PaperGain  float32
	PaperShift float32
}

// DefaultEnhanceOptions returns the production settings.
func DefaultEnhanceOptions() EnhanceOptions {
	return EnhanceOptions{
		ClipLimit:  3.0,
		Tiles:      8,
		InkGain:    0.7,
		PaperGain:  1.1,
		PaperShift: 20,
	}
}

var sharpenKernel = [3][3]float32{
	{-1, -1, -1},
	{-1, 9, -1},
	{-1, -1, -1},
}

// Enhance applies CLAHE on the Lab lightness channel, darkens ink and
// brightens paper using an Otsu mask, then sharpens. img is not modified.
func Enhance(img *image.NRGBA, opts EnhanceOptions) *image.NRGBA {
	bgr, err := toBGR(img)
	if err != nil {
		return imaging.Clone(img)
	}
	defer bgr.Close()

	equalized := equalizeLightness(bgr, opts)
	defer equalized.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(equalized, &gray, gocv.ColorBGRToGray)

	// ink is 255 in the mask
	ink := gocv.NewMat()
	defer ink.Close()
	gocv.Threshold(gray, &ink, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	toned := gocv.NewMat()
	defer toned.Close()
	equalized.ConvertToWithParams(&toned, gocv.MatTypeCV8UC3, opts.PaperGain, opts.PaperShift)

	darkened := gocv.NewMat()
	defer darkened.Close()
	equalized.ConvertToWithParams(&darkened, gocv.MatTypeCV8UC3, opts.InkGain, 0)
	darkened.CopyToWithMask(&toned, ink)

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for r, row := range sharpenKernel {
		for c, v := range row {
			kernel.SetFloatAt(r, c, v)
		}
	}

	sharpened := gocv.NewMat()
	defer sharpened.Close()
	gocv.Filter2D(toned, &sharpened, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)

	return fromBGR(sharpened)
}

// equalizeLightness runs CLAHE on the L channel of bgr. The caller closes
// the result.
func equalizeLightness(bgr gocv.Mat, opts EnhanceOptions) gocv.Mat {
	tiles := max(opts.Tiles, 1)

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(opts.ClipLimit, image.Pt(tiles, tiles))
	defer clahe.Close()

	l := gocv.NewMat()
	defer l.Close()
	clahe.Apply(channels[0], &l)
	l.CopyTo(&channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)
	return out
}
