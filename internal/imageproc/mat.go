package imageproc

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// toBGR copies img into a 3-channel BGR Mat. Alpha is dropped. The caller
// closes the returned Mat.
func toBGR(img *image.NRGBA) (gocv.Mat, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if img.Stride != w*4 || img.Bounds().Min != (image.Point{}) {
		img = imaging.Clone(img)
	}

	rgba, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap pixels: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// fromBGR converts a BGR Mat back to an opaque NRGBA image.
func fromBGR(bgr gocv.Mat) *image.NRGBA {
	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(bgr, &rgba, gocv.ColorBGRToRGBA)

	out := image.NewNRGBA(image.Rect(0, 0, rgba.Cols(), rgba.Rows()))
	copy(out.Pix, rgba.ToBytes())
	return out
}
