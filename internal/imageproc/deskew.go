package imageproc

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// DeskewOptions controls skew estimation.
type DeskewOptions struct {
	LowThreshold  float32 // Canny hysteresis thresholds
	HighThreshold float32
	VoteThreshold int     // minimum accumulator votes for a segment
	MinLineLength float32 // pixels
	MaxLineGap    float32 // pixels
	WindowDeg     float64 // only segments within this many degrees of horizontal
	StepDeg       float64 // angular resolution of the accumulator
	MinAngleDeg   float64 // skews at or below this are ignored
}

// DefaultDeskewOptions returns the production settings.
func DefaultDeskewOptions() DeskewOptions {
	return DeskewOptions{
		LowThreshold:  50,
		HighThreshold: 150,
		VoteThreshold: 100,
		MinLineLength: 80,
		MaxLineGap:    10,
		WindowDeg:     5,
		StepDeg:       0.25,
		MinAngleDeg:   0.1,
	}
}

// EstimateSkew returns the mean angle in degrees of the near-horizontal
// segments in img, positive when they descend to the right. ok is false when
// no segment qualifies or the angle is negligible.
func EstimateSkew(img *image.NRGBA, opts DeskewOptions) (float64, bool) {
	if opts.StepDeg <= 0 || opts.WindowDeg <= 0 {
		return 0, false
	}

	bgr, err := toBGR(img)
	if err != nil {
		return 0, false
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, opts.LowThreshold, opts.HighThreshold)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, float32(opts.StepDeg*math.Pi/180),
		opts.VoteThreshold, opts.MinLineLength, opts.MaxLineGap)

	angle, found := meanSkew(segments(lines), opts.WindowDeg)
	if !found || math.Abs(angle) <= opts.MinAngleDeg {
		return 0, false
	}
	return angle, true
}

// segments reads the x1,y1,x2,y2 rows of a HoughLinesP result.
func segments(lines gocv.Mat) [][4]float64 {
	out := make([][4]float64, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		if len(v) < 4 {
			continue
		}
		out = append(out, [4]float64{float64(v[0]), float64(v[1]), float64(v[2]), float64(v[3])})
	}
	return out
}

// meanSkew averages the angles of segments within windowDeg of horizontal.
// Image y grows downwards, so a segment descending to the right is positive.
func meanSkew(segs [][4]float64, windowDeg float64) (float64, bool) {
	var sum float64
	var count int
	for _, s := range segs {
		x1, y1, x2, y2 := s[0], s[1], s[2], s[3]
		if x2 < x1 {
			x1, y1, x2, y2 = x2, y2, x1, y1
		}
		if x2 == x1 {
			continue
		}
		deg := math.Atan2(y2-y1, x2-x1) * 180 / math.Pi
		if math.Abs(deg) > windowDeg {
			continue
		}
		sum += deg
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Rotate turns img by deg degrees about its centre, keeping the canvas size.
// Positive deg turns clockwise on screen. Uncovered pixels replicate the
// nearest border.
func Rotate(img *image.NRGBA, deg float64) *image.NRGBA {
	bgr, err := toBGR(img)
	if err != nil {
		return imaging.Clone(img)
	}
	defer bgr.Close()

	w, h := bgr.Cols(), bgr.Rows()
	// OpenCV angles are counter-clockwise.
	m := gocv.GetRotationMatrix2D(image.Pt(w/2, h/2), -deg, 1.0)
	defer m.Close()

	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.WarpAffineWithParams(bgr, &rotated, m, image.Pt(w, h),
		gocv.InterpolationLinear, gocv.BorderReplicate, color.RGBA{})

	return fromBGR(rotated)
}
