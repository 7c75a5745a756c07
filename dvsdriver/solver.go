package dvsdriver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Solver turns the collected views into a calibration. The camera model fit
// lives behind this interface.
type Solver interface {
	Solve(ctx context.Context, views map[int][][]Correspondence) (*CalibrationResult, error)
}

type CameraResult struct {
	CameraID     int
	Views        int
	UsedViews    int
	RMSError     float64 // pixels
	Homographies [][9]float64
}

type CalibrationResult struct {
	SessionID uuid.UUID
	Cameras   []CameraResult
}

func (r *CalibrationResult) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s\n", r.SessionID)
	for _, c := range r.Cameras {
		fmt.Fprintf(&b, "camera %d: views=%d used=%d rms=%.4fpx\n", c.CameraID, c.Views, c.UsedViews, c.RMSError)
	}
	return b.String()
}

var ErrDegenerateView = errors.New("view is degenerate")

// HomographySolver fits a plane-to-image homography per view (normalized
// DLT) and reports the reprojection error. It needs a two-dimensional
// target with at least four dots.
type HomographySolver struct{}

func (HomographySolver) Solve(ctx context.Context, views map[int][][]Correspondence) (*CalibrationResult, error) {
	cams := make([]int, 0, len(views))
	for cam := range views {
		cams = append(cams, cam)
	}
	sort.Ints(cams)

	result := &CalibrationResult{}
	for _, cam := range cams {
		cr := CameraResult{CameraID: cam, Views: len(views[cam])}
		var sqErr float64
		var points int
		for i, view := range views[cam] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			h, err := FitHomography(view)
			if err != nil {
				Logger.Warn().Int("camera", cam).Int("view", i).Err(err).Msg("Skipping view")
				continue
			}
			for _, c := range view {
				p := applyHomography(h, c.World)
				dx, dy := p.X-c.Image.X, p.Y-c.Image.Y
				sqErr += dx*dx + dy*dy
				points++
			}
			cr.UsedViews++
			cr.Homographies = append(cr.Homographies, h)
		}
		if cr.UsedViews == 0 {
			return nil, fmt.Errorf("%w: camera %d has no usable views", ErrNotEnoughViews, cam)
		}
		cr.RMSError = math.Sqrt(sqErr / float64(points))
		result.Cameras = append(result.Cameras, cr)
	}
	return result, nil
}

// normalization returns the similarity transform moving the points' centroid
// to the origin with mean distance sqrt(2), row-major 3x3.
func normalization(xs, ys []float64) ([9]float64, error) {
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(len(xs))
	my /= float64(len(xs))
	var d float64
	for i := range xs {
		d += math.Hypot(xs[i]-mx, ys[i]-my)
	}
	d /= float64(len(xs))
	if d == 0 {
		return [9]float64{}, fmt.Errorf("%w: coincident points", ErrDegenerateView)
	}
	s := math.Sqrt2 / d
	return [9]float64{s, 0, -s * mx, 0, s, -s * my, 0, 0, 1}, nil
}

// FitHomography maps world (X, Y) on the target plane to image points.
func FitHomography(view []Correspondence) ([9]float64, error) {
	var h [9]float64
	n := len(view)
	if n < 4 {
		return h, fmt.Errorf("%w: %d points, need 4", ErrDegenerateView, n)
	}

	wx, wy := make([]float64, n), make([]float64, n)
	ix, iy := make([]float64, n), make([]float64, n)
	for i, c := range view {
		wx[i], wy[i] = c.World.X, c.World.Y
		ix[i], iy[i] = c.Image.X, c.Image.Y
	}
	tw, err := normalization(wx, wy)
	if err != nil {
		return h, err
	}
	ti, err := normalization(ix, iy)
	if err != nil {
		return h, err
	}

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		X := tw[0]*wx[i] + tw[2]
		Y := tw[4]*wy[i] + tw[5]
		u := ti[0]*ix[i] + ti[2]
		v := ti[4]*iy[i] + ti[5]
		a.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, u * X, u * Y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, v * X, v * Y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return h, fmt.Errorf("%w: SVD did not converge", ErrDegenerateView)
	}
	values := svd.Values(nil)
	// a rank below 8 means the points are collinear
	if len(values) < 8 || values[7] < 1e-9*values[0] {
		return h, fmt.Errorf("%w: target points are collinear", ErrDegenerateView)
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	// H = Ti^-1 * Hn * Tw
	tiInv := mat.NewDense(3, 3, []float64{
		1 / ti[0], 0, -ti[2] / ti[0],
		0, 1 / ti[4], -ti[5] / ti[4],
		0, 0, 1,
	})
	var tmp, full mat.Dense
	tmp.Mul(tiInv, hn)
	full.Mul(&tmp, mat.NewDense(3, 3, tw[:]))

	scale := full.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return h, fmt.Errorf("%w: homography at infinity", ErrDegenerateView)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = full.At(r, c) / scale
		}
	}
	return h, nil
}

func applyHomography(h [9]float64, w Point3) Point2 {
	x := h[0]*w.X + h[1]*w.Y + h[2]
	y := h[3]*w.X + h[4]*w.Y + h[5]
	z := h[6]*w.X + h[7]*w.Y + h[8]
	return Point2{X: x / z, Y: y / z}
}
