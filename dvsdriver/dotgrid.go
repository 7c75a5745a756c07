package dvsdriver

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// The target is expected within +/- this angle of upright.
	GRID_ANGLE_SEARCH_ARC_DEG  = 45
	GRID_ANGLE_SEARCH_STEP_DEG = 0.1

	// Kernel width of the projection energy, as a fraction of the median
	// nearest-neighbour distance.
	GRID_PROJECTION_BANDWIDTH = 0.25

	// Maximum coefficient of variation of row/column spacings.
	GRID_MAX_SPACING_VARIATION = 0.35

	// Maximum distance of a dot from its row/column line, as a fraction of
	// the mean dot spacing.
	GRID_MAX_LINE_DEVIATION = 0.35
)

var (
	ErrBlobCount     = errors.New("blob count does not match dot grid")
	ErrGridIrregular = errors.New("blobs do not form a regular dot grid")
)

func rad2Deg(rad float64) float64 {
	return (180 / math.Pi) * rad
}

func deg2Rad(deg float64) float64 {
	return (math.Pi / 180) * deg
}

// pivot rotates p by angleRad around the pivot point.
func pivot(p Point2, pivotPoint Point2, angleRad float64) Point2 {
	cx := p.X - pivotPoint.X
	cy := p.Y - pivotPoint.Y
	return Point2{
		X: pivotPoint.X + cx*math.Cos(angleRad) - cy*math.Sin(angleRad),
		Y: pivotPoint.Y + cx*math.Sin(angleRad) + cy*math.Cos(angleRad),
	}
}

func medianNearestNeighbour(points []Point2) float64 {
	nn := make([]float64, len(points))
	for i, a := range points {
		best := math.MaxFloat64
		for j, b := range points {
			if i == j {
				continue
			}
			best = math.Min(best, math.Hypot(a.X-b.X, a.Y-b.Y))
		}
		nn[i] = best
	}
	sort.Float64s(nn)
	return nn[len(nn)/2]
}

// projectionEnergy measures how tightly the points collapse onto lines when
// projected on both axes of a frame rotated by theta.
func projectionEnergy(points []Point2, theta, bandwidth float64) float64 {
	cos, sin := math.Cos(theta), math.Sin(theta)
	twoSigmaSq := 2 * bandwidth * bandwidth
	var energy float64
	for i := 0; i < len(points); i++ {
		ri := -points[i].X*sin + points[i].Y*cos
		ci := points[i].X*cos + points[i].Y*sin
		for j := i + 1; j < len(points); j++ {
			rj := -points[j].X*sin + points[j].Y*cos
			cj := points[j].X*cos + points[j].Y*sin
			dr, dc := ri-rj, ci-cj
			energy += math.Exp(-dr*dr/twoSigmaSq) + math.Exp(-dc*dc/twoSigmaSq)
		}
	}
	return energy
}

// findCommonAngleRad sweeps for the angle at which the grid is pivoted on the
// image. Angles are visited 0, +step, -step, +2*step, ... and the first
// strictly best energy wins, so ties resolve to the smallest rotation.
func findCommonAngleRad(angleToSweepRad, angleStepRad float64, points []Point2, bandwidth float64) float64 {
	steps := int(math.Round(angleToSweepRad / angleStepRad))
	commonAngle := 0.0
	commonAngleEnergy := projectionEnergy(points, 0, bandwidth)
	for k := 1; k < steps; k++ {
		for _, theta := range [2]float64{float64(k) * angleStepRad, -float64(k) * angleStepRad} {
			if e := projectionEnergy(points, theta, bandwidth); e > commonAngleEnergy {
				commonAngle = theta
				commonAngleEnergy = e
			}
		}
	}
	return commonAngle
}

// splitByGaps cuts sorted values into n groups at the n-1 widest gaps and
// returns the group boundaries as start indices.
func splitByGaps(sorted []float64, n int) []int {
	type gap struct {
		width float64
		at    int
	}
	gaps := make([]gap, 0, len(sorted))
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, gap{width: sorted[i] - sorted[i-1], at: i})
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].width > gaps[j].width
	})
	starts := []int{0}
	for i := 0; i < n-1 && i < len(gaps); i++ {
		starts = append(starts, gaps[i].at)
	}
	sort.Ints(starts)
	return starts
}

// spacingVariation returns the coefficient of variation of the values, or 0
// when there are fewer than two.
func spacingVariation(spacings []float64) float64 {
	if len(spacings) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(spacings, nil)
	if mean <= 0 {
		return math.Inf(1)
	}
	return std / mean
}

// FitDotGrid orders blob centroids into the dotsH x dotsW target. The result
// is row-major: row 0 is the top row and column 0 the leftmost column of the
// de-rotated grid. Nothing is returned unless every dot is placed and the
// spacing is regular.
func FitDotGrid(centroids []Point2, dotsW, dotsH int) ([]Point2, error) {
	if len(centroids) != dotsW*dotsH {
		return nil, fmt.Errorf("%w: found %d, want %d", ErrBlobCount, len(centroids), dotsW*dotsH)
	}
	if len(centroids) == 1 {
		return []Point2{centroids[0]}, nil
	}

	bandwidth := medianNearestNeighbour(centroids) * GRID_PROJECTION_BANDWIDTH
	if bandwidth <= 0 {
		return nil, fmt.Errorf("%w: coincident centroids", ErrGridIrregular)
	}

	angle := findCommonAngleRad(
		deg2Rad(GRID_ANGLE_SEARCH_ARC_DEG),
		deg2Rad(GRID_ANGLE_SEARCH_STEP_DEG),
		centroids,
		bandwidth,
	)

	var minX, minY = math.MaxFloat64, math.MaxFloat64
	var maxX, maxY = -math.MaxFloat64, -math.MaxFloat64
	for _, c := range centroids {
		minX = math.Min(minX, c.X)
		maxX = math.Max(maxX, c.X)
		minY = math.Min(minY, c.Y)
		maxY = math.Max(maxY, c.Y)
	}
	center := Point2{X: minX + (maxX-minX)/2, Y: minY + (maxY-minY)/2}

	type node struct {
		idx     int
		pivoted Point2
	}
	nodes := make([]node, len(centroids))
	for i, c := range centroids {
		nodes[i] = node{idx: i, pivoted: pivot(c, center, -angle)}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].pivoted.Y != nodes[j].pivoted.Y {
			return nodes[i].pivoted.Y < nodes[j].pivoted.Y
		}
		return nodes[i].pivoted.X < nodes[j].pivoted.X
	})

	ys := make([]float64, len(nodes))
	for i, n := range nodes {
		ys[i] = n.pivoted.Y
	}
	starts := splitByGaps(ys, dotsH)
	rows := make([][]node, 0, dotsH)
	for r, start := range starts {
		end := len(nodes)
		if r+1 < len(starts) {
			end = starts[r+1]
		}
		if end-start != dotsW {
			return nil, fmt.Errorf("%w: row %d has %d dots, want %d", ErrGridIrregular, r, end-start, dotsW)
		}
		row := append([]node(nil), nodes[start:end]...)
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].pivoted.X < row[j].pivoted.X
		})
		rows = append(rows, row)
	}

	rowMeans := make([]float64, dotsH)
	colMeans := make([]float64, dotsW)
	for r, row := range rows {
		for c, n := range row {
			rowMeans[r] += n.pivoted.Y / float64(dotsW)
			colMeans[c] += n.pivoted.X / float64(dotsH)
		}
	}

	var horizontal, vertical []float64
	for r, row := range rows {
		for c := 1; c < len(row); c++ {
			horizontal = append(horizontal, row[c].pivoted.X-row[c-1].pivoted.X)
		}
		if r > 0 {
			for c := range row {
				vertical = append(vertical, row[c].pivoted.Y-rows[r-1][c].pivoted.Y)
			}
		}
	}
	if v := spacingVariation(horizontal); v > GRID_MAX_SPACING_VARIATION {
		return nil, fmt.Errorf("%w: column spacing variation %.2f", ErrGridIrregular, v)
	}
	if v := spacingVariation(vertical); v > GRID_MAX_SPACING_VARIATION {
		return nil, fmt.Errorf("%w: row spacing variation %.2f", ErrGridIrregular, v)
	}

	spacing := stat.Mean(append(append([]float64(nil), horizontal...), vertical...), nil)
	if spacing <= 0 {
		return nil, fmt.Errorf("%w: non-positive dot spacing", ErrGridIrregular)
	}
	maxDeviation := GRID_MAX_LINE_DEVIATION * spacing
	for r, row := range rows {
		for c, n := range row {
			if math.Abs(n.pivoted.Y-rowMeans[r]) > maxDeviation || math.Abs(n.pivoted.X-colMeans[c]) > maxDeviation {
				return nil, fmt.Errorf("%w: dot [%d:%d] is off its row/column line", ErrGridIrregular, r, c)
			}
		}
	}

	Logger.Debug().Float64("angle_deg", rad2Deg(angle)).Float64("spacing_px", spacing).Msg("Fitted dot grid")

	ordered := make([]Point2, 0, len(centroids))
	for _, row := range rows {
		for _, n := range row {
			ordered = append(ordered, centroids[n.idx])
		}
	}
	return ordered, nil
}
