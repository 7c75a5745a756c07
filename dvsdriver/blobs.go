package dvsdriver

import (
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// maskToMat converts a mask into a CV_8UC1 image, 255 for set pixels.
// The caller closes the returned Mat.
func maskToMat(mask Mask) (gocv.Mat, error) {
	buf := make([]byte, len(mask.Pixels))
	for i, p := range mask.Pixels {
		if p {
			buf[i] = 255
		}
	}
	return gocv.NewMatFromBytes(mask.Height, mask.Width, gocv.MatTypeCV8UC1, buf)
}

// FindBlobs clusters the mask into 8-connected components and keeps those
// with at least minMass pixels. Blobs are ordered by centroid, top to bottom
// then left to right.
func FindBlobs(mask Mask, minMass int) ([]Blob, error) {
	if mask.Count() == 0 {
		return nil, nil
	}

	mat, err := maskToMat(mask)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mat, &labels, &stats, &centroids)

	blobs := make([]Blob, 0, n)
	// label 0 is the background
	for label := 1; label < n; label++ {
		mass := int(stats.GetIntAt(label, int(gocv.CC_STAT_AREA)))
		if mass < minMass {
			continue
		}
		left := int(stats.GetIntAt(label, int(gocv.CC_STAT_LEFT)))
		top := int(stats.GetIntAt(label, int(gocv.CC_STAT_TOP)))
		width := int(stats.GetIntAt(label, int(gocv.CC_STAT_WIDTH)))
		height := int(stats.GetIntAt(label, int(gocv.CC_STAT_HEIGHT)))
		blobs = append(blobs, Blob{
			Centroid: Point2{
				X: centroids.GetDoubleAt(label, 0),
				Y: centroids.GetDoubleAt(label, 1),
			},
			Mass:   mass,
			Bounds: image.Rect(left, top, left+width, top+height),
		})
	}

	sort.SliceStable(blobs, func(i, j int) bool {
		if blobs[i].Centroid.Y != blobs[j].Centroid.Y {
			return blobs[i].Centroid.Y < blobs[j].Centroid.Y
		}
		return blobs[i].Centroid.X < blobs[j].Centroid.X
	})
	Logger.Debug().Int("components", n-1).Int("blobs", len(blobs)).Int("min_mass", minMass).Msg("Clustered blinking pixels")
	return blobs, nil
}
