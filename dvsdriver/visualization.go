package dvsdriver

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	VISUALIZATION_PUBLISH_INTERVAL = 333 * time.Millisecond
	VISUALIZATION_SCALE            = 2
	VISUALIZATION_MARKER_RADIUS    = 4
)

// RenderSnapshot draws the transition counts in grey, blinking pixels in red
// and detected blobs with their grid indices. The caller closes the Mat.
func RenderSnapshot(snap Snapshot) (gocv.Mat, error) {
	w, h := snap.Width, snap.Height
	buf := make([]byte, w*h*3)

	maxCount := uint32(snap.MaxTransitions)
	if maxCount == 0 {
		maxCount = 1
	}
	for i, c := range snap.Counts {
		if c > maxCount {
			c = maxCount
		}
		v := byte(255 * c / maxCount)
		buf[i*3], buf[i*3+1], buf[i*3+2] = v, v, v
	}
	if len(snap.Mask.Pixels) == w*h {
		for i, p := range snap.Mask.Pixels {
			if p {
				buf[i*3], buf[i*3+1], buf[i*3+2] = 0, 0, 255 // BGR
			}
		}
	}

	small, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer small.Close()

	mat := gocv.NewMat()
	gocv.Resize(small, &mat, image.Point{}, VISUALIZATION_SCALE, VISUALIZATION_SCALE, gocv.InterpolationNearestNeighbor)

	scaled := func(p Point2) image.Point {
		return image.Pt(int(p.X*VISUALIZATION_SCALE), int(p.Y*VISUALIZATION_SCALE))
	}
	for _, b := range snap.Blobs {
		gocv.Ellipse(
			&mat,
			scaled(b.Centroid),
			image.Pt(VISUALIZATION_MARKER_RADIUS*2, VISUALIZATION_MARKER_RADIUS*2),
			0, 0, 360,
			color.RGBA{R: 255, G: 0, B: 255, A: 255},
			1,
		)
	}
	for _, c := range snap.Correspondences {
		gocv.Ellipse(
			&mat,
			scaled(c.Image),
			image.Pt(VISUALIZATION_MARKER_RADIUS, VISUALIZATION_MARKER_RADIUS),
			0, 0, 360,
			color.RGBA{R: 0, G: 255, B: 0, A: 255},
			-1,
		)
		gocv.PutText(
			&mat,
			fmt.Sprintf("[%d:%d]", c.Row, c.Col),
			scaled(c.Image).Add(image.Pt(6, -6)),
			gocv.FontHersheyPlain,
			0.8,
			color.RGBA{R: 255, G: 255, B: 0, A: 255},
			1,
		)
	}
	return mat, nil
}

// EncodeSnapshotJPEG renders snap and encodes it as JPEG.
func EncodeSnapshotJPEG(snap Snapshot) ([]byte, error) {
	mat, err := RenderSnapshot(snap)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	imgBuf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, err
	}
	defer imgBuf.Close()
	return append([]byte(nil), imgBuf.GetBytes()...), nil
}

type ImagePublisher interface {
	PublishImage(cameraID int, jpeg []byte) error
}

// VisualizationPublisher is a VisualizationHook that publishes overlays,
// at most one per camera per interval except for hits, which always go out.
type VisualizationPublisher struct {
	publisher ImagePublisher
	interval  time.Duration

	mu          sync.Mutex
	lastPublish map[int]time.Time
}

func NewVisualizationPublisher(publisher ImagePublisher, interval time.Duration) *VisualizationPublisher {
	return &VisualizationPublisher{
		publisher:   publisher,
		interval:    interval,
		lastPublish: make(map[int]time.Time),
	}
}

func (v *VisualizationPublisher) due(cameraID int, found bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	if !found && now.Sub(v.lastPublish[cameraID]) < v.interval {
		return false
	}
	v.lastPublish[cameraID] = now
	return true
}

func (v *VisualizationPublisher) Hook(snap Snapshot) {
	if !v.due(snap.CameraID, snap.Found) {
		return
	}
	jpeg, err := EncodeSnapshotJPEG(snap)
	if err != nil {
		Logger.Warn().Int("camera", snap.CameraID).Err(err).Msg("Rendering visualization failed")
		return
	}
	if err := v.publisher.PublishImage(snap.CameraID, jpeg); err != nil {
		Logger.Warn().Int("camera", snap.CameraID).Err(err).Msg("Publishing visualization failed")
	}
}
