package dvsdriver

// PatternExtractor turns an accumulator into an ordered dot grid. It keeps
// the outcome of the last FindPattern call.
type PatternExtractor struct {
	params     CalibrationParameters
	classifier BlinkClassifier
	world      []Point3

	mask            Mask
	blobs           []Blob
	correspondences []Correspondence
	lastErr         error
}

func NewPatternExtractor(params CalibrationParameters) *PatternExtractor {
	return &PatternExtractor{
		params:     params,
		classifier: NewBlinkClassifier(params),
		world:      params.WorldPattern(),
	}
}

// FindPattern runs the classify, cluster and grid-fit pass. On failure no
// partial result is kept; LastError tells why.
func (x *PatternExtractor) FindPattern(acc *EventAccumulator) bool {
	x.correspondences = nil
	x.blobs = nil
	x.lastErr = nil

	x.mask = x.classifier.ClassifyAll(acc)
	blobs, err := FindBlobs(x.mask, x.params.MinimumLedMass)
	if err != nil {
		x.lastErr = err
		return false
	}
	x.blobs = blobs

	centroids := make([]Point2, len(blobs))
	for i, b := range blobs {
		centroids[i] = b.Centroid
	}
	ordered, err := FitDotGrid(centroids, x.params.DotsW, x.params.DotsH)
	if err != nil {
		x.lastErr = err
		return false
	}

	correspondences := make([]Correspondence, len(ordered))
	for k, c := range ordered {
		correspondences[k] = Correspondence{
			Row:   k / x.params.DotsW,
			Col:   k % x.params.DotsW,
			Image: c,
			World: x.world[k],
		}
	}
	x.correspondences = correspondences
	return true
}

func (x *PatternExtractor) HasPattern() bool {
	return len(x.correspondences) == x.params.DotsW*x.params.DotsH
}

// Correspondences returns a copy of the last detected grid, or nil.
func (x *PatternExtractor) Correspondences() []Correspondence {
	if !x.HasPattern() {
		return nil
	}
	return append([]Correspondence(nil), x.correspondences...)
}

func (x *PatternExtractor) Blobs() []Blob {
	return append([]Blob(nil), x.blobs...)
}

func (x *PatternExtractor) Mask() Mask {
	return x.mask
}

func (x *PatternExtractor) LastError() error {
	return x.lastErr
}

// Clear drops the last outcome.
func (x *PatternExtractor) Clear() {
	x.mask = Mask{}
	x.blobs = nil
	x.correspondences = nil
	x.lastErr = nil
}
