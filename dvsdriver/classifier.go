package dvsdriver

// BlinkClassifier decides which pixels blink with the configured period.
type BlinkClassifier struct {
	minimumTransitions uint32
}

func NewBlinkClassifier(params CalibrationParameters) BlinkClassifier {
	return BlinkClassifier{minimumTransitions: uint32(params.MinimumTransitionsThreshold)}
}

// Classify reports whether a pixel saw at least minimum_transitions_threshold
// consecutive in-band transitions.
func (c BlinkClassifier) Classify(p PixelTransitionState) bool {
	// cheap rejection before looking at the timing runs
	if p.Qualifying < c.minimumTransitions {
		return false
	}
	return p.BestRun >= c.minimumTransitions
}

func (c BlinkClassifier) ClassifyAll(acc *EventAccumulator) Mask {
	mask := NewMask(acc.width, acc.height)
	for i, p := range acc.pixels {
		mask.Pixels[i] = c.Classify(p)
	}
	return mask
}
