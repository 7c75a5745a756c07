package dvsdriver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CalibrationParameters are loaded once and never change during a session.
type CalibrationParameters struct {
	BlinkingTimeUs              int     `json:"blinking_time_us"`
	BlinkingTimeTolerance       int     `json:"blinking_time_tolerance"`
	EnoughTransitionsThreshold  int     `json:"enough_transitions_threshold"`
	MinimumTransitionsThreshold int     `json:"minimum_transitions_threshold"`
	MinimumLedMass              int     `json:"minimum_led_mass"`
	DotsW                       int     `json:"dots_w"`
	DotsH                       int     `json:"dots_h"`
	DotDistance                 float64 `json:"dot_distance"`
	PatternSearchTimeout        float64 `json:"pattern_search_timeout"` // seconds

	SensorWidth  int `json:"sensor_width"`
	SensorHeight int `json:"sensor_height"`
	NumCameras   int `json:"num_cameras"`
}

var ErrInvalidParameters = errors.New("invalid calibration parameters")

func DefaultParameters() CalibrationParameters {
	return CalibrationParameters{
		BlinkingTimeUs:              1000,
		BlinkingTimeTolerance:       500,
		EnoughTransitionsThreshold:  200,
		MinimumTransitionsThreshold: 10,
		MinimumLedMass:              50,
		DotsW:                       5,
		DotsH:                       5,
		DotDistance:                 0.05,
		PatternSearchTimeout:        2.0,
		SensorWidth:                 346,
		SensorHeight:                260,
		NumCameras:                  1,
	}
}

// LoadParameters reads a JSON parameter file. Keys missing from the file keep
// their default values.
func LoadParameters(path string) (CalibrationParameters, error) {
	params := DefaultParameters()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return params, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return params, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return params, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return params, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// ParametersFromEnv loads the file named by DVS_CALIBRATION_CONFIG, or the
// defaults when the variable is unset.
func ParametersFromEnv() (CalibrationParameters, error) {
	path := os.Getenv("DVS_CALIBRATION_CONFIG")
	if path == "" {
		params := DefaultParameters()
		return params, params.Validate()
	}
	Logger.Info().Str("path", path).Msg("Loading calibration parameters from DVS_CALIBRATION_CONFIG")
	return LoadParameters(path)
}

func (p CalibrationParameters) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"blinking_time_us", float64(p.BlinkingTimeUs)},
		{"enough_transitions_threshold", float64(p.EnoughTransitionsThreshold)},
		{"minimum_transitions_threshold", float64(p.MinimumTransitionsThreshold)},
		{"minimum_led_mass", float64(p.MinimumLedMass)},
		{"dots_w", float64(p.DotsW)},
		{"dots_h", float64(p.DotsH)},
		{"dot_distance", p.DotDistance},
		{"pattern_search_timeout", p.PatternSearchTimeout},
		{"sensor_width", float64(p.SensorWidth)},
		{"sensor_height", float64(p.SensorHeight)},
		{"num_cameras", float64(p.NumCameras)},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidParameters, f.name, f.value)
		}
	}
	if p.BlinkingTimeTolerance < 0 {
		return fmt.Errorf("%w: blinking_time_tolerance must not be negative, got %d", ErrInvalidParameters, p.BlinkingTimeTolerance)
	}
	if p.SensorWidth > 1<<16 || p.SensorHeight > 1<<16 {
		return fmt.Errorf("%w: sensor %dx%d exceeds event coordinate range", ErrInvalidParameters, p.SensorWidth, p.SensorHeight)
	}
	return nil
}

func (p CalibrationParameters) SearchTimeout() time.Duration {
	return time.Duration(p.PatternSearchTimeout * float64(time.Second))
}

// WorldPattern returns the target's dot positions in row-major order, Z=0.
func (p CalibrationParameters) WorldPattern() []Point3 {
	world := make([]Point3, 0, p.DotsH*p.DotsW)
	for i := 0; i < p.DotsH; i++ {
		for j := 0; j < p.DotsW; j++ {
			world = append(world, Point3{
				X: float64(i) * p.DotDistance,
				Y: float64(j) * p.DotDistance,
				Z: 0,
			})
		}
	}
	return world
}
