package roadhazard

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard/config"
	"github.com/swdee/go-roadhazard/fusion"
	"github.com/swdee/go-roadhazard/postprocess"
)

// Detector names used in logs
const (
	HazardDetectorName  = "road"
	GeneralDetectorName = "standard"
)

// Detectors are the two models a Pipeline runs on each frame
type Detectors struct {
	Hazard  *Detector
	General *Detector
}

// Close releases both models
func (d *Detectors) Close() error {

	var errs []error

	if d.Hazard != nil {
		errs = append(errs, d.Hazard.Close())
	}

	if d.General != nil {
		errs = append(errs, d.General.Close())
	}

	return errors.Join(errs...)
}

// hazardParams returns the road hazard decoder parameters with the box
// threshold lowered to the smallest configured class threshold, otherwise the
// decoder would drop scores the table accepts
func hazardParams(table fusion.ThresholdTable) postprocess.YOLOv8Params {

	params := postprocess.YOLOv8RoadHazardParams()

	if lowest := float32(table.MinHazard()); lowest < params.BoxThreshold {
		params.BoxThreshold = lowest
	}

	return params
}

// LoadDetectors loads the road hazard and general models named in
// cfg.Models
func LoadDetectors(cfg *config.Config, log zerolog.Logger) (*Detectors, error) {

	table, err := cfg.ThresholdTable()

	if err != nil {
		return nil, err
	}

	models := cfg.Models

	device, err := ParseDevice(models.Device)

	if err != nil {
		return nil, err
	}

	bufs := NewBufferPool()

	hazard, err := NewDetector(DetectorConfig{
		Name:      HazardDetectorName,
		ModelFile: models.Hazard.File,
		LabelFile: models.Hazard.Labels,
		InputSize: models.Hazard.InputSize,
		PoolSize:  models.PoolSize,
		Device:    device,
		Params:    hazardParams(table),
		Buffers:   bufs,
	}, log)

	if err != nil {
		return nil, err
	}

	general, err := NewDetector(DetectorConfig{
		Name:      GeneralDetectorName,
		ModelFile: models.General.File,
		LabelFile: models.General.Labels,
		InputSize: models.General.InputSize,
		PoolSize:  models.PoolSize,
		Device:    device,
		Params:    postprocess.YOLOv8COCOParams(),
		Buffers:   bufs,
	}, log)

	if err != nil {
		hazard.Close()
		return nil, err
	}

	return &Detectors{Hazard: hazard, General: general}, nil
}

// NewPipeline builds the frame fusion pipeline over dets using the
// thresholds, camera model and timeout from cfg
func NewPipeline(cfg *config.Config, dets *Detectors,
	log zerolog.Logger) (*fusion.Pipeline, error) {

	table, err := cfg.ThresholdTable()

	if err != nil {
		return nil, err
	}

	cam := cfg.CameraParameters()

	estimator, err := fusion.NewDistanceEstimator(&cam)

	if err != nil {
		return nil, err
	}

	p, err := fusion.NewPipeline(dets.Hazard, dets.General, table, estimator,
		fusion.WithLogger(log),
		fusion.WithDetectTimeout(cfg.Models.DetectTimeout),
	)

	if err != nil {
		return nil, fmt.Errorf("error creating pipeline: %w", err)
	}

	log.Info().
		Int("thresholds", table.Len()).
		Float64("focal_length", estimator.FocalLength()).
		Dur("detect_timeout", cfg.Models.DetectTimeout).
		Msg("pipeline ready")

	return p, nil
}
