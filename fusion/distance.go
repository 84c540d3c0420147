package fusion

import (
	"fmt"
)

// FallbackClass is the class whose known width is used for objects without
// a registered width
const FallbackClass = "person"

// CameraParameters describe the pinhole camera model used for apparent size
// distance estimation
type CameraParameters struct {
	// FocalLength of the camera in pixels
	FocalLength float64
	// KnownWidth is the typical real world width in meters of each object
	// class
	KnownWidth map[string]float64
}

// DefaultCameraParameters returns an approximate focal length and average
// widths for people, dogs and cows
func DefaultCameraParameters() CameraParameters {
	return CameraParameters{
		FocalLength: 1000,
		KnownWidth: map[string]float64{
			"person": 0.5,
			"dog":    0.4,
			"cow":    0.8,
		},
	}
}

// Validate checks the focal length and widths are positive and that the
// fallback class has a width
func (c CameraParameters) Validate() error {

	if c.FocalLength <= 0 {
		return fmt.Errorf("%w: focal length must be positive, got %v",
			ErrConfiguration, c.FocalLength)
	}

	if _, ok := c.KnownWidth[FallbackClass]; !ok {
		return fmt.Errorf("%w: known width for %q is required",
			ErrConfiguration, FallbackClass)
	}

	for class, w := range c.KnownWidth {
		if w <= 0 {
			return fmt.Errorf("%w: known width of %q must be positive, got %v",
				ErrConfiguration, class, w)
		}
	}

	return nil
}

// DistanceEstimator estimates the distance to an object from the width of
// its bounding box, assuming it is viewed face on through an undistorted
// lens
type DistanceEstimator struct {
	focalLength float64
	knownWidth  map[string]float64
}

// NewDistanceEstimator returns an estimator for the given camera, or the
// default camera when params is nil.  The parameters are copied.
func NewDistanceEstimator(params *CameraParameters) (*DistanceEstimator, error) {

	p := DefaultCameraParameters()

	if params != nil {
		p = *params
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	widths := make(map[string]float64, len(p.KnownWidth))

	for class, w := range p.KnownWidth {
		widths[class] = w
	}

	return &DistanceEstimator{
		focalLength: p.FocalLength,
		knownWidth:  widths,
	}, nil
}

// EstimateDistance returns the distance in meters to an object of the given
// class spanning bboxWidth pixels.  Classes without a known width are
// treated as a person.  frameWidth does not enter the pinhole formula, it
// must be positive as the box is measured in that frame.
func (d *DistanceEstimator) EstimateDistance(class string, bboxWidth, frameWidth float64) (float64, error) {

	if bboxWidth <= 0 {
		return 0, fmt.Errorf("%w: box width %v", ErrDegenerateGeometry, bboxWidth)
	}

	if frameWidth <= 0 {
		return 0, fmt.Errorf("%w: frame width %v", ErrDegenerateGeometry, frameWidth)
	}

	known, ok := d.knownWidth[class]

	if !ok {
		known = d.knownWidth[FallbackClass]
	}

	return known * d.focalLength / bboxWidth, nil
}

// FocalLength returns the focal length in pixels
func (d *DistanceEstimator) FocalLength() float64 {
	return d.focalLength
}
