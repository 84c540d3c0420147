package fusion

import (
	"fmt"
	"strings"

	"github.com/swdee/go-roadhazard/postprocess/result"
)

// GeneralThreshold is the confidence every general detection must reach.
// The general model does not use the ThresholdTable.
const GeneralThreshold = 0.50

// generalClasses are the only general model classes that count as hazards
var generalClasses = map[string]bool{
	"person": true,
	"dog":    true,
	"cow":    true,
}

// GeneralClassAllowed reports whether the general model class is one of
// person, dog or cow
func GeneralClassAllowed(name string) bool {
	return generalClasses[name]
}

// HazardKey returns the ThresholdTable key of a road hazard model class ID
func HazardKey(classID int) string {
	return fmt.Sprintf("class_%d", classID)
}

// ThresholdTable maps class keys to their minimum acceptance confidence.
// Road hazard classes are keyed by HazardKey, general classes by name.
type ThresholdTable struct {
	thresholds map[string]float64
}

// DefaultThresholds returns the thresholds the models were tuned with
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		"class_0": 0.35, // pothole
		"class_1": 0.65, // speedbump
		"person":  0.50,
		"dog":     0.50,
		"cow":     0.50,
	}
}

// NewThresholdTable validates and copies the thresholds.  Every value must
// lie within [0,1] and at least one road hazard class must be present.
func NewThresholdTable(thresholds map[string]float64) (ThresholdTable, error) {

	table := make(map[string]float64, len(thresholds))
	hazardKeys := 0

	for key, v := range thresholds {
		if v < 0 || v > 1 {
			return ThresholdTable{}, fmt.Errorf("%w: threshold %q must be within [0,1], got %v",
				ErrConfiguration, key, v)
		}

		if strings.HasPrefix(key, "class_") {
			hazardKeys++
		}

		table[key] = v
	}

	if hazardKeys == 0 {
		return ThresholdTable{}, fmt.Errorf("%w: no road hazard class thresholds configured",
			ErrConfiguration)
	}

	return ThresholdTable{thresholds: table}, nil
}

// Lookup returns the threshold of the class key
func (t ThresholdTable) Lookup(key string) (float64, bool) {
	v, ok := t.thresholds[key]
	return v, ok
}

// MinHazard returns the lowest road hazard class threshold
func (t ThresholdTable) MinHazard() float64 {

	lowest := 1.0

	for key, v := range t.thresholds {
		if strings.HasPrefix(key, "class_") && v < lowest {
			lowest = v
		}
	}

	return lowest
}

// Len returns the number of configured classes
func (t ThresholdTable) Len() int {
	return len(t.thresholds)
}

// accepts compares in float32 as the models report float32 confidences and
// a score equal to the configured threshold must pass
func accepts(prob float32, threshold float64) bool {
	return prob >= float32(threshold)
}

// FilterHazard returns the road hazard detections reaching the threshold of
// their class, in input order.  Class IDs missing from the table and boxes
// without area are rejected.
func FilterHazard(raw []result.DetectResult, table ThresholdTable) []result.DetectResult {

	accepted := make([]result.DetectResult, 0, len(raw))

	for _, det := range raw {
		threshold, ok := table.Lookup(HazardKey(det.Class))

		if !ok || !accepts(det.Probability, threshold) || det.Box.Degenerate() {
			continue
		}

		accepted = append(accepted, det)
	}

	return accepted
}

// FilterGeneral returns the general detections that are a person, dog or cow
// with confidence of at least GeneralThreshold, in input order.  Boxes
// without area are rejected.
func FilterGeneral(raw []result.DetectResult, names ClassNamer) []result.DetectResult {

	accepted := make([]result.DetectResult, 0, len(raw))

	for _, det := range raw {
		if !GeneralClassAllowed(names.ClassName(det.Class)) ||
			!accepts(det.Probability, GeneralThreshold) || det.Box.Degenerate() {
			continue
		}

		accepted = append(accepted, det)
	}

	return accepted
}
