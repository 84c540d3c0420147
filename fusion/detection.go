package fusion

import (
	"strings"

	"github.com/swdee/go-roadhazard/postprocess/result"
	"gocv.io/x/gocv"
)

// Source identifies the model a detection came from
type Source string

const (
	SourceRoad     Source = "road"
	SourceStandard Source = "standard"
)

// PotholeType is the hazard type reported when a pothole is in frame
const PotholeType = "pothole"

// Detection is an accepted detection, either a HazardDetection from the road
// hazard model or a GeneralDetection from the general model
type Detection interface {
	Source() Source
	ClassName() string
	BoundingBox() result.BoxRect
	Confidence() float32
	InDriverLane() bool

	detection()
}

// HazardDetection is an accepted pothole or speedbump.  Its class name is
// also its hazard type.
type HazardDetection struct {
	Box     result.BoxRect
	Score   float32
	ClassID int
	Class   string
	InLane  bool
}

func (h HazardDetection) Source() Source              { return SourceRoad }
func (h HazardDetection) ClassName() string           { return h.Class }
func (h HazardDetection) BoundingBox() result.BoxRect { return h.Box }
func (h HazardDetection) Confidence() float32         { return h.Score }
func (h HazardDetection) InDriverLane() bool          { return h.InLane }
func (h HazardDetection) detection()                  {}

// Type returns the hazard type
func (h HazardDetection) Type() string {
	return h.Class
}

// IsPothole reports whether the hazard is a pothole, ignoring case
func (h HazardDetection) IsPothole() bool {
	return strings.EqualFold(h.Class, PotholeType)
}

// GeneralDetection is an accepted person, dog or cow with its estimated
// distance in meters
type GeneralDetection struct {
	Box      result.BoxRect
	Score    float32
	ClassID  int
	Class    string
	InLane   bool
	Distance float64
}

func (g GeneralDetection) Source() Source              { return SourceStandard }
func (g GeneralDetection) ClassName() string           { return g.Class }
func (g GeneralDetection) BoundingBox() result.BoxRect { return g.Box }
func (g GeneralDetection) Confidence() float32         { return g.Score }
func (g GeneralDetection) InDriverLane() bool          { return g.InLane }
func (g GeneralDetection) detection()                  {}

// DistanceRecord is the distance summary of one GeneralDetection
type DistanceRecord struct {
	Class        string  `json:"class"`
	Distance     float64 `json:"distance"`
	BBox         [4]int  `json:"bbox"`
	InDriverLane bool    `json:"inDriverLane"`
}

// newDistanceRecord summarises a general detection
func newDistanceRecord(g GeneralDetection) DistanceRecord {
	return DistanceRecord{
		Class:        g.Class,
		Distance:     g.Distance,
		BBox:         [4]int{g.Box.Left, g.Box.Top, g.Box.Right, g.Box.Bottom},
		InDriverLane: g.InLane,
	}
}

// FrameResult is everything produced for one frame.  Detections hold the
// road hazards first followed by the general detections.
type FrameResult struct {
	Detections            []Detection
	HazardCount           int
	DriverLaneHazardCount int
	Distances             []DistanceRecord
	PotholeDetected       bool
	// Image is the annotated copy of the frame, it is nil when the result
	// came from Fuse rather than Process
	Image *gocv.Mat
	// Width and Height of the frame in pixels
	Width  int
	Height int
}

// Metadata is the hazard summary sent to the client alongside each frame
type Metadata struct {
	HazardCount           int              `json:"hazard_count"`
	DriverLaneHazardCount int              `json:"driver_lane_hazard_count"`
	HazardDistances       []DistanceRecord `json:"hazard_distances"`
	HazardType            string           `json:"hazard_type"`
}

// Metadata returns the client summary of the frame
func (r *FrameResult) Metadata() Metadata {

	m := Metadata{
		HazardCount:           r.HazardCount,
		DriverLaneHazardCount: r.DriverLaneHazardCount,
		HazardDistances:       r.Distances,
	}

	if m.HazardDistances == nil {
		m.HazardDistances = []DistanceRecord{}
	}

	if r.PotholeDetected {
		m.HazardType = PotholeType
	}

	return m
}

// Close frees the annotated image
func (r *FrameResult) Close() error {

	if r.Image == nil {
		return nil
	}

	err := r.Image.Close()
	r.Image = nil

	return err
}
