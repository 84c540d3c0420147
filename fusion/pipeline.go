package fusion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard/postprocess/result"
	"github.com/swdee/go-roadhazard/render"
	"golang.org/x/sync/errgroup"
	"gocv.io/x/gocv"
)

// ClassNamer resolves a model class ID to its name
type ClassNamer interface {
	ClassName(id int) string
}

// Detector is a model run over a whole frame
type Detector interface {
	ClassNamer
	// Detect returns the raw detections in frame pixel coordinates
	Detect(ctx context.Context, img gocv.Mat) ([]result.DetectResult, error)
}

// Pipeline fuses the output of the road hazard and general models for each
// frame.  It holds no per frame state so a single Pipeline may process
// frames from several streams concurrently.
type Pipeline struct {
	hazard     Detector
	general    Detector
	thresholds ThresholdTable
	estimator  *DistanceEstimator
	// timeout bounds each detector call, zero means no limit
	timeout       time.Duration
	font          render.Font
	lineThickness int
	log           zerolog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDetectTimeout bounds how long each detector may take on a frame
func WithDetectTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithFont sets the font labels are rendered with
func WithFont(font render.Font) Option {
	return func(p *Pipeline) {
		p.font = font
	}
}

// NewPipeline returns a Pipeline over the two detectors
func NewPipeline(hazard, general Detector, thresholds ThresholdTable,
	estimator *DistanceEstimator, opts ...Option) (*Pipeline, error) {

	if hazard == nil || general == nil {
		return nil, fmt.Errorf("%w: both detectors are required", ErrConfiguration)
	}

	if thresholds.Len() == 0 {
		return nil, fmt.Errorf("%w: threshold table is empty", ErrConfiguration)
	}

	if estimator == nil {
		return nil, fmt.Errorf("%w: distance estimator is required", ErrConfiguration)
	}

	p := &Pipeline{
		hazard:        hazard,
		general:       general,
		thresholds:    thresholds,
		estimator:     estimator,
		font:          render.DefaultFont(),
		lineThickness: 2,
		log:           zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Process runs both detectors over the frame, fuses their detections and
// returns the result with an annotated copy of the frame.  The frame is
// only read.  A failure of either detector fails the frame.
func (p *Pipeline) Process(ctx context.Context, frame gocv.Mat) (*FrameResult, error) {

	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	var hazardRaw, generalRaw []result.DetectResult

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		hazardRaw, err = p.detect(gctx, p.hazard, SourceRoad, frame)
		return err
	})

	g.Go(func() error {
		var err error
		generalRaw, err = p.detect(gctx, p.general, SourceStandard, frame)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := p.Fuse(hazardRaw, generalRaw, frame.Cols())
	res.Height = frame.Rows()

	vis := frame.Clone()
	render.Annotations(&vis, Annotations(res), p.font, p.lineThickness)
	res.Image = &vis

	p.log.Debug().
		Int("raw_hazards", len(hazardRaw)).
		Int("raw_general", len(generalRaw)).
		Int("hazards", res.HazardCount).
		Int("in_lane", res.DriverLaneHazardCount).
		Bool("pothole", res.PotholeDetected).
		Msg("frame processed")

	return res, nil
}

// detect runs one detector under the configured timeout
func (p *Pipeline) detect(ctx context.Context, d Detector, source Source,
	frame gocv.Mat) ([]result.DetectResult, error) {

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	dets, err := d.Detect(ctx, frame)

	if err != nil {
		return nil, fmt.Errorf("%w: %s model: %w", ErrDetectorFailure, source, err)
	}

	return dets, nil
}

// Fuse filters and merges the raw detections of both models for a frame of
// the given width.  Road hazards are placed before general detections
// regardless of which model finished first.  The returned result has no
// image.
func (p *Pipeline) Fuse(hazardRaw, generalRaw []result.DetectResult,
	frameWidth int) *FrameResult {

	fw := float64(frameWidth)

	hazards := FilterHazard(hazardRaw, p.thresholds)
	general := FilterGeneral(generalRaw, p.general)

	res := &FrameResult{
		Detections: make([]Detection, 0, len(hazards)+len(general)),
		Distances:  make([]DistanceRecord, 0, len(general)),
		Width:      frameWidth,
	}

	for _, det := range hazards {
		h := HazardDetection{
			Box:     det.Box,
			Score:   det.Probability,
			ClassID: det.Class,
			Class:   p.hazard.ClassName(det.Class),
			InLane:  InLane(float64(det.Box.Left), float64(det.Box.Right), fw),
		}

		if h.IsPothole() {
			res.PotholeDetected = true
		}

		res.Detections = append(res.Detections, h)
	}

	for _, det := range general {
		name := p.general.ClassName(det.Class)

		dist, err := p.estimator.EstimateDistance(name, float64(det.Box.Width()), fw)

		if err != nil {
			p.log.Debug().Err(err).Str("class", name).Msg("dropped detection")
			continue
		}

		g := GeneralDetection{
			Box:      det.Box,
			Score:    det.Probability,
			ClassID:  det.Class,
			Class:    name,
			InLane:   InLane(float64(det.Box.Left), float64(det.Box.Right), fw),
			Distance: dist,
		}

		res.Detections = append(res.Detections, g)
		res.Distances = append(res.Distances, newDistanceRecord(g))
	}

	res.HazardCount = len(res.Detections)

	for _, d := range res.Detections {
		if d.InDriverLane() {
			res.DriverLaneHazardCount++
		}
	}

	return res
}

// Annotations returns the render instructions for the detections of a
// result: the class name on every box, road hazards in HazardColor, general
// detections in GeneralColor with their distance above the label
func Annotations(res *FrameResult) []render.Annotation {

	anns := make([]render.Annotation, 0, len(res.Detections))

	for _, d := range res.Detections {
		ann := render.Annotation{
			Box:   d.BoundingBox(),
			Label: d.ClassName(),
			Color: render.HazardColor,
		}

		if g, ok := d.(GeneralDetection); ok {
			ann.Color = render.GeneralColor
			ann.Caption = fmt.Sprintf("%.1fm", g.Distance)
			ann.CaptionColor = render.DistanceColor
		}

		anns = append(anns, ann)
	}

	return anns
}
