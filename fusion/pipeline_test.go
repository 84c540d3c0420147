package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-roadhazard/postprocess/result"
	"github.com/swdee/go-roadhazard/render"
	"gocv.io/x/gocv"
)

// fakeDetector returns canned detections after an optional delay
type fakeDetector struct {
	names namer
	dets  []result.DetectResult
	err   error
	delay time.Duration
}

func fakeNamer(n namer) *fakeDetector {
	return &fakeDetector{names: n}
}

func (f *fakeDetector) ClassName(id int) string {
	return f.names.ClassName(id)
}

func (f *fakeDetector) Detect(ctx context.Context, img gocv.Mat) ([]result.DetectResult, error) {

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return f.dets, f.err
}

func box(x1, y1, x2, y2 int) result.BoxRect {
	return result.BoxRect{Left: x1, Top: y1, Right: x2, Bottom: y2}
}

func newTestPipeline(t *testing.T, hazard, general *fakeDetector, opts ...Option) *Pipeline {

	est, err := NewDistanceEstimator(nil)
	require.NoError(t, err)

	p, err := NewPipeline(hazard, general, defaultTable(t), est, opts...)
	require.NoError(t, err)

	return p
}

func blankFrame(width, height int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
}

func TestProcessScenario(t *testing.T) {

	hazard := &fakeDetector{
		names: hazardNames,
		dets: []result.DetectResult{
			{Class: 0, Probability: 0.40, Box: box(600, 500, 700, 560)},
			{Class: 1, Probability: 0.10, Box: box(100, 500, 300, 540)},
		},
	}
	general := &fakeDetector{
		names: generalNames,
		dets: []result.DetectResult{
			{Class: 0, Probability: 0.6, Box: box(100, 300, 150, 500)},
		},
	}

	p := newTestPipeline(t, hazard, general)

	frame := blankFrame(1280, 720)
	defer frame.Close()

	res, err := p.Process(context.Background(), frame)
	require.NoError(t, err)
	defer res.Close()

	require.Len(t, res.Detections, 2)

	h, ok := res.Detections[0].(HazardDetection)
	require.True(t, ok)
	assert.Equal(t, "Pothole", h.ClassName())
	assert.Equal(t, "Pothole", h.Type())
	assert.Equal(t, SourceRoad, h.Source())
	assert.True(t, h.InDriverLane())

	g, ok := res.Detections[1].(GeneralDetection)
	require.True(t, ok)
	assert.Equal(t, "person", g.ClassName())
	assert.Equal(t, SourceStandard, g.Source())
	assert.InDelta(t, 10.0, g.Distance, 1e-9)
	assert.False(t, g.InDriverLane())

	assert.Equal(t, 2, res.HazardCount)
	assert.Equal(t, 1, res.DriverLaneHazardCount)
	assert.True(t, res.PotholeDetected)

	require.Len(t, res.Distances, 1)
	assert.Equal(t, DistanceRecord{
		Class:        "person",
		Distance:     10.0,
		BBox:         [4]int{100, 300, 150, 500},
		InDriverLane: false,
	}, res.Distances[0])

	require.NotNil(t, res.Image)
	assert.Equal(t, 1280, res.Image.Cols())
	assert.Equal(t, 720, res.Image.Rows())
	assert.Equal(t, 1280, res.Width)
	assert.Equal(t, 720, res.Height)

	// the source frame is left untouched
	px := frame.GetVecbAt(560, 650)
	assert.Equal(t, uint8(0), px[1])

	// the annotated copy has the hazard box drawn in green
	px = res.Image.GetVecbAt(560, 650)
	assert.Equal(t, uint8(255), px[1])
}

func TestProcessRejectsLowConfidenceHazard(t *testing.T) {

	hazard := &fakeDetector{
		names: hazardNames,
		dets:  []result.DetectResult{{Class: 1, Probability: 0.10, Box: box(600, 500, 700, 560)}},
	}

	p := newTestPipeline(t, hazard, fakeNamer(generalNames))

	frame := blankFrame(1280, 720)
	defer frame.Close()

	res, err := p.Process(context.Background(), frame)
	require.NoError(t, err)
	defer res.Close()

	assert.Empty(t, res.Detections)
	assert.Equal(t, 0, res.HazardCount)
	assert.False(t, res.PotholeDetected)
}

func TestProcessMergeOrder(t *testing.T) {

	// the general model answers first but road hazards still lead
	hazard := &fakeDetector{
		names: hazardNames,
		delay: 30 * time.Millisecond,
		dets:  []result.DetectResult{{ID: 1, Class: 1, Probability: 0.9, Box: box(10, 10, 60, 60)}},
	}
	general := &fakeDetector{
		names: generalNames,
		dets:  []result.DetectResult{{ID: 2, Class: 19, Probability: 0.9, Box: box(600, 300, 680, 400)}},
	}

	p := newTestPipeline(t, hazard, general)

	frame := blankFrame(1280, 720)
	defer frame.Close()

	res, err := p.Process(context.Background(), frame)
	require.NoError(t, err)
	defer res.Close()

	require.Len(t, res.Detections, 2)
	assert.Equal(t, SourceRoad, res.Detections[0].Source())
	assert.Equal(t, SourceStandard, res.Detections[1].Source())
}

func TestProcessDetectorFailure(t *testing.T) {

	boom := errors.New("cuda out of memory")

	hazard := fakeNamer(hazardNames)
	general := &fakeDetector{names: generalNames, err: boom}

	p := newTestPipeline(t, hazard, general)

	frame := blankFrame(640, 480)
	defer frame.Close()

	res, err := p.Process(context.Background(), frame)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrDetectorFailure))
	assert.True(t, errors.Is(err, boom))
}

func TestProcessDetectTimeout(t *testing.T) {

	hazard := &fakeDetector{names: hazardNames, delay: time.Second}

	p := newTestPipeline(t, hazard, fakeNamer(generalNames),
		WithDetectTimeout(20*time.Millisecond))

	frame := blankFrame(640, 480)
	defer frame.Close()

	start := time.Now()
	_, err := p.Process(context.Background(), frame)

	assert.True(t, errors.Is(err, ErrDetectorFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProcessEmptyFrame(t *testing.T) {

	p := newTestPipeline(t, fakeNamer(hazardNames), fakeNamer(generalNames))

	frame := gocv.NewMat()
	defer frame.Close()

	_, err := p.Process(context.Background(), frame)
	assert.True(t, errors.Is(err, ErrEmptyFrame))
}

func TestFuseLaneScenario(t *testing.T) {

	p := newTestPipeline(t, fakeNamer(hazardNames), fakeNamer(generalNames))

	res := p.Fuse(nil, []result.DetectResult{
		{Class: 19, Probability: 0.8, Box: box(600, 300, 680, 400)},
		{Class: 16, Probability: 0.8, Box: box(80, 300, 120, 400)},
	}, 1280)

	require.Len(t, res.Detections, 2)
	assert.Equal(t, "cow", res.Detections[0].ClassName())
	assert.True(t, res.Detections[0].InDriverLane())
	assert.Equal(t, "dog", res.Detections[1].ClassName())
	assert.False(t, res.Detections[1].InDriverLane())
	assert.Equal(t, 1, res.DriverLaneHazardCount)

	// dog 0.4m wide over 40px
	assert.InDelta(t, 10.0, res.Distances[1].Distance, 1e-9)
	assert.Nil(t, res.Image)
}

func TestFuseCountInvariants(t *testing.T) {

	p := newTestPipeline(t, fakeNamer(hazardNames), fakeNamer(generalNames))

	hazards := make([]result.DetectResult, 0)
	general := make([]result.DetectResult, 0)

	for i := 0; i < 12; i++ {
		x := i * 100
		hazards = append(hazards, result.DetectResult{Class: i % 3, Probability: float32(i) / 12, Box: box(x, 10, x+40, 50)})
		general = append(general, result.DetectResult{Class: []int{0, 2, 16, 19}[i%4], Probability: float32(12-i) / 12, Box: box(x, 100, x+30, 200)})
	}

	res := p.Fuse(hazards, general, 1280)

	assert.Equal(t, len(res.Detections), res.HazardCount)
	assert.LessOrEqual(t, res.DriverLaneHazardCount, res.HazardCount)

	distanceBearing := 0
	for _, d := range res.Detections {
		if _, ok := d.(GeneralDetection); ok {
			distanceBearing++
		}
	}
	assert.Equal(t, distanceBearing, len(res.Distances))

	// once a general detection appears no road hazard follows it
	seenGeneral := false
	for _, d := range res.Detections {
		if d.Source() == SourceStandard {
			seenGeneral = true
		} else {
			assert.False(t, seenGeneral, "road hazard after general detection")
		}
	}
}

func TestFusePotholeCaseInsensitive(t *testing.T) {

	hazard := fakeNamer(namer{0: "POTHOLE", 1: "Speedbump"})
	p := newTestPipeline(t, hazard, fakeNamer(generalNames))

	res := p.Fuse([]result.DetectResult{{Class: 0, Probability: 0.5, Box: box(0, 0, 10, 10)}}, nil, 640)
	assert.True(t, res.PotholeDetected)
	assert.Equal(t, PotholeType, res.Metadata().HazardType)

	res = p.Fuse([]result.DetectResult{{Class: 1, Probability: 0.9, Box: box(0, 0, 10, 10)}}, nil, 640)
	assert.False(t, res.PotholeDetected)
	assert.Equal(t, "", res.Metadata().HazardType)
}

func TestMetadataJSON(t *testing.T) {

	p := newTestPipeline(t, fakeNamer(hazardNames), fakeNamer(generalNames))

	res := p.Fuse(nil, nil, 640)

	buf, err := json.Marshal(res.Metadata())
	require.NoError(t, err)
	assert.JSONEq(t, `{"hazard_count":0,"driver_lane_hazard_count":0,"hazard_distances":[],"hazard_type":""}`, string(buf))

	res = p.Fuse(
		[]result.DetectResult{{Class: 0, Probability: 0.9, Box: box(300, 10, 400, 50)}},
		[]result.DetectResult{{Class: 0, Probability: 0.9, Box: box(300, 100, 350, 200)}},
		640)

	buf, err = json.Marshal(res.Metadata())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"hazard_count": 2,
		"driver_lane_hazard_count": 2,
		"hazard_distances": [{"class":"person","distance":10,"bbox":[300,100,350,200],"inDriverLane":true}],
		"hazard_type": "pothole"
	}`, string(buf))
}

func TestAnnotations(t *testing.T) {

	p := newTestPipeline(t, fakeNamer(hazardNames), fakeNamer(generalNames))

	res := p.Fuse(
		[]result.DetectResult{{Class: 1, Probability: 0.9, Box: box(10, 10, 60, 60)}},
		[]result.DetectResult{{Class: 16, Probability: 0.9, Box: box(100, 100, 140, 200)}},
		640)

	anns := Annotations(res)
	require.Len(t, anns, 2)

	assert.Equal(t, "Speedbump", anns[0].Label)
	assert.Equal(t, render.HazardColor, anns[0].Color)
	assert.Empty(t, anns[0].Caption)

	assert.Equal(t, "dog", anns[1].Label)
	assert.Equal(t, render.GeneralColor, anns[1].Color)
	assert.Equal(t, "10.0m", anns[1].Caption)
}

func TestNewPipelineValidation(t *testing.T) {

	est, err := NewDistanceEstimator(nil)
	require.NoError(t, err)

	_, err = NewPipeline(nil, fakeNamer(generalNames), defaultTable(t), est)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewPipeline(fakeNamer(hazardNames), fakeNamer(generalNames), ThresholdTable{}, est)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewPipeline(fakeNamer(hazardNames), fakeNamer(generalNames), defaultTable(t), nil)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
