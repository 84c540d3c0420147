package postprocess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-roadhazard/postprocess/result"
	"github.com/swdee/go-roadhazard/preprocess"
)

// anchor is one column of a synthetic YOLOv8 output tensor
type anchor struct {
	cx, cy, w, h float32
	scores       []float32
}

// makeTensor packs anchors into the [1, 4+classes, anchors] layout
func makeTensor(classes int, anchors []anchor) ([]float32, []int) {

	rows := 4 + classes
	n := len(anchors)
	data := make([]float32, rows*n)

	for a, an := range anchors {
		data[0*n+a] = an.cx
		data[1*n+a] = an.cy
		data[2*n+a] = an.w
		data[3*n+a] = an.h

		for c, s := range an.scores {
			data[(4+c)*n+a] = s
		}
	}

	return data, []int{1, rows, n}
}

func TestYOLOv8DetectObjects(t *testing.T) {

	data, dims := makeTensor(2, []anchor{
		{cx: 100, cy: 100, w: 40, h: 40, scores: []float32{0.9, 0.05}},
		// overlaps the first box heavily so is suppressed
		{cx: 102, cy: 101, w: 40, h: 40, scores: []float32{0.8, 0.0}},
		{cx: 300, cy: 300, w: 20, h: 60, scores: []float32{0.1, 0.6}},
		// below box threshold
		{cx: 500, cy: 500, w: 30, h: 30, scores: []float32{0.1, 0.15}},
	})

	resizer := preprocess.NewResizer(640, 640, 640, 640)
	defer resizer.Close()

	yolo := NewYOLOv8(YOLOv8RoadHazardParams())

	dets, err := yolo.DetectObjects(data, dims, resizer)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 0, dets[0].Class)
	assert.InDelta(t, 0.9, dets[0].Probability, 1e-6)
	assert.Equal(t, result.BoxRect{Left: 80, Top: 80, Right: 120, Bottom: 120}, dets[0].Box)

	assert.Equal(t, 1, dets[1].Class)
	assert.InDelta(t, 0.6, dets[1].Probability, 1e-6)
	assert.Equal(t, result.BoxRect{Left: 290, Top: 270, Right: 310, Bottom: 330}, dets[1].Box)

	assert.NotEqual(t, dets[0].ID, dets[1].ID)
}

func TestYOLOv8NMSKeepsOtherClasses(t *testing.T) {

	// identical boxes of different classes are both kept
	data, dims := makeTensor(2, []anchor{
		{cx: 100, cy: 100, w: 40, h: 40, scores: []float32{0.7, 0.1}},
		{cx: 100, cy: 100, w: 40, h: 40, scores: []float32{0.1, 0.5}},
	})

	resizer := preprocess.NewResizer(640, 640, 640, 640)
	defer resizer.Close()

	dets, err := NewYOLOv8(YOLOv8RoadHazardParams()).DetectObjects(data, dims, resizer)
	require.NoError(t, err)
	assert.Len(t, dets, 2)
}

func TestYOLOv8MaxObjects(t *testing.T) {

	anchors := make([]anchor, 0)
	for i := 0; i < 10; i++ {
		anchors = append(anchors, anchor{
			cx: float32(30 + i*60), cy: 100, w: 20, h: 20,
			scores: []float32{0.5 + float32(i)/100, 0},
		})
	}

	data, dims := makeTensor(2, anchors)

	resizer := preprocess.NewResizer(640, 640, 640, 640)
	defer resizer.Close()

	params := YOLOv8RoadHazardParams()
	params.MaxObjectNumber = 3

	dets, err := NewYOLOv8(params).DetectObjects(data, dims, resizer)
	require.NoError(t, err)
	require.Len(t, dets, 3)

	// highest scores come first
	assert.InDelta(t, 0.59, dets[0].Probability, 1e-6)
	assert.InDelta(t, 0.58, dets[1].Probability, 1e-6)
}

func TestYOLOv8BadShape(t *testing.T) {

	resizer := preprocess.NewResizer(640, 640, 640, 640)
	defer resizer.Close()

	yolo := NewYOLOv8(YOLOv8COCOParams())

	_, err := yolo.DetectObjects(make([]float32, 6*10), []int{1, 6, 10}, resizer)
	assert.True(t, errors.Is(err, ErrOutputShape))

	_, err = yolo.DetectObjects(make([]float32, 10), []int{1, 84, 10}, resizer)
	assert.True(t, errors.Is(err, ErrOutputShape))
}

func TestCalculateOverlap(t *testing.T) {

	assert.InDelta(t, 1.0, calculateOverlap(0, 0, 10, 10, 0, 0, 10, 10), 1e-6)
	assert.InDelta(t, 0.0, calculateOverlap(0, 0, 10, 10, 50, 50, 60, 60), 1e-6)
}
