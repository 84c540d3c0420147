package postprocess

import (
	"errors"
	"fmt"

	"github.com/swdee/go-roadhazard/postprocess/result"
	"github.com/swdee/go-roadhazard/preprocess"
)

// ErrOutputShape is returned when the model output tensor does not have the
// YOLOv8 detection head layout
var ErrOutputShape = errors.New("unexpected YOLOv8 output shape")

// YOLOv8 defines the struct for YOLOv8 model inference post processing of
// the fp32 output produced by an ONNX export run through OpenCV DNN
type YOLOv8 struct {
	// Params are the Model configuration parameters
	Params YOLOv8Params
	// idGen provides the next number for each detection result ID
	idGen *result.IDGenerator
}

// YOLOv8Params defines the struct containing the YOLOv8 parameters to use
// for post processing operations
type YOLOv8Params struct {
	// BoxThreshold is the minimum probability score required for a bounding box
	// region to be considered for processing.  Per class acceptance happens
	// later so this only needs to sit below the lowest configured threshold.
	BoxThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// bounding boxes for both to be kept
	NMSThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects detected that can be
	// returned
	MaxObjectNumber int
}

// YOLOv8COCOParams returns an instance of YOLOv8Params configured with
// default values for a Model trained on the COCO dataset featuring:
// - Object Classes: 80
// - Box Threshold: 0.25
// - NMS Threshold: 0.45
// - Maximum Object Number: 64
func YOLOv8COCOParams() YOLOv8Params {
	return YOLOv8Params{
		BoxThreshold:    0.25,
		NMSThreshold:    0.45,
		ObjectClassNum:  80,
		MaxObjectNumber: 64,
	}
}

// YOLOv8RoadHazardParams returns parameters for the two class
// pothole/speedbump model.  The box threshold sits under the 0.35 pothole
// acceptance threshold.
func YOLOv8RoadHazardParams() YOLOv8Params {
	return YOLOv8Params{
		BoxThreshold:    0.20,
		NMSThreshold:    0.45,
		ObjectClassNum:  2,
		MaxObjectNumber: 64,
	}
}

// NewYOLOv8 returns an instance of the YOLOv8 post processor
func NewYOLOv8(p YOLOv8Params) *YOLOv8 {
	return &YOLOv8{
		Params: p,
		idGen:  result.NewIDGenerator(),
	}
}

// candidates holds the boxes passing the box threshold before NMS
type candidates struct {
	// boxes are packed as x, y, w, h in input tensor coordinates
	boxes    []float32
	objProbs []float32
	classID  []int
}

// DetectObjects decodes the model output tensor with dimensions
// [1, 4+classes, anchors] where each anchor column holds cx, cy, w, h
// followed by the per class scores, then maps the surviving boxes back to
// the source image through the resizer
func (y *YOLOv8) DetectObjects(data []float32, dims []int,
	resizer *preprocess.Resizer) ([]result.DetectResult, error) {

	if len(dims) != 3 || dims[0] != 1 || dims[1] != 4+y.Params.ObjectClassNum {
		return nil, fmt.Errorf("%w: got %v for %d classes", ErrOutputShape,
			dims, y.Params.ObjectClassNum)
	}

	anchors := dims[2]

	if len(data) < dims[1]*anchors {
		return nil, fmt.Errorf("%w: tensor has %d values, need %d", ErrOutputShape,
			len(data), dims[1]*anchors)
	}

	cand := &candidates{}

	for a := 0; a < anchors; a++ {

		maxScore := float32(0)
		maxClassID := -1

		for c := 0; c < y.Params.ObjectClassNum; c++ {
			score := data[(4+c)*anchors+a]

			if score > maxScore {
				maxScore = score
				maxClassID = c
			}
		}

		if maxClassID < 0 || maxScore < y.Params.BoxThreshold {
			continue
		}

		cx := data[0*anchors+a]
		cy := data[1*anchors+a]
		w := data[2*anchors+a]
		h := data[3*anchors+a]

		cand.boxes = append(cand.boxes, cx-w/2, cy-h/2, w, h)
		cand.objProbs = append(cand.objProbs, maxScore)
		cand.classID = append(cand.classID, maxClassID)
	}

	validCount := len(cand.objProbs)

	if validCount == 0 {
		return []result.DetectResult{}, nil
	}

	// indexArray keeps an index of detected objects in cand while the
	// probabilities are sorted
	indexArray := make([]int, validCount)

	for i := range indexArray {
		indexArray[i] = i
	}

	quickSortIndiceInverse(cand.objProbs, 0, validCount-1, indexArray)

	classSet := make(map[int]bool)

	for _, id := range cand.classID {
		classSet[id] = true
	}

	for c := range classSet {
		nms(validCount, cand.boxes, cand.classID, indexArray, c,
			y.Params.NMSThreshold)
	}

	group := make([]result.DetectResult, 0)

	for i := 0; i < validCount; i++ {
		if indexArray[i] == -1 || len(group) >= y.Params.MaxObjectNumber {
			continue
		}

		n := indexArray[i]

		x1 := cand.boxes[n*4+0]
		y1 := cand.boxes[n*4+1]
		x2 := x1 + cand.boxes[n*4+2]
		y2 := y1 + cand.boxes[n*4+3]

		group = append(group, result.DetectResult{
			Box:         resizer.ScaleBox(x1, y1, x2, y2),
			Probability: cand.objProbs[i],
			Class:       cand.classID[n],
			ID:          y.idGen.GetNext(),
		})
	}

	return group, nil
}
