package postprocess

import (
	"math"
)

// quickSortIndiceInverse is a quick sort algorithm that sorts the objProbs
// vector in descending order and synchronously updates the indices vector to
// track the reordering of elements
func quickSortIndiceInverse(input []float32, left int, right int, indices []int) int {

	var key float32
	var keyIndex int

	low := left
	high := right

	if left < right {
		keyIndex = indices[left]
		key = input[left]

		for low < high {
			for low < high && input[high] <= key {
				high--
			}

			input[low] = input[high]
			indices[low] = indices[high]

			for low < high && input[low] >= key {
				low++
			}

			input[high] = input[low]
			indices[high] = indices[low]
		}

		input[low] = key
		indices[low] = keyIndex

		quickSortIndiceInverse(input, left, low-1, indices)
		quickSortIndiceInverse(input, low+1, right, indices)
	}

	return low
}

// nms implements a Non-Maximum Suppression (NMS) algorithm for a single
// class.  order holds indexes into boxes and classIDs sorted by descending
// score; suppressed entries are set to -1.  boxes are packed as x, y, w, h.
func nms(validCount int, boxes []float32, classIDs, order []int,
	filterID int, threshold float32) {

	for i := 0; i < validCount; i++ {

		n := order[i]

		if n == -1 || classIDs[n] != filterID {
			continue
		}

		for j := i + 1; j < validCount; j++ {
			m := order[j]

			if m == -1 || classIDs[m] != filterID {
				continue
			}

			xmin0 := boxes[n*4+0]
			ymin0 := boxes[n*4+1]
			xmax0 := xmin0 + boxes[n*4+2]
			ymax0 := ymin0 + boxes[n*4+3]

			xmin1 := boxes[m*4+0]
			ymin1 := boxes[m*4+1]
			xmax1 := xmin1 + boxes[m*4+2]
			ymax1 := ymin1 + boxes[m*4+3]

			iou := calculateOverlap(xmin0, ymin0, xmax0, ymax0, xmin1, ymin1, xmax1, ymax1)

			if iou > threshold {
				order[j] = -1
			}
		}
	}
}

// calculateOverlap works out the Intersection of Union (IoU) value of two
// boxes dimensions
func calculateOverlap(xmin0, ymin0, xmax0, ymax0, xmin1, ymin1,
	xmax1, ymax1 float32) float32 {

	w := math.Max(0.0, math.Min(float64(xmax0), float64(xmax1))-math.Max(float64(xmin0), float64(xmin1))+1.0)
	h := math.Max(0.0, math.Min(float64(ymax0), float64(ymax1))-math.Max(float64(ymin0), float64(ymin1))+1.0)
	intersection := w * h

	// inclusive pixel areas
	area0 := (xmax0 - xmin0 + 1) * (ymax0 - ymin0 + 1)
	area1 := (xmax1 - xmin1 + 1) * (ymax1 - ymin1 + 1)

	union := area0 + area1 - float32(intersection)

	if union <= 0 {
		return 0.0
	}

	return float32(intersection) / union
}
