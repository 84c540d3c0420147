package result

// BoxRect are the pixel dimensions of the bounding box of a detected object
// in the source image
type BoxRect struct {
	Left   int
	Right  int
	Top    int
	Bottom int
}

// Width returns the horizontal size of the box in pixels
func (b BoxRect) Width() int {
	return b.Right - b.Left
}

// Height returns the vertical size of the box in pixels
func (b BoxRect) Height() int {
	return b.Bottom - b.Top
}

// Degenerate reports whether the box has no area, which happens when the
// model emits a box collapsed onto an image edge after clamping
func (b BoxRect) Degenerate() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// DetectResult defines the attributes of a single object detected by a model
type DetectResult struct {
	// Class is the line number in the labels file the Model was trained on
	// defining the Class of the detected object
	Class int
	// Box are the bounding box dimensions of the object location
	Box BoxRect
	// Probability is the confidence score of the object detected
	Probability float32
	// ID is a unique ID assigned to the detection result
	ID int64
}
