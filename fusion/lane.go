package fusion

const (
	// laneLeft and laneRight bound the driver's lane as fractions of the
	// frame width
	laneLeft  = 0.25
	laneRight = 0.75
)

// InLane reports whether the horizontal center of a box spanning x1 to x2
// falls within the central half of the frame, boundaries included
func InLane(x1, x2, frameWidth float64) bool {

	center := (x1 + x2) / 2

	return center >= laneLeft*frameWidth && center <= laneRight*frameWidth
}
