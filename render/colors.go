package render

import "image/color"

var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}

	// HazardColor is used for road hazard model detections
	HazardColor = Green
	// GeneralColor is used for general model detections
	GeneralColor = Yellow
	// DistanceColor is used for the distance caption of general detections
	DistanceColor = Green
)
