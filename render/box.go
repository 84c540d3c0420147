package render

import (
	"image"
	"image/color"

	"github.com/swdee/go-roadhazard/postprocess/result"
	"gocv.io/x/gocv"
)

// Annotation describes a detection to draw on a frame
type Annotation struct {
	// Box is the bounding box of the object
	Box result.BoxRect
	// Label is the text placed on the box, eg: the class name
	Label string
	// Color of the box and label background
	Color color.RGBA
	// Caption is optional text placed above the label, eg: a distance
	Caption string
	// CaptionColor is the text color of the caption
	CaptionColor color.RGBA
}

// boxLabel holds the precalculated details of a text label
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textClr color.RGBA
	textPos image.Point
}

// Annotations renders the bounding boxes and labels of the given
// annotations, drawn in order so later annotations paint over earlier ones
func Annotations(img *gocv.Mat, anns []Annotation, font Font, lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(anns)*2)

	for _, ann := range anns {

		rect := image.Rect(ann.Box.Left, ann.Box.Top, ann.Box.Right, ann.Box.Bottom)
		gocv.Rectangle(img, rect, ann.Color, lineThickness)

		label := placeLabel(ann.Label, ann.Box, ann.Box.Top, font, lineThickness)
		label.clr = ann.Color
		label.textClr = font.Color
		boxLabels = append(boxLabels, label)

		if ann.Caption == "" {
			continue
		}

		// stack the caption directly above the label box
		caption := placeLabel(ann.Caption, ann.Box, label.rect.Min.Y, font, lineThickness)
		caption.clr = Black
		caption.textClr = ann.CaptionColor
		boxLabels = append(boxLabels, caption)
	}

	// draw all precalculated labels last so they are the top most layer on
	// the image and don't get overlapped by neighbouring boxes
	for _, box := range boxLabels {
		gocv.Rectangle(img, box.rect, box.clr, -1)

		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, box.textClr, font.Thickness,
			font.LineType, false)
	}
}

// placeLabel calculates the label box for text whose bottom edge sits at
// baseY, aligned to the object box according to the font alignment
func placeLabel(text string, box result.BoxRect, baseY int, font Font,
	lineThickness int) boxLabel {

	textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (box.Left + box.Right) / 2

	case Right:
		centerX = box.Right - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		centerX = box.Left + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
	}

	return boxLabel{
		rect: image.Rect(centerX-textSize.X/2-font.LeftPad,
			baseY-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, baseY),
		text:    text,
		textPos: image.Pt(centerX-textSize.X/2, baseY-font.BottomPad),
	}
}
