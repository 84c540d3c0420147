package preprocess

import (
	"image"
	"image/color"

	"github.com/swdee/go-roadhazard/postprocess/result"
	"gocv.io/x/gocv"
)

// PadColor is the grey letterbox border YOLOv8 models were trained with
var PadColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Resizer scales camera frames to the square input tensor size of a model
// and maps detected boxes back into frame coordinates.  A Resizer holds a
// scratch Mat so it must not be shared between goroutines.
type Resizer struct {
	// srcWidth is the width of the source image
	srcWidth int
	// srcHeight is the height of the source image
	srcHeight int
	// destWidth is the width to scale to
	destWidth int
	// destHeight is the height to scale to
	destHeight int
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
	// padMat holds the letterboxed image before blob conversion
	padMat gocv.Mat
	// letterbox parameters used in scaling
	xPad  int
	yPad  int
	scale float32
	// resize dimensions
	resizeW int
	resizeH int
}

// NewResizer returns a resizer used for scaling an image to the needed
// dimensions for input tensor size
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
		padMat:     gocv.NewMat(),
	}

	r.preCalc()

	return r
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	if err := r.tempMat.Close(); err != nil {
		return err
	}
	return r.padMat.Close()
}

// preCalc the scaling factors for source and destination Mats
func (r *Resizer) preCalc() {

	r.resizeW = r.destWidth
	r.resizeH = r.destHeight

	scaleW := float32(r.destWidth) / float32(r.srcWidth)
	scaleH := float32(r.destHeight) / float32(r.srcHeight)
	r.scale = scaleH

	if scaleW < scaleH {
		r.scale = scaleW
		r.resizeH = int(float32(r.srcHeight) * r.scale)
	} else {
		r.resizeW = int(float32(r.srcWidth) * r.scale)
	}

	r.yPad = (r.destHeight - r.resizeH) / 2
	r.xPad = (r.destWidth - r.resizeW) / 2
}

// LetterBoxResize resizes the input image to the dimensions needed for the
// input tensor size whilst maintaining image aspect.  Color is that used for
// letter box padding.
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, clr color.RGBA) {

	gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.yPad, r.destHeight-r.resizeH-r.yPad,
		r.xPad, r.destWidth-r.resizeW-r.xPad, gocv.BorderConstant, clr)
}

// Blob letterboxes the BGR source frame and converts it into a normalised
// NCHW RGB blob ready for a DNN forward pass.  The caller must Close the
// returned Mat.
func (r *Resizer) Blob(src gocv.Mat) gocv.Mat {

	r.LetterBoxResize(src, &r.padMat, PadColor)

	return gocv.BlobFromImage(r.padMat, 1.0/255.0,
		image.Pt(r.destWidth, r.destHeight), gocv.NewScalar(0, 0, 0, 0),
		true, false)
}

// ScaleBox maps a box given in input tensor coordinates back onto the source
// image, removing the letterbox padding and clamping to the image edges
func (r *Resizer) ScaleBox(x1, y1, x2, y2 float32) result.BoxRect {

	unpad := func(v float32, pad int, limit int) int {
		v = (v - float32(pad)) / r.scale

		if v < 0 {
			return 0
		}

		if v > float32(limit) {
			return limit
		}

		return int(v)
	}

	return result.BoxRect{
		Left:   unpad(x1, r.xPad, r.srcWidth),
		Top:    unpad(y1, r.yPad, r.srcHeight),
		Right:  unpad(x2, r.xPad, r.srcWidth),
		Bottom: unpad(y2, r.yPad, r.srcHeight),
	}
}
