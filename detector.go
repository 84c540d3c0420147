package roadhazard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard/postprocess"
	"github.com/swdee/go-roadhazard/postprocess/result"
	"github.com/swdee/go-roadhazard/preprocess"
	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when asked to detect objects on an empty Mat
var ErrEmptyFrame = errors.New("empty frame")

// DetectorConfig defines the Model and runtime settings of a Detector
type DetectorConfig struct {
	// Name identifies the detector in logs, eg: "road" or "standard"
	Name string
	// ModelFile is the YOLOv8 ONNX export to load
	ModelFile string
	// LabelFile is a text file of class names, one per line, in class ID order
	LabelFile string
	// InputSize is the square input tensor size the Model was exported with
	InputSize int
	// PoolSize is the number of Model instances to load
	PoolSize int
	// Device selects the inference backend
	Device Device
	// Params are the post processing parameters.  ObjectClassNum is taken
	// from the labels file when left at zero.
	Params postprocess.YOLOv8Params
	// Buffers recycles output tensor buffers, a pool is created when nil.
	// A pool may be shared by detectors with different names.
	Buffers *BufferPool
}

// Detector runs a YOLOv8 Model over camera frames
type Detector struct {
	name      string
	pool      *Pool
	labels    []string
	yolo      *postprocess.YOLOv8
	inputSize int
	bufs      *BufferPool
	log       zerolog.Logger
}

// NewDetector loads the labels and a pool of Model instances
func NewDetector(cfg DetectorConfig, log zerolog.Logger) (*Detector, error) {

	labels, err := LoadLabels(cfg.LabelFile)

	if err != nil {
		return nil, fmt.Errorf("%s detector: %w", cfg.Name, err)
	}

	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}

	if cfg.Params.ObjectClassNum == 0 {
		cfg.Params.ObjectClassNum = len(labels)
	}

	if cfg.Buffers == nil {
		cfg.Buffers = NewBufferPool()
	}

	err = cfg.Buffers.Create(cfg.Name,
		yolov8OutputSize(cfg.InputSize, cfg.Params.ObjectClassNum))

	if err != nil {
		return nil, fmt.Errorf("%s detector: %w", cfg.Name, err)
	}

	pool, err := NewPool(cfg.PoolSize, cfg.ModelFile, cfg.Device)

	if err != nil {
		return nil, fmt.Errorf("%s detector: %w", cfg.Name, err)
	}

	d := &Detector{
		name:      cfg.Name,
		pool:      pool,
		labels:    labels,
		yolo:      postprocess.NewYOLOv8(cfg.Params),
		inputSize: cfg.InputSize,
		bufs:      cfg.Buffers,
		log:       log.With().Str("detector", cfg.Name).Logger(),
	}

	d.log.Info().
		Str("model", cfg.ModelFile).
		Str("device", string(cfg.Device)).
		Int("pool", pool.Size()).
		Int("classes", len(labels)).
		Msg("model loaded")

	return d, nil
}

// outcome carries the result of an inference run back to Detect
type outcome struct {
	dets []result.DetectResult
	err  error
}

// Detect runs the Model over the BGR frame and returns the raw detections
// in frame pixel coordinates.  A net is taken from the pool before any
// tensor is allocated, so while every net is busy Detect waits on ctx alone.
// The forward pass runs on its own goroutine so an expired context returns
// immediately, the net is handed back once the pass finishes.
func (d *Detector) Detect(ctx context.Context, img gocv.Mat) ([]result.DetectResult, error) {

	if img.Empty() {
		return nil, ErrEmptyFrame
	}

	start := time.Now()

	net, err := d.pool.Get(ctx)

	if err != nil {
		return nil, fmt.Errorf("%s detector: %w", d.name, err)
	}

	// the blob and resizer are owned by the inference goroutine so the
	// caller is free to release the frame as soon as Detect returns
	resizer := preprocess.NewResizer(img.Cols(), img.Rows(), d.inputSize, d.inputSize)
	blob := resizer.Blob(img)

	done := make(chan outcome, 1)

	go func() {
		defer resizer.Close()
		defer blob.Close()

		data, dims, err := net.Forward(blob, func(size int) []float32 {
			return d.bufs.Get(d.name, size)
		})
		d.pool.Return(net)

		if err != nil {
			done <- outcome{err: err}
			return
		}

		dets, err := d.yolo.DetectObjects(data, dims, resizer)
		d.bufs.Put(d.name, data)

		d.log.Trace().
			Dur("elapsed", time.Since(start)).
			Int("detections", len(dets)).
			Msg("inference")

		done <- outcome{dets: dets, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.dets, out.err
	}
}

// ClassName returns the label of the class ID, or "class_<id>" when the
// ID is outside the labels file
func (d *Detector) ClassName(id int) string {

	if id >= 0 && id < len(d.labels) {
		return d.labels[id]
	}

	return fmt.Sprintf("class_%d", id)
}

// Labels returns the class names the Model was trained on
func (d *Detector) Labels() []string {
	return d.labels
}

// Close releases all Model instances
func (d *Detector) Close() error {
	d.pool.Close()
	return nil
}
