// Package camera reads frames from a webcam, video file or stream URL and
// keeps the most recent one available to consumers.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

var (
	// ErrClosed is returned by Latest once the capture has been closed
	ErrClosed = errors.New("capture closed")
	// ErrOpen is returned when the frame source could not be opened
	ErrOpen = errors.New("unable to open frame source")
)

// retryDelay is the pause after a failed read on a live device
const retryDelay = 50 * time.Millisecond

// Source is the subset of gocv.VideoCapture used by Capture
type Source interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Close() error
}

// Capture continuously reads frames from a Source in a background goroutine
// and holds on to the latest one
type Capture struct {
	src  Source
	file bool
	log  zerolog.Logger

	mu     sync.Mutex
	frame  gocv.Mat
	seq    uint64
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Options for opening a Capture
type Options struct {
	// Device is a camera index such as "0" or a video file path/stream URL
	Device string
	// Width and Height request a capture resolution, zero leaves the default
	Width  int
	Height int
}

// Open opens the frame source named by opts.Device and starts reading from it
func Open(opts Options, log zerolog.Logger) (*Capture, error) {

	vc, err := gocv.OpenVideoCapture(opts.Device)

	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrOpen, opts.Device, err)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w %q", ErrOpen, opts.Device)
	}

	if opts.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	}

	if opts.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}

	return New(vc, !isDeviceIndex(opts.Device), log), nil
}

// New starts a Capture reading from src.  When file is true the source is
// rewound to the first frame on end of stream.
func New(src Source, file bool, log zerolog.Logger) *Capture {

	c := &Capture{
		src:   src,
		file:  file,
		log:   log,
		frame: gocv.NewMat(),
		done:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run()

	return c
}

// isDeviceIndex reports whether device names a camera index rather than a
// file or URL
func isDeviceIndex(device string) bool {

	if device == "" {
		return false
	}

	for _, r := range device {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// run is the reader loop
func (c *Capture) run() {

	defer c.wg.Done()

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if ok := c.src.Read(&img); !ok || img.Empty() {

			if c.file {
				// loop the video back to the start
				c.src.Set(gocv.VideoCapturePosFrames, 0)
			}

			select {
			case <-c.done:
				return
			case <-time.After(retryDelay):
			}

			continue
		}

		c.mu.Lock()
		img.CopyTo(&c.frame)
		c.seq++
		c.mu.Unlock()
	}
}

// Latest returns a copy of the most recent frame and its sequence number if
// it is newer than after.  ok is false when no newer frame exists yet.  The
// caller owns the returned Mat and must Close it.
func (c *Capture) Latest(after uint64) (frame gocv.Mat, seq uint64, ok bool, err error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return gocv.Mat{}, 0, false, ErrClosed
	}

	if c.seq == 0 || c.seq <= after {
		return gocv.Mat{}, c.seq, false, nil
	}

	return c.frame.Clone(), c.seq, true, nil
}

// Close stops the reader and releases the source
func (c *Capture) Close() error {

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()

	c.log.Debug().Uint64("frames", c.seq).Msg("capture closed")

	c.frame.Close()

	return c.src.Close()
}
