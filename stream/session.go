// Package stream serves processed camera frames to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard/fusion"
	"gocv.io/x/gocv"
)

// FrameSource provides the most recent camera frame
type FrameSource interface {
	// Latest returns a frame newer than sequence after, ok is false when
	// there is none.  The caller owns the returned Mat.
	Latest(after uint64) (frame gocv.Mat, seq uint64, ok bool, err error)
}

// Processor turns a frame into detections and an annotated image
type Processor interface {
	Process(ctx context.Context, frame gocv.Mat) (*fusion.FrameResult, error)
}

// MessageWriter sends WebSocket messages, satisfied by *websocket.Conn
type MessageWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Config for streaming sessions
type Config struct {
	// Interval is how often the camera is polled for a new frame
	Interval time.Duration
	// JPEGQuality of the annotated frames, 1-100
	JPEGQuality int
	// StatsEvery is the number of frames between timing summaries, zero
	// disables them
	StatsEvery int
}

// DefaultConfig polls at roughly 30 FPS
func DefaultConfig() Config {
	return Config{
		Interval:    33 * time.Millisecond,
		JPEGQuality: 80,
		StatsEvery:  300,
	}
}

// processed is the outcome of one frame
type processed struct {
	res      *fusion.FrameResult
	err      error
	duration time.Duration
}

// Session streams annotated frames and metadata to a single client
type Session struct {
	id    string
	cfg   Config
	src   FrameSource
	proc  Processor
	conn  MessageWriter
	stats *Stats
	log   zerolog.Logger
}

// NewSession returns a Session for a connected client
func NewSession(cfg Config, src FrameSource, proc Processor, conn MessageWriter,
	log zerolog.Logger) *Session {

	id := uuid.NewString()

	window := cfg.StatsEvery
	if window < 1 {
		window = 1
	}

	return &Session{
		id:    id,
		cfg:   cfg,
		src:   src,
		proc:  proc,
		conn:  conn,
		stats: NewStats(window),
		log:   log.With().Str("session", id).Logger(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Run streams until ctx is cancelled or a write fails.  At most one frame is
// processed at a time, frames arriving meanwhile are skipped.  A result still
// in flight when Run returns is discarded.
func (s *Session) Run(ctx context.Context) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	recv := make(chan processed)
	inFlight := false
	var lastSeq uint64

	s.log.Info().Msg("client connected")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("client disconnected")
			return nil

		case <-ticker.C:
			if inFlight {
				continue
			}

			frame, seq, ok, err := s.src.Latest(lastSeq)

			if err != nil {
				return fmt.Errorf("error reading frame: %w", err)
			}

			if !ok {
				continue
			}

			lastSeq = seq
			inFlight = true

			go s.process(ctx, frame, recv)

		case p := <-recv:
			inFlight = false

			if p.err != nil {
				s.log.Error().Err(p.err).Msg("error processing frame")
				continue
			}

			err := s.send(ctx, p.res)
			p.res.Close()

			if err != nil {
				if ctx.Err() != nil || isClosed(err) {
					s.log.Info().Msg("client disconnected")
					return nil
				}

				return err
			}

			s.record(p.duration)
		}
	}
}

// process runs the pipeline on a frame off the connection goroutine and
// hands the result back, or drops it if the session has ended
func (s *Session) process(ctx context.Context, frame gocv.Mat,
	recv chan<- processed) {

	defer frame.Close()

	start := time.Now()
	res, err := s.proc.Process(ctx, frame)

	p := processed{res: res, err: err, duration: time.Since(start)}

	select {
	case recv <- p:
	case <-ctx.Done():
		if res != nil {
			res.Close()
		}
	}
}

// send writes the annotated JPEG followed by the metadata JSON
func (s *Session) send(ctx context.Context, res *fusion.FrameResult) error {

	if res.Image == nil {
		return errors.New("result has no image")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *res.Image,
		[]int{gocv.IMWriteJpegQuality, s.cfg.JPEGQuality})

	if err != nil {
		return fmt.Errorf("error encoding frame: %w", err)
	}

	defer buf.Close()

	if err := s.conn.Write(ctx, websocket.MessageBinary, buf.GetBytes()); err != nil {
		return fmt.Errorf("error sending frame: %w", err)
	}

	meta, err := json.Marshal(res.Metadata())

	if err != nil {
		return fmt.Errorf("error encoding metadata: %w", err)
	}

	if err := s.conn.Write(ctx, websocket.MessageText, meta); err != nil {
		return fmt.Errorf("error sending metadata: %w", err)
	}

	return nil
}

// record adds a frame duration to the stats and periodically logs a summary
func (s *Session) record(d time.Duration) {

	n := s.stats.Add(d)

	if s.cfg.StatsEvery > 0 && n%uint64(s.cfg.StatsEvery) == 0 {
		sum := s.stats.Summary()

		s.log.Info().
			Uint64("frames", n).
			Float64("mean_ms", sum.Mean).
			Float64("stddev_ms", sum.StdDev).
			Float64("p95_ms", sum.P95).
			Msg("frame timing")
	}
}

// isClosed reports whether err is due to the peer closing the connection
func isClosed(err error) bool {

	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}

	return websocket.CloseStatus(err) != -1
}

// Handler upgrades HTTP requests to WebSocket sessions
type Handler struct {
	cfg  Config
	src  FrameSource
	proc Processor
	log  zerolog.Logger
}

// NewHandler returns a Handler serving frames from src processed by proc
func NewHandler(cfg Config, src FrameSource, proc Processor,
	log zerolog.Logger) *Handler {

	return &Handler{
		cfg:  cfg,
		src:  src,
		proc: proc,
		log:  log,
	}
}

// ServeHTTP accepts the WebSocket and streams until the client leaves
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})

	if err != nil {
		h.log.Error().Err(err).Msg("websocket accept failed")
		return
	}

	defer conn.CloseNow()

	// the client never sends, CloseRead cancels ctx once it goes away
	ctx := conn.CloseRead(r.Context())

	sess := NewSession(h.cfg, h.src, h.proc, conn, h.log)

	if err := sess.Run(ctx); err != nil {
		sess.log.Error().Err(err).Msg("stream ended")
		conn.Close(websocket.StatusInternalError, "stream error")
		return
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
