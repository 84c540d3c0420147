package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/time/rate"
)

const (
	// ThumbnailWidth is the maximum width of the snapshot attached to alerts
	ThumbnailWidth = 640
	// maxImageBytes caps the snapshot download
	maxImageBytes = 10 << 20
)

// SMTPConfig for sending alert emails
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// Sender is the From address, User is used when empty
	Sender string
	// Recipient is the authority's address
	Recipient string
	// PerMinute limits the alerts sent per minute, zero means unlimited
	PerMinute int
}

// sendFunc matches smtp.SendMail
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails alerts to the authority
type SMTPNotifier struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
	client  *http.Client
	send    sendFunc
	log     zerolog.Logger
}

// NewSMTPNotifier returns a notifier sending through the configured server
func NewSMTPNotifier(cfg SMTPConfig, log zerolog.Logger) *SMTPNotifier {

	limit := rate.Inf
	burst := 1

	if cfg.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.PerMinute))
		burst = cfg.PerMinute
	}

	if cfg.Sender == "" {
		cfg.Sender = cfg.User
	}

	return &SMTPNotifier{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		client:  &http.Client{Timeout: 15 * time.Second},
		send:    smtp.SendMail,
		log:     log,
	}
}

// Notify emails the alert, waiting for the rate limiter if necessary
func (n *SMTPNotifier) Notify(ctx context.Context, a Alert) error {

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("alert rate limited: %w", err)
	}

	var thumb []byte

	if a.Report.ImageURL != "" {
		var err error
		thumb, err = n.fetchThumbnail(ctx, a.Report.ImageURL)

		if err != nil {
			// the alert still goes out without the snapshot
			n.log.Warn().Err(err).Str("url", a.Report.ImageURL).
				Msg("unable to attach hazard snapshot")
		}
	}

	msg, err := buildMessage(n.cfg.Sender, n.cfg.Recipient, a, thumb)

	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	if err := n.send(addr, auth, n.cfg.Sender, []string{n.cfg.Recipient}, msg); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}

	return nil
}

// fetchThumbnail downloads the snapshot and scales it to ThumbnailWidth
func (n *SMTPNotifier) fetchThumbnail(ctx context.Context, url string) ([]byte, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	if err != nil {
		return nil, err
	}

	resp, err := n.client.Do(req)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))

	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	return encodeThumbnail(img)
}

// encodeThumbnail scales img down to at most ThumbnailWidth wide keeping its
// aspect ratio and encodes it as JPEG
func encodeThumbnail(img image.Image) ([]byte, error) {

	b := img.Bounds()

	if b.Dx() > ThumbnailWidth {
		h := b.Dy() * ThumbnailWidth / b.Dx()
		if h < 1 {
			h = 1
		}

		dst := image.NewRGBA(image.Rect(0, 0, ThumbnailWidth, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("error encoding thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}

// capitalize upper cases the first letter and lower cases the rest
func capitalize(s string) string {

	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Subject returns the email subject for an alert
func Subject(a Alert) string {
	return fmt.Sprintf("Road Hazard Alert: %s Detected", capitalize(a.Report.Type))
}

var bodyTmpl = template.Must(template.New("alert").Parse(`<html>
<body>
  <h2>Road Hazard Alert</h2>
  <p><strong>Type:</strong> {{.Type}}</p>
  <p><strong>Severity:</strong> {{.Report.Severity}}</p>
  <p><strong>Location:</strong> Lat: {{.Report.Location.Lat}}, Lng: {{.Report.Location.Lng}}</p>
  <p><strong>Time Detected:</strong> {{.Time}}</p>
  <p><strong>Report ID:</strong> {{.Report.ID}}</p>
  <p><strong>Nearby Reports:</strong> {{.NearbyCount}} similar hazards reported in this area in the last 30 days</p>
  {{- if .Image}}
  <p><img src="cid:image1" alt="hazard snapshot"></p>
  {{- end}}
  <p>Please take appropriate action to address this road hazard.</p>
</body>
</html>
`))

// buildMessage renders the MIME email for an alert, with thumb attached
// inline when present
func buildMessage(from, to string, a Alert, thumb []byte) ([]byte, error) {

	var html bytes.Buffer

	err := bodyTmpl.Execute(&html, struct {
		Alert
		Type  string
		Time  string
		Image bool
	}{
		Alert: a,
		Type:  capitalize(a.Report.Type),
		Time:  a.Report.Timestamp.Format(time.RFC3339),
		Image: len(thumb) > 0,
	})

	if err != nil {
		return nil, fmt.Errorf("error rendering email: %w", err)
	}

	var msg bytes.Buffer
	mw := multipart.NewWriter(&msg)

	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", Subject(a))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/related; boundary=%s\r\n\r\n", mw.Boundary())

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})

	if err != nil {
		return nil, err
	}

	if _, err := part.Write(html.Bytes()); err != nil {
		return nil, err
	}

	if len(thumb) > 0 {
		part, err = mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"image/jpeg"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-ID":                {"<image1>"},
			"Content-Disposition":       {`inline; filename="hazard.jpg"`},
		})

		if err != nil {
			return nil, err
		}

		if err := writeBase64(part, thumb); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	return msg.Bytes(), nil
}

// writeBase64 writes data base64 encoded in 76 character lines
func writeBase64(w io.Writer, data []byte) error {

	enc := base64.StdEncoding.EncodeToString(data)

	for len(enc) > 76 {
		if _, err := io.WriteString(w, enc[:76]+"\r\n"); err != nil {
			return err
		}
		enc = enc[76:]
	}

	_, err := io.WriteString(w, enc+"\r\n")

	return err
}
