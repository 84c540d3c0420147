// Package report stores road hazard reports and alerts the local authority
// about new potholes.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// StatusReported is the status of a newly stored report
const StatusReported = "reported"

// Location is a WGS84 position in decimal degrees
type Location struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Validate checks the coordinates are within range
func (l Location) Validate() error {

	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, l.Lat)
	}

	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, l.Lng)
	}

	return nil
}

// Notification is a hazard sighting sent by the client
type Notification struct {
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	ImageURL  string    `json:"image_url,omitempty"`
	// HazardCount defaults to 1 when not given
	HazardCount *int `json:"hazard_count,omitempty"`
}

// Validate checks the notification can be stored
func (n Notification) Validate() error {

	if err := n.Location.Validate(); err != nil {
		return err
	}

	if n.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}

	if strings.TrimSpace(n.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidInput)
	}

	if n.HazardCount != nil && *n.HazardCount < 1 {
		return fmt.Errorf("%w: hazard_count must be at least 1", ErrInvalidInput)
	}

	return nil
}

// Report is a stored hazard report
type Report struct {
	ID          string    `json:"id"`
	Location    Location  `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	ImageURL    string    `json:"image_url,omitempty"`
	Status      string    `json:"status"`
	HazardCount int       `json:"hazard_count"`
}

// newReport builds the report stored for a notification
func newReport(n Notification) Report {

	count := 1
	if n.HazardCount != nil {
		count = *n.HazardCount
	}

	return Report{
		Location:    n.Location,
		Timestamp:   n.Timestamp,
		Type:        n.Type,
		Severity:    n.Severity,
		ImageURL:    n.ImageURL,
		Status:      StatusReported,
		HazardCount: count,
	}
}

// SubmitResult is the outcome of a submitted notification.  A notification
// that is not reported is not an error, Success is false with the reason in
// Message.
type SubmitResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	ReportID string `json:"report_id,omitempty"`
}

// Box is a latitude/longitude bounding box, inclusive on all sides
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoxAround returns the box extending deg degrees either side of loc
func BoxAround(loc Location, deg float64) Box {
	return Box{
		MinLat: loc.Lat - deg,
		MaxLat: loc.Lat + deg,
		MinLng: loc.Lng - deg,
		MaxLng: loc.Lng + deg,
	}
}

// Contains reports whether loc lies within the box
func (b Box) Contains(loc Location) bool {
	return loc.Lat >= b.MinLat && loc.Lat <= b.MaxLat &&
		loc.Lng >= b.MinLng && loc.Lng <= b.MaxLng
}
