package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/rs/zerolog"
)

const (
	// PotholeType is the only hazard type reported to the authority
	PotholeType = "pothole"

	// DuplicateRadiusDeg is the half width of the box searched for an
	// existing report of the same hazard, refined to DuplicateRadiusKm
	DuplicateRadiusDeg = 0.001
	DuplicateRadiusKm  = 0.111

	// NearbyRadiusDeg is the half width of the box in which other reports
	// are counted for the alert, refined to NearbyRadiusKm
	NearbyRadiusDeg = 0.005
	NearbyRadiusKm  = 0.555

	MsgNotPothole      = "Only pothole hazards are reported to authorities"
	MsgRecentDuplicate = "Recent report exists for this location"

	// alertTimeout bounds sending one alert
	alertTimeout = 2 * time.Minute
)

// Alert is a newly stored report to notify the authority about
type Alert struct {
	Report Report
	// NearbyCount is the number of reports close by in the nearby window
	NearbyCount int
}

// Notifier delivers alerts to the authority
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Publisher forwards stored reports to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, r Report) error
}

// Service applies the reporting rules on top of a Repository
type Service struct {
	repo      Repository
	notifier  Notifier
	publisher Publisher
	// duplicateWindow is how long a report suppresses new reports nearby
	duplicateWindow time.Duration
	// nearbyWindow is how far before local midnight nearby reports count
	nearbyWindow time.Duration
	now          func() time.Time
	log          zerolog.Logger
	wg           sync.WaitGroup
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithNotifier sets where alerts for new reports are sent
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithPublisher sets where new reports are published
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithWindows overrides the duplicate and nearby time windows, zero values
// keep the defaults
func WithWindows(duplicate, nearby time.Duration) ServiceOption {
	return func(s *Service) {
		if duplicate > 0 {
			s.duplicateWindow = duplicate
		}
		if nearby > 0 {
			s.nearbyWindow = nearby
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service storing reports in repo
func NewService(repo Repository, log zerolog.Logger, opts ...ServiceOption) *Service {

	s := &Service{
		repo:            repo,
		duplicateWindow: 7 * 24 * time.Hour,
		nearbyWindow:    30 * 24 * time.Hour,
		now:             time.Now,
		log:             log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// within reports whether b lies within km of a along the great circle
func within(a, b Location, km float64) bool {
	pa := geo.NewPoint(a.Lat, a.Lng)
	return pa.GreatCircleDistance(geo.NewPoint(b.Lat, b.Lng)) <= km
}

// near returns the reports within km of loc
func near(reports []Report, loc Location, km float64) []Report {

	out := make([]Report, 0, len(reports))

	for _, r := range reports {
		if within(loc, r.Location, km) {
			out = append(out, r)
		}
	}

	return out
}

// localMidnight returns the start of the day of t in t's location
func localMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Submit stores a pothole notification unless one was already reported
// nearby recently, then alerts the authority in the background
func (s *Service) Submit(ctx context.Context, n Notification) (*SubmitResult, error) {

	if err := n.Validate(); err != nil {
		return nil, err
	}

	if !strings.EqualFold(n.Type, PotholeType) {
		return &SubmitResult{Success: false, Message: MsgNotPothole}, nil
	}

	now := s.now()

	recent, err := s.repo.FindInBox(ctx, BoxAround(n.Location, DuplicateRadiusDeg),
		now.Add(-s.duplicateWindow))

	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate reports: %w", err)
	}

	if dups := near(recent, n.Location, DuplicateRadiusKm); len(dups) > 0 {
		s.log.Info().
			Str("existing_id", dups[0].ID).
			Float64("lat", n.Location.Lat).
			Float64("lng", n.Location.Lng).
			Msg("duplicate hazard report suppressed")

		return &SubmitResult{Success: false, Message: MsgRecentDuplicate}, nil
	}

	since := localMidnight(now).Add(-s.nearbyWindow)

	nearby, err := s.repo.FindInBox(ctx, BoxAround(n.Location, NearbyRadiusDeg), since)

	if err != nil {
		return nil, fmt.Errorf("failed to count nearby reports: %w", err)
	}

	nearbyCount := len(near(nearby, n.Location, NearbyRadiusKm))

	rep := newReport(n)

	rep.ID, err = s.repo.Insert(ctx, rep)

	if err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	s.log.Info().
		Str("report_id", rep.ID).
		Str("severity", rep.Severity).
		Float64("lat", rep.Location.Lat).
		Float64("lng", rep.Location.Lng).
		Int("nearby", nearbyCount).
		Msg("hazard report stored")

	s.dispatch(ctx, Alert{Report: rep, NearbyCount: nearbyCount})

	return &SubmitResult{Success: true, ReportID: rep.ID}, nil
}

// dispatch notifies and publishes a stored report without holding up the
// caller.  Failures are logged only, the report is already stored.
func (s *Service) dispatch(ctx context.Context, a Alert) {

	if s.notifier == nil && s.publisher == nil {
		return
	}

	// outlive the request that triggered the report
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, alertTimeout)
		defer cancel()

		log := s.log.With().Str("report_id", a.Report.ID).Logger()

		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, a); err != nil {
				log.Error().Err(err).Msg("failed to send hazard alert")
			} else {
				log.Info().Msg("hazard alert sent")
			}
		}

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, a.Report); err != nil {
				log.Error().Err(err).Msg("failed to publish hazard report")
			}
		}
	}()
}

// Wait blocks until all background alerts have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// List returns all reports newest first
func (s *Service) List(ctx context.Context) ([]Report, error) {

	reports, err := s.repo.List(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to fetch hazard reports: %w", err)
	}

	if reports == nil {
		reports = []Report{}
	}

	return reports, nil
}

// CleanupResolved removes reports older than the duplicate window that have
// not been reported again nearby since, returning how many were removed
func (s *Service) CleanupResolved(ctx context.Context) (int, error) {

	cutoff := s.now().Add(-s.duplicateWindow)

	old, err := s.repo.FindOlderThan(ctx, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to find old reports: %w", err)
	}

	removed := 0

	for _, r := range old {
		newer, err := s.repo.FindInBox(ctx, BoxAround(r.Location, DuplicateRadiusDeg), cutoff)

		if err != nil {
			return removed, fmt.Errorf("failed to check for newer reports: %w", err)
		}

		if len(near(newer, r.Location, DuplicateRadiusKm)) > 0 {
			continue
		}

		if err := s.repo.Delete(ctx, r.ID); err != nil {
			return removed, fmt.Errorf("failed to remove report %s: %w", r.ID, err)
		}

		removed++
	}

	s.log.Info().Int("removed", removed).Int("checked", len(old)).
		Msg("resolved hazards cleaned up")

	return removed, nil
}

// Delete removes a single report
func (s *Service) Delete(ctx context.Context, id string) error {

	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info().Str("report_id", id).Msg("hazard report deleted")

	return nil
}
