package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepository is an in memory Repository
type memRepository struct {
	mu      sync.Mutex
	reports []Report
	nextID  int
	failOn  string
}

func (m *memRepository) fail(op string) error {
	if m.failOn == op {
		return errors.New("database unavailable")
	}
	return nil
}

func newestFirstSort(rs []Report) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Timestamp.After(rs[j].Timestamp)
	})
}

func (m *memRepository) FindInBox(ctx context.Context, box Box, since time.Time) ([]Report, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("find"); err != nil {
		return nil, err
	}

	var out []Report

	for _, r := range m.reports {
		if box.Contains(r.Location) && (since.IsZero() || !r.Timestamp.Before(since)) {
			out = append(out, r)
		}
	}

	newestFirstSort(out)

	return out, nil
}

func (m *memRepository) FindOlderThan(ctx context.Context, t time.Time) ([]Report, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Report

	for _, r := range m.reports {
		if r.Timestamp.Before(t) {
			out = append(out, r)
		}
	}

	return out, nil
}

func (m *memRepository) Insert(ctx context.Context, r Report) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("insert"); err != nil {
		return "", err
	}

	m.nextID++
	r.ID = fmt.Sprintf("r%d", m.nextID)
	m.reports = append(m.reports, r)

	return r.ID, nil
}

func (m *memRepository) List(ctx context.Context) ([]Report, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]Report(nil), m.reports...)
	newestFirstSort(out)

	return out, nil
}

func (m *memRepository) Delete(ctx context.Context, id string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.reports {
		if r.ID == id {
			m.reports = append(m.reports[:i], m.reports[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("%w: report %s", ErrNotFound, id)
}

func (m *memRepository) seed(loc Location, ts time.Time) string {
	id, _ := m.Insert(context.Background(), Report{
		Location: loc, Timestamp: ts, Type: PotholeType, Status: StatusReported, HazardCount: 1,
	})
	return id
}

func (m *memRepository) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recordingPublisher) Publish(ctx context.Context, rep Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

var (
	testNow  = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	testSpot = Location{Lat: -36.8485, Lng: 174.7633}
)

func offset(loc Location, dLat, dLng float64) Location {
	return Location{Lat: loc.Lat + dLat, Lng: loc.Lng + dLng}
}

func pothole(loc Location) Notification {
	return Notification{
		Location:  loc,
		Timestamp: testNow,
		Type:      "pothole",
		Severity:  "high",
	}
}

func newTestService(repo Repository, opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(repo, zerolog.Nop(), opts...)
}

func TestSubmitStoresPothole(t *testing.T) {

	repo := &memRepository{}
	notifier := &recordingNotifier{}
	pub := &recordingPublisher{}

	svc := newTestService(repo, WithNotifier(notifier), WithPublisher(pub))

	res, err := svc.Submit(context.Background(), pothole(testSpot))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "r1", res.ReportID)

	svc.Wait()

	require.Len(t, notifier.alerts, 1)
	alert := notifier.alerts[0]
	assert.Equal(t, "r1", alert.Report.ID)
	assert.Equal(t, StatusReported, alert.Report.Status)
	assert.Equal(t, 1, alert.Report.HazardCount)
	assert.Equal(t, 0, alert.NearbyCount)

	require.Len(t, pub.reports, 1)
	assert.Equal(t, "r1", pub.reports[0].ID)
}

func TestSubmitTypeCaseInsensitive(t *testing.T) {

	svc := newTestService(&memRepository{})

	n := pothole(testSpot)
	n.Type = "Pothole"

	res, err := svc.Submit(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSubmitRejectsOtherTypes(t *testing.T) {

	repo := &memRepository{}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, WithNotifier(notifier))

	n := pothole(testSpot)
	n.Type = "speed_bump"

	res, err := svc.Submit(context.Background(), n)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, MsgNotPothole, res.Message)
	assert.Equal(t, 0, repo.len())

	svc.Wait()
	assert.Empty(t, notifier.alerts)
}

func TestSubmitInvalidInput(t *testing.T) {

	zero := 0

	tests := []struct {
		name   string
		mutate func(n *Notification)
	}{
		{"latitude", func(n *Notification) { n.Location.Lat = 91 }},
		{"longitude", func(n *Notification) { n.Location.Lng = -181 }},
		{"timestamp", func(n *Notification) { n.Timestamp = time.Time{} }},
		{"type", func(n *Notification) { n.Type = " " }},
		{"hazard count", func(n *Notification) { n.HazardCount = &zero }},
	}

	svc := newTestService(&memRepository{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := pothole(testSpot)
			tt.mutate(&n)

			_, err := svc.Submit(context.Background(), n)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSubmitDuplicate(t *testing.T) {

	tests := []struct {
		name     string
		existing Location
		age      time.Duration
		dup      bool
	}{
		{"same spot recent", testSpot, 24 * time.Hour, true},
		{"50m away recent", offset(testSpot, 0.0005, 0), 6 * 24 * time.Hour, true},
		{"same spot week old", testSpot, 7*24*time.Hour + time.Minute, false},
		// inside the degree box but beyond the great circle radius
		{"box corner", offset(testSpot, 0.0009, 0.0009), time.Hour, false},
		{"outside box", offset(testSpot, 0.002, 0), time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memRepository{}
			repo.seed(tt.existing, testNow.Add(-tt.age))

			svc := newTestService(repo)

			res, err := svc.Submit(context.Background(), pothole(testSpot))
			require.NoError(t, err)

			if tt.dup {
				assert.False(t, res.Success)
				assert.Equal(t, MsgRecentDuplicate, res.Message)
				assert.Equal(t, 1, repo.len())
			} else {
				assert.True(t, res.Success)
				assert.Equal(t, 2, repo.len())
			}
		})
	}
}

func TestSubmitNearbyCount(t *testing.T) {

	repo := &memRepository{}

	// counted: within 555m and the last 30 days
	repo.seed(offset(testSpot, 0.003, 0), testNow.Add(-10*24*time.Hour))
	repo.seed(offset(testSpot, 0, 0.004), testNow.Add(-29*24*time.Hour))
	// too old
	repo.seed(offset(testSpot, 0.003, 0), testNow.Add(-40*24*time.Hour))
	// too far
	repo.seed(offset(testSpot, 0.0049, 0.0049), testNow.Add(-24*time.Hour))
	repo.seed(offset(testSpot, 0.01, 0), testNow.Add(-24*time.Hour))

	notifier := &recordingNotifier{}
	svc := newTestService(repo, WithNotifier(notifier))

	res, err := svc.Submit(context.Background(), pothole(testSpot))
	require.NoError(t, err)
	require.True(t, res.Success)

	svc.Wait()

	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, 2, notifier.alerts[0].NearbyCount)
}

func TestSubmitNotifierFailureStillStores(t *testing.T) {

	repo := &memRepository{}
	svc := newTestService(repo, WithNotifier(&recordingNotifier{err: errors.New("smtp down")}))

	res, err := svc.Submit(context.Background(), pothole(testSpot))
	require.NoError(t, err)
	assert.True(t, res.Success)

	svc.Wait()
	assert.Equal(t, 1, repo.len())
}

func TestSubmitRepositoryError(t *testing.T) {

	svc := newTestService(&memRepository{failOn: "insert"})

	_, err := svc.Submit(context.Background(), pothole(testSpot))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitHazardCount(t *testing.T) {

	repo := &memRepository{}
	svc := newTestService(repo)

	three := 3
	n := pothole(testSpot)
	n.HazardCount = &three

	_, err := svc.Submit(context.Background(), n)
	require.NoError(t, err)

	reports, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].HazardCount)
}

func TestListNewestFirst(t *testing.T) {

	repo := &memRepository{}
	svc := newTestService(repo)

	empty, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	old := repo.seed(testSpot, testNow.Add(-48*time.Hour))
	newer := repo.seed(offset(testSpot, 1, 1), testNow.Add(-time.Hour))

	reports, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, newer, reports[0].ID)
	assert.Equal(t, old, reports[1].ID)
}

func TestCleanupResolved(t *testing.T) {

	repo := &memRepository{}

	week := 7 * 24 * time.Hour
	elsewhere := offset(testSpot, 0.5, 0.5)

	resolved := repo.seed(testSpot, testNow.Add(-2*week))
	stillThere := repo.seed(elsewhere, testNow.Add(-2*week))
	repo.seed(offset(elsewhere, 0.0003, 0), testNow.Add(-24*time.Hour))
	recent := repo.seed(offset(testSpot, 1, 0), testNow.Add(-time.Hour))

	svc := newTestService(repo)

	removed, err := svc.CleanupResolved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	reports, err := svc.List(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}

	assert.NotContains(t, ids, resolved)
	assert.Contains(t, ids, stillThere)
	assert.Contains(t, ids, recent)
}

func TestDelete(t *testing.T) {

	repo := &memRepository{}
	svc := newTestService(repo)

	id := repo.seed(testSpot, testNow)

	require.NoError(t, svc.Delete(context.Background(), id))
	assert.Equal(t, 0, repo.len())

	assert.ErrorIs(t, svc.Delete(context.Background(), id), ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), ""), ErrInvalidInput)
}

func TestLocalMidnight(t *testing.T) {

	loc := time.FixedZone("NZST", 12*3600)
	now := time.Date(2025, 6, 15, 1, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, loc), localMidnight(now))
}

func TestBoxAround(t *testing.T) {

	b := BoxAround(Location{Lat: 10, Lng: 20}, 0.5)

	assert.True(t, b.Contains(Location{Lat: 10.5, Lng: 19.5}))
	assert.False(t, b.Contains(Location{Lat: 10.51, Lng: 20}))
}
