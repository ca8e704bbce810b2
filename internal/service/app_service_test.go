package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hongson-portal/internal/models"
	"hongson-portal/internal/repository"
	"hongson-portal/internal/repository/memory"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	events []models.AppEvent
	err    error
}

func (p *recordingPublisher) PublishAppEvent(_ context.Context, e models.AppEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fakeIndexer struct {
	indexed   map[string]int
	deleted   []string
	results   []*models.AppLink
	searchErr error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{indexed: make(map[string]int)}
}

func (f *fakeIndexer) IndexApp(_ context.Context, app *models.AppLink) error {
	f.indexed[app.ID] = app.Order
	return nil
}

func (f *fakeIndexer) DeleteApp(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndexer) SearchApps(_ context.Context, _ string, _ models.Zone, _ int) ([]*models.AppLink, error) {
	return f.results, f.searchErr
}

type fakeLaunches struct {
	recorded []string
	counts   []models.LaunchCount
	since    time.Time
	err      error
}

func (f *fakeLaunches) RecordLaunch(_ context.Context, appID string, _ models.Zone, _ time.Time, _ string) error {
	f.recorded = append(f.recorded, appID)
	return f.err
}

func (f *fakeLaunches) LaunchCounts(_ context.Context, since time.Time) ([]models.LaunchCount, error) {
	f.since = since
	return f.counts, f.err
}

// failingRepo wraps a working store and fails selected operations.
type failingRepo struct {
	repository.AppRepository
	listErr  error
	batchErr error
}

func (r *failingRepo) ListApps(ctx context.Context) ([]*models.AppLink, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.AppRepository.ListApps(ctx)
}

func (r *failingRepo) ApplyOrders(ctx context.Context, u []models.OrderUpdate, now time.Time) error {
	if r.batchErr != nil {
		return r.batchErr
	}
	return r.AppRepository.ApplyOrders(ctx, u, now)
}

// blockingRepo holds ListApps until release is closed, then honours ctx.
type blockingRepo struct {
	repository.AppRepository
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRepo) ListApps(ctx context.Context) ([]*models.AppLink, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.AppRepository.ListApps(ctx)
}

// deadlinePublisher records the context each event was published with.
type deadlinePublisher struct {
	deadlines []time.Time
	cancelled []bool
}

func (p *deadlinePublisher) PublishAppEvent(ctx context.Context, _ models.AppEvent) error {
	deadline, _ := ctx.Deadline()
	p.deadlines = append(p.deadlines, deadline)
	p.cancelled = append(p.cancelled, ctx.Err() != nil)
	return nil
}

// deletingRepo deletes victim right after the list read, like a concurrent
// admin delete landing before the order batch.
type deletingRepo struct {
	repository.AppRepository
	victim string
}

func (r *deletingRepo) ListApps(ctx context.Context) ([]*models.AppLink, error) {
	apps, err := r.AppRepository.ListApps(ctx)
	if err == nil && r.victim != "" {
		err = r.AppRepository.DeleteApp(ctx, r.victim)
		r.victim = ""
	}
	return apps, err
}

func newTestService(t *testing.T, repo repository.AppRepository, opts ...AppServiceOption) (*AppService, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	opts = append([]AppServiceOption{WithClock(clock)}, opts...)
	return NewAppService(repo, zap.NewNop(), opts...), clock
}

func input(name string, zone models.Zone) models.AppLinkInput {
	return models.AppLinkInput{
		Name: name,
		URL:  "https://" + name + ".example.com",
		Zone: zone,
	}
}

func orders(t *testing.T, s *AppService) map[string]int {
	t.Helper()
	apps, err := s.List(context.Background())
	require.NoError(t, err)
	out := make(map[string]int, len(apps))
	for _, a := range apps {
		out[a.Name] = a.Order
	}
	return out
}

func names(apps []*models.AppLink) []string {
	out := make([]string, len(apps))
	for i, a := range apps {
		out[i] = a.Name
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func TestAdd_AssignsOrderAfterMaximum(t *testing.T) {
	store := memory.NewAppStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	id, err := svc.Add(ctx, input("first", models.ZoneStudent))
	require.NoError(t, err)
	first, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Order)
	assert.Equal(t, t0, first.CreatedAt)
	assert.Equal(t, t0, first.UpdatedAt)

	require.NoError(t, store.InsertApp(ctx, &models.AppLink{ID: "gap", Name: "gap", Order: 7, CreatedAt: t0}))

	id, err = svc.Add(ctx, input("next", models.ZoneTeacher))
	require.NoError(t, err)
	next, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 8, next.Order)
}

func TestAdd_Validation(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())

	cases := map[string]models.AppLinkInput{
		"missing name":     {URL: "https://x.example.com", Zone: models.ZoneBoth},
		"missing url":      {Name: "x", Zone: models.ZoneBoth},
		"relative url":     {Name: "x", URL: "/path", Zone: models.ZoneBoth},
		"ftp url":          {Name: "x", URL: "ftp://x.example.com", Zone: models.ZoneBoth},
		"bad icon url":     {Name: "x", URL: "https://x.example.com", IconURL: "javascript:alert(1)", Zone: models.ZoneBoth},
		"bad zone":         {Name: "x", URL: "https://x.example.com", Zone: "parent"},
		"whitespace name":  {Name: "   ", URL: "https://x.example.com", Zone: models.ZoneBoth},
		"script in colour": {Name: "x", URL: "https://x.example.com", Zone: models.ZoneBoth, Color: "<script>"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Add(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestAdd_AllowsPunctuationInName(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())

	id, err := svc.Add(context.Background(), models.AppLinkInput{
		Name: "Math < Science",
		URL:  "https://science.example.com",
		Zone: models.ZoneStudent,
	})
	require.NoError(t, err)

	app, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Math < Science", app.Name)

	name := "Q&A <Staff>"
	require.NoError(t, svc.Update(context.Background(), id, models.AppLinkPatch{Name: &name}))
}

func TestAdd_TrimsFields(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())

	id, err := svc.Add(context.Background(), models.AppLinkInput{
		Name: "  Classroom ",
		URL:  " https://classroom.google.com ",
		Zone: models.ZoneBoth,
	})
	require.NoError(t, err)

	app, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Classroom", app.Name)
	assert.Equal(t, "https://classroom.google.com", app.URL)
}

func TestGet_Missing(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())

	app, err := svc.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, app)
}

func TestList_FailureIsFetchError(t *testing.T) {
	cause := errors.New("connection reset")
	svc, _ := newTestService(t, &failingRepo{AppRepository: memory.NewAppStore(), listErr: cause})

	_, err := svc.List(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "failed to fetch apps: connection reset")
	assert.Equal(t, "failed to fetch apps", Message(err))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "name is required", Message(fmt.Errorf("%w: name is required", ErrInvalidInput)))
	assert.Equal(t, "failed to delete app", Message(writeError("failed to delete app", errors.New("timeout"))))
	assert.Equal(t, "app not found", Message(ErrAppNotFound))
}

func TestListVisible_FiltersZoneAndEnabled(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())
	ctx := context.Background()

	_, err := svc.Add(ctx, input("student", models.ZoneStudent))
	require.NoError(t, err)
	_, err = svc.Add(ctx, input("teacher", models.ZoneTeacher))
	require.NoError(t, err)
	_, err = svc.Add(ctx, input("shared", models.ZoneBoth))
	require.NoError(t, err)
	off := input("hidden", models.ZoneBoth)
	off.IsEnabled = boolPtr(false)
	_, err = svc.Add(ctx, off)
	require.NoError(t, err)

	apps, err := svc.ListVisible(ctx, models.ZoneStudent)
	require.NoError(t, err)
	assert.Equal(t, []string{"student", "shared"}, names(apps))

	apps, err = svc.ListVisible(ctx, models.ZoneTeacher)
	require.NoError(t, err)
	assert.Equal(t, []string{"teacher", "shared"}, names(apps))

	apps, err = svc.ListVisible(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"student", "teacher", "shared"}, names(apps))

	_, err = svc.ListVisible(ctx, "parent")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListVisible_CallerCancelDoesNotFailOthers(t *testing.T) {
	store := memory.NewAppStore()
	repo := &blockingRepo{AppRepository: store, started: make(chan struct{}), release: make(chan struct{})}
	svc, _ := newTestService(t, repo)
	require.NoError(t, store.InsertApp(context.Background(), &models.AppLink{ID: "a", Name: "Classroom", Zone: models.ZoneBoth, CreatedAt: t0}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.ListVisible(firstCtx, "")
		firstErr <- err
	}()
	<-repo.started

	type result struct {
		apps []*models.AppLink
		err  error
	}
	second := make(chan result, 1)
	go func() {
		apps, err := svc.ListVisible(context.Background(), models.ZoneStudent)
		second <- result{apps, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, context.Canceled)

	close(repo.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, []string{"Classroom"}, names(res.apps))
}

func TestUpdate(t *testing.T) {
	svc, clock := newTestService(t, memory.NewAppStore())
	ctx := context.Background()

	id, err := svc.Add(ctx, input("mail", models.ZoneStudent))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	name := "  Webmail "
	require.NoError(t, svc.Update(ctx, id, models.AppLinkPatch{Name: &name, IsEnabled: boolPtr(false)}))

	app, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Webmail", app.Name)
	assert.False(t, app.Enabled())
	assert.Equal(t, t0, app.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), app.UpdatedAt)
}

func TestUpdate_MissingAppAndInvalidPatch(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())
	name := "x"

	err := svc.Update(context.Background(), "ghost", models.AppLinkPatch{Name: &name})
	assert.ErrorIs(t, err, ErrAppNotFound)

	bad := "not a url"
	err = svc.Update(context.Background(), "ghost", models.AppLinkPatch{URL: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDelete_LeavesGaps(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())
	ctx := context.Background()

	_, _ = svc.Add(ctx, input("a", models.ZoneBoth))
	b, _ := svc.Add(ctx, input("b", models.ZoneBoth))
	_, _ = svc.Add(ctx, input("c", models.ZoneBoth))

	require.NoError(t, svc.Delete(ctx, b))
	assert.Equal(t, map[string]int{"a": 0, "c": 2}, orders(t, svc))

	require.NoError(t, svc.Delete(ctx, "never-existed"))
}

func TestReorder_SwapsWithNeighbour(t *testing.T) {
	svc, clock := newTestService(t, memory.NewAppStore())
	ctx := context.Background()

	a, _ := svc.Add(ctx, input("a", models.ZoneBoth))
	b, _ := svc.Add(ctx, input("b", models.ZoneBoth))
	c, _ := svc.Add(ctx, input("c", models.ZoneBoth))

	clock.Advance(time.Minute)
	require.NoError(t, svc.Reorder(ctx, b, DirectionUp))
	assert.Equal(t, map[string]int{"b": 0, "a": 1, "c": 2}, orders(t, svc))

	for _, id := range []string{a, b} {
		app, _ := svc.Get(ctx, id)
		assert.Equal(t, t0.Add(time.Minute), app.UpdatedAt)
	}
	untouched, _ := svc.Get(ctx, c)
	assert.Equal(t, t0, untouched.UpdatedAt)

	require.NoError(t, svc.Reorder(ctx, a, DirectionDown))
	assert.Equal(t, map[string]int{"b": 0, "c": 1, "a": 2}, orders(t, svc))
}

func TestReorder_BoundariesAreNoops(t *testing.T) {
	store := memory.NewAppStore()
	repo := &failingRepo{AppRepository: store}
	svc, clock := newTestService(t, repo)
	ctx := context.Background()

	first, _ := svc.Add(ctx, input("first", models.ZoneBoth))
	last, _ := svc.Add(ctx, input("last", models.ZoneBoth))

	// Any write would fail, so success proves nothing was written.
	repo.batchErr = errors.New("must not write")
	clock.Advance(time.Minute)

	require.NoError(t, svc.Reorder(ctx, first, DirectionUp))
	require.NoError(t, svc.Reorder(ctx, last, DirectionDown))

	app, _ := svc.Get(ctx, first)
	assert.Equal(t, t0, app.UpdatedAt)
	assert.Equal(t, map[string]int{"first": 0, "last": 1}, orders(t, svc))
}

func TestReorder_Errors(t *testing.T) {
	repo := &failingRepo{AppRepository: memory.NewAppStore()}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	a, _ := svc.Add(ctx, input("a", models.ZoneBoth))
	_, _ = svc.Add(ctx, input("b", models.ZoneBoth))

	assert.ErrorIs(t, svc.Reorder(ctx, "ghost", DirectionUp), ErrAppNotFound)
	assert.ErrorIs(t, svc.Reorder(ctx, a, "sideways"), ErrInvalidInput)

	repo.batchErr = errors.New("timeout")
	err := svc.Reorder(ctx, a, DirectionDown)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, orders(t, svc))

	repo.listErr = errors.New("unavailable")
	assert.ErrorIs(t, svc.Reorder(ctx, a, DirectionDown), ErrFetchFailed)
}

func TestReorder_ConcurrentDeleteIsNotResurrected(t *testing.T) {
	repo := &deletingRepo{AppRepository: memory.NewAppStore()}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	a, _ := svc.Add(ctx, input("a", models.ZoneBoth))
	b, _ := svc.Add(ctx, input("b", models.ZoneBoth))

	repo.victim = b
	err := svc.Reorder(ctx, a, DirectionDown)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	apps, err := svc.ListVisible(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(apps))
	assert.Equal(t, 0, apps[0].Order)
}

func TestNormalizeOrders(t *testing.T) {
	store := memory.NewAppStore()
	svc, clock := newTestService(t, store)
	ctx := context.Background()

	for i, o := range []int{0, 2, 3} {
		require.NoError(t, store.InsertApp(ctx, &models.AppLink{
			ID:        string(rune('a' + i)),
			Name:      string(rune('a' + i)),
			Order:     o,
			CreatedAt: t0,
			UpdatedAt: t0,
		}))
	}

	clock.Advance(time.Hour)
	assert.Equal(t, 2, svc.NormalizeOrders(ctx))
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, orders(t, svc))

	b, _ := svc.Get(ctx, "b")
	assert.Equal(t, t0, b.UpdatedAt, "normalize does not touch updatedAt")

	assert.Equal(t, 0, svc.NormalizeOrders(ctx), "already dense")
}

func TestNormalizeOrders_SwallowsErrors(t *testing.T) {
	store := memory.NewAppStore()
	repo := &failingRepo{AppRepository: store}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	require.NoError(t, store.InsertApp(ctx, &models.AppLink{ID: "a", Order: 5, CreatedAt: t0}))

	repo.batchErr = errors.New("boom")
	assert.Equal(t, 0, svc.NormalizeOrders(ctx))

	repo.listErr = errors.New("boom")
	assert.Equal(t, 0, svc.NormalizeOrders(ctx))
}

func TestSideEffects_EventsAndIndex(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	idx := newFakeIndexer()
	svc, _ := newTestService(t, memory.NewAppStore(), WithEventPublisher(pub), WithSearchIndexer(idx))
	ctx := context.Background()

	a, err := svc.Add(ctx, input("a", models.ZoneBoth))
	require.NoError(t, err)
	b, err := svc.Add(ctx, input("b", models.ZoneBoth))
	require.NoError(t, err)
	require.NoError(t, svc.Reorder(ctx, b, DirectionUp))
	name := "renamed"
	require.NoError(t, svc.Update(ctx, a, models.AppLinkPatch{Name: &name}))
	require.NoError(t, svc.Delete(ctx, b))

	assert.Equal(t, []string{
		models.EventAppCreated,
		models.EventAppCreated,
		models.EventAppReordered,
		models.EventAppUpdated,
		models.EventAppDeleted,
	}, pub.types())
	assert.Equal(t, b, pub.events[2].AppID)
	assert.NotEmpty(t, pub.events[0].EventID)
	assert.Equal(t, 1, idx.indexed[a])
	assert.Equal(t, []string{b}, idx.deleted)
}

func TestPublish_BoundedAndDetachedFromRequest(t *testing.T) {
	pub := &deadlinePublisher{}
	svc, _ := newTestService(t, memory.NewAppStore(), WithEventPublisher(pub))

	id, err := svc.Add(context.Background(), input("a", models.ZoneBoth))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.publish(ctx, models.EventAppDeleted, id, nil)

	require.Len(t, pub.deadlines, 2)
	for i, deadline := range pub.deadlines {
		assert.False(t, deadline.IsZero())
		assert.WithinDuration(t, time.Now().Add(publishTimeout), deadline, publishTimeout)
		assert.False(t, pub.cancelled[i])
	}
}

func TestSearch(t *testing.T) {
	idx := newFakeIndexer()
	svc, _ := newTestService(t, memory.NewAppStore(), WithSearchIndexer(idx))
	ctx := context.Background()
	_, _ = svc.Add(ctx, input("classroom", models.ZoneStudent))
	_, _ = svc.Add(ctx, input("gradebook", models.ZoneTeacher))

	idx.results = []*models.AppLink{{ID: "from-index", Name: "indexed"}}
	apps, err := svc.Search(ctx, "class", models.ZoneStudent)
	require.NoError(t, err)
	assert.Equal(t, []string{"indexed"}, names(apps))

	idx.searchErr = errors.New("index offline")
	apps, err = svc.Search(ctx, "CLASS", models.ZoneStudent)
	require.NoError(t, err)
	assert.Equal(t, []string{"classroom"}, names(apps))

	apps, err = svc.Search(ctx, "gradebook", models.ZoneStudent)
	require.NoError(t, err)
	assert.Empty(t, apps)

	_, err = svc.Search(ctx, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLaunch(t *testing.T) {
	launches := &fakeLaunches{err: errors.New("clickhouse down")}
	svc, _ := newTestService(t, memory.NewAppStore(), WithLaunchRecorder(launches))
	ctx := context.Background()

	id, _ := svc.Add(ctx, input("mail", models.ZoneBoth))
	off := input("off", models.ZoneBoth)
	off.IsEnabled = boolPtr(false)
	offID, _ := svc.Add(ctx, off)

	app, err := svc.Launch(ctx, id, "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "https://mail.example.com", app.URL)
	assert.Equal(t, []string{id}, launches.recorded)

	_, err = svc.Launch(ctx, offID, "")
	assert.ErrorIs(t, err, ErrAppNotFound)
	_, err = svc.Launch(ctx, "ghost", "")
	assert.ErrorIs(t, err, ErrAppNotFound)
}

func TestLaunchStats(t *testing.T) {
	svc, _ := newTestService(t, memory.NewAppStore())
	_, err := svc.LaunchStats(context.Background(), 7)
	assert.ErrorIs(t, err, ErrStatsUnavailable)

	launches := &fakeLaunches{counts: []models.LaunchCount{{AppID: "a", Launches: 3}}}
	svc, _ = newTestService(t, memory.NewAppStore(), WithLaunchRecorder(launches))

	counts, err := svc.LaunchStats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, launches.counts, counts)
	assert.Equal(t, t0.Add(-7*24*time.Hour), launches.since)

	_, err = svc.LaunchStats(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
