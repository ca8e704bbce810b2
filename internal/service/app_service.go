package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"hongson-portal/internal/metrics"
	"hongson-portal/internal/models"
	"hongson-portal/internal/repository"
	"hongson-portal/internal/util"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrAppNotFound      = errors.New("app not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrFetchFailed      = errors.New("failed to fetch apps")
	ErrWriteFailed      = errors.New("failed to write app")
	ErrStatsUnavailable = errors.New("launch statistics unavailable")
)

const (
	maxNameLength     = 100
	defaultSearchSize = 20
	sharedListTimeout = 10 * time.Second
	publishTimeout    = 2 * time.Second
)

// opError carries a caller-facing message, a sentinel kind and the cause.
type opError struct {
	msg  string
	kind error
	err  error
}

func (e *opError) Error() string   { return e.msg + ": " + e.err.Error() }
func (e *opError) Unwrap() []error { return []error{e.kind, e.err} }

func fetchError(err error) error {
	return &opError{msg: "failed to fetch apps", kind: ErrFetchFailed, err: err}
}

func writeError(msg string, err error) error {
	return &opError{msg: msg, kind: ErrWriteFailed, err: err}
}

// Direction moves an app one slot in the display order.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// EventPublisher receives a change event after every successful write.
type EventPublisher interface {
	PublishAppEvent(ctx context.Context, event models.AppEvent) error
}

// SearchIndexer keeps a full-text index of app links.
type SearchIndexer interface {
	IndexApp(ctx context.Context, app *models.AppLink) error
	DeleteApp(ctx context.Context, id string) error
	SearchApps(ctx context.Context, query string, zone models.Zone, limit int) ([]*models.AppLink, error)
}

// LaunchRecorder stores and aggregates app launches.
type LaunchRecorder interface {
	RecordLaunch(ctx context.Context, appID string, zone models.Zone, at time.Time, userAgent string) error
	LaunchCounts(ctx context.Context, since time.Time) ([]models.LaunchCount, error)
}

// AppService owns the ordered app-link collection. It does no locking of its
// own; the repository's batch write is the only atomicity guarantee.
type AppService struct {
	repo      repository.AppRepository
	events    EventPublisher
	search    SearchIndexer
	launches  LaunchRecorder
	clock     clockwork.Clock
	logger    *zap.Logger
	listGroup singleflight.Group
}

type AppServiceOption func(*AppService)

func WithEventPublisher(p EventPublisher) AppServiceOption {
	return func(s *AppService) { s.events = p }
}

func WithSearchIndexer(i SearchIndexer) AppServiceOption {
	return func(s *AppService) { s.search = i }
}

func WithLaunchRecorder(r LaunchRecorder) AppServiceOption {
	return func(s *AppService) { s.launches = r }
}

func WithClock(c clockwork.Clock) AppServiceOption {
	return func(s *AppService) { s.clock = c }
}

func NewAppService(repo repository.AppRepository, logger *zap.Logger, opts ...AppServiceOption) *AppService {
	s := &AppService{
		repo:   repo,
		clock:  clockwork.NewRealClock(),
		logger: logger.Named("apps"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every app ordered for display, disabled ones included.
func (s *AppService) List(ctx context.Context) ([]*models.AppLink, error) {
	apps, err := s.repo.ListApps(ctx)
	metrics.StoreOpsTotal.WithLabelValues("list", metrics.StoreStatus(err)).Inc()
	if err != nil {
		return nil, fetchError(err)
	}
	return apps, nil
}

// ListVisible returns enabled apps for zone, or for every zone when zone is
// empty. Concurrent callers share one store read.
func (s *AppService) ListVisible(ctx context.Context, zone models.Zone) ([]*models.AppLink, error) {
	if zone != "" && !zone.Valid() {
		return nil, fmt.Errorf("%w: unknown zone %q", ErrInvalidInput, zone)
	}

	// The shared read must outlive any single caller's context.
	ch := s.listGroup.DoChan("apps", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedListTimeout)
		defer cancel()
		return s.List(loadCtx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fetchError(ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	all := res.Val.([]*models.AppLink)
	visible := make([]*models.AppLink, 0, len(all))
	for _, app := range all {
		if !app.Enabled() {
			continue
		}
		if zone != "" && !app.Zone.Matches(zone) {
			continue
		}
		visible = append(visible, app)
	}
	return visible, nil
}

// Get returns (nil, nil) when the app does not exist.
func (s *AppService) Get(ctx context.Context, id string) (*models.AppLink, error) {
	app, err := s.repo.GetApp(ctx, id)
	metrics.StoreOpsTotal.WithLabelValues("get", metrics.StoreStatus(err)).Inc()
	if err != nil {
		return nil, fetchError(err)
	}
	return app, nil
}

// Add appends a new app after the current last one and returns its id.
// Two concurrent adds may read the same maximum and share an order value.
func (s *AppService) Add(ctx context.Context, input models.AppLinkInput) (string, error) {
	if err := validateInput(&input); err != nil {
		return "", err
	}

	apps, err := s.repo.ListApps(ctx)
	if err != nil {
		metrics.StoreOpsTotal.WithLabelValues("add", "error").Inc()
		return "", writeError("failed to add app", err)
	}

	now := s.clock.Now().UTC()
	app := &models.AppLink{
		ID:        uuid.NewString(),
		Name:      input.Name,
		URL:       input.URL,
		IconURL:   input.IconURL,
		Zone:      input.Zone,
		Color:     input.Color,
		IsEnabled: input.IsEnabled,
		Order:     nextOrder(apps),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.repo.InsertApp(ctx, app)
	metrics.StoreOpsTotal.WithLabelValues("add", metrics.StoreStatus(err)).Inc()
	if err != nil {
		return "", writeError("failed to add app", err)
	}

	s.logger.Info("App added",
		util.String("app_id", app.ID),
		util.String("name", app.Name),
		util.Int("order", app.Order))

	s.index(ctx, app)
	s.publish(ctx, models.EventAppCreated, app.ID, app)
	return app.ID, nil
}

func nextOrder(apps []*models.AppLink) int {
	if len(apps) == 0 {
		return 0
	}
	highest := apps[0].Order
	for _, app := range apps[1:] {
		if app.Order > highest {
			highest = app.Order
		}
	}
	return highest + 1
}

// Update applies patch without checking for the app first. A missing app is
// reported by the repository and surfaces as ErrAppNotFound.
func (s *AppService) Update(ctx context.Context, id string, patch models.AppLinkPatch) error {
	if err := validatePatch(&patch); err != nil {
		return err
	}

	err := s.repo.UpdateApp(ctx, id, &patch, s.clock.Now().UTC())
	metrics.StoreOpsTotal.WithLabelValues("update", metrics.StoreStatus(err)).Inc()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to update app %s: %w", id, ErrAppNotFound)
		}
		return writeError("failed to update app", err)
	}

	s.logger.Info("App updated", util.String("app_id", id))

	app, err := s.repo.GetApp(ctx, id)
	if err != nil || app == nil {
		s.publish(ctx, models.EventAppUpdated, id, nil)
		return nil
	}
	s.index(ctx, app)
	s.publish(ctx, models.EventAppUpdated, id, app)
	return nil
}

// Delete removes the app. Remaining orders are left as they are.
func (s *AppService) Delete(ctx context.Context, id string) error {
	err := s.repo.DeleteApp(ctx, id)
	metrics.StoreOpsTotal.WithLabelValues("delete", metrics.StoreStatus(err)).Inc()
	if err != nil {
		return writeError("failed to delete app", err)
	}

	s.logger.Info("App deleted", util.String("app_id", id))

	if s.search != nil {
		if err := s.search.DeleteApp(ctx, id); err != nil {
			s.logger.Warn("Failed to remove app from search index",
				util.String("app_id", id),
				util.ErrorField(err))
		}
	}
	s.publish(ctx, models.EventAppDeleted, id, nil)
	return nil
}

// Reorder swaps the app with its neighbour in direction. Moving past either
// end is a no-op.
func (s *AppService) Reorder(ctx context.Context, id string, direction Direction) error {
	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("%w: direction must be up or down", ErrInvalidInput)
	}

	apps, err := s.List(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, app := range apps {
		if app.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("failed to reorder app %s: %w", id, ErrAppNotFound)
	}

	target := idx - 1
	if direction == DirectionDown {
		target = idx + 1
	}
	if target < 0 || target >= len(apps) {
		return nil
	}

	current, neighbour := apps[idx], apps[target]
	now := s.clock.Now().UTC()
	err = s.repo.ApplyOrders(ctx, []models.OrderUpdate{
		{ID: current.ID, Order: neighbour.Order, Touch: true},
		{ID: neighbour.ID, Order: current.Order, Touch: true},
	}, now)
	metrics.StoreOpsTotal.WithLabelValues("reorder", metrics.StoreStatus(err)).Inc()
	if err != nil {
		return writeError("failed to reorder app", err)
	}

	s.logger.Info("App reordered",
		util.String("app_id", current.ID),
		util.String("direction", string(direction)),
		util.String("swapped_with", neighbour.ID))

	current.Order, neighbour.Order = neighbour.Order, current.Order
	current.UpdatedAt, neighbour.UpdatedAt = now, now
	s.index(ctx, current)
	s.index(ctx, neighbour)
	s.publish(ctx, models.EventAppReordered, current.ID, current)
	return nil
}

// NormalizeOrders rewrites orders to 0..n-1 in current display order. It is
// best effort: failures are logged and the number of rewritten apps is 0.
func (s *AppService) NormalizeOrders(ctx context.Context) int {
	apps, err := s.List(ctx)
	if err != nil {
		s.logger.Error("Failed to normalize orders", util.ErrorField(err))
		return 0
	}

	var updates []models.OrderUpdate
	for i, app := range apps {
		if app.Order != i {
			updates = append(updates, models.OrderUpdate{ID: app.ID, Order: i})
		}
	}
	if len(updates) == 0 {
		return 0
	}

	err = s.repo.ApplyOrders(ctx, updates, s.clock.Now().UTC())
	metrics.StoreOpsTotal.WithLabelValues("normalize", metrics.StoreStatus(err)).Inc()
	if err != nil {
		s.logger.Error("Failed to normalize orders",
			util.Int("updates", len(updates)),
			util.ErrorField(err))
		return 0
	}

	s.logger.Info("App orders normalized", util.Int("updates", len(updates)))

	for i, app := range apps {
		if app.Order != i {
			app.Order = i
			s.index(ctx, app)
		}
	}
	s.publish(ctx, models.EventAppsNormalized, "", nil)
	return len(updates)
}

// Search matches enabled apps by name or url. The search index is used when
// configured; otherwise, or when it fails, matching happens in process.
func (s *AppService) Search(ctx context.Context, query string, zone models.Zone) ([]*models.AppLink, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}
	if zone != "" && !zone.Valid() {
		return nil, fmt.Errorf("%w: unknown zone %q", ErrInvalidInput, zone)
	}

	if s.search != nil {
		apps, err := s.search.SearchApps(ctx, query, zone, defaultSearchSize)
		if err == nil {
			return apps, nil
		}
		s.logger.Warn("Search index unavailable, falling back to store scan",
			util.String("query", query),
			util.ErrorField(err))
	}

	visible, err := s.ListVisible(ctx, zone)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	matches := make([]*models.AppLink, 0)
	for _, app := range visible {
		if strings.Contains(strings.ToLower(app.Name), needle) || strings.Contains(strings.ToLower(app.URL), needle) {
			matches = append(matches, app)
			if len(matches) == defaultSearchSize {
				break
			}
		}
	}
	return matches, nil
}

// Launch resolves an enabled app for the redirect endpoint and records the
// launch. Recording failures never block the redirect.
func (s *AppService) Launch(ctx context.Context, id, userAgent string) (*models.AppLink, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app == nil || !app.Enabled() {
		return nil, fmt.Errorf("launch %s: %w", id, ErrAppNotFound)
	}

	metrics.AppLaunchesTotal.WithLabelValues(string(app.Zone)).Inc()

	if s.launches != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.launches.RecordLaunch(recordCtx, app.ID, app.Zone, s.clock.Now().UTC(), userAgent); err != nil {
			s.logger.Warn("Failed to record app launch",
				util.String("app_id", app.ID),
				util.ErrorField(err))
		}
	}
	return app, nil
}

// LaunchStats returns per-app launch counts for the last days days.
func (s *AppService) LaunchStats(ctx context.Context, days int) ([]models.LaunchCount, error) {
	if s.launches == nil {
		return nil, ErrStatsUnavailable
	}
	if days <= 0 || days > 366 {
		return nil, fmt.Errorf("%w: days must be between 1 and 366", ErrInvalidInput)
	}

	since := s.clock.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	counts, err := s.launches.LaunchCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load launch stats: %w", err)
	}
	if counts == nil {
		counts = []models.LaunchCount{}
	}
	return counts, nil
}

func (s *AppService) index(ctx context.Context, app *models.AppLink) {
	if s.search == nil {
		return
	}
	if err := s.search.IndexApp(ctx, app); err != nil {
		s.logger.Warn("Failed to index app",
			util.String("app_id", app.ID),
			util.ErrorField(err))
	}
}

func (s *AppService) publish(ctx context.Context, eventType, appID string, app *models.AppLink) {
	if s.events == nil {
		return
	}
	event := models.AppEvent{
		EventID: uuid.NewString(),
		Type:    eventType,
		AppID:   appID,
		At:      s.clock.Now().UTC(),
		App:     app,
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.PublishAppEvent(publishCtx, event); err != nil {
		s.logger.Warn("Failed to publish app event",
			util.String("type", eventType),
			util.String("app_id", appID),
			util.ErrorField(err))
	}
}

func validateInput(in *models.AppLinkInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	in.IconURL = strings.TrimSpace(in.IconURL)
	in.Color = strings.TrimSpace(in.Color)

	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateLink("url", in.URL, false); err != nil {
		return err
	}
	if err := validateLink("iconUrl", in.IconURL, true); err != nil {
		return err
	}
	if !in.Zone.Valid() {
		return fmt.Errorf("%w: zone must be student, teacher or both", ErrInvalidInput)
	}
	if util.ContainsSuspicious(in.Color) {
		return fmt.Errorf("%w: color contains invalid characters", ErrInvalidInput)
	}
	return nil
}

func validatePatch(p *models.AppLinkPatch) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if err := validateName(name); err != nil {
			return err
		}
		p.Name = &name
	}
	if p.URL != nil {
		link := strings.TrimSpace(*p.URL)
		if err := validateLink("url", link, false); err != nil {
			return err
		}
		p.URL = &link
	}
	if p.IconURL != nil {
		icon := strings.TrimSpace(*p.IconURL)
		if err := validateLink("iconUrl", icon, true); err != nil {
			return err
		}
		p.IconURL = &icon
	}
	if p.Zone != nil && !p.Zone.Valid() {
		return fmt.Errorf("%w: zone must be student, teacher or both", ErrInvalidInput)
	}
	if p.Color != nil && util.ContainsSuspicious(*p.Color) {
		return fmt.Errorf("%w: color contains invalid characters", ErrInvalidInput)
	}
	if p.Order != nil && *p.Order < 0 {
		return fmt.Errorf("%w: order must not be negative", ErrInvalidInput)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len([]rune(name)) > maxNameLength {
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidInput, maxNameLength)
	}
	return nil
}

func validateLink(field, raw string, optional bool) error {
	if raw == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL", ErrInvalidInput, field)
	}
	return nil
}

// Message returns the caller-facing text of err, hiding backend causes.
// Validation errors lose their "invalid input: " prefix.
func Message(err error) string {
	var op *opError
	if errors.As(err, &op) {
		return op.msg
	}
	return strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
}
