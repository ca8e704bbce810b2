package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hongson-portal/internal/models"
	"hongson-portal/internal/repository"
)

// AppStore keeps app links in process memory. Used for local development
// and tests.
type AppStore struct {
	mu   sync.RWMutex
	apps map[string]*models.AppLink
}

func NewAppStore() *AppStore {
	return &AppStore{apps: make(map[string]*models.AppLink)}
}

func (s *AppStore) ListApps(ctx context.Context) ([]*models.AppLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	apps := make([]*models.AppLink, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, cloneApp(app))
	}
	s.mu.RUnlock()

	repository.SortApps(apps)
	return apps, nil
}

func (s *AppStore) GetApp(ctx context.Context, id string) (*models.AppLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, nil
	}
	return cloneApp(app), nil
}

func (s *AppStore) InsertApp(ctx context.Context, app *models.AppLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[app.ID]; exists {
		return fmt.Errorf("app link %s already exists", app.ID)
	}
	s.apps[app.ID] = cloneApp(app)
	return nil
}

func (s *AppStore) UpdateApp(ctx context.Context, id string, patch *models.AppLinkPatch, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	patch.Apply(app, now)
	return nil
}

func (s *AppStore) DeleteApp(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.apps, id)
	s.mu.Unlock()
	return nil
}

// ApplyOrders rejects the whole batch when any id is missing.
func (s *AppStore) ApplyOrders(ctx context.Context, updates []models.OrderUpdate, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if _, ok := s.apps[u.ID]; !ok {
			return fmt.Errorf("batch update %s: %w", u.ID, repository.ErrNotFound)
		}
	}
	for _, u := range updates {
		app := s.apps[u.ID]
		app.Order = u.Order
		if u.Touch {
			app.UpdatedAt = now
		}
	}
	return nil
}

func (s *AppStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func cloneApp(app *models.AppLink) *models.AppLink {
	c := *app
	if app.IsEnabled != nil {
		enabled := *app.IsEnabled
		c.IsEnabled = &enabled
	}
	return &c
}
