package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"hongson-portal/internal/models"
)

// ErrNotFound is returned when a conditional write targets a missing record.
var ErrNotFound = errors.New("app link not found")

// AppRepository is the storage port behind the app-link collection.
type AppRepository interface {
	// ListApps returns every record ordered by SortApps.
	ListApps(ctx context.Context) ([]*models.AppLink, error)
	// GetApp returns (nil, nil) when id does not exist.
	GetApp(ctx context.Context, id string) (*models.AppLink, error)
	InsertApp(ctx context.Context, app *models.AppLink) error
	// UpdateApp applies patch only if the record exists, otherwise ErrNotFound.
	UpdateApp(ctx context.Context, id string, patch *models.AppLinkPatch, now time.Time) error
	DeleteApp(ctx context.Context, id string) error
	// ApplyOrders writes every update in one atomic batch.
	ApplyOrders(ctx context.Context, updates []models.OrderUpdate, now time.Time) error
	HealthCheck(ctx context.Context) error
}

// SortApps orders records by order, then createdAt, then id.
func SortApps(apps []*models.AppLink) {
	slices.SortStableFunc(apps, func(a, b *models.AppLink) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
