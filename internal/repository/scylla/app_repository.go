package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"hongson-portal/internal/models"
	"hongson-portal/internal/repository"
	"hongson-portal/internal/util"
)

// AppRepository stores app links in the app_links table.
type AppRepository struct {
	client *ScyllaClient
}

var _ repository.AppRepository = (*AppRepository)(nil)

func NewAppRepository(client *ScyllaClient) *AppRepository {
	return &AppRepository{client: client}
}

func scanTargets(app *models.AppLink) []interface{} {
	return []interface{}{
		&app.ID, &app.Name, &app.URL, &app.IconURL, &app.Zone, &app.Color,
		&app.IsEnabled, &app.Order, &app.CreatedAt, &app.UpdatedAt,
	}
}

func (r *AppRepository) ListApps(ctx context.Context) ([]*models.AppLink, error) {
	scanner := r.client.Query(ctx, r.client.Prepared.ListApps, appCollection).Iter().Scanner()

	var apps []*models.AppLink
	for scanner.Next() {
		app := &models.AppLink{}
		if err := scanner.Scan(scanTargets(app)...); err != nil {
			util.Error("Failed to scan app link", zap.Error(err))
			return nil, fmt.Errorf("failed to scan app link: %w", err)
		}
		apps = append(apps, app)
	}
	if err := scanner.Err(); err != nil {
		util.Error("Failed to list app links", zap.Error(err))
		return nil, fmt.Errorf("failed to list app links: %w", err)
	}

	apps = dropIncomplete(apps)
	repository.SortApps(apps)
	return apps, nil
}

// dropIncomplete skips rows that were never inserted in full, such as a
// partial row left by a write racing a delete.
func dropIncomplete(apps []*models.AppLink) []*models.AppLink {
	kept := apps[:0]
	for _, app := range apps {
		if !isComplete(app) {
			util.Warn("Skipping incomplete app link row", zap.String("app_id", app.ID))
			continue
		}
		kept = append(kept, app)
	}
	return kept
}

func isComplete(app *models.AppLink) bool {
	return app.Name != "" && app.URL != "" && !app.CreatedAt.IsZero()
}

func (r *AppRepository) GetApp(ctx context.Context, id string) (*models.AppLink, error) {
	app := &models.AppLink{}
	err := r.client.Query(ctx, r.client.Prepared.GetApp, appCollection, id).Scan(scanTargets(app)...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		util.Error("Failed to get app link", zap.String("app_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get app link: %w", err)
	}
	if !isComplete(app) {
		return nil, nil
	}
	return app, nil
}

func (r *AppRepository) InsertApp(ctx context.Context, app *models.AppLink) error {
	err := r.client.Query(ctx, r.client.Prepared.InsertApp,
		appCollection, app.ID, app.Name, app.URL, app.IconURL, app.Zone, app.Color,
		app.IsEnabled, app.Order, app.CreatedAt, app.UpdatedAt,
	).Exec()
	if err != nil {
		util.Error("Failed to insert app link", zap.String("app_id", app.ID), zap.Error(err))
		return fmt.Errorf("failed to insert app link: %w", err)
	}

	util.Debug("App link inserted", zap.String("app_id", app.ID), zap.Int("order", app.Order))
	return nil
}

// UpdateApp issues a lightweight transaction so a missing row is reported
// instead of being created.
func (r *AppRepository) UpdateApp(ctx context.Context, id string, patch *models.AppLinkPatch, now time.Time) error {
	stmt, values := buildUpdate(id, patch, now)

	applied, err := r.client.Query(ctx, stmt, values...).MapScanCAS(make(map[string]interface{}))
	if err != nil {
		util.Error("Failed to update app link", zap.String("app_id", id), zap.Error(err))
		return fmt.Errorf("failed to update app link: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func buildUpdate(id string, patch *models.AppLinkPatch, now time.Time) (string, []interface{}) {
	var sets []string
	var values []interface{}

	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		values = append(values, value)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.IconURL != nil {
		add("icon_url", *patch.IconURL)
	}
	if patch.Zone != nil {
		add("zone", *patch.Zone)
	}
	if patch.Color != nil {
		add("color", *patch.Color)
	}
	if patch.IsEnabled != nil {
		add("is_enabled", *patch.IsEnabled)
	}
	if patch.Order != nil {
		add("sort_order", *patch.Order)
	}
	add("updated_at", now)

	values = append(values, appCollection, id)
	return "UPDATE app_links SET " + strings.Join(sets, ", ") + " WHERE collection = ? AND id = ? IF EXISTS", values
}

func (r *AppRepository) DeleteApp(ctx context.Context, id string) error {
	if err := r.client.Query(ctx, r.client.Prepared.DeleteApp, appCollection, id).Exec(); err != nil {
		util.Error("Failed to delete app link", zap.String("app_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete app link: %w", err)
	}
	return nil
}

// ApplyOrders writes all order changes in one conditional LOGGED BATCH. The
// batch is rejected as a whole when any row has been deleted.
func (r *AppRepository) ApplyOrders(ctx context.Context, updates []models.OrderUpdate, now time.Time) error {
	if len(updates) == 0 {
		return nil
	}

	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	for _, stmt := range orderStatements(r.client.Prepared, updates, now) {
		batch.Query(stmt.query, stmt.values...)
	}

	applied, err := r.client.ExecuteBatchCAS(batch)
	if err != nil {
		util.Error("Failed to apply order batch",
			zap.Int("updates", len(updates)),
			zap.Error(err))
		return fmt.Errorf("failed to apply order batch: %w", err)
	}
	if !applied {
		return fmt.Errorf("order batch: %w", repository.ErrNotFound)
	}
	return nil
}

type orderStatement struct {
	query  string
	values []interface{}
}

func orderStatements(prepared *PreparedStatements, updates []models.OrderUpdate, now time.Time) []orderStatement {
	stmts := make([]orderStatement, 0, len(updates))
	for _, u := range updates {
		if u.Touch {
			stmts = append(stmts, orderStatement{prepared.TouchOrder, []interface{}{u.Order, now, appCollection, u.ID}})
		} else {
			stmts = append(stmts, orderStatement{prepared.UpdateOrder, []interface{}{u.Order, appCollection, u.ID}})
		}
	}
	return stmts
}

func (r *AppRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
