package scylla

import (
	"strings"
	"testing"
	"time"

	"hongson-portal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	name := "Classroom"
	enabled := false
	order := 4
	zone := models.ZoneTeacher

	stmt, values := buildUpdate("app-1", &models.AppLinkPatch{
		Name:      &name,
		Zone:      &zone,
		IsEnabled: &enabled,
		Order:     &order,
	}, now)

	assert.Equal(t,
		"UPDATE app_links SET name = ?, zone = ?, is_enabled = ?, sort_order = ?, updated_at = ? WHERE collection = ? AND id = ? IF EXISTS",
		stmt)
	assert.Equal(t, []interface{}{"Classroom", models.ZoneTeacher, false, 4, now, appCollection, "app-1"}, values)
}

func TestBuildUpdate_EmptyPatchOnlyTouches(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	stmt, values := buildUpdate("app-1", &models.AppLinkPatch{}, now)

	assert.Equal(t, "UPDATE app_links SET updated_at = ? WHERE collection = ? AND id = ? IF EXISTS", stmt)
	assert.Equal(t, []interface{}{now, appCollection, "app-1"}, values)
}

func TestOrderStatements_AreConditional(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	prepared := newPreparedStatements()

	stmts := orderStatements(prepared, []models.OrderUpdate{
		{ID: "a", Order: 1, Touch: true},
		{ID: "b", Order: 0},
	}, now)

	require.Len(t, stmts, 2)
	assert.Equal(t, prepared.TouchOrder, stmts[0].query)
	assert.Equal(t, []interface{}{1, now, appCollection, "a"}, stmts[0].values)
	assert.Equal(t, prepared.UpdateOrder, stmts[1].query)
	assert.Equal(t, []interface{}{0, appCollection, "b"}, stmts[1].values)

	for _, stmt := range stmts {
		assert.True(t, strings.HasSuffix(strings.TrimSpace(stmt.query), "IF EXISTS"), stmt.query)
		assert.Equal(t, strings.Count(stmt.query, "?"), len(stmt.values))
	}
}

func TestPreparedStatements_UseSinglePartition(t *testing.T) {
	prepared := newPreparedStatements()

	for name, stmt := range map[string]string{
		"get":    prepared.GetApp,
		"list":   prepared.ListApps,
		"delete": prepared.DeleteApp,
		"order":  prepared.UpdateOrder,
		"touch":  prepared.TouchOrder,
	} {
		assert.Contains(t, stmt, "collection = ?", name)
	}
	assert.Equal(t, 11, strings.Count(prepared.InsertApp, "?"))
	assert.Contains(t, createAppLinksTable, "PRIMARY KEY ((collection), id)")
}

func TestDropIncomplete(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	full := &models.AppLink{ID: "a", Name: "Classroom", URL: "https://classroom.example.com", CreatedAt: created}
	ghost := &models.AppLink{ID: "b", Order: 3}
	noCreated := &models.AppLink{ID: "c", Name: "Mail", URL: "https://mail.example.com"}

	kept := dropIncomplete([]*models.AppLink{ghost, full, noCreated})

	require.Len(t, kept, 1)
	assert.Equal(t, "a", kept[0].ID)
}
