package models

import "time"

// AppEvent is published whenever the app-link collection changes.
type AppEvent struct {
	EventID string    `json:"event_id"`
	Type    string    `json:"type"`
	AppID   string    `json:"app_id,omitempty"`
	At      time.Time `json:"at"`
	App     *AppLink  `json:"app,omitempty"`
}

const (
	EventAppCreated     = "app.created"
	EventAppUpdated     = "app.updated"
	EventAppDeleted     = "app.deleted"
	EventAppReordered   = "app.reordered"
	EventAppsNormalized = "apps.normalized"
)

// LaunchCount aggregates how often an app was opened through the portal.
type LaunchCount struct {
	AppID    string `json:"appId"`
	Launches uint64 `json:"launches"`
}
