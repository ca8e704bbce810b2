package models

import (
	"time"
)

// Zone is the audience an app link is shown to.
type Zone string

const (
	ZoneStudent Zone = "student"
	ZoneTeacher Zone = "teacher"
	ZoneBoth    Zone = "both"
)

func (z Zone) Valid() bool {
	switch z {
	case ZoneStudent, ZoneTeacher, ZoneBoth:
		return true
	}
	return false
}

// Matches reports whether a link in zone z is visible to viewers of zone view.
func (z Zone) Matches(view Zone) bool {
	return z == view || z == ZoneBoth
}

// AppLink is one external application shown on the portal.
type AppLink struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	URL       string    `json:"url" db:"url"`
	IconURL   string    `json:"iconUrl" db:"icon_url"`
	Zone      Zone      `json:"zone" db:"zone"`
	Color     string    `json:"color,omitempty" db:"color"`
	IsEnabled *bool     `json:"isEnabled,omitempty" db:"is_enabled"` // nil means enabled
	Order     int       `json:"order" db:"sort_order"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Enabled treats an absent flag as enabled.
func (a *AppLink) Enabled() bool {
	return a.IsEnabled == nil || *a.IsEnabled
}

// AppLinkInput carries the caller-supplied fields of a new link.
type AppLinkInput struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	IconURL   string `json:"iconUrl"`
	Zone      Zone   `json:"zone"`
	Color     string `json:"color,omitempty"`
	IsEnabled *bool  `json:"isEnabled,omitempty"`
}

// AppLinkPatch is a partial update. Nil fields are left untouched.
type AppLinkPatch struct {
	Name      *string `json:"name,omitempty"`
	URL       *string `json:"url,omitempty"`
	IconURL   *string `json:"iconUrl,omitempty"`
	Zone      *Zone   `json:"zone,omitempty"`
	Color     *string `json:"color,omitempty"`
	IsEnabled *bool   `json:"isEnabled,omitempty"`
	Order     *int    `json:"order,omitempty"`
}

func (p *AppLinkPatch) IsEmpty() bool {
	return p.Name == nil && p.URL == nil && p.IconURL == nil && p.Zone == nil &&
		p.Color == nil && p.IsEnabled == nil && p.Order == nil
}

// Apply copies the set fields of p onto a and stamps UpdatedAt.
func (p *AppLinkPatch) Apply(a *AppLink, now time.Time) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.URL != nil {
		a.URL = *p.URL
	}
	if p.IconURL != nil {
		a.IconURL = *p.IconURL
	}
	if p.Zone != nil {
		a.Zone = *p.Zone
	}
	if p.Color != nil {
		a.Color = *p.Color
	}
	if p.IsEnabled != nil {
		enabled := *p.IsEnabled
		a.IsEnabled = &enabled
	}
	if p.Order != nil {
		a.Order = *p.Order
	}
	a.UpdatedAt = now
}

// OrderUpdate sets one record's order inside a batched write.
type OrderUpdate struct {
	ID    string
	Order int
	// Touch refreshes updated_at along with the order.
	Touch bool
}
