package models

import (
	"time"
)

// AdminSession is a decoded admin_session cookie.
type AdminSession struct {
	IssuedAt  time.Time
	Component string
}

func (s AdminSession) ExpiresAt(maxAge time.Duration) time.Time {
	return s.IssuedAt.Add(maxAge)
}
