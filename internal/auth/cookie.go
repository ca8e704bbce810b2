package auth

import (
	"net/http"
	"time"
)

const CookieName = "admin_session"

// CookieOptions defines how the admin_session cookie is issued.
type CookieOptions struct {
	Secure bool // set in production
}

// SetSessionCookie issues the session cookie for maxAge.
func SetSessionCookie(w http.ResponseWriter, value string, maxAge time.Duration, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie immediately for the whole site.
func ClearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // serialized as Max-Age=0
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionValue returns the raw cookie value, or "" when absent.
func SessionValue(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
