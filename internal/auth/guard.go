package auth

import (
	"net/http"
	"strings"

	"hongson-portal/internal/metrics"
	"hongson-portal/internal/util"

	"go.uber.org/zap"
)

const (
	QueryShowLogin = "showLogin"
	QueryExpired   = "expired"
)

// Guard protects every path under an admin prefix. It keeps no state
// between requests.
type Guard struct {
	codec   *TokenCodec
	prefix  string
	cookies CookieOptions
	logger  *zap.Logger
}

func NewGuard(codec *TokenCodec, prefix string, cookies CookieOptions, logger *zap.Logger) *Guard {
	return &Guard{
		codec:   codec,
		prefix:  prefix,
		cookies: cookies,
		logger:  logger,
	}
}

// Protects reports whether path falls under the admin prefix.
func (g *Guard) Protects(path string) bool {
	return strings.HasPrefix(path, g.prefix)
}

// Middleware passes admin requests with a live session through unchanged
// and redirects everything else to the public entry point.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Protects(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		decision, session := g.codec.Check(SessionValue(r))
		metrics.SessionDecisionsTotal.WithLabelValues(decision.String()).Inc()
		switch decision {
		case DecisionAllow:
			next.ServeHTTP(w, r)
			return
		case DecisionExpired:
			ClearSessionCookie(w, g.cookies)
			g.logger.Info("Admin session expired",
				util.String("path", r.URL.Path),
				util.Time("issued_at", session.IssuedAt),
			)
		default:
			g.logger.Debug("Admin session missing or malformed",
				util.String("path", r.URL.Path),
			)
		}

		http.Redirect(w, r, loginRedirectURL(r, decision == DecisionExpired), http.StatusTemporaryRedirect)
	})
}

// loginRedirectURL points at "/" keeping the incoming query and adding the
// login flags.
func loginRedirectURL(r *http.Request, expired bool) string {
	q := r.URL.Query()
	q.Set(QueryShowLogin, "true")
	if expired {
		q.Set(QueryExpired, "true")
	} else {
		q.Del(QueryExpired)
	}
	return "/?" + q.Encode()
}
