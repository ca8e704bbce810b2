package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"hongson-portal/internal/auth"
	"hongson-portal/internal/service"
	"hongson-portal/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuthHandler exchanges the admin secret for the admin_session cookie.
type AuthHandler struct {
	responder
	authService *service.AuthService
	cookies     auth.CookieOptions
}

func NewAuthHandler(authService *service.AuthService, cookies auth.CookieOptions, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		responder:   responder{logger: logger},
		authService: authService,
		cookies:     cookies,
	}
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	SecretKey string `json:"secretKey"`
}

// SessionStatus reports whether the caller holds a live admin session.
type SessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// RegisterRoutes registers the routes mounted under /api/auth.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/login", h.Login)
	router.Post("/logout", h.Logout)
	router.Get("/session", h.Session)
}

// Login handles the admin login form.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"), "Invalid request body")
		return
	}

	client := clientKey(r)
	value, session, err := h.authService.Login(ctx, client, req.SecretKey)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	auth.SetSessionCookie(w, value, h.authService.MaxAge(), h.cookies)
	expiresAt := session.ExpiresAt(h.authService.MaxAge())
	h.respondWithJSON(w, http.StatusOK, successResponse(SessionStatus{
		Authenticated: true,
		ExpiresAt:     &expiresAt,
	}, "Logged in"))
	h.logger.Debug("Admin login via HTTP",
		util.String("client", client),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Logout expires the session cookie. It succeeds without a session too.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookies)
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// Session applies the guard's validation to the current cookie.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	status := SessionStatus{}
	if ok, expiresAt := h.authService.Session(auth.SessionValue(r)); ok {
		status.Authenticated = true
		status.ExpiresAt = &expiresAt
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

// clientKey identifies the caller for login throttling. RemoteAddr has
// already been rewritten by middleware.RealIP when a proxy is in front.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
