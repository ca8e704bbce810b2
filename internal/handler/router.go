package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"hongson-portal/internal/auth"
	"hongson-portal/internal/metrics"
	"hongson-portal/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker reports the health of every configured backend by name.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Portal         *PortalHandler
	Apps           *AppHandler
	Auth           *AuthHandler
	Guard          *auth.Guard
	Health         HealthChecker
	AdminPrefix    string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(rc RouterConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(rc.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rc.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match", "X-Request-Id"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every admin path, routed or not, goes through the session guard.
	router.Use(rc.Guard.Middleware)

	router.Get("/health", healthHandler(rc.Health, logger))
	router.Handle("/metrics", promhttp.Handler())

	router.Get("/", rc.Portal.Home)
	rc.Apps.RegisterPublicRoutes(router)
	router.Route("/api/auth", rc.Auth.RegisterRoutes)

	router.Route(rc.AdminPrefix, rc.Apps.RegisterAdminRoutes)

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}

// healthHandler answers 503 when any backend check fails.
func healthHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	h := responder{logger: logger}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		components := make(map[string]string)
		status, code := "healthy", http.StatusOK
		for name, err := range checker.HealthCheck(ctx) {
			if err != nil {
				components[name] = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}

		h.respondWithJSON(w, code, map[string]interface{}{
			"status":     status,
			"service":    "hongson-portal",
			"components": components,
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// MetricsMiddleware records request counts and latency by route pattern,
// so /api/apps/{appID} is one series regardless of the id.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
