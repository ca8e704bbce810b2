package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hongson-portal/internal/models"
	"hongson-portal/internal/service"
	"hongson-portal/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxJSONBody = 64 << 10

var errImagesDisabled = errors.New("image storage is not configured")

// ImageStore keeps uploaded app icons.
type ImageStore interface {
	Upload(ctx context.Context, folder, fileName, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, url string)
}

// AppHandler serves the public app list and the admin app management API.
type AppHandler struct {
	responder
	appService    *service.AppService
	images        ImageStore
	maxUploadSize int64
}

// NewAppHandler builds the handler. images may be nil, in which case the
// image endpoints answer 503.
func NewAppHandler(appService *service.AppService, images ImageStore, maxUploadSize int64, logger *zap.Logger) *AppHandler {
	return &AppHandler{
		responder:     responder{logger: logger},
		appService:    appService,
		images:        images,
		maxUploadSize: maxUploadSize,
	}
}

// ReorderRequest is the body of POST /admin/api/apps/{appID}/reorder.
type ReorderRequest struct {
	Direction service.Direction `json:"direction"`
}

// Dashboard is the admin landing payload.
type Dashboard struct {
	Apps  []*models.AppLink `json:"apps"`
	Count int               `json:"count"`
}

// RegisterPublicRoutes registers routes that need no session.
func (h *AppHandler) RegisterPublicRoutes(router chi.Router) {
	router.Route("/api/apps", func(r chi.Router) {
		r.Get("/", h.ListVisibleApps)
		r.Get("/search", h.SearchApps)
		r.Get("/{appID}", h.GetApp)
	})
	router.Get("/go/{appID}", h.LaunchApp)
}

// RegisterAdminRoutes registers routes mounted under the admin prefix.
func (h *AppHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/dashboard", h.Dashboard)

	router.Route("/api", func(r chi.Router) {
		r.Route("/apps", func(r chi.Router) {
			r.Get("/", h.ListApps)
			r.Post("/", h.CreateApp)
			r.Post("/normalize", h.NormalizeOrders)
			r.Get("/{appID}", h.GetApp)
			r.Patch("/{appID}", h.UpdateApp)
			r.Delete("/{appID}", h.DeleteApp)
			r.Post("/{appID}/reorder", h.ReorderApp)
		})

		r.Post("/images", h.UploadImage)
		r.Delete("/images", h.DeleteImage)

		r.Get("/stats/launches", h.LaunchStats)
	})
}

// ListVisibleApps returns enabled apps for an optional zone, with an ETag.
func (h *AppHandler) ListVisibleApps(w http.ResponseWriter, r *http.Request) {
	zone := models.Zone(r.URL.Query().Get("zone"))

	apps, err := h.appService.ListVisible(r.Context(), zone)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to list apps")
		return
	}

	resp := successResponse(apps, "")
	resp.Meta = &Meta{Total: len(apps)}
	h.respondWithETag(w, r, resp)
}

func (h *AppHandler) SearchApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	apps, err := h.appService.Search(r.Context(), q.Get("q"), models.Zone(q.Get("zone")))
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to search apps")
		return
	}

	resp := successResponse(apps, "")
	resp.Meta = &Meta{Total: len(apps)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AppHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	app, err := h.appService.Get(r.Context(), appID)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to get app")
		return
	}
	if app == nil {
		h.respondWithError(w, http.StatusNotFound, service.ErrAppNotFound, "Failed to get app")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(app, ""))
}

// LaunchApp redirects to the app's URL and records the launch.
func (h *AppHandler) LaunchApp(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	app, err := h.appService.Launch(r.Context(), appID, r.UserAgent())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to open app")
		return
	}

	http.Redirect(w, r, app.URL, http.StatusFound)
}

func (h *AppHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	apps, err := h.appService.List(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to load dashboard")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(Dashboard{Apps: apps, Count: len(apps)}, ""))
}

// ListApps returns every app, disabled ones included.
func (h *AppHandler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.appService.List(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to list apps")
		return
	}

	resp := successResponse(apps, "")
	resp.Meta = &Meta{Total: len(apps)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AppHandler) CreateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var input models.AppLinkInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	id, err := h.appService.Add(ctx, input)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to create app")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(map[string]string{"id": id}, "App created successfully"))
	h.logger.Info("App created via HTTP",
		util.String("app_id", id),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *AppHandler) UpdateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "appID")

	var patch models.AppLinkPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.appService.Update(ctx, appID, patch); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to update app")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "App updated successfully"))
	h.logger.Info("App updated via HTTP", util.String("app_id", appID))
}

func (h *AppHandler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	if err := h.appService.Delete(r.Context(), appID); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to delete app")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "App deleted successfully"))
	h.logger.Info("App deleted via HTTP", util.String("app_id", appID))
}

func (h *AppHandler) ReorderApp(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	var req ReorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.appService.Reorder(r.Context(), appID, req.Direction); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to reorder app")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "App reordered successfully"))
}

func (h *AppHandler) NormalizeOrders(w http.ResponseWriter, r *http.Request) {
	updated := h.appService.NormalizeOrders(r.Context())
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"updated": updated}, "Orders normalized"))
}

// UploadImage stores a multipart "file" under an optional "folder".
func (h *AppHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errImagesDisabled, "Failed to upload image")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid multipart form"), "Failed to upload image")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("file is required"), "Failed to upload image")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		err := fmt.Errorf("file exceeds %d bytes", h.maxUploadSize)
		h.respondWithError(w, http.StatusRequestEntityTooLarge, err, "Failed to upload image")
		return
	}

	contentType, err := sniffImage(file)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Failed to upload image")
		return
	}

	url, err := h.images.Upload(r.Context(), r.FormValue("folder"), header.Filename, contentType, file, header.Size)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to upload image")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(map[string]string{"url": url}, "Image uploaded"))
}

// DeleteImage removes a managed image. Foreign URLs and storage errors
// still answer 200.
func (h *AppHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("url is required"), "Failed to delete image")
		return
	}
	if h.images == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errImagesDisabled, "Failed to delete image")
		return
	}

	h.images.Delete(r.Context(), url)
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Image deleted"))
}

func (h *AppHandler) LaunchStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, errors.New("days must be an integer"), "Failed to load launch stats")
			return
		}
		days = n
	}

	counts, err := h.appService.LaunchStats(r.Context(), days)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to load launch stats")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(counts, ""))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// sniffImage checks the leading bytes of an upload and rewinds the file.
func sniffImage(file io.ReadSeeker) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return "", errors.New("file is empty")
		}
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	// SVG is refused since it can carry script.
	detected := http.DetectContentType(head[:n])
	if !strings.HasPrefix(detected, "image/") {
		return "", fmt.Errorf("file must be an image, got %s", detected)
	}
	return detected, nil
}
