package handler

import (
	"net/http"

	"hongson-portal/internal/auth"
	"hongson-portal/internal/models"

	"go.uber.org/zap"
)

// Portal is the public entry point payload. The login flags mirror the
// query the session guard redirects with.
type Portal struct {
	Zones     []models.Zone `json:"zones"`
	ShowLogin bool          `json:"showLogin"`
	Expired   bool          `json:"expired"`
}

type PortalHandler struct {
	responder
}

func NewPortalHandler(logger *zap.Logger) *PortalHandler {
	return &PortalHandler{responder: responder{logger: logger}}
}

func (h *PortalHandler) Home(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.respondWithJSON(w, http.StatusOK, successResponse(Portal{
		Zones:     []models.Zone{models.ZoneStudent, models.ZoneTeacher},
		ShowLogin: q.Get(auth.QueryShowLogin) == "true",
		Expired:   q.Get(auth.QueryExpired) == "true",
	}, ""))
}
