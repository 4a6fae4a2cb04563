package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/errors"
)

// Handle exposes the audit log for security review: per-user reports,
// anomaly scans, JSON export, and the retention purge. All routes are meant
// to sit behind an admin-scoped token.
type Handle struct {
	audit *audit.Service
}

func NewHandle(auditService *audit.Service) *Handle {
	return &Handle{audit: auditService}
}

func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()
	r.Use(requireAdmin)

	r.Get("/users/{userID}/report", h.GetReport)
	r.Get("/users/{userID}/anomalies", h.GetAnomalies)
	r.Get("/users/{userID}/export", h.GetExport)
	r.Post("/purge", h.PostPurge)

	return r
}

func (h *Handle) GetReport(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, r, errors.InvalidInput("userID", "invalid user id"))
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	events, err := h.audit.Report(r.Context(), userID, from, to)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, events)
}

func (h *Handle) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, r, errors.InvalidInput("userID", "invalid user id"))
		return
	}

	anomalies, err := h.audit.DetectAnomalies(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, anomalies)
}

func (h *Handle) GetExport(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, r, errors.InvalidInput("userID", "invalid user id"))
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=audit-export.json")
	if err := h.audit.ExportJSON(r.Context(), w, userID, from, to); err != nil {
		respondError(w, r, err)
		return
	}
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

func (h *Handle) PostPurge(w http.ResponseWriter, r *http.Request) {
	var body purgeRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}
	if body.OlderThanDays < 1 {
		respondError(w, r, errors.InvalidInput("older_than_days", "must be at least 1"))
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -body.OlderThanDays)
	count, err := h.audit.PurgeOlderThan(r.Context(), cutoff)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"purged": count})
}

// parseRange reads the from/to query parameters, defaulting to the last 30
// days.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.InvalidInput("from", "must be RFC 3339")
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.InvalidInput("to", "must be RFC 3339")
		}
		to = parsed
	}
	return from, to, nil
}

// requireAdmin rejects tokens without the admin role claim.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			respondError(w, r, errors.New(errors.ErrCodeAuthFailed, "missing or invalid token"))
			return
		}
		if role, _ := claims["role"].(string); role != "admin" {
			respondError(w, r, errors.New(errors.ErrCodeForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	render.Status(r, errors.MapErrorCodeToHTTPStatus(code))
	render.JSON(w, r, map[string]string{
		"code":    string(code),
		"message": errors.UserMessage(err),
	})
}
