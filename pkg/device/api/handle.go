package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/blogpress/authguard/pkg/device"
	"github.com/blogpress/authguard/pkg/errors"
)

// Handle exposes the trusted-device management screen: list grants and
// revoke them one at a time or all at once.
type Handle struct {
	devices *device.DeviceService
}

func NewHandle(devices *device.DeviceService) *Handle {
	return &Handle{devices: devices}
}

func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.GetDevices)
	r.Post("/{trustID}/revoke", h.PostRevoke)
	r.Post("/revoke-all", h.PostRevokeAll)

	return r
}

type trustedDeviceResponse struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	UserAgent   string     `json:"user_agent"`
	Network     string     `json:"network"`
	TrustedAt   time.Time  `json:"trusted_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Active      bool       `json:"active"`
}

func (h *Handle) GetDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	trusts, err := h.devices.ListTrusted(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	now := time.Now().UTC()
	resp := make([]trustedDeviceResponse, 0, len(trusts))
	for i := range trusts {
		var item trustedDeviceResponse
		if err := copier.Copy(&item, &trusts[i]); err != nil {
			respondError(w, r, errors.Wrap(err, errors.ErrCodeInternal, "failed to map device"))
			return
		}
		item.ID = trusts[i].ID.String()
		item.Active = trusts[i].ActiveAt(now)
		resp = append(resp, item)
	}
	render.JSON(w, r, resp)
}

func (h *Handle) PostRevoke(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	trustID, err := uuid.Parse(chi.URLParam(r, "trustID"))
	if err != nil {
		respondError(w, r, errors.InvalidInput("trustID", "invalid trust id"))
		return
	}

	if err := h.devices.Revoke(r.Context(), userID, trustID); err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"result": "revoked"})
}

func (h *Handle) PostRevokeAll(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	count, err := h.devices.RevokeAll(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"revoked": count})
}

func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, errors.New(errors.ErrCodeAuthFailed, "missing or invalid token")
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, errors.New(errors.ErrCodeAuthFailed, "invalid token subject")
	}
	return userID, nil
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	render.Status(r, errors.MapErrorCodeToHTTPStatus(code))
	render.JSON(w, r, map[string]string{
		"code":    string(code),
		"message": errors.UserMessage(err),
	})
}
