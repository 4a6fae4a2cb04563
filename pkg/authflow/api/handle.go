package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/authflow"
	"github.com/blogpress/authguard/pkg/device"
	"github.com/blogpress/authguard/pkg/errors"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/utils"
)

// Handle exposes the verification flow and method lifecycle over HTTP. The
// caller is identified by the JWT subject; management endpoints additionally
// re-authenticate with the password.
type Handle struct {
	flow *authflow.Service
}

func NewHandle(flow *authflow.Service) *Handle {
	return &Handle{flow: flow}
}

// Routes returns the router for the 2FA API.
func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/verify", h.PostVerify)
	r.Get("/step-up", h.GetStepUp)
	r.Post("/passcode/send", h.PostSendPasscode)
	r.Post("/login/hardware-key/begin", h.PostBeginHardwareKeyLogin)

	r.Post("/enroll/totp", h.PostEnrollTotp)
	r.Post("/enroll/totp/confirm", h.PostConfirmTotp)
	r.Post("/enroll/delivery", h.PostEnrollDelivery)
	r.Post("/enroll/delivery/confirm", h.PostConfirmDelivery)
	r.Post("/enroll/hardware-key/begin", h.PostBeginHardwareKeyEnrollment)
	r.Post("/enroll/hardware-key/finish", h.PostFinishHardwareKeyEnrollment)

	r.Post("/methods/{enrollmentID}/disable", h.PostDisableMethod)
	r.Post("/recovery-codes/regenerate", h.PostRegenerateRecoveryCodes)
	r.Get("/profile", h.GetProfile)

	return r
}

type verifyRequest struct {
	Method              string          `json:"method"`
	Code                string          `json:"code,omitempty"`
	AssertionCeremonyID string          `json:"assertion_ceremony_id,omitempty"`
	AssertionResponse   json.RawMessage `json:"assertion_response,omitempty"`
	RememberDevice      bool            `json:"remember_device,omitempty"`
	TrustTTLDays        int             `json:"trust_ttl_days,omitempty"`
}

func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body verifyRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}
	kind, err := mfa.ParseKind(body.Method)
	if err != nil {
		respondError(w, r, errors.InvalidInput("method", err.Error()))
		return
	}

	clientIP := utils.ClientIP(r)
	result := h.flow.AssessAndVerify(r.Context(), authflow.Request{
		UserID:              userID,
		Method:              kind,
		Code:                body.Code,
		AssertionCeremonyID: body.AssertionCeremonyID,
		AssertionResponse:   body.AssertionResponse,
		IP:                  clientIP,
		UserAgent:           r.UserAgent(),
		Fingerprint:         device.GenerateFingerprint(device.ExtractFingerprintDataFromRequest(r, clientIP)),
		RememberDevice:      body.RememberDevice,
		TrustTTL:            time.Duration(body.TrustTTLDays) * 24 * time.Hour,
	})

	status := http.StatusOK
	switch result.Outcome {
	case authflow.OutcomeFailed:
		status = http.StatusUnauthorized
	case authflow.OutcomeLocked:
		status = http.StatusLocked
	case authflow.OutcomeBlocked:
		status = http.StatusForbidden
	}
	render.Status(r, status)
	render.JSON(w, r, result)
}

func (h *Handle) GetStepUp(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	clientIP := utils.ClientIP(r)
	fingerprint := device.GenerateFingerprint(device.ExtractFingerprintDataFromRequest(r, clientIP))
	required, err := h.flow.IsStepUpRequired(r.Context(), userID, clientIP, r.UserAgent(), fingerprint)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"step_up_required": required})
}

type sendPasscodeRequest struct {
	Method string `json:"method"`
}

func (h *Handle) PostSendPasscode(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body sendPasscodeRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}
	kind, err := mfa.ParseKind(body.Method)
	if err != nil {
		respondError(w, r, errors.InvalidInput("method", err.Error()))
		return
	}

	if err := h.flow.SendPasscode(r.Context(), userID, kind); err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"result": "sent"})
}

func (h *Handle) PostBeginHardwareKeyLogin(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	options, ceremonyID, err := h.flow.BeginHardwareKeyLogin(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"ceremony_id": ceremonyID,
		"options":     options,
	})
}

type enrollTotpRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *Handle) PostEnrollTotp(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body enrollTotpRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}

	offer, err := h.flow.StartTotpEnrollment(r.Context(), userID, body.DisplayName)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, offer)
}

type confirmEnrollmentRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	Code         string `json:"code"`
}

func (h *Handle) PostConfirmTotp(w http.ResponseWriter, r *http.Request) {
	h.confirmEnrollment(w, r, h.flow.ConfirmTotpEnrollment)
}

func (h *Handle) PostConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.confirmEnrollment(w, r, h.flow.ConfirmDeliveryMethod)
}

func (h *Handle) confirmEnrollment(w http.ResponseWriter, r *http.Request, confirm func(ctx context.Context, userID, enrollmentID uuid.UUID, code string) (authflow.ConfirmResult, error)) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body confirmEnrollmentRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}
	enrollmentID, err := uuid.Parse(body.EnrollmentID)
	if err != nil {
		respondError(w, r, errors.InvalidInput("enrollment_id", "invalid enrollment id"))
		return
	}

	result, err := confirm(r.Context(), userID, enrollmentID, body.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, confirmResponseFrom(result))
}

type enrollDeliveryRequest struct {
	Method      string `json:"method"`
	Destination string `json:"destination"`
	DisplayName string `json:"display_name"`
}

func (h *Handle) PostEnrollDelivery(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body enrollDeliveryRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}
	kind, err := mfa.ParseKind(body.Method)
	if err != nil {
		respondError(w, r, errors.InvalidInput("method", err.Error()))
		return
	}

	enrollmentID, err := h.flow.EnrollDeliveryMethod(r.Context(), userID, kind, body.Destination, body.DisplayName)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]string{"enrollment_id": enrollmentID.String()})
}

func (h *Handle) PostBeginHardwareKeyEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	options, ceremonyID, err := h.flow.BeginHardwareKeyEnrollment(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"ceremony_id": ceremonyID,
		"options":     options,
	})
}

type finishHardwareKeyRequest struct {
	CeremonyID  string          `json:"ceremony_id"`
	DisplayName string          `json:"display_name"`
	Response    json.RawMessage `json:"response"`
}

func (h *Handle) PostFinishHardwareKeyEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body finishHardwareKeyRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}

	result, err := h.flow.FinishHardwareKeyEnrollment(r.Context(), userID, body.CeremonyID, body.DisplayName, body.Response)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, confirmResponseFrom(result))
}

type disableMethodRequest struct {
	Password string `json:"password"`
}

func (h *Handle) PostDisableMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	enrollmentID, err := uuid.Parse(chi.URLParam(r, "enrollmentID"))
	if err != nil {
		respondError(w, r, errors.InvalidInput("enrollmentID", "invalid enrollment id"))
		return
	}

	var body disableMethodRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}

	if err := h.flow.DisableMethod(r.Context(), userID, enrollmentID, body.Password); err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"result": "disabled"})
}

type regenerateRecoveryRequest struct {
	Password string `json:"password"`
}

func (h *Handle) PostRegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body regenerateRecoveryRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		respondError(w, r, errors.InvalidInput("body", "unable to parse body"))
		return
	}

	codes, err := h.flow.RegenerateRecoveryCodes(r.Context(), userID, body.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"recovery_codes": codes})
}

type enrollmentResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	DisplayName string     `json:"display_name"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	DisabledAt  *time.Time `json:"disabled_at,omitempty"`
	Active      bool       `json:"active"`
}

type profileResponse struct {
	UserID             string               `json:"user_id"`
	Enrollments        []enrollmentResponse `json:"enrollments"`
	TwoFactorForced    bool                 `json:"two_factor_forced"`
	PreferredKind      string               `json:"preferred_kind,omitempty"`
	RecoveryCodesAlive int                  `json:"recovery_codes_alive"`
}

func (h *Handle) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	profile, err := h.flow.Profile(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := profileResponse{
		UserID:             profile.UserID.String(),
		TwoFactorForced:    profile.TwoFactorForced,
		PreferredKind:      string(profile.PreferredKind),
		RecoveryCodesAlive: profile.RecoveryCodesAlive,
	}
	// Method payloads (secrets, destinations) never leave the service.
	for _, e := range profile.Enrollments {
		resp.Enrollments = append(resp.Enrollments, enrollmentResponse{
			ID:          e.ID.String(),
			Kind:        string(e.Method.Kind()),
			DisplayName: e.DisplayName,
			EnrolledAt:  e.EnrolledAt,
			ConfirmedAt: e.ConfirmedAt,
			DisabledAt:  e.DisabledAt,
			Active:      e.Active(),
		})
	}
	render.JSON(w, r, resp)
}

type confirmResponse struct {
	Enrollment    enrollmentResponse `json:"enrollment"`
	RecoveryCodes []string           `json:"recovery_codes,omitempty"`
}

func confirmResponseFrom(result authflow.ConfirmResult) confirmResponse {
	e := result.Enrollment
	return confirmResponse{
		Enrollment: enrollmentResponse{
			ID:          e.ID.String(),
			Kind:        string(e.Method.Kind()),
			DisplayName: e.DisplayName,
			EnrolledAt:  e.EnrolledAt,
			ConfirmedAt: e.ConfirmedAt,
			DisabledAt:  e.DisabledAt,
			Active:      e.Active(),
		},
		RecoveryCodes: result.RecoveryCodes,
	}
}

// userIDFromRequest reads the authenticated user from the JWT subject.
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
