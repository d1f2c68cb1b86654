package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quorumlabs/identity/internal/api/helpers"
	"github.com/quorumlabs/identity/internal/api/middleware"
	"github.com/quorumlabs/identity/internal/domain"
)

// SetupTOTP starts authenticator enrollment for the logged-in user.
func (h *AuthHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	setup, err := h.service.SetupTOTP(r.Context(), userID)
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, setup)
}

// ConfirmTOTPRequest proves possession of a freshly issued secret.
type ConfirmTOTPRequest struct {
	UserID uuid.UUID `json:"userId"`
	Token  string    `json:"token"`
}

func (h *AuthHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTOTPRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "userId and token required")
		return
	}

	if err := h.service.ConfirmTOTP(r.Context(), req.UserID, req.Token); err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "TOTP enabled"})
}

// ChangeMFARequest switches the caller's personal MFA method.
type ChangeMFARequest struct {
	Method string `json:"method"`
}

func (h *AuthHandler) ChangeMFAMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ChangeMFARequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ChangeMFAMethod(r.Context(), userID, domain.MFAMethod(req.Method))
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"message":                  "MFA method updated",
		"totpSetup":                result.TOTPSetup,
		"requiresTotpConfirmation": result.RequiresTOTPConfirmation,
	})
}

// ChangeOrgMFARequest switches the MFA method an organization enforces on
// its members.
type ChangeOrgMFARequest struct {
	Method string `json:"method"`
}

func (h *AuthHandler) ChangeOrganizationMFA(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ChangeOrgMFARequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	org, err := h.service.ChangeOrganizationMFAMethod(r.Context(), userID, domain.MFAMethod(req.Method))
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"message": "Organization MFA method updated",
		"organization": map[string]any{
			"id":        org.ID,
			"name":      org.Name,
			"mfaMethod": org.MFAMethod,
		},
	})
}
