package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/quorumlabs/identity/internal/api/helpers"
	"github.com/quorumlabs/identity/internal/api/middleware"
	"github.com/quorumlabs/identity/internal/auth"
)

type AuthHandler struct {
	service  *auth.AuthService
	provider auth.TokenProvider
}

func NewAuthHandler(service *auth.AuthService, provider auth.TokenProvider) *AuthHandler {
	return &AuthHandler{service: service, provider: provider}
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		UserAgent: r.UserAgent(),
		IPAddress: helpers.GetRealIP(r),
	}
}

// LoginRequest defines the expected JSON body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req *LoginRequest) Validate() error {
	if req.Email == "" || req.Password == "" {
		return fmt.Errorf("email and password required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

type loginResponse struct {
	Success           bool   `json:"success"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	TwoFactorMethod   string `json:"twoFactorMethod,omitempty"`
	UserID            string `json:"userId,omitempty"`
	PreAuthToken      string `json:"preAuthToken,omitempty"`
	Message           string `json:"message,omitempty"`
	RequiresTOTPSetup bool   `json:"requiresTotpSetup,omitempty"`
	TOTP              any    `json:"totp,omitempty"`
	AccessToken       string `json:"accessToken,omitempty"`
	RefreshToken      string `json:"refreshToken,omitempty"`
	User              any    `json:"user,omitempty"`
}

func loginResultResponse(res *auth.LoginResult) loginResponse {
	out := loginResponse{Success: true, RequiresTwoFactor: res.RequiresTwoFactor}
	if res.RequiresTwoFactor {
		out.TwoFactorMethod = string(res.TwoFactorMethod)
		out.UserID = res.UserID.String()
		out.PreAuthToken = res.PreAuthToken
		out.Message = "Two-factor verification required"
		out.RequiresTOTPSetup = res.RequiresTOTPSetup
		if res.TOTP != nil {
			out.TOTP = res.TOTP
		}
		return out
	}
	out.AccessToken = res.Tokens.AccessToken
	out.RefreshToken = res.Tokens.RefreshToken
	out.User = res.User
	return out
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("Login: Invalid Request Body", "ip", helpers.GetRealIP(r), "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Authenticate(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, loginResultResponse(result))
}

// VerifyOTPRequest completes an emailed-code challenge. The pre-auth token is
// the one returned with the login challenge.
type VerifyOTPRequest struct {
	PreAuthToken string `json:"preAuthToken"`
	OTP          string `json:"otp"`
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PreAuthToken == "" || req.OTP == "" {
		helpers.RespondError(w, http.StatusBadRequest, "preAuthToken and otp required")
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), req.PreAuthToken, req.OTP, clientMeta(r))
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, loginResultResponse(result))
}

// VerifyTOTPRequest completes an authenticator-app challenge.
type VerifyTOTPRequest struct {
	PreAuthToken string `json:"preAuthToken"`
	Token        string `json:"token"`
}

func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyTOTPRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PreAuthToken == "" || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "preAuthToken and token required")
		return
	}

	result, err := h.service.VerifyTOTP(r.Context(), req.PreAuthToken, req.Token, clientMeta(r))
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, loginResultResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		helpers.RespondError(w, http.StatusBadRequest, "refreshToken required")
		return
	}

	pair, err := h.service.RefreshSession(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		// Possible replay of a rotated token.
		slog.Warn("Refresh failed", "ip", helpers.GetRealIP(r), "error", err)
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := helpers.DecodeJSON(r, &req); err == nil && req.RefreshToken != "" {
		// Fire and forget; logout always succeeds from the client's view.
		_ = h.service.Logout(r.Context(), req.RefreshToken)
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// LogoutAll revokes every live session of the authenticated user.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.service.RevokeAllSessions(r.Context(), userID); err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "All sessions revoked"})
}

// GetJWKS serves the JSON Web Key Set so resource servers can verify access
// tokens offline.
func (h *AuthHandler) GetJWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.provider.GetJWKS()
	if err != nil {
		slog.Error("GetJWKS failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, jwks)
}
