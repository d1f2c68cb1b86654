package api

import (
	"fmt"
	"net/http"
	"net/mail"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quorumlabs/identity/internal/api/helpers"
	"github.com/quorumlabs/identity/internal/api/middleware"
	"github.com/quorumlabs/identity/internal/auth"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/storage"
)

type InviteHandler struct {
	service *auth.InviteService
	store   storage.Store
}

func NewInviteHandler(service *auth.InviteService, store storage.Store) *InviteHandler {
	return &InviteHandler{service: service, store: store}
}

// CreateInviteRequest defines the JSON body for issuing an invitation.
type CreateInviteRequest struct {
	Email            string `json:"email"`
	Role             string `json:"role"`
	OrganizationName string `json:"organizationName,omitempty"`
}

func (req *CreateInviteRequest) Validate() error {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("invalid email format")
	}
	if !domain.Role(req.Role).Valid() {
		return fmt.Errorf("invalid role")
	}
	if len(req.OrganizationName) > 100 {
		return fmt.Errorf("organization name too long (max 100 chars)")
	}
	return nil
}

func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	inviterID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateInviteRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	inviter, err := h.store.Users().GetByID(r.Context(), inviterID)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	invite, err := h.service.CreateInvite(r.Context(), inviter, req.Email, domain.Role(req.Role), req.OrganizationName)
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"message": "Invitation sent",
		"invite": map[string]any{
			"id":        invite.ID,
			"email":     invite.Email,
			"role":      invite.Role,
			"expiresAt": invite.ExpiresAt,
			"token":     invite.Token,
		},
	})
}

// AcceptInviteRequest redeems an invitation and creates the account.
type AcceptInviteRequest struct {
	Token           string `json:"token"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Password        string `json:"password"`
	TwoFactorMethod string `json:"twoFactorMethod,omitempty"`
}

func (req *AcceptInviteRequest) Validate() error {
	if req.Token == "" {
		return fmt.Errorf("token required")
	}
	if req.FirstName == "" || req.LastName == "" {
		return fmt.Errorf("firstName and lastName required")
	}
	if utf8.RuneCountInString(req.Password) < 12 {
		return fmt.Errorf("password must be at least 12 characters")
	}
	if m := domain.MFAMethod(req.TwoFactorMethod); m != domain.MFANone && !m.Valid() {
		return fmt.Errorf("invalid twoFactorMethod")
	}
	return nil
}

func (h *InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req AcceptInviteRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.AcceptInvite(r.Context(), req.Token,
		req.FirstName, req.LastName, req.Password,
		domain.MFAMethod(req.TwoFactorMethod), clientMeta(r))
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	resp := map[string]any{
		"message": "Invitation accepted",
		"user":    result.User,
	}
	if result.RequiresTOTPSetup {
		resp["requiresTotpSetup"] = true
		resp["totp"] = result.TOTP
	} else if result.Tokens != nil {
		resp["accessToken"] = result.Tokens.AccessToken
		resp["refreshToken"] = result.Tokens.RefreshToken
	}
	helpers.RespondJSON(w, http.StatusCreated, resp)
}

func (h *InviteHandler) Details(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token required")
		return
	}

	details, err := h.service.GetInviteDetails(r.Context(), token)
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, details)
}

type inviteListItem struct {
	ID               uuid.UUID           `json:"id"`
	Email            string              `json:"email"`
	Role             domain.Role         `json:"role"`
	OrganizationName string              `json:"organizationName,omitempty"`
	Status           domain.InviteStatus `json:"status"`
	ExpiresAt        time.Time           `json:"expiresAt"`
	CreatedAt        time.Time           `json:"createdAt"`
	AcceptedByName   string              `json:"acceptedByName,omitempty"`
	AcceptedByEmail  string              `json:"acceptedByEmail,omitempty"`
}

func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	inviterID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var status *domain.InviteStatus
	if q := r.URL.Query().Get("status"); q != "" {
		s := domain.InviteStatus(q)
		switch s {
		case domain.InvitePending, domain.InviteAccepted, domain.InviteExpired, domain.InviteRevoked:
			status = &s
		default:
			helpers.RespondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}

	invites, err := h.service.ListInvites(r.Context(), inviterID, status)
	if err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	out := make([]inviteListItem, 0, len(invites))
	for _, inv := range invites {
		out = append(out, inviteListItem{
			ID:               inv.ID,
			Email:            inv.Email,
			Role:             inv.Role,
			OrganizationName: inv.OrganizationName,
			Status:           inv.Status,
			ExpiresAt:        inv.ExpiresAt,
			CreatedAt:        inv.CreatedAt,
			AcceptedByName:   inv.AcceptedByName,
			AcceptedByEmail:  inv.AcceptedByEmail,
		})
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (h *InviteHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	inviterID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	inviteID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid invite id")
		return
	}

	if err := h.service.RevokeInvite(r.Context(), inviteID, inviterID); err != nil {
		helpers.RespondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "Invitation revoked"})
}
