package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenancy boundary. Created atomically with its first
// client_admin during invite acceptance; its MFA method governs every
// client_user member.
type Organization struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	MFAMethod   MFAMethod // defaults to otp at creation
	AdminUserID uuid.UUID
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
