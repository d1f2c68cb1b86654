package domain

import (
	"time"

	"github.com/google/uuid"
)

// MFAMethod selects the second factor enforced at login.
type MFAMethod string

const (
	MFANone MFAMethod = ""
	MFAOTP  MFAMethod = "otp"
	MFATOTP MFAMethod = "totp"
)

// Valid reports whether m names a configurable method. The empty method is
// valid as "no second factor" on users but never on organizations.
func (m MFAMethod) Valid() bool {
	return m == MFAOTP || m == MFATOTP
}

// User is the identity record. Email is stored lowercase and unique.
//
// Invariants maintained by the services:
//   - TOTPEnabled implies TOTPSecret != nil
//   - OTPHash and OTPExpiresAt are set and cleared together
type User struct {
	ID             uuid.UUID
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           Role
	OrganizationID *uuid.UUID
	MFAMethod      MFAMethod // personal preference; organization policy may override
	TOTPSecret     *string
	TOTPEnabled    bool
	OTPHash        *string
	OTPExpiresAt   *time.Time
	Active         bool
	InvitedBy      *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Organization is attached on reads that join the tenancy record.
	// Nil when the user has no organization or the query skipped the join.
	Organization *Organization
}

// FullName is used for invite annotations and email salutations.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// EffectiveMFAMethod resolves the method enforced at login. The organization
// policy governs its member users; admins and staff bound to an organization
// keep their personal method.
func (u *User) EffectiveMFAMethod() MFAMethod {
	if u.Role == RoleClientUser && u.Organization != nil && u.Organization.MFAMethod.Valid() {
		return u.Organization.MFAMethod
	}
	return u.MFAMethod
}
