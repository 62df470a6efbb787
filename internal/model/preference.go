package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationPreference is one opt-in/opt-out row, uniquely identified
// by (user, channel, group, profile scope). Nil profile fields denote
// the user-level default; a profile-scoped row overrides it. Absence of
// any row means enabled.
type NotificationPreference struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	Channel     Channel    `db:"channel" json:"channel"`
	Group       string     `db:"pref_group" json:"group"`
	ProfileType *string    `db:"profile_type" json:"profile_type,omitempty"`
	ProfileID   *uuid.UUID `db:"profile_id" json:"profile_id,omitempty"`
	Enabled     bool       `db:"enabled" json:"enabled"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// PreferenceScope identifies the optional profile a preference applies to.
type PreferenceScope struct {
	ProfileType *string
	ProfileID   *uuid.UUID
}

// UserScope is the non-profile-scoped default.
func UserScope() PreferenceScope {
	return PreferenceScope{}
}

func (s PreferenceScope) IsProfile() bool {
	return s.ProfileType != nil && s.ProfileID != nil
}
