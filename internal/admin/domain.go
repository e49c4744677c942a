// Package admin manages dashboard user profiles and their approval.
package admin

import (
	"errors"
	"time"
)

// ErrProfileNotFound is returned when the caller has no profile yet.
var ErrProfileNotFound = errors.New("admin: profile not found")

// Profile is a dashboard user as seen by administrators.
type Profile struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name,omitempty"`
	IsAdmin    bool       `json:"is_admin"`
	IsApproved bool       `json:"is_approved"`
	Pracas     []string   `json:"assigned_pracas"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// ApproveInput grants access to a pending user.
type ApproveInput struct {
	UserID string   `json:"-" validate:"required,uuid"`
	Pracas []string `json:"pracas" validate:"required,min=1,dive,required"`
}

// PracasInput replaces a user's praça assignment.
type PracasInput struct {
	UserID string   `json:"-" validate:"required,uuid"`
	Pracas []string `json:"pracas" validate:"dive,required"`
}

// AdminInput toggles the administrator flag.
type AdminInput struct {
	UserID  string `json:"-" validate:"required,uuid"`
	IsAdmin bool   `json:"is_admin"`
}
