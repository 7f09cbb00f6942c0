package models

import (
	"strconv"
	"time"
)

const DefaultRole = "user"

type User struct {
	ID           int64
	Email        string
	PasswordHash *string
	FullName     string
	Phone        *string
	Role         string
	LastSeenAt   *time.Time
	CreatedAt    time.Time
}

// PublicUser is the wire form of a user. It never carries the password hash.
type PublicUser struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Phone      *string    `json:"phone"`
	Role       string     `json:"role"`
	LastSeenAt *time.Time `json:"last_log,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

func (u *User) Public() PublicUser {
	role := u.Role
	if role == "" {
		role = DefaultRole
	}
	return PublicUser{
		ID:       strconv.FormatInt(u.ID, 10),
		Email:    u.Email,
		FullName: u.FullName,
		Phone:    u.Phone,
		Role:     role,
	}
}

// WithActivity adds last_log to the public view.
func (p PublicUser) WithActivity(u *User) PublicUser {
	p.LastSeenAt = u.LastSeenAt
	return p
}

// WithCreated adds createdAt to the public view.
func (p PublicUser) WithCreated(u *User) PublicUser {
	created := u.CreatedAt
	p.CreatedAt = &created
	return p
}
