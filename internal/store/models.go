package store

import (
	"time"

	"github.com/google/uuid"
)

// User verification lifecycle. Every registration starts pending and an
// administrator moves it from there.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusVerified UserStatus = "verified"
	StatusBlocked  UserStatus = "blocked"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusBlocked:
		return true
	}
	return false
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID             uuid.UUID
	Name           string
	Handle         string
	PasswordHash   string
	Status         UserStatus
	Role           Role
	VerificationID string
	CreatedAt      time.Time
	LastLoginAt    *time.Time
}

type Content struct {
	ID          uuid.UUID
	Title       string
	Description string
	StorageKey  string
	MediaType   string
	CreatorID   uuid.UUID
	CreatedAt   time.Time
}

type Message struct {
	ID         uuid.UUID
	ChatID     uuid.UUID
	SenderID   uuid.UUID
	SenderRole Role
	Body       string
	CreatedAt  time.Time
}
