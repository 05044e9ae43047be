// Package account implements registration, login, and the verification-id
// flow. Admin login checks the configured credential pair; there is no
// admin row requirement and no built-in fallback.
package account

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/session"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

const minPasswordLen = 6

// UserStore is the slice of store.UserRepo this service needs.
type UserStore interface {
	Create(ctx context.Context, u *store.User) error
	ByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	ByHandle(ctx context.Context, handle string) (*store.User, error)
	SetVerificationID(ctx context.Context, id uuid.UUID, code string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Notifier pushes events to the administrator. Implementations must not
// block registration on delivery problems.
type Notifier interface {
	UserRegistered(ctx context.Context, name, handle string)
}

// Metrics is the slice of the server metrics this service touches.
type Metrics interface {
	IncAuthFailure(reason string)
	IncSessionIssued(role string)
}

// AdminCredentials come from config, validated fail-closed at startup.
type AdminCredentials struct {
	Handle       string
	PasswordHash string
}

type Service struct {
	users    UserStore
	sessions *session.Manager
	notifier Notifier
	metrics  Metrics
	admin    AdminCredentials
	now      func() time.Time
}

func NewService(users UserStore, sessions *session.Manager, notifier Notifier, metrics Metrics, admin AdminCredentials) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		notifier: notifier,
		metrics:  metrics,
		admin:    admin,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Name     string
	Handle   string
	Password string
}

// Register creates a pending user and notifies the administrator.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	name := strings.TrimSpace(in.Name)
	handle := strings.TrimSpace(in.Handle)
	switch {
	case name == "":
		return nil, apperr.New(apperr.CodeInvalidArgument, "name is required")
	case handle == "":
		return nil, apperr.New(apperr.CodeInvalidArgument, "handle is required")
	case len(in.Password) < minPasswordLen:
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}

	u := &store.User{
		ID:           uuid.New(),
		Name:         name,
		Handle:       handle,
		PasswordHash: string(hash),
		Status:       store.StatusPending,
		Role:         store.RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.UserRegistered(ctx, u.Name, u.Handle)
	}
	log.FromContext(ctx).Info(ctx, "user registered", "handle", u.Handle)
	return u, nil
}

// Login verifies handle+password and returns a short-lived identity token.
// Pending and blocked users may log in; status gates apply at the content
// and chat surfaces instead.
func (s *Service) Login(ctx context.Context, handle, password string) (string, *store.User, error) {
	u, err := s.users.ByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		s.authFailure("bad-credentials")
		// same answer for unknown handle and wrong password
		return "", nil, apperr.New(apperr.CodeUnauthenticated, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.authFailure("bad-credentials")
		return "", nil, apperr.New(apperr.CodeUnauthenticated, "invalid credentials")
	}

	token, err := s.sessions.MintIdentity(session.Identity{
		UserID: u.ID,
		Handle: u.Handle,
		Name:   u.Name,
		Role:   u.Role,
	})
	if err != nil {
		return "", nil, err
	}

	if err := s.users.TouchLastLogin(ctx, u.ID, s.now().UTC()); err != nil {
		log.FromContext(ctx).Warn(ctx, "last login update failed", "handle", u.Handle)
	}
	s.sessionIssued(string(u.Role))
	return token, u, nil
}

// AdminLogin checks the configured credential pair and mints an identity
// token carrying the admin role claim.
func (s *Service) AdminLogin(ctx context.Context, username, password string) (string, error) {
	if s.admin.Handle == "" || s.admin.PasswordHash == "" {
		// config validation should make this unreachable; refuse anyway
		return "", apperr.New(apperr.CodeUnauthenticated, "admin login disabled")
	}
	if username != s.admin.Handle {
		s.authFailure("bad-admin-credentials")
		return "", apperr.New(apperr.CodeUnauthenticated, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.admin.PasswordHash), []byte(password)); err != nil {
		s.authFailure("bad-admin-credentials")
		return "", apperr.New(apperr.CodeUnauthenticated, "invalid credentials")
	}

	token, err := s.sessions.MintIdentity(session.Identity{
		UserID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("admin:"+s.admin.Handle)),
		Handle: s.admin.Handle,
		Name:   "Administrator",
		Role:   store.RoleAdmin,
	})
	if err != nil {
		return "", err
	}
	s.sessionIssued(string(store.RoleAdmin))
	return token, nil
}

// Profile returns the caller's user row.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*store.User, error) {
	return s.users.ByID(ctx, userID)
}

const verificationAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewVerificationID generates a fresh `VC-` code on every call and stores
// it on the user row. Works for any status; verification is exactly what
// pending users need it for.
func (s *Service) NewVerificationID(ctx context.Context, userID uuid.UUID) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", apperr.Internal(err, "generate verification id")
	}
	for i := range b {
		b[i] = verificationAlphabet[int(b[i])%len(verificationAlphabet)]
	}
	code := "VC-" + string(b[:])

	if err := s.users.SetVerificationID(ctx, userID, code); err != nil {
		return "", err
	}
	return code, nil
}

func (s *Service) authFailure(reason string) {
	if s.metrics != nil {
		s.metrics.IncAuthFailure(reason)
	}
}

func (s *Service) sessionIssued(role string) {
	if s.metrics != nil {
		s.metrics.IncSessionIssued(role)
	}
}
