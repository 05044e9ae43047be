// Package session mints and verifies the signed tokens behind the
// `__session` cookie. Two token uses exist: a short-lived identity token
// returned by login, and the long-lived session token exchanged for it.
// Sessions are stateless; nothing is stored server side.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

const (
	// CookieName matches what the web client already sends.
	CookieName = "__session"

	UseIdentity = "identity"
	UseSession  = "session"

	// Identity tokens only live long enough for the login -> session
	// exchange round trip.
	identityTTL = 10 * time.Minute
)

// Identity is the verified caller attached to a request.
type Identity struct {
	UserID uuid.UUID
	Handle string
	Name   string
	Role   store.Role
}

func (id Identity) IsAdmin() bool { return id.Role == store.RoleAdmin }

type Claims struct {
	jwt.RegisteredClaims
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Use    string `json:"use"`
}

// Manager signs and verifies tokens with a single HS256 secret.
type Manager struct {
	secret     []byte
	sessionTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, sessionTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

func (m *Manager) mint(id Identity, use string, ttl time.Duration) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Handle: id.Handle,
		Name:   id.Name,
		Role:   string(id.Role),
		Use:    use,
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(err, apperr.CodeInternal, "sign token")
	}
	return signed, exp, nil
}

// MintIdentity returns the short-lived token handed back by login.
func (m *Manager) MintIdentity(id Identity) (string, error) {
	signed, _, err := m.mint(id, UseIdentity, identityTTL)
	return signed, err
}

// Exchange verifies an identity token and mints the session token for the
// cookie. Expiry is returned so the cookie can carry a matching Max-Age.
func (m *Manager) Exchange(identityToken string) (string, time.Time, error) {
	id, err := m.verify(identityToken, UseIdentity)
	if err != nil {
		return "", time.Time{}, err
	}
	return m.mint(id, UseSession, m.sessionTTL)
}

// VerifySession returns the caller identity behind a session token.
func (m *Manager) VerifySession(token string) (Identity, error) {
	return m.verify(token, UseSession)
}

func (m *Manager) verify(token, wantUse string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "invalid or expired token")
	}
	if claims.Use != wantUse {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "token not valid for this use")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "malformed subject")
	}
	return Identity{
		UserID: userID,
		Handle: claims.Handle,
		Name:   claims.Name,
		Role:   store.Role(claims.Role),
	}, nil
}
