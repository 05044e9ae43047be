// Package api is the JSON surface of the service. Handlers decode, call a
// service, and encode; every access decision lives in the policy and
// service layers, never here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/privatechat-app/privatechat-server/internal/account"
	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/session"
	"github.com/privatechat-app/privatechat-server/internal/store"
	"github.com/privatechat-app/privatechat-server/internal/viewflow"
)

// AccountService is the slice of account.Service the API calls.
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (*store.User, error)
	Login(ctx context.Context, handle, password string) (string, *store.User, error)
	AdminLogin(ctx context.Context, username, password string) (string, error)
	Profile(ctx context.Context, userID uuid.UUID) (*store.User, error)
	NewVerificationID(ctx context.Context, userID uuid.UUID) (string, error)
}

type ContentStore interface {
	Create(ctx context.Context, c *store.Content) error
	List(ctx context.Context) ([]*store.Content, error)
	ListAllowedFor(ctx context.Context, userID uuid.UUID) ([]*store.Content, error)
	SetAccess(ctx context.Context, contentID, userID uuid.UUID, allowed bool) error
}

type UserAdmin interface {
	List(ctx context.Context) ([]*store.User, error)
	ByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	SetStatus(ctx context.Context, id uuid.UUID, status store.UserStatus) error
}

type Viewer interface {
	View(ctx context.Context, contentID uuid.UUID) (*viewflow.Result, error)
}

type ChatService interface {
	List(ctx context.Context, caller session.Identity, chatID uuid.UUID) ([]*store.Message, error)
	Send(ctx context.Context, caller session.Identity, chatID uuid.UUID, body string) (*store.Message, error)
}

type ChatHub interface {
	Serve(w http.ResponseWriter, r *http.Request, caller session.Identity, chatID uuid.UUID) error
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, description string) (string, error)
}

// Authz gates the admin surfaces through the one policy indirection.
type Authz interface {
	RequireAdmin(caller session.Identity) error
}

// Notifier receives admin-facing status change alerts. May be nil.
type Notifier interface {
	StatusChanged(ctx context.Context, handle, status string)
}

type API struct {
	accounts AccountService
	sessions *session.Manager
	content  ContentStore
	users    UserAdmin
	viewer   Viewer
	chat     ChatService
	hub      ChatHub
	titles   TitleGenerator
	authz    Authz
	notifier Notifier
	logger   log.Logger
}

type Deps struct {
	Accounts AccountService
	Sessions *session.Manager
	Content  ContentStore
	Users    UserAdmin
	Viewer   Viewer
	Chat     ChatService
	Hub      ChatHub
	Titles   TitleGenerator
	Authz    Authz
	Notifier Notifier
	Logger   log.Logger
}

func New(d Deps) *API {
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &API{
		accounts: d.Accounts,
		sessions: d.Sessions,
		content:  d.Content,
		users:    d.Users,
		viewer:   d.Viewer,
		chat:     d.Chat,
		hub:      d.Hub,
		titles:   d.Titles,
		authz:    d.Authz,
		notifier: d.Notifier,
		logger:   d.Logger,
	}
}

// RegisterRoutes attaches all API endpoints. The session middleware runs
// for the whole group; anonymous requests pass through and each handler
// decides what it requires.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(api.sessions))

		r.Post("/api/auth/register", api.HandleRegister)
		r.Post("/api/auth/login", api.HandleLogin)
		r.Post("/api/auth/admin/login", api.HandleAdminLogin)
		r.Post("/api/auth/session", api.HandleCreateSession)
		r.Delete("/api/auth/session", api.HandleDeleteSession)

		r.Get("/api/me", api.HandleProfile)
		r.Post("/api/me/verification-id", api.HandleNewVerificationID)

		r.Get("/api/content", api.HandleListContent)
		r.Get("/api/content/{id}/view", api.HandleViewContent)
		r.Post("/api/admin/content", api.HandleCreateContent)
		r.Post("/api/admin/content/{id}/access", api.HandleSetAccess)

		r.Get("/api/admin/users", api.HandleListUsers)
		r.Post("/api/admin/users/{id}/status", api.HandleSetUserStatus)

		r.Get("/api/chat/{chatId}/messages", api.HandleListMessages)
		r.Post("/api/chat/{chatId}/messages", api.HandleSendMessage)
		r.Get("/api/chat/{chatId}/ws", api.HandleChatSocket)
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "encode response failed", "error", err.Error())
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the failure taxonomy onto HTTP. Internal errors are
// logged with their cause and answered with a generic message.
func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	msg := err.Error()
	if code == apperr.CodeInternal {
		api.logger.Error(ctx, err, "request failed")
		msg = "internal error"
	}
	api.writeJSON(ctx, w, apperr.HTTPStatus(err), errorBody{
		Error: errorDetail{Code: string(code), Message: msg},
	})
}

func (api *API) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.CodeInvalidArgument, "malformed request body")
	}
	return nil
}

func requireIdentity(r *http.Request) (session.Identity, error) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		return session.Identity{}, apperr.New(apperr.CodeUnauthenticated, "sign in required")
	}
	return id, nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.CodeInvalidArgument, "malformed %s", name)
	}
	return id, nil
}

// userResponse is the public shape of a user row. The password hash never
// leaves the store layer.
type userResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Handle         string     `json:"handle"`
	Status         string     `json:"status"`
	Role           string     `json:"role"`
	VerificationID string     `json:"verification_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Name:           u.Name,
		Handle:         u.Handle,
		Status:         string(u.Status),
		Role:           string(u.Role),
		VerificationID: u.VerificationID,
		CreatedAt:      u.CreatedAt,
		LastLoginAt:    u.LastLoginAt,
	}
}

type contentResponse struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toContentResponse(c *store.Content) contentResponse {
	return contentResponse{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		MediaType:   c.MediaType,
		CreatedAt:   c.CreatedAt,
	}
}

type messageResponse struct {
	ID         uuid.UUID `json:"id"`
	ChatID     uuid.UUID `json:"chat_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderRole: string(m.SenderRole),
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
	}
}
