package api

import (
	"net/http"
	"time"

	"github.com/privatechat-app/privatechat-server/internal/account"
	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/session"
)

type registerRequest struct {
	Name     string `json:"name"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (api *API) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	u, err := api.accounts.Register(ctx, account.RegisterInput{
		Name:     req.Name,
		Handle:   req.Handle,
		Password: req.Password,
	})
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusCreated, toUserResponse(u))
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type loginResponse struct {
	IdentityToken string       `json:"identity_token"`
	User          userResponse `json:"user"`
}

func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	token, u, err := api.accounts.Login(ctx, req.Handle, req.Password)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, loginResponse{
		IdentityToken: token,
		User:          toUserResponse(u),
	})
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	IdentityToken string `json:"identity_token"`
}

func (api *API) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req adminLoginRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	token, err := api.accounts.AdminLogin(ctx, req.Username, req.Password)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, adminLoginResponse{IdentityToken: token})
}

type createSessionRequest struct {
	IDToken string `json:"id_token"`
}

type createSessionResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleCreateSession exchanges a fresh identity token for the long-lived
// session cookie.
func (api *API) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSessionRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if req.IDToken == "" {
		api.writeError(ctx, w, apperr.New(apperr.CodeInvalidArgument, "id_token is required"))
		return
	}
	token, expires, err := api.sessions.Exchange(req.IDToken)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	session.SetCookie(w, token, expires)
	api.writeJSON(ctx, w, http.StatusOK, createSessionResponse{ExpiresAt: expires})
}

func (api *API) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
