package api

import (
	"net/http"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

func (api *API) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if err := api.authz.RequireAdmin(caller); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	users, err := api.users.List(ctx)
	if err != nil {
		api.writeError(ctx, w, apperr.Internal(err, "list users"))
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	api.writeJSON(ctx, w, http.StatusOK, out)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// HandleSetUserStatus moves a user through the verification lifecycle.
func (api *API) HandleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if err := api.authz.RequireAdmin(caller); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	userID, err := pathID(r, "id")
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	var req setStatusRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	status := store.UserStatus(req.Status)
	if !status.Valid() {
		api.writeError(ctx, w, apperr.Newf(apperr.CodeInvalidArgument, "invalid status %q", req.Status))
		return
	}
	if err := api.users.SetStatus(ctx, userID, status); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	u, err := api.users.ByID(ctx, userID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if api.notifier != nil {
		api.notifier.StatusChanged(ctx, u.Handle, string(status))
	}
	api.writeJSON(ctx, w, http.StatusOK, toUserResponse(u))
}
