package api

import (
	"net/http"
)

func (api *API) HandleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	u, err := api.accounts.Profile(ctx, caller.UserID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, toUserResponse(u))
}

type verificationIDResponse struct {
	VerificationID string `json:"verification_id"`
}

// HandleNewVerificationID mints a fresh code on every call. Any signed-in
// user may request one regardless of status.
func (api *API) HandleNewVerificationID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	code, err := api.accounts.NewVerificationID(ctx, caller.UserID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, verificationIDResponse{VerificationID: code})
}
