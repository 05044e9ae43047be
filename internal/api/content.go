package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

// HandleListContent returns what the caller may see: every item for the
// administrator, granted items for everyone else.
func (api *API) HandleListContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	var items []*store.Content
	if caller.IsAdmin() {
		items, err = api.content.List(ctx)
	} else {
		items, err = api.content.ListAllowedFor(ctx, caller.UserID)
	}
	if err != nil {
		api.writeError(ctx, w, apperr.Internal(err, "list content"))
		return
	}

	out := make([]contentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toContentResponse(c))
	}
	api.writeJSON(ctx, w, http.StatusOK, out)
}

type createContentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StorageKey  string `json:"storage_key"`
	MediaType   string `json:"media_type"`
}

// HandleCreateContent adds an item. An empty title is generated from the
// description; a generation failure falls back to a placeholder rather
// than blocking the upload.
func (api *API) HandleCreateContent(w http.ResponseWriter, r *http.Request) {
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

	var req createContentRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		desc := strings.TrimSpace(req.Description)
		if desc == "" {
			api.writeError(ctx, w, apperr.New(apperr.CodeInvalidArgument, "title or description is required"))
			return
		}
		title, err = api.titles.GenerateTitle(ctx, desc)
		if err != nil {
			api.logger.Warn(ctx, "title generation failed", "error", err.Error())
			title = "Untitled"
		}
	}

	c := &store.Content{
		ID:          uuid.New(),
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		StorageKey:  strings.TrimSpace(req.StorageKey),
		MediaType:   req.MediaType,
		CreatorID:   caller.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := api.content.Create(ctx, c); err != nil {
		api.writeError(ctx, w, apperr.Internal(err, "create content"))
		return
	}
	api.writeJSON(ctx, w, http.StatusCreated, toContentResponse(c))
}

type setAccessRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	Allowed bool      `json:"allowed"`
}

// HandleSetAccess toggles one access map key. The user id is not checked
// against the users table; stale keys are harmless.
func (api *API) HandleSetAccess(w http.ResponseWriter, r *http.Request) {
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
	contentID, err := pathID(r, "id")
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	var req setAccessRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if req.UserID == uuid.Nil {
		api.writeError(ctx, w, apperr.New(apperr.CodeInvalidArgument, "user_id is required"))
		return
	}

	if err := api.content.SetAccess(ctx, contentID, req.UserID, req.Allowed); err != nil {
		api.writeError(ctx, w, apperr.Internal(err, "set access"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type viewResponse struct {
	MediaDataURI  string    `json:"media_data_uri"`
	MediaKind     string    `json:"media_kind"`
	WatermarkedAt time.Time `json:"watermarked_at"`
}

// HandleViewContent runs the full view pipeline and returns the
// watermarked artifact inline.
func (api *API) HandleViewContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentID, err := pathID(r, "id")
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	res, err := api.viewer.View(ctx, contentID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, viewResponse{
		MediaDataURI:  res.Payload.DataURI(),
		MediaKind:     string(res.Kind),
		WatermarkedAt: res.WatermarkedAt,
	})
}
