package api

import (
	"net/http"
)

func (api *API) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	msgs, err := api.chat.List(ctx, caller, chatID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	api.writeJSON(ctx, w, http.StatusOK, out)
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (api *API) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	var req sendMessageRequest
	if err := api.decode(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	msg, err := api.chat.Send(ctx, caller, chatID, req.Body)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusCreated, toMessageResponse(msg))
}

// HandleChatSocket upgrades to a websocket feed of live chat events. Errors
// are only writable before the upgrade happens.
func (api *API) HandleChatSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := requireIdentity(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	if err := api.hub.Serve(w, r, caller, chatID); err != nil {
		api.writeError(ctx, w, err)
	}
}
