// Package policy is the single decision point for who may see what. The
// admin check lives here behind the role claim; nothing else in the repo
// compares identities to decide privilege.
package policy

import (
	"context"

	"github.com/google/uuid"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/session"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

// ContentStore is the slice of store.ContentRepo the authorizer reads.
type ContentStore interface {
	ByID(ctx context.Context, id uuid.UUID) (*store.Content, error)
	AccessAllowed(ctx context.Context, contentID, userID uuid.UUID) (bool, error)
}

type Authorizer struct {
	content ContentStore
}

func NewAuthorizer(content ContentStore) *Authorizer {
	return &Authorizer{content: content}
}

// AuthorizeView decides whether the caller may view a content item.
//
// The admin claim short-circuits before the content row is read; an admin
// viewing absent content fails later, at resolution, as not-found. For
// everyone else, absent content is reported here as not-found and an access
// map entry that is not explicitly true is permission-denied.
func (a *Authorizer) AuthorizeView(ctx context.Context, caller session.Identity, contentID uuid.UUID) error {
	if caller.IsAdmin() {
		return nil
	}

	if _, err := a.content.ByID(ctx, contentID); err != nil {
		return err
	}

	allowed, err := a.content.AccessAllowed(ctx, contentID, caller.UserID)
	if err != nil {
		return apperr.Internal(err, "read access map")
	}
	if !allowed {
		return apperr.New(apperr.CodePermissionDenied, "not allowed to view this content")
	}
	return nil
}

// AuthorizeChat allows the chat owner and the administrator, nobody else.
// Chat id equals the owning user's id.
func (a *Authorizer) AuthorizeChat(caller session.Identity, chatID uuid.UUID) error {
	if caller.IsAdmin() {
		return nil
	}
	if caller.UserID == chatID {
		return nil
	}
	return apperr.New(apperr.CodePermissionDenied, "not your chat")
}

// RequireAdmin guards the admin surfaces.
func (a *Authorizer) RequireAdmin(caller session.Identity) error {
	if !caller.IsAdmin() {
		return apperr.New(apperr.CodePermissionDenied, "admin only")
	}
	return nil
}
