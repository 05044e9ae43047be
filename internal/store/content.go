package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

type ContentRepo struct {
	pool *pgxpool.Pool
}

const contentColumns = `id, title, description, storage_key, media_type, creator_id, created_at`

func scanContent(row pgx.Row) (*Content, error) {
	var c Content
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.StorageKey,
		&c.MediaType, &c.CreatorID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, "content not found")
		}
		return nil, xerrors.Wrap(err, "scan content")
	}
	return &c, nil
}

func (r *ContentRepo) Create(ctx context.Context, c *Content) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO content (id, title, description, storage_key, media_type, creator_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Title, c.Description, c.StorageKey, c.MediaType, c.CreatorID, c.CreatedAt)
	return xerrors.EnsureTrace(err)
}

func (r *ContentRepo) ByID(ctx context.Context, id uuid.UUID) (*Content, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM content WHERE id = $1`, id)
	return scanContent(row)
}

func (r *ContentRepo) List(ctx context.Context) ([]*Content, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contentColumns+` FROM content ORDER BY created_at DESC`)
	if err != nil {
		return nil, xerrors.Wrap(err, "list content")
	}
	defer rows.Close()

	var out []*Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, xerrors.EnsureTrace(rows.Err())
}

// ListAllowedFor returns only items whose access map entry for the user is
// true.
func (r *ContentRepo) ListAllowedFor(ctx context.Context, userID uuid.UUID) ([]*Content, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contentColumns+` FROM content c
		 WHERE EXISTS (
		     SELECT 1 FROM content_access a
		     WHERE a.content_id = c.id AND a.user_id = $1 AND a.allowed
		 )
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, xerrors.Wrap(err, "list allowed content")
	}
	defer rows.Close()

	var out []*Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, xerrors.EnsureTrace(rows.Err())
}

// SetAccess writes one access map key. Upsert keeps each key independent:
// toggling one user never touches another user's entry.
func (r *ContentRepo) SetAccess(ctx context.Context, contentID, userID uuid.UUID, allowed bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO content_access (content_id, user_id, allowed)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (content_id, user_id) DO UPDATE SET allowed = EXCLUDED.allowed`,
		contentID, userID, allowed)
	return xerrors.EnsureTrace(err)
}

// AccessAllowed reports the access map entry for (content, user). A missing
// entry reads as false, the same as an explicit false.
func (r *ContentRepo) AccessAllowed(ctx context.Context, contentID, userID uuid.UUID) (bool, error) {
	var allowed bool
	err := r.pool.QueryRow(ctx,
		`SELECT allowed FROM content_access WHERE content_id = $1 AND user_id = $2`,
		contentID, userID).Scan(&allowed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(err, "read access map")
	}
	return allowed, nil
}
