package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

const userColumns = `id, name, handle, password_hash, status, role, coalesce(verification_id, ''), created_at, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Handle, &u.PasswordHash,
		&u.Status, &u.Role, &u.VerificationID, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, "user not found")
		}
		return nil, xerrors.Wrap(err, "scan user")
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, handle, password_hash, status, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Name, u.Handle, u.PasswordHash, u.Status, u.Role, u.CreatedAt)
	if err != nil {
		// unique_violation on the handle column
		if strings.Contains(err.Error(), "23505") {
			return apperr.New(apperr.CodeInvalidArgument, "handle already taken")
		}
		return xerrors.Wrap(err, "insert user")
	}
	return nil
}

func (r *UserRepo) ByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepo) ByHandle(ctx context.Context, handle string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE handle = $1`, handle)
	return scanUser(row)
}

func (r *UserRepo) List(ctx context.Context) ([]*User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, xerrors.Wrap(err, "list users")
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, xerrors.EnsureTrace(rows.Err())
}

// SetStatus enforces the pending|verified|blocked lifecycle at the edge.
func (r *UserRepo) SetStatus(ctx context.Context, id uuid.UUID, status UserStatus) error {
	if !status.Valid() {
		return apperr.Newf(apperr.CodeInvalidArgument, "invalid status %q", status)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return xerrors.Wrap(err, "update status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "user not found")
	}
	return nil
}

// SetVerificationID overwrites any previous code, merge-style: the rest of
// the row is untouched.
func (r *UserRepo) SetVerificationID(ctx context.Context, id uuid.UUID, code string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET verification_id = $2 WHERE id = $1`, id, code)
	if err != nil {
		return xerrors.Wrap(err, "update verification id")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "user not found")
	}
	return nil
}

func (r *UserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return xerrors.EnsureTrace(err)
}
