package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

// Append inserts a message. The table is append-only; nothing edits or
// deletes rows.
func (r *MessageRepo) Append(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, sender_role, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ChatID, m.SenderID, m.SenderRole, m.Body, m.CreatedAt)
	return xerrors.EnsureTrace(err)
}

// ListByChat returns the full ordered history for one chat, oldest first.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, sender_role, body, created_at
		 FROM messages WHERE chat_id = $1 ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, xerrors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderRole, &m.Body, &m.CreatedAt); err != nil {
			return nil, xerrors.Wrap(err, "scan message")
		}
		out = append(out, &m)
	}
	return out, xerrors.EnsureTrace(rows.Err())
}
