// Package chat is the user-to-admin message channel. Each user owns
// exactly one chat, keyed by their user id; the administrator joins any of
// them. History lives in postgres, live delivery rides a redis pub/sub
// channel per chat so every websocket subscriber sees new messages no
// matter which instance accepted them.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/session"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

const maxBodyLen = 4096

type MessageStore interface {
	Append(ctx context.Context, m *store.Message) error
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.Message, error)
}

type Authorizer interface {
	AuthorizeChat(caller session.Identity, chatID uuid.UUID) error
}

// Publisher fans a serialized event out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier pings the administrator out of band when a user writes.
type Notifier interface {
	NewMessage(ctx context.Context, senderName, body string)
}

type Metrics interface {
	IncChatMessage(senderRole string)
}

// Event is the wire shape shared by the pub/sub channel and the websocket.
type Event struct {
	ID         uuid.UUID `json:"id"`
	ChatID     uuid.UUID `json:"chat_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func EventFrom(m *store.Message) Event {
	return Event{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderRole: string(m.SenderRole),
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
	}
}

// ChannelFor names the pub/sub channel carrying one chat's live events.
func ChannelFor(chatID uuid.UUID) string { return "chat:" + chatID.String() }

type Service struct {
	messages MessageStore
	authz    Authorizer
	pub      Publisher
	notifier Notifier
	metrics  Metrics
	now      func() time.Time
}

func NewService(messages MessageStore, authz Authorizer, pub Publisher, notifier Notifier, metrics Metrics) *Service {
	return &Service{
		messages: messages,
		authz:    authz,
		pub:      pub,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// List returns the full ordered history of one chat.
func (s *Service) List(ctx context.Context, caller session.Identity, chatID uuid.UUID) ([]*store.Message, error) {
	if err := s.authz.AuthorizeChat(caller, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(err, "list chat history")
	}
	return msgs, nil
}

// Send appends a message and publishes it to the chat's live channel. The
// sender identity comes from the session, never from the request body.
// Persistence is the source of truth; a publish failure only costs live
// delivery, so it is logged and swallowed.
func (s *Service) Send(ctx context.Context, caller session.Identity, chatID uuid.UUID, body string) (*store.Message, error) {
	if err := s.authz.AuthorizeChat(caller, chatID); err != nil {
		return nil, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "message body is empty")
	}
	if len(body) > maxBodyLen {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "message exceeds %d bytes", maxBodyLen)
	}

	msg := &store.Message{
		ID:         uuid.New(),
		ChatID:     chatID,
		SenderID:   caller.UserID,
		SenderRole: caller.Role,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, apperr.Internal(err, "append message")
	}
	if s.metrics != nil {
		s.metrics.IncChatMessage(string(caller.Role))
	}

	if payload, err := encodeEvent(EventFrom(msg)); err == nil {
		if err := s.pub.Publish(ctx, ChannelFor(chatID), payload); err != nil {
			log.FromContext(ctx).Warn(ctx, "publish chat event failed",
				"chat_id", chatID.String(), "error", err.Error())
		}
	}

	if s.notifier != nil && !caller.IsAdmin() {
		s.notifier.NewMessage(ctx, caller.Name, body)
	}
	return msg, nil
}
