package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent chan tgbotapi.MessageConfig
	err  error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan tgbotapi.MessageConfig, 4)}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent <- msg
	}
	return tgbotapi.Message{}, f.err
}

type failureCounter struct {
	failures chan struct{}
}

func (c *failureCounter) IncNotifyFailure() { c.failures <- struct{}{} }

func waitMsg(t *testing.T, f *fakeSender) tgbotapi.MessageConfig {
	t.Helper()
	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return tgbotapi.MessageConfig{}
	}
}

func TestUserRegistered(t *testing.T) {
	f := newFakeSender()
	n := NewWithSender(f, 12345, nil, nil)

	n.UserRegistered(context.Background(), "Alice", "alice")

	msg := waitMsg(t, f)
	if msg.ChatID != 12345 {
		t.Errorf("ChatID = %d", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "Alice") || !strings.Contains(msg.Text, "@alice") {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestNewMessage_ClipsBody(t *testing.T) {
	f := newFakeSender()
	n := NewWithSender(f, 1, nil, nil)

	n.NewMessage(context.Background(), "Bob", strings.Repeat("a", previewLen*2))

	msg := waitMsg(t, f)
	if !strings.Contains(msg.Text, "Bob") {
		t.Errorf("Text = %q", msg.Text)
	}
	if len(msg.Text) > previewLen+64 {
		t.Errorf("body not clipped, len = %d", len(msg.Text))
	}
}

func TestStatusChanged(t *testing.T) {
	f := newFakeSender()
	n := NewWithSender(f, 1, nil, nil)

	n.StatusChanged(context.Background(), "carol", "verified")

	msg := waitMsg(t, f)
	if !strings.Contains(msg.Text, "@carol") || !strings.Contains(msg.Text, "verified") {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestSendFailureCountsAndSwallows(t *testing.T) {
	f := newFakeSender()
	f.err = errors.New("telegram unreachable")
	counter := &failureCounter{failures: make(chan struct{}, 1)}
	n := NewWithSender(f, 1, nil, counter)

	n.NewMessage(context.Background(), "Bob", "hi")

	select {
	case <-counter.failures:
	case <-time.After(2 * time.Second):
		t.Fatal("failure not counted")
	}
}

func TestNilNotifierIsNoOp(t *testing.T) {
	var n *Notifier
	// must not panic
	n.UserRegistered(context.Background(), "x", "y")
	n.NewMessage(context.Background(), "x", "y")
	n.StatusChanged(context.Background(), "x", "y")
}
