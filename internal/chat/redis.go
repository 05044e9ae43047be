package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

const pingTimeout = 2 * time.Second

func encodeEvent(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	return b, xerrors.EnsureTrace(err)
}

// Bus carries chat events over redis pub/sub. It implements both the
// service's Publisher and the hub's Feed.
type Bus struct {
	rdb redis.UniversalClient
}

func NewBus(rdb redis.UniversalClient) *Bus { return &Bus{rdb: rdb} }

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	return xerrors.EnsureTrace(b.rdb.Publish(ctx, channel, payload).Err())
}

// Subscribe opens a feed of raw event payloads for one channel. The
// returned stop function tears the subscription down and closes the
// channel; callers must always invoke it.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	ps := b.rdb.Subscribe(ctx, channel)
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				// slow consumer; drop rather than block the pump
			}
		}
	}()

	return out, func() { _ = ps.Close() }
}

// ReadinessProbe reports whether redis answers a ping.
func (b *Bus) ReadinessProbe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return xerrors.EnsureTrace(b.rdb.Ping(ctx).Err())
}
