package notify

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/stake-plus/tribunal/src/tribunal/data"
)

// Notifier receives one event per protocol state transition. Implementations
// must not block the caller on slow consumers.
type Notifier interface {
	Notify(event string, fields map[string]interface{})
}

// Nop discards all events.
type Nop struct{}

func (Nop) Notify(string, map[string]interface{}) {}

// Redis appends events to the tribunal event stream.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Notify(event string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	if err := data.PublishEvent(context.Background(), r.rdb, payload); err != nil {
		log.Printf("notify: failed to publish %s: %v", event, err)
	}
}

// Multi fans out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(event string, fields map[string]interface{}) {
	for _, n := range m {
		n.Notify(event, fields)
	}
}
