package crossdomain

import (
	"context"
	"fmt"
	"log"

	"github.com/OneOfOne/xxhash"
	"github.com/redis/go-redis/v9"
)

const streamPrefix = "tribunal.domain."

// Handler processes one inbound message. The transport guarantees nothing
// about delivery count; receivers deduplicate by message hash.
type Handler func(origin, sender string, payload []byte) error

// Transport is the asynchronous cross-domain messaging primitive: fire and
// forget sends, no request/response.
type Transport interface {
	Send(ctx context.Context, domain string, payload []byte) (string, error)
}

// MessageHash is the dedup key for at-least-once delivery: a 64-bit xxhash
// over origin, sender and payload.
func MessageHash(origin, sender string, payload []byte) string {
	h := xxhash.NewS64(0)
	h.Write([]byte(origin))
	h.Write([]byte{0})
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write(payload)
	return fmt.Sprintf("%016x", h.Sum64())
}

// RedisTransport carries domain messages over per-domain redis streams.
type RedisTransport struct {
	rdb         *redis.Client
	localDomain string
	sender      string
}

func NewRedisTransport(rdb *redis.Client, localDomain, sender string) *RedisTransport {
	return &RedisTransport{rdb: rdb, localDomain: localDomain, sender: sender}
}

func (t *RedisTransport) Send(ctx context.Context, domain string, payload []byte) (string, error) {
	id, err := t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + domain,
		Values: map[string]interface{}{
			"origin":  t.localDomain,
			"sender":  t.sender,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

// Listen consumes the local domain's stream until ctx is cancelled. Handler
// errors are logged, not retried; redelivery is the transport's concern.
func (t *RedisTransport) Listen(ctx context.Context, handler Handler) {
	stream := streamPrefix + t.localDomain
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := t.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   5e9, // 5s
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err != redis.Nil {
				log.Printf("crossdomain: stream read: %v", err)
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				origin, _ := msg.Values["origin"].(string)
				sender, _ := msg.Values["sender"].(string)
				payload, _ := msg.Values["payload"].(string)
				if err := handler(origin, sender, []byte(payload)); err != nil {
					log.Printf("crossdomain: message %s from %s rejected: %v", msg.ID, origin, err)
				}
			}
		}
	}
}
