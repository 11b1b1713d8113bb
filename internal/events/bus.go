package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message types published by the API and consumed by the tally worker.
const (
	TypeQueueCreated     = "queue.created"
	TypeQueueClosed      = "queue.closed"
	TypeDismissalUpdated = "dismissal.updated"
)

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// Bus is the abstraction over different backends.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed bus for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory bus.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (b *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (b *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-b.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisBus implements a simple Redis list-backed bus.
type RedisBus struct {
	client *redis.Client
	key    string
}

// NewRedisBus builds a bus using LPUSH/BRPOP semantics.
func NewRedisBus(client *redis.Client, key string) *RedisBus {
	if key == "" {
		key = "dismissal:events"
	}
	return &RedisBus{client: client, key: key}
}

// Publish enqueues a message.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	return b.client.LPush(ctx, b.key, serialize(msg)).Err()
}

// Consume streams messages using BRPOP.
func (b *RedisBus) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := b.client.BRPop(ctx, 5*time.Second, b.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				if msg, err := deserialize(res[1]); err == nil {
					out <- msg
				}
			}
		}
	}()
	return out, nil
}

// serialize is a tiny helper to store messages as Type|Body.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) (Message, error) {
	for i, r := range s {
		if r == '|' {
			return Message{Type: s[:i], Body: []byte(s[i+1:])}, nil
		}
	}
	return Message{Body: []byte(s)}, nil
}
