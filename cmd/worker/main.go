package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/far365/user-role-app-sub001/internal/config"
	"github.com/far365/user-role-app-sub001/internal/events"
	"github.com/far365/user-role-app-sub001/internal/store"
)

// Worker consumes dismissal events and maintains live per-queue status
// tallies in Redis for dashboards. Tallies are derived data; losing one
// message costs freshness, not truth — the records table stays the source.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, tallies will lag until it returns", cfg.RedisAddr)
	}

	var bus events.Bus
	if cfg.BusBackend == "memory" {
		bus = events.NewInMemory(64)
	} else {
		bus = events.NewRedisBus(redisClient.Client, "dismissal:events")
	}

	messages, err := bus.Consume(ctx)
	if err != nil {
		log.Fatalf("bus consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case events.TypeQueueCreated:
			log.Printf("queue %s created", string(msg.Body))

		case events.TypeQueueClosed:
			queueID := string(msg.Body)
			// The cycle is over; drop the live tally, dashboards read
			// the records table for history.
			if err := redisClient.Client.Del(ctx, tallyKey(queueID)).Err(); err != nil {
				log.Printf("tally cleanup for %s failed: %v", queueID, err)
			}
			log.Printf("queue %s closed", queueID)

		case events.TypeDismissalUpdated:
			queueID, status, count, ok := parseDismissalEvent(string(msg.Body))
			if !ok {
				log.Printf("skipping malformed dismissal event %q", string(msg.Body))
				continue
			}
			if err := redisClient.Client.HIncrBy(ctx, tallyKey(queueID), status, count).Err(); err != nil {
				log.Printf("tally update for %s failed: %v", queueID, err)
			}
		}
	}

	log.Println("worker stopped")
}

func tallyKey(queueID string) string {
	return "dismissal:counts:" + queueID
}

// parseDismissalEvent splits a "queueID|status|count" body.
func parseDismissalEvent(body string) (queueID, status string, count int64, ok bool) {
	parts := strings.Split(body, "|")
	if len(parts) != 3 {
		return "", "", 0, false
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || parts[0] == "" || parts[1] == "" {
		return "", "", 0, false
	}
	return parts[0], parts[1], n, true
}
