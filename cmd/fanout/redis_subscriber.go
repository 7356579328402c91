package main

import (
	"context"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisSubscriber listens to Redis PubSub and forwards messages to Hub
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
	}
}

// Start begins listening to Redis PubSub channels
func (s *RedisSubscriber) Start(ctx context.Context) {
	// Subscribe to pattern: flow:events:*
	// This allows us to receive events for all owners
	pubsub := s.redis.PSubscribe(ctx, "flow:events:*")
	defer pubsub.Close()

	log.Println("Redis subscriber started, listening to: flow:events:*")

	// Wait for confirmation that subscription was successful
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Fatalf("Failed to subscribe to Redis: %v", err)
	}

	log.Println("Redis subscription confirmed")

	// Listen for messages
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Println("Redis subscriber stopping")
			return

		case msg := <-ch:
			if msg == nil {
				continue
			}

			// Extract owner from channel name
			// Channel format: flow:events:{owner_id}
			ownerID := extractOwnerFromChannel(msg.Channel)
			if ownerID == "" {
				log.Printf("Invalid channel format: %s", msg.Channel)
				continue
			}

			log.Printf("Received event for owner=%s, size=%d bytes", ownerID, len(msg.Payload))

			// Forward to hub
			s.hub.broadcast <- &Message{
				OwnerID: ownerID,
				Data:    []byte(msg.Payload),
			}
		}
	}
}

// extractOwnerFromChannel extracts the owner ID from a channel name
// Example: "flow:events:acme-support" → "acme-support"
func extractOwnerFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "flow" || parts[1] != "events" {
		return ""
	}
	return parts[2]
}
