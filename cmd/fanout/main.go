package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/tessera-ai/flowengine/common/logger"
	"github.com/tessera-ai/flowengine/common/server"
)

func main() {
	appLog := logger.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "text"))
	appLog.Info("fanout service starting")

	// Get configuration from environment
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	port := getEnvInt("PORT", 8084)

	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	appLog.Info("connected to redis", "host", redisHost, "port", redisPort)

	// Create Hub (connection manager)
	hub := NewHub()
	go hub.Run()

	// Create Redis subscriber
	subscriber := NewRedisSubscriber(redisClient, hub)
	go subscriber.Start(ctx)

	// Create HTTP server with WebSocket handler
	wsServer := NewServer(hub, redisClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	mux.HandleFunc("/api/status", wsServer.HandleStatus)
	mux.HandleFunc("/api/stats", wsServer.HandleStats)
	mux.HandleFunc("/health", server.HealthHandler())

	// WebSocket connections are long-lived, so no read/write timeouts
	srv := server.NewLongLived("fanout", port, mux, appLog)
	if err := srv.Start(); err != nil {
		log.Fatalf("fanout server error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}
