package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (TODO: Configure CORS properly in production)
		return true
	},
}

// Server handles WebSocket connections and status lookups
type Server struct {
	hub   *Hub
	redis *redis.Client
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, redisClient *redis.Client) *Server {
	return &Server{
		hub:   hub,
		redis: redisClient,
	}
}

// HandleWebSocket handles WebSocket upgrade and registration
// URL: /ws?owner_id=acme-support
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Extract owner from query parameter
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id query parameter required", http.StatusBadRequest)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	// Create client
	client := NewClient(s.hub, conn, ownerID)

	// Register client with hub
	s.hub.register <- client

	log.Printf("New WebSocket connection: owner=%s, remote=%s", ownerID, r.RemoteAddr)

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// HandleStatus serves the mirrored execution status without touching the
// database.
// GET /api/status?execution_id=…
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	executionID := r.URL.Query().Get("execution_id")
	if executionID == "" {
		http.Error(w, "execution_id query parameter required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	data, err := s.redis.Get(ctx, "exec:status:"+executionID).Result()
	if err == redis.Nil {
		http.Error(w, "Status not cached", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to read status: %v", err)
		http.Error(w, "Status lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(data))
}

// HandleStats reports hub connection counts
// GET /api/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"connections": s.hub.GetConnectionCount(),
		"owners":      s.hub.GetOwnerCount(),
	})
}
