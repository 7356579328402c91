package main

import (
	"log"
	"sync"
)

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	// Map: owner ID → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message
}

// Message represents a message to be broadcast
type Message struct {
	OwnerID string
	Data    []byte
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	log.Println("Hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToOwner(message)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.ownerID] = append(h.connections[client.ownerID], client)
	log.Printf("Client registered: owner=%s, total_for_owner=%d",
		client.ownerID, len(h.connections[client.ownerID]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.ownerID]
	for i, c := range clients {
		if c == client {
			// Remove client from slice
			h.connections[client.ownerID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			// If no more clients for this owner, remove the map entry
			if len(h.connections[client.ownerID]) == 0 {
				delete(h.connections, client.ownerID)
			}

			log.Printf("Client unregistered: owner=%s, remaining_for_owner=%d",
				client.ownerID, len(h.connections[client.ownerID]))
			break
		}
	}
}

// broadcastToOwner sends a message to all connections for a specific owner
func (h *Hub) broadcastToOwner(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.OwnerID]
	if len(clients) == 0 {
		// No clients connected for this owner, skip
		return
	}

	log.Printf("Broadcasting to owner=%s, client_count=%d",
		message.OwnerID, len(clients))

	for _, client := range clients {
		select {
		case client.send <- message.Data:
			// Message sent successfully
		default:
			// Client's send buffer is full, close the connection
			log.Printf("Client send buffer full, closing connection: owner=%s", client.ownerID)
			close(client.send)
		}
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetOwnerCount returns the number of unique owners connected
func (h *Hub) GetOwnerCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
