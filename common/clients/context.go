package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// OwnerIDKey is the context key for owner ID (for X-Owner-ID header)
	OwnerIDKey contextKey = "owner-id"
)

// WithOwnerID adds an owner ID to the context
// This will be automatically extracted and added as X-Owner-ID header in HTTP requests
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, ownerID)
}

// GetOwnerID retrieves the owner ID from context
// Returns the owner ID and true if found, empty string and false otherwise
func GetOwnerID(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(OwnerIDKey).(string)
	return ownerID, ok && ownerID != ""
}
