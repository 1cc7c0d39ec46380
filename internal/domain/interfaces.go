package domain

import (
	"context"
	"encoding/json"
)

// DocumentSource produces normalized content for one request.
type DocumentSource interface {
	// Load runs the adapter and returns the ordered content nodes
	Load(ctx context.Context) (*Document, error)

	// Describe returns a short human-readable name for progress messages
	Describe() string
}

// AssetFetcher downloads a binary asset by its opaque token.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, token string) ([]byte, error)
}

// Role of a chat message sent to a model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a model conversation.
type ChatMessage struct {
	Role  Role
	Parts []Part
}

// CompletionRequest is a provider-neutral model call.
type CompletionRequest struct {
	System     string
	Messages   []ChatMessage
	JSONOutput bool
}

// ResultStore persists finished results under opaque short keys.
type ResultStore interface {
	Save(ctx context.Context, payload json.RawMessage) (string, error)
	Load(ctx context.Context, key string) (*SavedResult, error)
}
