package domain

import "context"

// TranscriptStore persists the per-session chat transcript so the web widget
// can re-render on reload. It is deliberately not a conversation memory:
// nothing read from it is ever fed back into a model prompt.
type TranscriptStore interface {
	Append(ctx context.Context, msg ChatMessage) error
	Remove(ctx context.Context, sessionID, messageID string) error
	Messages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
	Close() error
}
