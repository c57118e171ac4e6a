package domain

import "context"

// InlineImage is a base64-encoded image carried inline in a model request.
// Data must be raw base64 with no data-URL prefix.
type InlineImage struct {
	MIMEType string
	Data     string
}

// Provider is the language-model client. Both entry points are one-shot and
// stateless; a malformed response body yields the provider's fallback
// sentinel text rather than an error, while transport failures are returned
// as errors for the orchestrator to surface.
type Provider interface {
	Chat(ctx context.Context, prompt string) (string, error)
	ChatVision(ctx context.Context, question string, image InlineImage) (string, error)
	Name() string
	Healthy(ctx context.Context) error
}
