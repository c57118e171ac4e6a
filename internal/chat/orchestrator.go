// Package chat runs the conversation loop: take a user submission, look
// up location and air quality, ask the model, and publish the reply.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"airbot/internal/domain"
	"airbot/internal/location"
	"airbot/internal/markdown"
	"airbot/internal/metrics"
)

const (
	defaultConcurrency    = 3
	defaultMessageTimeout = 120 * time.Second

	typingText = "Typing..."
)

// Summarizer produces a one-line air quality summary for a coordinate.
type Summarizer interface {
	Summary(ctx context.Context, c domain.Coordinates) string
}

// Locator resolves the coordinates reported for a session.
type Locator interface {
	Get(sessionKey string) (domain.Coordinates, bool)
}

// Orchestrator consumes inbound messages and drives the reply flow.
type Orchestrator struct {
	provider    domain.Provider
	air         Summarizer
	locations   Locator
	store       domain.TranscriptStore
	bus         domain.MessageBus
	persona     Persona
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
}

type OrchestratorConfig struct {
	Provider    domain.Provider
	Air         Summarizer
	Locations   Locator
	Store       domain.TranscriptStore
	Bus         domain.MessageBus
	Persona     Persona
	Logger      *slog.Logger
	Concurrency int
	Timeout     time.Duration
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMessageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		provider:    cfg.Provider,
		air:         cfg.Air,
		locations:   cfg.Locations,
		store:       cfg.Store,
		bus:         cfg.Bus,
		persona:     cfg.Persona,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
	}
}

// Run consumes inbound messages with bounded concurrency until the
// context is cancelled or the bus closes.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info("chat orchestrator started", "concurrency", o.concurrency)

	sem := make(chan struct{}, o.concurrency)
	inbound := o.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("chat orchestrator stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				o.logger.Info("inbound channel closed, orchestrator stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				o.processMessage(ctx, m)
			}(msg)
		}
	}
}

// processMessage runs one submission end to end: append the user entry,
// show the typing placeholder, compute the reply, swap the placeholder
// for the answer, and deliver the result to the originating channel.
func (o *Orchestrator) processMessage(ctx context.Context, msg domain.InboundMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" && msg.Image == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sessionID := sessionKey(msg.Channel, msg.ChatID)
	o.logger.Info("processing message",
		"channel", msg.Channel,
		"session", sessionID,
		"content_len", len(content),
		"has_image", msg.Image != nil,
	)
	metrics.Collector.Inc("airbot_chat_requests_total")

	o.appendMessage(ctx, msg.Channel, msg.ChatID, domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    domain.SenderUser,
		Content:   userHTML(content, msg.Image),
		CreatedAt: time.Now(),
	})

	placeholderID := uuid.NewString()
	o.appendMessage(ctx, msg.Channel, msg.ChatID, domain.ChatMessage{
		ID:        placeholderID,
		SessionID: sessionID,
		Sender:    domain.SenderBot,
		Content:   typingText,
		Tag:       domain.TagTyping,
		CreatedAt: time.Now(),
	})

	reply, err := o.answer(ctx, sessionID, content, msg.Image)

	o.removePlaceholder(ctx, msg.Channel, msg.ChatID, sessionID, placeholderID)

	var text, html string
	if err != nil {
		o.logger.Error("reply failed", "session", sessionID, "error", err)
		metrics.Collector.Inc("airbot_chat_failures_total")
		text = err.Error()
		html = markdown.Escape(text)
	} else {
		text = reply
		html = markdown.Render(reply)
	}

	botMsg := domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    domain.SenderBot,
		Content:   html,
		CreatedAt: time.Now(),
	}
	if o.store != nil {
		if serr := o.store.Append(ctx, botMsg); serr != nil {
			o.logger.Warn("failed to persist reply", "error", serr)
		}
	}

	o.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
		HTML:    html,
		Event:   &domain.TranscriptEvent{Type: domain.EventMessageAppended, Message: &botMsg},
	})
}

// answer produces the raw reply text. Image submissions go straight to
// the vision model; text submissions require a known location so the air
// quality line can be fetched first.
func (o *Orchestrator) answer(ctx context.Context, sessionID, content string, image *domain.InlineImage) (string, error) {
	if image != nil {
		question := content
		if question == "" {
			question = o.persona.VisionQuestion
		}
		reply, err := o.provider.ChatVision(ctx, question, *image)
		if err != nil {
			return "", fmt.Errorf("vision request: %w", err)
		}
		return reply, nil
	}

	coords, ok := o.locations.Get(sessionID)
	if !ok {
		return "", location.ErrUnavailable
	}

	summary := o.air.Summary(ctx, coords)
	prompt := buildPrompt(o.persona, summary, content)

	reply, err := o.provider.Chat(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) appendMessage(ctx context.Context, channel, chatID string, msg domain.ChatMessage) {
	if o.store != nil {
		if err := o.store.Append(ctx, msg); err != nil {
			o.logger.Warn("failed to persist message", "id", msg.ID, "error", err)
		}
	}
	o.bus.SendOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Event:   &domain.TranscriptEvent{Type: domain.EventMessageAppended, Message: &msg},
	})
}

func (o *Orchestrator) removePlaceholder(ctx context.Context, channel, chatID, sessionID, id string) {
	if o.store != nil {
		if err := o.store.Remove(ctx, sessionID, id); err != nil {
			o.logger.Warn("failed to remove placeholder", "id", id, "error", err)
		}
	}
	o.bus.SendOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Event:   &domain.TranscriptEvent{Type: domain.EventPlaceholderRemoved, MessageID: id},
	})
}

// userHTML renders the user's own entry. A captured image becomes a
// thumbnail; plain text is escaped as-is.
func userHTML(content string, image *domain.InlineImage) string {
	if image == nil {
		return markdown.Escape(content)
	}
	html := fmt.Sprintf(`<img src="data:%s;base64,%s" style="max-width: 200px; border-radius: 8px;">`,
		image.MIMEType, image.Data)
	if content != "" {
		html += "<br>" + markdown.Escape(content)
	}
	return html
}

func sessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}
