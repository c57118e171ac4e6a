package chat

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"airbot/internal/domain"
	"airbot/internal/location"
)

type fakeProvider struct {
	reply       string
	visionReply string
	err         error
	lastPrompt  string
	lastImage   *domain.InlineImage
	lastVisionQ string
}

func (p *fakeProvider) Chat(ctx context.Context, prompt string) (string, error) {
	p.lastPrompt = prompt
	return p.reply, p.err
}

func (p *fakeProvider) ChatVision(ctx context.Context, question string, image domain.InlineImage) (string, error) {
	p.lastVisionQ = question
	p.lastImage = &image
	return p.visionReply, p.err
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

type fakeSummarizer struct {
	summary string
	called  bool
}

func (s *fakeSummarizer) Summary(ctx context.Context, c domain.Coordinates) string {
	s.called = true
	return s.summary
}

type fakeLocator struct {
	coords map[string]domain.Coordinates
}

func (l *fakeLocator) Get(key string) (domain.Coordinates, bool) {
	c, ok := l.coords[key]
	return c, ok
}

type fakeBus struct {
	mu       sync.Mutex
	outbound []domain.OutboundMessage
}

func (b *fakeBus) Publish(msg domain.InboundMessage)       {}
func (b *fakeBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (b *fakeBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = append(b.outbound, msg)
}
func (b *fakeBus) OnOutbound(channel string, handler func(domain.OutboundMessage)) {}
func (b *fakeBus) Close()                                                         {}

func (b *fakeBus) messages() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OutboundMessage(nil), b.outbound...)
}

type fakeStore struct {
	mu       sync.Mutex
	appended []domain.ChatMessage
	removed  []string
}

func (s *fakeStore) Append(ctx context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, msg)
	return nil
}

func (s *fakeStore) Remove(ctx context.Context, sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, messageID)
	return nil
}

func (s *fakeStore) Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func testOrchestrator(p *fakeProvider, air *fakeSummarizer, loc *fakeLocator) (*Orchestrator, *fakeBus, *fakeStore) {
	bus := &fakeBus{}
	store := &fakeStore{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	o := NewOrchestrator(OrchestratorConfig{
		Provider:  p,
		Air:       air,
		Locations: loc,
		Store:     store,
		Bus:       bus,
		Persona:   DefaultPersona(),
		Logger:    logger,
	})
	return o, bus, store
}

func TestProcessMessageHappyPath(t *testing.T) {
	p := &fakeProvider{reply: "**Good** air today"}
	air := &fakeSummarizer{summary: "AQI: 42, PM2.5: 10, PM10: 15, O₃: 20"}
	loc := &fakeLocator{coords: map[string]domain.Coordinates{
		"web:sess1": {Latitude: 51.5, Longitude: -0.1},
	}}
	o, bus, store := testOrchestrator(p, air, loc)

	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "sess1", Content: "how is the air?",
	})

	if !strings.Contains(p.lastPrompt, "AQI Info: AQI: 42, PM2.5: 10, PM10: 15, O₃: 20") {
		t.Errorf("prompt missing AQI line:\n%s", p.lastPrompt)
	}
	if !strings.HasSuffix(p.lastPrompt, "User: how is the air?") {
		t.Errorf("user message not last in prompt:\n%s", p.lastPrompt)
	}

	msgs := bus.messages()
	if len(msgs) != 4 {
		t.Fatalf("outbound count: got %d, want 4", len(msgs))
	}
	// user appended, placeholder appended, placeholder removed, reply
	if msgs[0].Event == nil || msgs[0].Event.Message.Sender != domain.SenderUser {
		t.Errorf("first event: %+v", msgs[0].Event)
	}
	if msgs[1].Event == nil || msgs[1].Event.Message.Tag != domain.TagTyping {
		t.Errorf("second event: %+v", msgs[1].Event)
	}
	if msgs[1].Event.Message.Content != "Typing..." {
		t.Errorf("placeholder content: %q", msgs[1].Event.Message.Content)
	}
	if msgs[2].Event == nil || msgs[2].Event.Type != domain.EventPlaceholderRemoved {
		t.Errorf("third event: %+v", msgs[2].Event)
	}
	if msgs[2].Event.MessageID != msgs[1].Event.Message.ID {
		t.Error("removal does not target the placeholder that was shown")
	}
	final := msgs[3]
	if final.Content != "**Good** air today" {
		t.Errorf("reply content: %q", final.Content)
	}
	if final.HTML != "<strong>Good</strong> air today" {
		t.Errorf("reply html: %q", final.HTML)
	}

	if len(store.removed) != 1 || store.removed[0] != msgs[1].Event.Message.ID {
		t.Errorf("store removals: %v", store.removed)
	}
}

func TestProcessMessageEmptyInputIsNoOp(t *testing.T) {
	p := &fakeProvider{reply: "hi"}
	o, bus, store := testOrchestrator(p, &fakeSummarizer{}, &fakeLocator{})

	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "sess1", Content: "   ",
	})

	if len(bus.messages()) != 0 {
		t.Errorf("outbound on empty input: %+v", bus.messages())
	}
	if len(store.appended) != 0 {
		t.Errorf("store writes on empty input: %+v", store.appended)
	}
}

func TestProcessMessageLocationUnavailable(t *testing.T) {
	p := &fakeProvider{reply: "should not be asked"}
	air := &fakeSummarizer{summary: "irrelevant"}
	o, bus, _ := testOrchestrator(p, air, &fakeLocator{})

	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "sess1", Content: "hello",
	})

	msgs := bus.messages()
	final := msgs[len(msgs)-1]
	if final.Content != location.ErrUnavailable.Error() {
		t.Errorf("reply: got %q, want %q", final.Content, location.ErrUnavailable.Error())
	}
	if p.lastPrompt != "" {
		t.Error("provider called without a location")
	}
	if air.called {
		t.Error("air quality fetched without a location")
	}
}

func TestProcessMessageProviderErrorSurfaced(t *testing.T) {
	p := &fakeProvider{err: errors.New("gemini 500: boom")}
	air := &fakeSummarizer{summary: "AQI data unavailable."}
	loc := &fakeLocator{coords: map[string]domain.Coordinates{"web:s": {Latitude: 1, Longitude: 2}}}
	o, bus, _ := testOrchestrator(p, air, loc)

	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "s", Content: "hi",
	})

	msgs := bus.messages()
	final := msgs[len(msgs)-1]
	if !strings.Contains(final.Content, "gemini 500: boom") {
		t.Errorf("reply: %q", final.Content)
	}
	// Placeholder removal still happens on the error path.
	if msgs[len(msgs)-2].Event.Type != domain.EventPlaceholderRemoved {
		t.Error("placeholder not removed before error reply")
	}
}

func TestProcessMessageImageSkipsLocationAndAQI(t *testing.T) {
	p := &fakeProvider{visionReply: "looks hazy"}
	air := &fakeSummarizer{}
	o, bus, _ := testOrchestrator(p, air, &fakeLocator{})

	img := &domain.InlineImage{MIMEType: "image/jpeg", Data: "Zm9v"}
	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "s", Image: img,
	})

	if air.called {
		t.Error("air quality fetched on image path")
	}
	if p.lastImage == nil || p.lastImage.Data != "Zm9v" {
		t.Errorf("image not forwarded: %+v", p.lastImage)
	}
	if p.lastVisionQ != DefaultPersona().VisionQuestion {
		t.Errorf("vision question: %q", p.lastVisionQ)
	}

	msgs := bus.messages()
	userEvt := msgs[0].Event
	if !strings.Contains(userEvt.Message.Content, `src="data:image/jpeg;base64,Zm9v"`) {
		t.Errorf("user entry missing thumbnail: %q", userEvt.Message.Content)
	}
	final := msgs[len(msgs)-1]
	if final.Content != "looks hazy" {
		t.Errorf("reply: %q", final.Content)
	}
}

func TestProcessMessageImageWithQuestionUsesIt(t *testing.T) {
	p := &fakeProvider{visionReply: "a street"}
	o, _, _ := testOrchestrator(p, &fakeSummarizer{}, &fakeLocator{})

	img := &domain.InlineImage{MIMEType: "image/jpeg", Data: "eA=="}
	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "s", Content: "is this smog?", Image: img,
	})

	if p.lastVisionQ != "is this smog?" {
		t.Errorf("vision question: %q", p.lastVisionQ)
	}
}

func TestProcessMessageEscapesUserHTML(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	loc := &fakeLocator{coords: map[string]domain.Coordinates{"web:s": {Latitude: 1, Longitude: 2}}}
	o, bus, _ := testOrchestrator(p, &fakeSummarizer{summary: "x"}, loc)

	o.processMessage(context.Background(), domain.InboundMessage{
		Channel: "web", ChatID: "s", Content: "<script>alert(1)</script>",
	})

	userEvt := bus.messages()[0].Event
	if strings.Contains(userEvt.Message.Content, "<script>") {
		t.Errorf("raw HTML in transcript: %q", userEvt.Message.Content)
	}
}

