package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"airbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "web", ChatID: "s1", Content: "hello"})

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "hello" || msg.Channel != "web" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestOutboundRouting(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	got := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("cli", func(msg domain.OutboundMessage) { got <- msg })

	b.SendOutbound(domain.OutboundMessage{Channel: "cli", ChatID: "direct", Content: "reply"})

	select {
	case msg := <-got:
		if msg.Content != "reply" {
			t.Errorf("Content: got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestOutboundNoHandlerDoesNotPanic(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "x"})
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := New(10, testLogger())
	b.Close()
	b.Publish(domain.InboundMessage{Channel: "web", Content: "late"})

	if _, ok := <-b.Subscribe(); ok {
		t.Error("expected closed inbound channel")
	}
}
