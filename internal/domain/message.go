package domain

import "time"

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// TagTyping marks the transient placeholder shown while a reply is pending.
const TagTyping = "typing"

// ChatMessage is a single transcript entry. Content is rendered HTML for the
// web widget; messages are append-only and never edited, only the typing
// placeholder is ever removed.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// InboundMessage is a user submission arriving from any channel.
// Image is set on the capture-and-ask path; Content then carries the
// question (possibly empty, in which case the persona default is used).
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Image     *InlineImage
	Timestamp time.Time
}

// TranscriptEventType classifies an incremental transcript update.
type TranscriptEventType string

const (
	EventMessageAppended    TranscriptEventType = "message_appended"
	EventPlaceholderRemoved TranscriptEventType = "placeholder_removed"
)

// TranscriptEvent notifies a channel of a transcript change so the widget
// can update without re-fetching the whole history.
type TranscriptEvent struct {
	Type      TranscriptEventType `json:"type"`
	Message   *ChatMessage        `json:"message,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
}

// OutboundMessage is delivered back to the originating channel. Content is
// the raw reply text (CLI, Telegram); HTML is the rendered form for the web
// widget. Event-only messages carry incremental transcript updates.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	HTML    string
	Event   *TranscriptEvent
}
