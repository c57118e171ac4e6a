package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"airbot/internal/domain"
	"airbot/internal/location"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramMaxPhotoBytes  = 8 << 20
)

// Telegram implements domain.Channel for a Telegram bot. Shared live
// locations feed the resolver; photos go down the vision path.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)

	bot       *tgbotapi.BotAPI
	bus       domain.MessageBus
	locations *location.Resolver
	logger    *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Locations *location.Resolver
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		locations: cfg.Locations,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		// Transcript events only matter to the web widget.
		if msg.Content == "" {
			return
		}
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.Location != nil {
		t.handleLocation(chatID, update.Message.Location)
		return
	}

	if len(update.Message.Photo) > 0 {
		t.handlePhoto(ctx, chatID, userID, update.Message)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleLocation(chatID int64, loc *tgbotapi.Location) {
	key := "telegram:" + strconv.FormatInt(chatID, 10)
	if t.locations.Has(key) {
		t.sendMessage(chatID, "Location already set for this chat.")
		return
	}
	coords := domain.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}
	if err := t.locations.Set(key, coords); err != nil {
		t.sendMessage(chatID, "Could not use that location: "+err.Error())
		return
	}
	t.sendMessage(chatID, fmt.Sprintf("Location set to %.4f, %.4f. Ask me about your air quality.", loc.Latitude, loc.Longitude))
}

// handlePhoto downloads the largest photo size and publishes it as an
// image submission, with the caption as the question.
func (t *Telegram) handlePhoto(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) {
	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	photo := msg.Photo[len(msg.Photo)-1]
	url, err := t.bot.GetFileDirectURL(photo.FileID)
	if err != nil {
		t.logger.Error("telegram photo URL", "err", err)
		t.sendMessage(chatID, "Could not fetch that photo.")
		return
	}

	data, err := t.downloadPhoto(ctx, url)
	if err != nil {
		t.logger.Error("telegram photo download", "err", err)
		t.sendMessage(chatID, "Could not fetch that photo.")
		return
	}

	t.bus.Publish(domain.InboundMessage{
		Channel:  "telegram",
		ChatID:   strconv.FormatInt(chatID, 10),
		SenderID: strconv.FormatInt(userID, 10),
		Content:  strings.TrimSpace(msg.Caption),
		Image: &domain.InlineImage{
			MIMEType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(data),
		},
		Timestamp: time.Unix(int64(msg.Date), 0),
	})
}

func (t *Telegram) downloadPhoto(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo download returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, telegramMaxPhotoBytes))
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hello! I'm your air quality assistant.\n\nShare your location (attachment > Location) so I can look up the air around you, then ask me anything. You can also send a photo of the sky or street and I'll estimate the pollution.\n\nCommands:\n/status - Show bot status\n/help - Show this message")
	case "help":
		t.sendMessage(chatID, "Share your location once, then send me questions about the air quality where you are. Send a photo and I'll describe the pollution I can see.\n\nCommands:\n/status - Bot status\n/help - This message")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("airbot online\n\nBot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes (Telegram has
// a 4096 char limit per message), preferring newline boundaries and never
// cutting inside a multi-byte rune.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends a single message chunk with retry and rate limit
// handling. Markdown first, plain text on parse errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = "Markdown"
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
