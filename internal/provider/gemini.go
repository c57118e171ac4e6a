package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"airbot/internal/domain"
	"airbot/internal/metrics"
)

// Replies returned verbatim to the user when the model answers with an
// empty candidate list instead of failing outright.
const (
	EmptyChatReply   = "Invalid Input"
	EmptyVisionReply = "AI did not return a valid response."
)

// Gemini implements domain.Provider against the Google generativelanguage API.
type Gemini struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GeminiConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://generativelanguage.googleapis.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiBase+"/models?key="+g.apiKey, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("gemini: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini returned %d", resp.StatusCode)
	}
	return nil
}

type genRequest struct {
	Contents []genContent `json:"contents"`
}

type genContent struct {
	Role  string    `json:"role"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	InlineData *genInlineData `json:"inlineData,omitempty"`
	Text       string         `json:"text,omitempty"`
}

type genInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genResponse struct {
	Candidates []genCandidate `json:"candidates"`
}

type genCandidate struct {
	Content genContent `json:"content"`
}

// Chat sends a single-turn text prompt and returns the first candidate's text.
func (g *Gemini) Chat(ctx context.Context, prompt string) (string, error) {
	parts := []genPart{{Text: prompt}}
	return g.generate(ctx, parts, EmptyChatReply)
}

// ChatVision sends an image plus a question. The image part precedes the
// text part, matching what the generateContent endpoint expects for
// inline data.
func (g *Gemini) ChatVision(ctx context.Context, question string, image domain.InlineImage) (string, error) {
	parts := []genPart{
		{InlineData: &genInlineData{MIMEType: image.MIMEType, Data: image.Data}},
		{Text: question},
	}
	return g.generate(ctx, parts, EmptyVisionReply)
}

func (g *Gemini) generate(ctx context.Context, parts []genPart, emptyReply string) (string, error) {
	body := genRequest{
		Contents: []genContent{{Role: "user", Parts: parts}},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.apiBase, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.Collector.Inc("airbot_llm_failures_total")
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Collector.Inc("airbot_llm_failures_total")
		return "", fmt.Errorf("gemini %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp genResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		metrics.Collector.Inc("airbot_llm_failures_total")
		return "", fmt.Errorf("decode: %w", err)
	}

	metrics.Collector.Inc("airbot_llm_requests_total")

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		g.logger.Warn("gemini returned no candidates", "model", g.model)
		return emptyReply, nil
	}
	return genResp.Candidates[0].Content.Parts[0].Text, nil
}
