package channel

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"airbot/internal/camera"
	"airbot/internal/domain"
	"airbot/internal/location"
	"airbot/internal/metrics"
)

const (
	maxBodySize       = 4 << 20 // generous: capture frames arrive as base64
	requestTimeout    = 120 * time.Second
	sessionCookieName = "airbot_session"
	sessionMaxAge     = 86400 * 30 // 30 days
	historyLimit      = 200
)

//go:embed web_templates/*.html
var templateFS embed.FS

// Web serves the chat widget and its supporting API.
type Web struct {
	host    string
	port    int
	bus     domain.MessageBus
	logger  *slog.Logger
	server  *http.Server
	tmpl    *htmltemplate.Template
	version string

	locations *location.Resolver
	store     domain.TranscriptStore

	metricsEndpoint string

	// SSE clients keyed by session ID for targeted delivery
	sseClients   map[string]chan domain.TranscriptEvent
	sseClientsMu sync.RWMutex

	// Pending responses keyed by session ID
	pendingResponses   map[string]chan domain.OutboundMessage
	pendingResponsesMu sync.Mutex

	// One camera session per chat session
	cameras   map[string]*camera.Session
	camerasMu sync.Mutex
}

type WebConfig struct {
	Host            string
	Port            int
	Logger          *slog.Logger
	Locations       *location.Resolver
	Store           domain.TranscriptStore
	MetricsEndpoint string
	Version         string
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tmpl := htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html"))

	return &Web{
		host:             cfg.Host,
		port:             cfg.Port,
		logger:           cfg.Logger,
		tmpl:             tmpl,
		version:          cfg.Version,
		locations:        cfg.Locations,
		store:            cfg.Store,
		metricsEndpoint:  cfg.MetricsEndpoint,
		sseClients:       make(map[string]chan domain.TranscriptEvent),
		pendingResponses: make(map[string]chan domain.OutboundMessage),
		cameras:          make(map[string]*camera.Session),
	}
}

func (w *Web) Name() string { return "web" }

// Start starts the web server and blocks until the context is cancelled.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	// Route responses back to the session that asked. Event-only messages
	// only feed the SSE stream; the final reply also unblocks /chat/send.
	bus.OnOutbound("web", func(msg domain.OutboundMessage) {
		if msg.Event != nil {
			w.sendSSE(msg.ChatID, *msg.Event)
		}
		if msg.Content == "" && msg.HTML == "" {
			return
		}
		w.deliverReply(msg)
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", w.handleIndex)
	mux.HandleFunc("POST /chat/send", w.handleSend)
	mux.HandleFunc("GET /chat/stream", w.handleSSE)
	mux.HandleFunc("GET /chat/history", w.handleHistory)
	mux.HandleFunc("POST /api/location", w.handleLocation)
	mux.HandleFunc("POST /api/camera/open", w.handleCameraOpen)
	mux.HandleFunc("POST /api/camera/switch", w.handleCameraSwitch)
	mux.HandleFunc("POST /api/camera/capture", w.handleCameraCapture)
	mux.HandleFunc("POST /api/camera/close", w.handleCameraClose)
	mux.HandleFunc("GET /status", w.handleStatus)
	if w.metricsEndpoint != "" {
		mux.Handle("GET "+w.metricsEndpoint, metrics.Collector.Handler())
	}

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	w.logger.Info("web channel started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// getOrCreateSession returns a persistent session ID from cookies,
// creating one when absent.
func (w *Web) getOrCreateSession(r *http.Request, rw http.ResponseWriter) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	b := make([]byte, 16)
	var sessionID string
	if _, err := rand.Read(b); err != nil {
		sessionID = fmt.Sprintf("web_%d", time.Now().UnixNano())
		w.logger.Warn("rand.Read failed, using fallback session ID", "err", err)
	} else {
		sessionID = "web_" + hex.EncodeToString(b)
	}

	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.logger.Info("new web session created", "session", sessionID)
	return sessionID
}

func (w *Web) handleIndex(rw http.ResponseWriter, r *http.Request) {
	w.getOrCreateSession(r, rw)
	if err := w.tmpl.ExecuteTemplate(rw, "chat.html", map[string]any{
		"Title":   "Air Quality Assistant",
		"Version": w.version,
	}); err != nil {
		w.logger.Error("template error", "template", "chat", "err", err)
	}
}

func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSONError(rw, http.StatusBadRequest, "invalid request body")
		return
	}
	// The orchestrator drops whitespace-only submissions without replying,
	// which would leave this request blocked until the timeout. Reject here.
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSONError(rw, http.StatusBadRequest, "empty message")
		return
	}

	sessionID := w.getOrCreateSession(r, rw)

	w.publishAndWait(rw, r, sessionID, domain.InboundMessage{
		Channel:   "web",
		ChatID:    sessionID,
		SenderID:  "web_user",
		Content:   req.Message,
		Timestamp: time.Now(),
	})
}

// deliverReply unblocks the pending /chat/send request for the session.
// The send happens under the same lock that supersedes pending channels,
// so the channel cannot be closed out from under the send.
func (w *Web) deliverReply(msg domain.OutboundMessage) {
	w.pendingResponsesMu.Lock()
	defer w.pendingResponsesMu.Unlock()
	if ch, ok := w.pendingResponses[msg.ChatID]; ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// publishAndWait registers a pending response channel, publishes the
// inbound message, and blocks until the reply, a timeout, or client
// disconnect. A newer request for the same session supersedes this one.
func (w *Web) publishAndWait(rw http.ResponseWriter, r *http.Request, sessionID string, msg domain.InboundMessage) {
	responseCh := make(chan domain.OutboundMessage, 1)
	w.pendingResponsesMu.Lock()
	if oldCh, exists := w.pendingResponses[sessionID]; exists {
		close(oldCh)
	}
	w.pendingResponses[sessionID] = responseCh
	w.pendingResponsesMu.Unlock()
	defer func() {
		w.pendingResponsesMu.Lock()
		if ch, ok := w.pendingResponses[sessionID]; ok && ch == responseCh {
			delete(w.pendingResponses, sessionID)
		}
		w.pendingResponsesMu.Unlock()
	}()

	w.bus.Publish(msg)

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()
	select {
	case resp, ok := <-responseCh:
		if ok {
			json.NewEncoder(rw).Encode(map[string]string{"content": resp.Content, "html": resp.HTML})
		} else {
			rw.WriteHeader(http.StatusConflict)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Superseded by new request"})
		}
	case <-timeout.C:
		rw.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Request timed out"})
	case <-r.Context().Done():
		w.logger.Info("web client disconnected", "session", sessionID)
	}
}

func (w *Web) handleSSE(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := w.getOrCreateSession(r, rw)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch := make(chan domain.TranscriptEvent, 16)

	w.sseClientsMu.Lock()
	w.sseClients[sessionID] = ch
	w.sseClientsMu.Unlock()
	metrics.Collector.SetGauge("airbot_sse_clients", int64(w.sseClientCount()))

	defer func() {
		w.sseClientsMu.Lock()
		if existing, ok := w.sseClients[sessionID]; ok && existing == ch {
			delete(w.sseClients, sessionID)
		}
		w.sseClientsMu.Unlock()
		metrics.Collector.SetGauge("airbot_sse_clients", int64(w.sseClientCount()))
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (w *Web) handleHistory(rw http.ResponseWriter, r *http.Request) {
	sessionID := w.getOrCreateSession(r, rw)
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	if w.store == nil {
		json.NewEncoder(rw).Encode(map[string]any{"messages": []domain.ChatMessage{}})
		return
	}
	msgs, err := w.store.Messages(r.Context(), "web:"+sessionID, historyLimit)
	if err != nil {
		w.logger.Error("history fetch failed", "session", sessionID, "err", err)
		writeJSONError(rw, http.StatusInternalServerError, "history unavailable")
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	json.NewEncoder(rw).Encode(map[string]any{"messages": msgs})
}

func (w *Web) handleLocation(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSONError(rw, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := w.getOrCreateSession(r, rw)
	coords := domain.Coordinates{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := w.locations.Set("web:"+sessionID, coords); err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

// camSession returns the camera session for a chat session, creating it
// from the browser-reported device list when needed.
func (w *Web) camSession(sessionID string, devices []camera.Device) *camera.Session {
	w.camerasMu.Lock()
	defer w.camerasMu.Unlock()
	if s, ok := w.cameras[sessionID]; ok && devices == nil {
		return s
	}
	if devices != nil {
		s := camera.NewSession(camera.NewStaticOpener(devices), w.logger)
		w.cameras[sessionID] = s
		return s
	}
	return w.cameras[sessionID]
}

func (w *Web) handleCameraOpen(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Devices []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"devices"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSONError(rw, http.StatusBadRequest, "invalid request body")
		return
	}

	devices := make([]camera.Device, 0, len(req.Devices))
	for _, d := range req.Devices {
		devices = append(devices, camera.Device{ID: d.ID, Label: d.Label})
	}

	sessionID := w.getOrCreateSession(r, rw)
	session := w.camSession(sessionID, devices)

	dev, err := session.Open(r.Context())
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(map[string]string{"deviceId": dev.ID, "label": dev.Label})
}

func (w *Web) handleCameraSwitch(rw http.ResponseWriter, r *http.Request) {
	sessionID := w.getOrCreateSession(r, rw)
	session := w.camSession(sessionID, nil)
	if session == nil {
		writeJSONError(rw, http.StatusBadRequest, camera.ErrNotOpen.Error())
		return
	}
	dev, err := session.Switch(r.Context())
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(map[string]string{"deviceId": dev.ID, "label": dev.Label})
}

func (w *Web) handleCameraCapture(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Frame    string `json:"frame"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSONError(rw, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := w.getOrCreateSession(r, rw)
	session := w.camSession(sessionID, nil)
	if session == nil {
		writeJSONError(rw, http.StatusBadRequest, camera.ErrNotOpen.Error())
		return
	}

	img, err := session.CaptureFrame(req.Frame)
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}

	w.publishAndWait(rw, r, sessionID, domain.InboundMessage{
		Channel:   "web",
		ChatID:    sessionID,
		SenderID:  "web_user",
		Content:   req.Question,
		Image:     &img,
		Timestamp: time.Now(),
	})
}

func (w *Web) handleCameraClose(rw http.ResponseWriter, r *http.Request) {
	sessionID := w.getOrCreateSession(r, rw)

	w.camerasMu.Lock()
	session := w.cameras[sessionID]
	delete(w.cameras, sessionID)
	w.camerasMu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			w.logger.Warn("camera close", "session", sessionID, "err", err)
		}
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(map[string]string{"status": "closed"})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status":  "ok",
		"version": w.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// sendSSE delivers an event to the SSE client that owns the session.
func (w *Web) sendSSE(sessionID string, evt domain.TranscriptEvent) {
	w.sseClientsMu.RLock()
	ch, ok := w.sseClients[sessionID]
	w.sseClientsMu.RUnlock()
	if ok {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (w *Web) sseClientCount() int {
	w.sseClientsMu.RLock()
	defer w.sseClientsMu.RUnlock()
	return len(w.sseClients)
}

func writeJSONError(rw http.ResponseWriter, code int, msg string) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
