package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"airbot/internal/domain"
	"airbot/internal/location"
)

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	bus       domain.MessageBus
	locations *location.Resolver
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Locations *location.Resolver
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		locations: cfg.Locations,
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until context is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		// Transcript events are for the web widget; the terminal only
		// prints final replies.
		if msg.Content == "" {
			return
		}
		c.stopThinking()
		_, _ = fmt.Fprintln(c.out, "\r\033[K") // Clear spinner line
		_, _ = fmt.Fprintln(c.out, "--- airbot ---")
		_, _ = fmt.Fprintln(c.out, msg.Content)
		_, _ = fmt.Fprintln(c.out, "--------------")
		_, _ = fmt.Fprint(c.out, "You> ")
	})

	_, _ = fmt.Fprintln(c.out, "airbot CLI. Share your position with /location <lat> <lon>, then ask away. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}
		if strings.HasPrefix(line, "/location") {
			c.handleLocation(line)
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}

		c.startThinking()
		c.bus.Publish(domain.InboundMessage{
			Channel:   "cli",
			ChatID:    "direct",
			SenderID:  "user",
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

// handleLocation parses "/location <lat> <lon>" and records it for this
// terminal session.
func (c *CLI) handleLocation(line string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		_, _ = fmt.Fprintln(c.out, "Usage: /location <lat> <lon>")
		return
	}
	lat, errLat := strconv.ParseFloat(fields[1], 64)
	lon, errLon := strconv.ParseFloat(fields[2], 64)
	if errLat != nil || errLon != nil {
		_, _ = fmt.Fprintln(c.out, "Usage: /location <lat> <lon>")
		return
	}
	if c.locations.Has("cli:direct") {
		_, _ = fmt.Fprintln(c.out, "Location already set for this session.")
		return
	}
	if err := c.locations.Set("cli:direct", domain.Coordinates{Latitude: lat, Longitude: lon}); err != nil {
		_, _ = fmt.Fprintf(c.out, "Location rejected: %s\n", err)
		return
	}
	_, _ = fmt.Fprintf(c.out, "Location set to %.4f, %.4f\n", lat, lon)
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
