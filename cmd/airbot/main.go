package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"airbot/internal/airquality"
	"airbot/internal/bus"
	"airbot/internal/channel"
	"airbot/internal/chat"
	"airbot/internal/config"
	"airbot/internal/domain"
	"airbot/internal/location"
	"airbot/internal/provider"
	"airbot/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env keeps API keys out of the config file; missing file is fine.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "airbot",
		Short: "airbot: location-aware air quality assistant",
		Long:  "airbot answers air quality questions using live AQI data and a vision-capable LLM, over Web, CLI, and Telegram.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.airbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// applyLogConfig rebuilds the process logger from general.logLevel and
// general.logFile once the config is known.
func applyLogConfig(cfg *config.Config) {
	out := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, keeping stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Edit", cfgPath, "and set gemini.apiKey and airQuality.apiKey (or export the matching env vars).")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("airbot", version)
		},
	}
}

// core bundles the pieces shared by serve and chat.
type core struct {
	cfg          *config.Config
	bus          *bus.InMemoryBus
	store        *store.SQLiteStore
	locations    *location.Resolver
	orchestrator *chat.Orchestrator
	gemini       *provider.Gemini
}

func buildCore(cfg *config.Config) (*core, error) {
	messageBus := bus.New(100, logger)

	transcript, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("transcript store: %w", err)
	}

	var fallback *domain.Coordinates
	if cfg.Location.UseDefault {
		fallback = &domain.Coordinates{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
		}
	}
	locations := location.New(fallback, logger)

	cache, err := airquality.NewCache(
		transcript.DB(),
		time.Duration(cfg.AirQuality.CacheTTLMinutes)*time.Minute,
		logger,
	)
	if err != nil {
		transcript.Close()
		return nil, fmt.Errorf("aqi cache: %w", err)
	}

	air := airquality.NewClient(airquality.ClientConfig{
		APIBase: cfg.AirQuality.APIBase,
		APIKey:  cfg.AirQuality.APIKey,
		APIHost: cfg.AirQuality.APIHost,
		Timeout: time.Duration(cfg.AirQuality.TimeoutSeconds) * time.Second,
		Cache:   cache,
		Logger:  logger,
	})

	gemini := provider.NewGemini(provider.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		APIBase: cfg.Gemini.APIBase,
		Model:   cfg.Gemini.Model,
		Timeout: time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	persona, err := chat.LoadPersona(cfg.Persona.Path)
	if err != nil {
		logger.Warn("persona load failed, using default", "path", cfg.Persona.Path, "err", err)
	}

	orchestrator := chat.NewOrchestrator(chat.OrchestratorConfig{
		Provider:  gemini,
		Air:       air,
		Locations: locations,
		Store:     transcript,
		Bus:       messageBus,
		Persona:   persona,
		Logger:    logger,
	})

	return &core{
		cfg:          cfg,
		bus:          messageBus,
		store:        transcript,
		locations:    locations,
		orchestrator: orchestrator,
		gemini:       gemini,
	}, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	applyLogConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.store.Close()
	defer c.bus.Close()

	go c.orchestrator.Run(ctx)

	cliCh := channel.NewCLI(channel.CLIConfig{
		Locations: c.locations,
		Logger:    logger,
	})
	return cliCh.Start(ctx, c.bus)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start all enabled channels (Web + Telegram)",
		Long:  "Starts the web widget, Telegram bot (if enabled), and the chat loop. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.store.Close()

	if err := c.gemini.Healthy(ctx); err != nil {
		logger.Warn("gemini unhealthy at startup", "err", err)
	} else {
		logger.Info("gemini healthy", "model", cfg.Gemini.Model)
	}

	go c.orchestrator.Run(ctx)

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Locations: c.locations,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, c.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var webCh *channel.Web
	if cfg.Channels.Web.Enabled {
		metricsEndpoint := ""
		if cfg.Metrics.Enabled {
			metricsEndpoint = cfg.Metrics.Endpoint
		}
		webCh = channel.NewWeb(channel.WebConfig{
			Host:            cfg.Channels.Web.Host,
			Port:            cfg.Channels.Web.Port,
			Logger:          logger,
			Locations:       c.locations,
			Store:           c.store,
			MetricsEndpoint: metricsEndpoint,
			Version:         version,
		})
		go func() {
			if err := webCh.Start(ctx, c.bus); err != nil {
				logger.Error("web channel error", "err", err)
			}
		}()
	}

	logger.Info("airbot started. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if webCh != nil {
			webCh.Stop()
		}
		c.bus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. gemini.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.web.port 9090)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
