package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"airbot/internal/chat"
	"airbot/internal/config"
	"airbot/internal/provider"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your airbot installation",
		Long: `Verifies that airbot's configuration, API access, database, and
persona are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("airbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'airbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Database writable
			if err := checkDatabase(cfg.Store.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Store.DBPath)
				passed++
			}

			// 4. Gemini key configured and reachable
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if cfg.Gemini.APIKey == "" {
				printFail("Gemini API key", "not configured (set gemini.apiKey or GEMINI_API_KEY)")
				failed++
			} else {
				gemini := provider.NewGemini(provider.GeminiConfig{
					APIKey:  cfg.Gemini.APIKey,
					APIBase: cfg.Gemini.APIBase,
					Model:   cfg.Gemini.Model,
					Timeout: 10 * time.Second,
					Logger:  logger,
				})
				if err := gemini.Healthy(ctx); err != nil {
					printFail("Gemini API", err.Error())
					failed++
				} else {
					printPass("Gemini API", "reachable, key accepted")
					passed++
				}
			}

			// 5. Air quality key configured
			if cfg.AirQuality.APIKey == "" {
				printFail("AQI API key", "not configured (set airQuality.apiKey or RAPIDAPI_KEY)")
				failed++
			} else {
				printPass("AQI API key", "configured")
				passed++
			}

			// 6. Persona file parses
			if cfg.Persona.Path != "" {
				if _, err := chat.LoadPersona(cfg.Persona.Path); err != nil {
					printWarn("Persona", err.Error())
					warned++
				} else {
					printPass("Persona", cfg.Persona.Path)
					passed++
				}
			} else {
				printPass("Persona", "built-in default")
				passed++
			}

			// 7. Web port available
			if cfg.Channels.Web.Enabled {
				port := cfg.Channels.Web.Port
				if port == 0 {
					port = 8080
				}
				if err := checkPort(port); err != nil {
					printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Web port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}

			// 8. Telegram token when enabled
			if cfg.Channels.Telegram.Enabled {
				if cfg.Channels.Telegram.Token == "" {
					printFail("Telegram", "enabled but no token configured")
					failed++
				} else {
					printPass("Telegram", "token configured")
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running airbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nairbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! airbot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
