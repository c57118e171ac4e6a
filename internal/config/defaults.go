package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Gemini: GeminiConfig{
			APIBase:        "https://generativelanguage.googleapis.com/v1",
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 60,
		},
		AirQuality: AirQualityConfig{
			APIBase:         "https://air-quality.p.rapidapi.com",
			APIHost:         "air-quality.p.rapidapi.com",
			TimeoutSeconds:  15,
			CacheTTLMinutes: 10,
		},
		Location: LocationConfig{
			UseDefault: false,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Store: StoreConfig{
			DBPath: "~/.airbot/airbot.db",
		},
		Persona: PersonaConfig{},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
