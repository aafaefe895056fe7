package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort            = 3000
	DefaultUpstreamBaseURL = "https://qianfan.baidubce.com/v2/app"
	DefaultSpeechBaseURL   = "https://vop.baidu.com/pro_api"
	DefaultSpeechDevPID    = 80001 // Mandarin, fast model
	DefaultMaxUploadBytes  = 5 * 1024 * 1024
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields.
func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "production"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.AllowedOrigins == nil {
		// any origin, so the widget can be embedded on other sites; an
		// explicit empty list denies cross-origin requests
		cfg.Gateway.AllowedOrigins = []string{"*"}
	}
	if cfg.Gateway.MaxUploadBytes == 0 {
		cfg.Gateway.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Speech.BaseURL == "" {
		cfg.Speech.BaseURL = DefaultSpeechBaseURL
	}
	if cfg.Speech.DevPID == 0 {
		cfg.Speech.DevPID = DefaultSpeechDevPID
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.DSN == "" {
		cfg.Session.DSN = ":memory:"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "xiaoji"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Widget.ImmediateDelayMs == 0 {
		cfg.Widget.ImmediateDelayMs = 200
	}
	if cfg.Widget.DelayedDelayMs == 0 {
		cfg.Widget.DelayedDelayMs = 15000
	}
	if cfg.Widget.ToastMs == 0 {
		cfg.Widget.ToastMs = 3000
	}
}

// SpeechAPIKey returns the key used for the speech service.
func (c Config) SpeechAPIKey() string {
	if c.Speech.APIKey != "" {
		return c.Speech.APIKey
	}
	return c.Upstream.APIKey
}

// ServerURL returns the base URL the chat client talks to.
func (c Config) ServerURL() string {
	if c.Widget.ServerURL != "" {
		return c.Widget.ServerURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Gateway.Port)
}
