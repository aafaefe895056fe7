package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var validLogLevels = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	validEnvs := []string{"development", "production", "test"}
	if cfg.Env != "" && !slices.Contains(validEnvs, cfg.Env) {
		add("env", "must be one of %v, got %q", validEnvs, cfg.Env)
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.MaxUploadBytes < 0 {
		add("gateway.maxUploadBytes", "must not be negative")
	}

	// Upstream
	if cfg.Upstream.APIKey == "" {
		add("upstream.apiKey", "required (set QIANFAN_API_KEY)")
	}
	if cfg.Upstream.AppID == "" {
		add("upstream.appId", "required (set QIANFAN_APP_ID)")
	}
	if !isHTTPURL(cfg.Upstream.BaseURL) {
		add("upstream.baseUrl", "must be an absolute http(s) URL, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.TimeoutSeconds < 0 {
		add("upstream.timeoutSeconds", "must not be negative")
	}

	// Speech
	if !isHTTPURL(cfg.Speech.BaseURL) {
		add("speech.baseUrl", "must be an absolute http(s) URL, got %q", cfg.Speech.BaseURL)
	}
	if cfg.Speech.CUID == "" {
		add("speech.cuid", "required (set SPEECH_CUID)")
	}

	// Session
	validStores := []string{"memory", "sqlite"}
	if cfg.Session.Store != "" && !slices.Contains(validStores, cfg.Session.Store) {
		add("session.store", "must be one of %v, got %q", validStores, cfg.Session.Store)
	}

	// Logging
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// Telemetry
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate", "must be within [0, 1], got %v", cfg.Telemetry.SamplingRate)
	}

	// Widget
	if cfg.Widget.ServerURL != "" && !isHTTPURL(cfg.Widget.ServerURL) {
		add("widget.serverUrl", "must be an absolute http(s) URL, got %q", cfg.Widget.ServerURL)
	}
	if cfg.Widget.ImmediateDelayMs < 0 || cfg.Widget.DelayedDelayMs < 0 || cfg.Widget.ToastMs < 0 {
		add("widget", "delays must not be negative")
	}

	return issues
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
