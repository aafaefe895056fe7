package config

// Config is the root configuration for xiaoji.
type Config struct {
	Env       string          `yaml:"env,omitempty"` // "development" | "production"
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Upstream  UpstreamConfig  `yaml:"upstream,omitempty"`
	Speech    SpeechConfig    `yaml:"speech,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Widget    WidgetConfig    `yaml:"widget,omitempty"`
}

// Development reports whether error details may be echoed to API clients.
func (c Config) Development() bool {
	return c.Env == "development"
}

// GatewayConfig controls the HTTP server.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
	StaticDir      string   `yaml:"staticDir,omitempty"`
	Metrics        bool     `yaml:"metrics,omitempty"`
	MaxUploadBytes int64    `yaml:"maxUploadBytes,omitempty"`
}

// UpstreamConfig points at the Qianfan app conversation API.
type UpstreamConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	APIKey         string `yaml:"apiKey,omitempty"`
	AppID          string `yaml:"appId,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"` // 0 = no client timeout
}

// SpeechConfig points at the speech recognition API.
type SpeechConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"` // falls back to upstream.apiKey
	CUID    string `yaml:"cuid,omitempty"`
	DevPID  int    `yaml:"devPid,omitempty"`
}

// SessionConfig selects the conversation registry backend.
type SessionConfig struct {
	Store string `yaml:"store,omitempty"` // "memory" | "sqlite"
	DSN   string `yaml:"dsn,omitempty"`   // sqlite only, ":memory:" by default
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// WidgetConfig configures the terminal chat client.
type WidgetConfig struct {
	ServerURL        string `yaml:"serverUrl,omitempty"`
	ImmediateDelayMs int    `yaml:"immediateDelayMs,omitempty"`
	DelayedDelayMs   int    `yaml:"delayedDelayMs,omitempty"`
	ToastMs          int    `yaml:"toastMs,omitempty"`
}
