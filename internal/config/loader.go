package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// envOverrides lists the environment variables that take precedence over
// the config file. Names follow the deployment's existing .env files.
type envOverrides struct {
	Port         int    `env:"PORT"`
	Env          string `env:"XIAOJI_ENV"`
	NodeEnv      string `env:"NODE_ENV"`
	LogLevel     string `env:"XIAOJI_LOG_LEVEL"`
	APIKey       string `env:"QIANFAN_API_KEY"`
	AppID        string `env:"QIANFAN_APP_ID"`
	SpeechCUID   string `env:"SPEECH_CUID"`
	SessionStore string `env:"XIAOJI_SESSION_STORE"`
	ServerURL    string `env:"XIAOJI_SERVER_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the
// process environment. Missing files are skipped and variables that are
// already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return &ConfigError{Message: "failed to load " + p + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// expandSensitiveFields processes ${ENV_VAR} references in credential fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Upstream.APIKey = expandEnvVars(cfg.Upstream.APIKey)
	cfg.Upstream.AppID = expandEnvVars(cfg.Upstream.AppID)
	cfg.Speech.APIKey = expandEnvVars(cfg.Speech.APIKey)
	cfg.Speech.CUID = expandEnvVars(cfg.Speech.CUID)
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return &ConfigError{Message: "invalid environment: " + err.Error()}
	}

	if o.Port != 0 {
		cfg.Gateway.Port = o.Port
	}
	switch {
	case o.Env != "":
		cfg.Env = strings.ToLower(o.Env)
	case o.NodeEnv != "":
		cfg.Env = strings.ToLower(o.NodeEnv)
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if o.APIKey != "" {
		cfg.Upstream.APIKey = o.APIKey
	}
	if o.AppID != "" {
		cfg.Upstream.AppID = o.AppID
	}
	if o.SpeechCUID != "" {
		cfg.Speech.CUID = o.SpeechCUID
	}
	if o.SessionStore != "" {
		cfg.Session.Store = o.SessionStore
	}
	if o.ServerURL != "" {
		cfg.Widget.ServerURL = o.ServerURL
	}
	if o.OTLPEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = o.OTLPEndpoint
	}
	return nil
}

// Redacted returns a copy of cfg with credentials masked, for display.
func Redacted(cfg Config) Config {
	mask := func(s string) string {
		if len(s) <= 4 {
			if s == "" {
				return ""
			}
			return "****"
		}
		return s[:4] + strings.Repeat("*", 8)
	}
	cfg.Upstream.APIKey = mask(cfg.Upstream.APIKey)
	cfg.Speech.APIKey = mask(cfg.Speech.APIKey)
	return cfg
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
