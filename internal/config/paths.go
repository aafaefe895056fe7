package config

import (
	"os"
	"path/filepath"
)

// Paths are the per-user files xiaoji reads. XIAOJI_HOME relocates Base.
type Paths struct {
	Base   string // ~/.xiaoji
	Config string // Base/config.yaml
	Env    string // Base/.env
	Logs   string // Base/logs
}

func ResolvePaths() (Paths, error) {
	base := os.Getenv("XIAOJI_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, ".xiaoji")
	}
	in := func(name string) string { return filepath.Join(base, name) }
	return Paths{Base: base, Config: in("config.yaml"), Env: in(".env"), Logs: in("logs")}, nil
}

// DotEnvFiles lists the .env files to load, working directory first.
// godotenv never overwrites a set variable, so the first file wins.
func (p Paths) DotEnvFiles() []string {
	return []string{".env", p.Env}
}

// LogFile is where a bare --log-file writes.
func (p Paths) LogFile() string {
	return filepath.Join(p.Logs, "xiaoji.log")
}
