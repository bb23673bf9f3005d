package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under every per-user base directory.
const AppName = "yabot"

// Paths contains the standard per-user paths for yabot data.
type Paths struct {
	Data   string // ~/.local/share/yabot
	Config string // ~/.config/yabot
	State  string // ~/.local/state/yabot
	Log    string // ~/.local/state/yabot/log
}

// GetPaths returns the standard paths for yabot data.
func GetPaths() *Paths {
	state := filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), AppName)
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), AppName),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), AppName),
		State:  state,
		Log:    defaultLogDir(state),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State, p.Log} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// TracePath returns the default trace file location.
func (p *Paths) TracePath() string {
	return filepath.Join(p.Log, "trace.jsonl")
}

// DaemonLogPath returns the default daemon log file location.
func (p *Paths) DaemonLogPath() string {
	return filepath.Join(p.Log, "daemon.log")
}

// ConversationsPath returns the default snapshot directory.
func (p *Paths) ConversationsPath() string {
	return filepath.Join(p.Data, "state")
}

// SkillsPath returns the default skills directory.
func (p *Paths) SkillsPath() string {
	return filepath.Join(p.Data, "skills")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("LOCALAPPDATA")
	}
	return filepath.Join(homeDir(), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(homeDir(), ".config")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("LOCALAPPDATA")
	}
	return filepath.Join(homeDir(), ".local", "state")
}

func defaultLogDir(state string) string {
	if runtime.GOOS == "darwin" && os.Getenv("XDG_STATE_HOME") == "" {
		return filepath.Join(homeDir(), "Library", "Logs", AppName)
	}
	return filepath.Join(state, "log")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "yabot.jsonc")
}
