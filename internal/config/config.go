package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/yabot-dev/yabot/pkg/types"
)

// Defaults applied before any configuration source.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 8765
	DefaultModel        = "gpt-4o-mini"
	DefaultMaxSteps     = 50
	DefaultMaxTurns     = 30
	DefaultMaxRetries   = 2
	DefaultShellTimeout = 60000
	DefaultMaxOutput    = 8000
	DefaultFetchTimeout = 30000
)

// DefaultModels is the catalog used when none is configured.
var DefaultModels = []string{"gpt-4o-mini", "gpt-5.2"}

// Environment variables recognized by Load.
const (
	EnvConfig       = "YABOT_CONFIG"
	EnvHost         = "YABOT_HOST"
	EnvPort         = "YABOT_PORT"
	EnvModel        = "YABOT_MODEL"
	EnvModels       = "YABOT_MODELS"
	EnvAllowedUsers = "ALLOWED_USERS"
	EnvLogLevel     = "YABOT_LOG_LEVEL"
	EnvTracePath    = "YABOT_TRACE_PATH"
	EnvStateDir     = "YABOT_STATE_DIR"
	EnvSkillsDirs   = "YABOT_SKILLS_DIRS"
	EnvWorkDir      = "YABOT_WORKDIR"
)

// Load loads configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config (~/.config/yabot/yabot.json[c])
// 3. Project config (<directory>/yabot.json[c], <directory>/.yabot/yabot.json[c])
// 4. YABOT_CONFIG file
// 5. .env files (never overriding variables already set)
// 6. Environment variables
func Load(directory string) (*types.Config, error) {
	paths := GetPaths()
	config := defaults(paths)

	loaded := make(map[string]bool)
	loadOnce := func(path string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		loaded[absPath] = true
		err = loadConfigFile(path, config, filepath.Dir(absPath))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	candidates := []string{
		filepath.Join(paths.Config, "yabot.json"),
		filepath.Join(paths.Config, "yabot.jsonc"),
	}
	if directory != "" {
		candidates = append(candidates,
			filepath.Join(directory, "yabot.json"),
			filepath.Join(directory, "yabot.jsonc"),
			filepath.Join(directory, ".yabot", "yabot.json"),
			filepath.Join(directory, ".yabot", "yabot.jsonc"),
		)
	}
	if configPath := os.Getenv(EnvConfig); configPath != "" {
		candidates = append(candidates, configPath)
	}
	for _, path := range candidates {
		if err := loadOnce(path); err != nil {
			return nil, err
		}
	}

	loadDotEnv(directory)
	applyEnvOverrides(config)
	normalize(config, paths)

	return config, nil
}

func defaults(paths *Paths) *types.Config {
	retries := DefaultMaxRetries
	watch := true
	return &types.Config{
		Server: types.ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Model:  DefaultModel,
		Models: append([]string(nil), DefaultModels...),
		Provider: map[string]types.ProviderConfig{
			"openai": {},
		},
		Agent: types.AgentConfig{
			MaxSteps: DefaultMaxSteps,
			MaxTurns: DefaultMaxTurns,
		},
		Retry: types.RetryConfig{
			MaxRetries:      &retries,
			InitialInterval: 500,
			MaxInterval:     5000,
			Timeout:         180000,
		},
		Tools: types.ToolsConfig{
			ShellTimeout:   DefaultShellTimeout,
			MaxOutput:      DefaultMaxOutput,
			FetchTimeoutMS: DefaultFetchTimeout,
		},
		Skills: types.SkillsConfig{
			Dirs:  []string{paths.SkillsPath()},
			Watch: &watch,
		},
		Log:      types.LogConfig{Level: "INFO"},
		StateDir: paths.ConversationsPath(),
	}
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return &ParseError{Path: path, Err: err}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return "config " + e.Path + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(homeDir(), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		quoted, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target. Scalars override when set,
// maps merge by key, lists replace.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Server.Host != "" {
		target.Server.Host = source.Server.Host
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if len(source.Server.CORSOrigins) > 0 {
		target.Server.CORSOrigins = source.Server.CORSOrigins
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if len(source.Models) > 0 {
		target.Models = source.Models
	}
	for k, v := range source.Provider {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		target.Provider[k] = v
	}
	if source.AllowedUsers != nil {
		target.AllowedUsers = source.AllowedUsers
	}

	if source.Agent.MaxSteps > 0 {
		target.Agent.MaxSteps = source.Agent.MaxSteps
	}
	if source.Agent.MaxTurns > 0 {
		target.Agent.MaxTurns = source.Agent.MaxTurns
	}
	if source.Agent.SystemPrompt != "" {
		target.Agent.SystemPrompt = source.Agent.SystemPrompt
	}
	if source.Agent.WorkDir != "" {
		target.Agent.WorkDir = source.Agent.WorkDir
	}

	if source.Retry.MaxRetries != nil {
		target.Retry.MaxRetries = source.Retry.MaxRetries
	}
	if source.Retry.InitialInterval > 0 {
		target.Retry.InitialInterval = source.Retry.InitialInterval
	}
	if source.Retry.MaxInterval > 0 {
		target.Retry.MaxInterval = source.Retry.MaxInterval
	}
	if source.Retry.Timeout > 0 {
		target.Retry.Timeout = source.Retry.Timeout
	}

	if source.Tools.ShellTimeout > 0 {
		target.Tools.ShellTimeout = source.Tools.ShellTimeout
	}
	if source.Tools.MaxOutput > 0 {
		target.Tools.MaxOutput = source.Tools.MaxOutput
	}
	if source.Tools.FetchTimeoutMS > 0 {
		target.Tools.FetchTimeoutMS = source.Tools.FetchTimeoutMS
	}
	for k, v := range source.Tools.Sensitivity {
		if target.Tools.Sensitivity == nil {
			target.Tools.Sensitivity = make(map[string]string)
		}
		target.Tools.Sensitivity[k] = v
	}
	target.Tools.ShellDeny = append(target.Tools.ShellDeny, source.Tools.ShellDeny...)
	target.Tools.Disabled = append(target.Tools.Disabled, source.Tools.Disabled...)

	target.Approvals.Shell = append(target.Approvals.Shell, source.Approvals.Shell...)
	target.Approvals.Dirs = append(target.Approvals.Dirs, source.Approvals.Dirs...)
	target.Approvals.Tools = append(target.Approvals.Tools, source.Approvals.Tools...)

	if len(source.Skills.Dirs) > 0 {
		target.Skills.Dirs = source.Skills.Dirs
	}
	if source.Skills.Watch != nil {
		target.Skills.Watch = source.Skills.Watch
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
	if source.Log.File != "" {
		target.Log.File = source.Log.File
	}
	if source.TracePath != "" {
		target.TracePath = source.TracePath
	}
	if source.StateDir != "" {
		target.StateDir = source.StateDir
	}
}

// loadDotEnv loads .env files without overriding the process environment.
func loadDotEnv(directory string) {
	candidates := []string{filepath.Join(GetPaths().Config, ".env")}
	if directory != "" {
		candidates = append(candidates, filepath.Join(directory, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	providerEnvMap := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"ark":       "ARK_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		if config.Provider == nil {
			config.Provider = make(map[string]types.ProviderConfig)
		}
		p := config.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
		}
		config.Provider[provider] = p
	}
	if modelID := os.Getenv("ARK_MODEL_ID"); modelID != "" {
		p := config.Provider["ark"]
		if p.Model == "" {
			p.Model = modelID
		}
		if baseURL := os.Getenv("ARK_BASE_URL"); baseURL != "" && p.BaseURL == "" {
			p.BaseURL = baseURL
		}
		config.Provider["ark"] = p
	}

	if host := os.Getenv(EnvHost); host != "" {
		config.Server.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv(EnvPort)); err == nil && port > 0 {
		config.Server.Port = port
	}
	if model := os.Getenv(EnvModel); model != "" {
		config.Model = model
	}
	if models := splitList(os.Getenv(EnvModels)); len(models) > 0 {
		config.Models = models
	}
	if users, ok := os.LookupEnv(EnvAllowedUsers); ok {
		config.AllowedUsers = splitList(users)
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		config.Log.Level = level
	}
	if path := os.Getenv(EnvTracePath); path != "" {
		config.TracePath = path
	}
	if dir := os.Getenv(EnvStateDir); dir != "" {
		config.StateDir = dir
	}
	if dirs := splitList(os.Getenv(EnvSkillsDirs)); len(dirs) > 0 {
		config.Skills.Dirs = dirs
	}
	if dir := os.Getenv(EnvWorkDir); dir != "" {
		config.Agent.WorkDir = dir
	}
}

// normalize fills derived defaults after all sources are merged.
func normalize(config *types.Config, paths *Paths) {
	if config.TracePath == "" {
		config.TracePath = paths.TracePath()
	}
	if config.Model != "" && !containsString(config.Models, config.Model) {
		config.Models = append([]string{config.Model}, config.Models...)
	}
	if config.Model == "" && len(config.Models) > 0 {
		config.Model = config.Models[0]
	}
	if config.Agent.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			config.Agent.WorkDir = wd
		}
	}
}

// MaxRetries returns the configured retry bound.
func MaxRetries(config *types.Config) int {
	if config.Retry.MaxRetries == nil {
		return DefaultMaxRetries
	}
	if *config.Retry.MaxRetries < 0 {
		return 0
	}
	return *config.Retry.MaxRetries
}

// splitList splits a comma or whitespace separated list.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
