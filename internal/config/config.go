package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
	dotEnvFile       = ".env"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for relayd and the diagchat client.
type Config struct {
	Environment string
	HTTPAddress string
	// Upstream provider
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIOrg     string
	// Prompt overrides; empty values keep the prompt profile defaults
	Model       string
	AppName     string
	DefaultLang string
	PromptFile  string
	// End-to-end deadline for one upstream stream (0 = none)
	UpstreamTimeout time.Duration
	LogFile         string
	LogLevel        string
	// Ledger: sqlite file path or postgres:// DSN; "-" disables it
	LedgerPath  string
	LedgerAsync bool
	// Per-client chat turn limit; 0 disables it
	RateLimitPerMinute float64
	RateLimitBurst     float64
	// Redis address or redis:// URL shared by relay instances; empty keeps
	// buckets in memory
	RateLimitRedis string
	// Chat client
	RelayURL       string
	HistoryPath    string
	HistoryLimit   int
	DiagnosticPath string
	User           string
}

// Load reads .env, the settings file and the active environment file under
// root. Precedence: process env > .env > config/<env>/relay.ini >
// config/setting.ini > built-in defaults.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	if err := godotenv.Load(filepath.Join(root, dotEnvFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", dotEnvFile, err)
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		values := append([]string{os.Getenv("SHEET_" + strings.ToUpper(key)), merged[key]}, fallback...)
		return strings.TrimSpace(firstNonEmpty(values...))
	}

	cfg := Config{
		Environment:    s.Environment,
		HTTPAddress:    get("http_address", ":8080"),
		OpenAIAPIKey:   get("openai_api_key", os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:  get("openai_base_url"),
		OpenAIOrg:      get("openai_org"),
		Model:          get("model"),
		AppName:        get("app_name"),
		DefaultLang:    get("default_lang"),
		PromptFile:     get("prompt_file"),
		LogFile:        get("log_file"),
		LogLevel:       get("log_level", "info"),
		LedgerPath:     get("ledger_path", DefaultLedgerPath()),
		LedgerAsync:    parseOptionalBool(get("ledger_async"), true),
		RelayURL:       get("relay_url", "http://localhost:8080/api/ai"),
		HistoryPath:    get("history_path", DefaultHistoryPath()),
		HistoryLimit:   parseOptionalInt(get("history_limit"), 40),
		DiagnosticPath: get("diagnostic_path", "diagnostic.json"),
		User:           get("user"),
	}
	cfg.RateLimitPerMinute = parseOptionalFloat(get("rate_limit_per_minute"), 0)
	cfg.RateLimitBurst = parseOptionalFloat(get("rate_limit_burst"), 5)
	cfg.RateLimitRedis = get("rate_limit_redis")
	if v := get("upstream_timeout", "5m"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid upstream_timeout %q: %w", v, err)
		}
		if dur < 0 {
			return Config{}, fmt.Errorf("invalid upstream_timeout %q: negative", v)
		}
		cfg.UpstreamTimeout = dur
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv("SHEET_ENVIRONMENT"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("SHEET_ENVIRONMENT"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".sheet", "ledger.db")
}

// DefaultHistoryPath returns the fallback chat history database path.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".sheet", "history.db")
}

// IsPostgresDSN reports whether a storage path names a PostgreSQL database.
func IsPostgresDSN(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}
