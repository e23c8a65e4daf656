package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the relay.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Typhon      TyphonConfig              `json:"typhon"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Session     SessionConfig             `json:"session"`
	Sheets      SheetsConfig              `json:"sheets"`
	Facebook    FacebookConfig            `json:"facebook"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Transcript  TranscriptConfig          `json:"transcript"`
	Players     []PlayerConfig            `json:"players"`
}

type BasicConfig struct {
	ServerAddress string   `json:"server_address"`
	AllowOrigins  []string `json:"allow_origins"`
	DBType        string   `json:"db_type"`
	TokenTTLHours int      `json:"token_ttl_hours"`
	EnvFile       string   `json:"env_file"`
}

// TyphonConfig describes the default completion upstream.
type TyphonConfig struct {
	Provider       string   `json:"provider"`
	BaseURL        string   `json:"base_url"`
	APIKey         string   `json:"api_key"`
	Model          string   `json:"model"`
	Paths          []string `json:"paths"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type SessionConfig struct {
	MaxMessages int `json:"max_messages"`
}

type SheetsConfig struct {
	SpreadsheetID   string `json:"spreadsheet_id"`
	CredentialsFile string `json:"credentials_file"`
	ChatSheet       string `json:"chat_sheet"`
	PairSheet       string `json:"pair_sheet"`
	PlayerRange     string `json:"player_range"`
}

type FacebookConfig struct {
	PageID       string `json:"page_id"`
	AccessToken  string `json:"access_token"`
	GraphVersion string `json:"graph_version"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PlayerConfig is a player seeded into the players table at startup.
type PlayerConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	PIN  string `json:"pin"`
}

// TranscriptConfig sizes the async transcript dispatcher.
type TranscriptConfig struct {
	Workers   int  `json:"workers"`
	QueueSize int  `json:"queue_size"`
	SQLMirror bool `json:"sql_mirror"`
}

const (
	DefaultModel        = "typhoon-v2.5-30b-a3b-instruct"
	DefaultGraphVersion = "v19.0"
	DefaultMaxMessages  = 200
)

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error: defaults and environment variables are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from an env file into the process environment.
// Variables that are already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := getEnv("PORT", ""); port != "" {
		c.BasicConfig.ServerAddress = ":" + strings.TrimPrefix(port, ":")
	}
	if origins := getEnv("ALLOW_ORIGINS", ""); origins != "" {
		c.BasicConfig.AllowOrigins = splitList(origins)
	}
	c.BasicConfig.DBType = getEnv("TYPHON_DB", c.BasicConfig.DBType)

	c.Typhon.Provider = getEnv("AITYPHON_PROVIDER", c.Typhon.Provider)
	c.Typhon.BaseURL = getEnv("AITYPHON_BASE_URL", c.Typhon.BaseURL)
	c.Typhon.APIKey = getEnv("AITYPHON_API_KEY", c.Typhon.APIKey)
	c.Typhon.Model = getEnv("AITYPHON_MODEL", c.Typhon.Model)
	c.Typhon.TimeoutSeconds = getEnvInt("AITYPHON_TIMEOUT_SECONDS", c.Typhon.TimeoutSeconds)

	c.Sheets.SpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.Sheets.SpreadsheetID)
	c.Sheets.CredentialsFile = getEnv("GOOGLE_CREDENTIALS_FILE", c.Sheets.CredentialsFile)
	c.Sheets.ChatSheet = getEnv("CHAT_SHEET_NAME", c.Sheets.ChatSheet)
	c.Sheets.PairSheet = getEnv("CHAT_SHEET3_NAME", c.Sheets.PairSheet)
	c.Sheets.PlayerRange = getEnv("PLAYER_SHEET_RANGE", c.Sheets.PlayerRange)

	c.Facebook.PageID = getEnv("FACEBOOK_PAGE_ID", c.Facebook.PageID)
	c.Facebook.AccessToken = getEnv("FACEBOOK_ACCESS_TOKEN", c.Facebook.AccessToken)
	c.Facebook.GraphVersion = getEnv("FACEBOOK_GRAPH_VERSION", c.Facebook.GraphVersion)

	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		host, port, ok := strings.Cut(addr, ":")
		c.Redis.Host = host
		if ok {
			if n, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = n
			}
		}
	}
}

func (c *Config) applyDefaults(baseDir string) {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":3000"
	}
	if c.BasicConfig.DBType == "" {
		c.BasicConfig.DBType = "sqlite3"
	}
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = 24
	}
	if c.BasicConfig.EnvFile == "" {
		c.BasicConfig.EnvFile = ".env"
	}
	if c.Typhon.Provider == "" {
		c.Typhon.Provider = "typhoon"
	}
	if c.Typhon.Model == "" {
		c.Typhon.Model = DefaultModel
	}
	if len(c.Typhon.Paths) == 0 {
		c.Typhon.Paths = []string{"/v1/chat/completions", "/chat/completions"}
	}
	if c.Typhon.TimeoutSeconds <= 0 {
		c.Typhon.TimeoutSeconds = 60
	}
	if c.Session.MaxMessages <= 0 {
		c.Session.MaxMessages = DefaultMaxMessages
	}
	if c.Sheets.ChatSheet == "" {
		c.Sheets.ChatSheet = "Chats"
	}
	if c.Sheets.PairSheet == "" {
		c.Sheets.PairSheet = "Sheet3"
	}
	if c.Sheets.PlayerRange == "" {
		c.Sheets.PlayerRange = "Players!A:C"
	}
	if c.Facebook.GraphVersion == "" {
		c.Facebook.GraphVersion = DefaultGraphVersion
	}
	if c.Transcript.Workers <= 0 {
		c.Transcript.Workers = 2
	}
	if c.Transcript.QueueSize <= 0 {
		c.Transcript.QueueSize = 256
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/relay.db"}
	}
	sqliteCfg := c.Databases["sqlite3"]
	if sqliteCfg.DSN != "" && sqliteCfg.DSN != ":memory:" && !strings.HasPrefix(sqliteCfg.DSN, "file:") && !filepath.IsAbs(sqliteCfg.DSN) {
		sqliteCfg.DSN = filepath.Join(baseDir, sqliteCfg.DSN)
		c.Databases["sqlite3"] = sqliteCfg
	}
}

// Validate checks that required fields are usable.
func (c *Config) Validate() error {
	if c.BasicConfig.ServerAddress == "" {
		return errors.New("server_address cannot be empty")
	}
	switch strings.ToLower(c.BasicConfig.DBType) {
	case "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported db_type %q", c.BasicConfig.DBType)
	}
	if !strings.HasPrefix(c.Typhon.Paths[0], "/") {
		return fmt.Errorf("typhon path %q must start with /", c.Typhon.Paths[0])
	}
	return nil
}

// RedisEnabled reports whether a redis token cache was configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// SheetsEnabled reports whether spreadsheet logging can be attempted.
func (c *Config) SheetsEnabled() bool {
	return c.Sheets.SpreadsheetID != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
