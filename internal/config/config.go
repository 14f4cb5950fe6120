package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/tailscale/hujson"
)

// Defaults applied to any field left empty.
const (
	DefaultSchedule      = "@every 60s"
	DefaultWipeThreshold = 2
	DefaultAttachmentExt = ".step"
	DefaultDataDir       = "/data"
	DefaultInventoryURL  = "http://localhost:3000/api"
	DefaultHTTPTimeout   = 60 // seconds
	DefaultJournalDays   = 30
)

// Config is the top-level fabsync configuration.
type Config struct {
	Jira      JiraConfig      `json:"jira"`
	Inventory InventoryConfig `json:"inventory"`
	Sync      SyncConfig      `json:"sync"`
	Notify    NotifyConfig    `json:"notify"`
	API       APIConfig       `json:"api"`
}

// JiraConfig holds the ticket source settings.
type JiraConfig struct {
	Server   string       `json:"server"`
	Username string       `json:"username"`
	Password string       `json:"password"`
	JQL      string       `json:"jql,omitempty"`
	Fields   *FieldConfig `json:"fields,omitempty"`
}

// FieldConfig maps ticket attributes to Jira custom field ids. Empty
// entries keep the built-in ids.
type FieldConfig struct {
	Epic      string `json:"epic,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Material  string `json:"material,omitempty"`
	Thickness string `json:"thickness,omitempty"`
}

// InventoryConfig holds the inventory service settings.
type InventoryConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout,omitempty"` // seconds, default 60
}

// SyncConfig controls the reconciliation loop.
type SyncConfig struct {
	Schedule      string `json:"schedule,omitempty"`       // cron spec, default "@every 60s"
	WipeThreshold int    `json:"wipe_threshold,omitempty"` // consecutive empty polls before a full wipe
	AttachmentExt string `json:"attachment_ext,omitempty"`
	DataDir       string `json:"data_dir,omitempty"`
	PollTimeout   int    `json:"poll_timeout,omitempty"` // seconds, 0 lets a poll run to completion
	JournalDays   int    `json:"journal_days,omitempty"` // poll history kept, default 30; negative keeps all
}

// NotifyConfig holds the optional poll summary destinations.
type NotifyConfig struct {
	Slack    *SlackConfig    `json:"slack,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
	APIURL  string `json:"api_url,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token       string  `json:"token"`
	ChatIDs     []int64 `json:"chat_ids"`
	APIEndpoint string  `json:"api_endpoint,omitempty"`
}

// WebhookConfig holds the outbound poll report webhook. Secret enables an
// HMAC-SHA256 body signature.
type WebhookConfig struct {
	URL         string `json:"url"`
	Secret      string `json:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
}

// APIConfig holds status API server settings. A zero port disables it.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file. Comments and trailing commas
// are allowed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a JSONC document and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. An empty path loads ./.env
// if present.
func LoadEnvFile(path string) error {
	if path == "" {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv builds a config from environment variables with the FABSYNC_
// prefix. The unprefixed JIRA_* and AUTOCAM_APIKEY names are honoured as
// fallbacks.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Jira: JiraConfig{
			Server:   getenv("FABSYNC_JIRA_SERVER", os.Getenv("JIRA_SERVER")),
			Username: getenv("FABSYNC_JIRA_USERNAME", os.Getenv("JIRA_USERNAME")),
			Password: getenv("FABSYNC_JIRA_PASSWORD", os.Getenv("JIRA_PASSWORD")),
			JQL:      os.Getenv("FABSYNC_JIRA_JQL"),
		},
		Inventory: InventoryConfig{
			BaseURL: os.Getenv("FABSYNC_INVENTORY_URL"),
			APIKey:  getenv("FABSYNC_INVENTORY_API_KEY", os.Getenv("AUTOCAM_APIKEY")),
			Timeout: getenvInt("FABSYNC_INVENTORY_TIMEOUT", 0),
		},
		Sync: SyncConfig{
			Schedule:      os.Getenv("FABSYNC_SCHEDULE"),
			WipeThreshold: getenvInt("FABSYNC_WIPE_THRESHOLD", 0),
			AttachmentExt: os.Getenv("FABSYNC_ATTACHMENT_EXT"),
			DataDir:       os.Getenv("FABSYNC_DATA_DIR"),
			PollTimeout:   getenvInt("FABSYNC_POLL_TIMEOUT", 0),
			JournalDays:   getenvInt("FABSYNC_JOURNAL_DAYS", 0),
		},
		API: APIConfig{
			Host: getenv("FABSYNC_API_HOST", "127.0.0.1"),
			Port: getenvInt("FABSYNC_API_PORT", 8080),
			Key:  os.Getenv("FABSYNC_API_KEY"),
		},
	}

	if token := os.Getenv("FABSYNC_SLACK_TOKEN"); token != "" {
		cfg.Notify.Slack = &SlackConfig{
			Token:   token,
			Channel: os.Getenv("FABSYNC_SLACK_CHANNEL"),
		}
	}

	if token := os.Getenv("FABSYNC_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("FABSYNC_TELEGRAM_CHAT_IDS"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: FABSYNC_TELEGRAM_CHAT_IDS: %w", err)
			}
			cfg.Notify.Telegram.ChatIDs = parsed
		}
	}

	if u := os.Getenv("FABSYNC_WEBHOOK_URL"); u != "" {
		cfg.Notify.Webhook = &WebhookConfig{
			URL:         u,
			Secret:      os.Getenv("FABSYNC_WEBHOOK_SECRET"),
			BearerToken: os.Getenv("FABSYNC_WEBHOOK_TOKEN"),
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Jira.Server = strings.TrimRight(c.Jira.Server, "/")
	if c.Inventory.BaseURL == "" {
		c.Inventory.BaseURL = DefaultInventoryURL
	}
	if c.Inventory.Timeout == 0 {
		c.Inventory.Timeout = DefaultHTTPTimeout
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = DefaultSchedule
	}
	if c.Sync.WipeThreshold == 0 {
		c.Sync.WipeThreshold = DefaultWipeThreshold
	}
	if c.Sync.AttachmentExt == "" {
		c.Sync.AttachmentExt = DefaultAttachmentExt
	}
	if c.Sync.DataDir == "" {
		c.Sync.DataDir = DefaultDataDir
	}
	if c.Sync.JournalDays == 0 {
		c.Sync.JournalDays = DefaultJournalDays
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Jira.Server == "" {
		errs = append(errs, "jira.server is required")
	} else if !strings.HasPrefix(c.Jira.Server, "http://") && !strings.HasPrefix(c.Jira.Server, "https://") {
		errs = append(errs, fmt.Sprintf("jira.server %q must be an http(s) URL", c.Jira.Server))
	}
	if c.Jira.Username == "" {
		errs = append(errs, "jira.username is required")
	}
	if c.Jira.Password == "" {
		errs = append(errs, "jira.password is required")
	}

	if c.Inventory.BaseURL == "" {
		errs = append(errs, "inventory.base_url is required")
	}
	if c.Inventory.APIKey == "" {
		errs = append(errs, "inventory.api_key is required")
	}
	if c.Inventory.Timeout < 0 {
		errs = append(errs, "inventory.timeout must not be negative")
	}

	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sync.schedule %q: %v", c.Sync.Schedule, err))
	}
	if c.Sync.WipeThreshold < 1 {
		errs = append(errs, "sync.wipe_threshold must be at least 1")
	}
	if !strings.HasPrefix(c.Sync.AttachmentExt, ".") {
		errs = append(errs, fmt.Sprintf("sync.attachment_ext %q must start with a dot", c.Sync.AttachmentExt))
	}
	if c.Sync.PollTimeout < 0 {
		errs = append(errs, "sync.poll_timeout must not be negative")
	}

	if s := c.Notify.Slack; s != nil {
		if s.Token == "" {
			errs = append(errs, "notify.slack.token is required")
		}
		if s.Channel == "" {
			errs = append(errs, "notify.slack.channel is required")
		}
	}
	if tg := c.Notify.Telegram; tg != nil {
		if tg.Token == "" {
			errs = append(errs, "notify.telegram.token is required")
		}
		if len(tg.ChatIDs) == 0 {
			errs = append(errs, "notify.telegram.chat_ids needs at least one chat")
		}
	}

	if wh := c.Notify.Webhook; wh != nil {
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			errs = append(errs, fmt.Sprintf("notify.webhook.url %q must be an http(s) URL", wh.URL))
		}
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
