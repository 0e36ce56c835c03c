package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Scraping ScrapingConfig `yaml:"scraping"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cost     CostConfig     `yaml:"cost"`
	Log      LogConfig      `yaml:"log"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         string   `yaml:"port"`
	Mode         string   `yaml:"mode"` // debug, release, test
	AllowOrigins []string `yaml:"allow_origins"`
	TriggerRPS   float64  `yaml:"trigger_rps"` // per-IP limit on POST /api/scraping/run
	TriggerBurst int      `yaml:"trigger_burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// LLMConfig selects the provider used for idea generation.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, azure, anthropic, ollama, gemini
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	PromptFile  string  `yaml:"prompt_file"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ScrapingConfig struct {
	MaxRetries            int            `yaml:"max_retries"`
	RequestTimeoutSeconds int            `yaml:"request_timeout_seconds"`
	BackoffBaseSeconds    float64        `yaml:"backoff_base_seconds"`
	RequestsPerSecond     float64        `yaml:"requests_per_second"` // 0 disables the politeness limiter
	Concurrency           int            `yaml:"concurrency"`
	Forum                 ForumConfig    `yaml:"forum"`
	AppStore              AppStoreConfig `yaml:"appstore"`
}

type ForumConfig struct {
	Enabled           bool     `yaml:"enabled"`
	BaseURL           string   `yaml:"base_url"`
	Communities       []string `yaml:"communities"`
	PostsPerCommunity int      `yaml:"posts_per_community"`
	CommentPostLimit  int      `yaml:"comment_post_limit"`
}

type AppStoreConfig struct {
	Enabled          bool     `yaml:"enabled"`
	BaseURL          string   `yaml:"base_url"`
	AppIDs           []string `yaml:"app_ids"`
	Categories       []string `yaml:"categories"`
	ReviewsPerApp    int      `yaml:"reviews_per_app"`
	CategoryAppLimit int      `yaml:"category_app_limit"`
}

type PipelineConfig struct {
	SentimentThreshold       float64  `yaml:"sentiment_threshold"`
	IdeaMarkers              []string `yaml:"idea_markers"` // empty uses the built-in list
	DedupTokenLimit          int      `yaml:"dedup_token_limit"`
	MaxIdeasPerRun           int      `yaml:"max_ideas_per_run"`
	MaxConcurrentGenerations int      `yaml:"max_concurrent_generations"`
	ScheduleEnabled          bool     `yaml:"schedule_enabled"`
	Schedule                 string   `yaml:"schedule"` // cron expression
}

type CostConfig struct {
	MaxTokensPerComplaint int     `yaml:"max_tokens_per_complaint"`
	DailyLimitUSD         float64 `yaml:"daily_limit_usd"`
	CostPer1KTokens       float64 `yaml:"cost_per_1k_tokens"`
	LedgerPath            string  `yaml:"ledger_path"`
	LedgerCapacity        int     `yaml:"ledger_capacity"`
	GuardWindowDays       int     `yaml:"guard_window_days"`
	DefaultTokensPerItem  int     `yaml:"default_tokens_per_item"`
}

// NotifyConfig lists chat webhooks that receive a digest after each run.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	MinScore int             `yaml:"min_score"` // overall score an idea needs to be listed
	MaxIdeas int             `yaml:"max_ideas"`
}

type WebhookConfig struct {
	Type string `yaml:"type"` // slack, discord, generic
	URL  string `yaml:"url"`
}

type LogConfig struct {
	Level         string `yaml:"level"`
	RetentionDays int    `yaml:"retention_days"` // system and usage logs; 0 keeps forever
}

// RequestTimeout returns the per-request network timeout.
func (s ScrapingConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// BackoffBase returns the base delay of the exponential backoff.
func (s ScrapingConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSeconds * float64(time.Second))
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		// Unmarshal over the defaults so partial files keep sane values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         "8080",
			Mode:         "debug",
			AllowOrigins: []string{"*"},
			TriggerRPS:   0.1,
			TriggerBurst: 2,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "ideaminer.db",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			MaxTokens:   200,
			Temperature: 0.7,
			PromptFile:  "prompts/idea_prompt.txt",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Scraping: ScrapingConfig{
			MaxRetries:            3,
			RequestTimeoutSeconds: 30,
			BackoffBaseSeconds:    1,
			RequestsPerSecond:     2,
			Concurrency:           4,
			Forum: ForumConfig{
				Enabled: true,
				BaseURL: "https://www.reddit.com",
				Communities: []string{
					"technology", "apps", "androidapps", "iosapps", "mobileapps",
					"SomebodyMakeThis", "AppIdeas", "Startup_Ideas", "feature_requests",
					"Entrepreneur", "SideProject", "indiebiz", "smallbusiness", "startups",
				},
				PostsPerCommunity: 100,
				CommentPostLimit:  50,
			},
			AppStore: AppStoreConfig{
				Enabled: true,
				BaseURL: "https://play.google.com",
				AppIDs: []string{
					"com.whatsapp", "com.facebook.katana", "com.instagram.android",
					"com.snapchat.android", "com.twitter.android",
				},
				Categories:       []string{"productivity"},
				ReviewsPerApp:    200,
				CategoryAppLimit: 10,
			},
		},
		Pipeline: PipelineConfig{
			SentimentThreshold:       -0.3,
			DedupTokenLimit:          120,
			MaxIdeasPerRun:           50,
			MaxConcurrentGenerations: 5,
			ScheduleEnabled:          false,
			Schedule:                 "0 */6 * * *",
		},
		Cost: CostConfig{
			MaxTokensPerComplaint: 600,
			DailyLimitUSD:         100,
			CostPer1KTokens:       0.002,
			LedgerPath:            "sample_tokens.json",
			LedgerCapacity:        1000,
			GuardWindowDays:       7,
			DefaultTokensPerItem:  400,
		},
		Log: LogConfig{
			Level:         "info",
			RetentionDays: 30,
		},
		Notify: NotifyConfig{
			MinScore: 7,
			MaxIdeas: 5,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ALLOW_ORIGINS"); origins != "" {
		c.Server.AllowOrigins = strings.Split(origins, ",")
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		c.Scraping.MaxRetries = v
	}
	if v, ok := envInt("REQUEST_TIMEOUT"); ok {
		c.Scraping.RequestTimeoutSeconds = v
	}
	if v, ok := envFloat("SENTIMENT_THRESHOLD"); ok {
		c.Pipeline.SentimentThreshold = v
	}
	if v, ok := envInt("DEDUP_TOKEN_LIMIT"); ok {
		c.Pipeline.DedupTokenLimit = v
	}
	if v, ok := envInt("MAX_TOKENS_PER_COMPLAINT"); ok {
		c.Cost.MaxTokensPerComplaint = v
	}
	if path := os.Getenv("COST_LEDGER_PATH"); path != "" {
		c.Cost.LedgerPath = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if v, ok := envInt("LOG_RETENTION_DAYS"); ok {
		c.Log.RetentionDays = v
	}
	if hook := os.Getenv("NOTIFY_WEBHOOK_URL"); hook != "" {
		kind := os.Getenv("NOTIFY_WEBHOOK_TYPE")
		if kind == "" {
			kind = "generic"
		}
		c.Notify.Webhooks = append(c.Notify.Webhooks, WebhookConfig{Type: kind, URL: hook})
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
