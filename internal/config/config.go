// Package config loads the YS_* settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/store"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "YS_"

// Backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// ErrInvalidConfig is returned when a setting is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the process configuration.
type Config struct {
	APIURL   string        `koanf:"api_url"`
	APIToken string        `koanf:"api_token"`
	APIRate  time.Duration `koanf:"api_rate"`

	Backend  string `koanf:"backend"`
	Dir      string `koanf:"dir"`
	StateDir string `koanf:"state_dir"`
	PGDSN    string `koanf:"pg_dsn"`

	BatchSize     int           `koanf:"batch_size"`
	ItemDelay     time.Duration `koanf:"item_delay"`
	BatchDelay    time.Duration `koanf:"batch_delay"`
	DelayStep     time.Duration `koanf:"delay_step"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
	MinPriceUSD   float64       `koanf:"min_price_usd"`
	MaxRunTime    time.Duration `koanf:"max_run_time"`
	RunTimeMargin time.Duration `koanf:"run_time_margin"`
	MemoryRatio   float64       `koanf:"memory_ratio"`

	LogCapacity    int      `koanf:"log_capacity"`
	HistoryDays    int      `koanf:"history_days"`
	MaxImageSize   ByteSize `koanf:"max_image_size"`
	ListingBaseURL string   `koanf:"listing_base_url"`

	HTTPPort    int           `koanf:"http_port"`
	HTTPSecret  string        `koanf:"http_secret"`
	ResumeDelay time.Duration `koanf:"resume_delay"`
	LogFormat   string        `koanf:"log_format"`

	Storage      string        `koanf:"storage"`
	GitURL       string        `koanf:"git_url"`
	GitPass      string        `koanf:"git_pass"`
	GitBranch    string        `koanf:"git_branch"`
	GitUser      string        `koanf:"git_user"`
	GitEmail     string        `koanf:"git_email"`
	Commit       bool          `koanf:"commit"`
	CommitPeriod time.Duration `koanf:"commit_period"`
	Push         string        `koanf:"push"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		APIURL:         "https://api.yachtbroker.example/v1",
		APIRate:        350 * time.Millisecond,
		Backend:        BackendFile,
		Dir:            "catalog",
		StateDir:       "state",
		BatchSize:      2,
		ItemDelay:      time.Second,
		BatchDelay:     3 * time.Second,
		DelayStep:      250 * time.Millisecond,
		LockTTL:        10 * time.Minute,
		RunTimeMargin:  30 * time.Second,
		MemoryRatio:    0.9,
		LogCapacity:    200,
		HistoryDays:    90,
		MaxImageSize:   5 * MB,
		ListingBaseURL: "https://listings.example/yacht",
		HTTPPort:       8080,
		ResumeDelay:    time.Minute,
		LogFormat:      "text",
	}
}

// Load reads .env files (missing ones are ignored), then the environment.
// Values already set in the environment win over .env files.
func Load(dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, p := range dotenv {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.PGDSN == "" {
			return apperrors.ErrPostgresDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownBackend, c.Backend)
	}

	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("%w: YS_BATCH_SIZE must be at least 1", ErrInvalidConfig)
	case c.DelayStep <= 0:
		return fmt.Errorf("%w: YS_DELAY_STEP must be positive", ErrInvalidConfig)
	case c.LockTTL <= 0:
		return fmt.Errorf("%w: YS_LOCK_TTL must be positive", ErrInvalidConfig)
	case c.MemoryRatio < 0 || c.MemoryRatio > 1:
		return fmt.Errorf("%w: YS_MEMORY_RATIO must be within [0, 1]", ErrInvalidConfig)
	case c.MinPriceUSD < 0:
		return fmt.Errorf("%w: YS_MIN_PRICE_USD must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Remote returns the git settings of the file backend.
func (c *Config) Remote() *store.RemoteConfig {
	rc := &store.RemoteConfig{
		Storage:      store.StorageMode(c.Storage),
		URL:          c.GitURL,
		Password:     c.GitPass,
		Branch:       c.GitBranch,
		User:         c.GitUser,
		Email:        c.GitEmail,
		Commit:       c.Commit,
		CommitPeriod: c.CommitPeriod,
	}
	if c.Push != "" {
		push := parseBool(c.Push)
		rc.Push = &push
	}
	rc.ApplyDefaults()
	return rc
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "yes", "on":
		return true
	}
	b, _ := strconv.ParseBool(val)
	return b
}
