package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/app"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/logic"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Runtime   RuntimeConfig
	Surfaces  SurfaceConfig
	Storage   StorageConfig
	Assets    AssetsConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// MaxConnections caps simultaneous connections; zero means unlimited.
	MaxConnections int `envconfig:"MAX_CONNECTIONS" default:"1024"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// RuntimeConfig holds instance lifecycle settings.
type RuntimeConfig struct {
	PackagesDir        string        `envconfig:"PACKAGES_DIR" default:"./apps"`
	SuspendDelay       time.Duration `envconfig:"SUSPEND_DELAY" default:"5s"`
	KillDelay          time.Duration `envconfig:"KILL_DELAY" default:"15m"`
	FirstRenderTimeout time.Duration `envconfig:"FIRST_RENDER_TIMEOUT" default:"100ms"`
	NavigationTimeout  time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"10s"`
	ScriptTimeout      time.Duration `envconfig:"SCRIPT_TIMEOUT" default:"5s"`
}

// SurfaceConfig holds rendering surface settings.
type SurfaceConfig struct {
	PoolCeiling  int  `envconfig:"SURFACE_POOL_CEILING" default:"5"`
	AutoGenerate bool `envconfig:"SURFACE_AUTO_GENERATE" default:"true"`
	Preload      int  `envconfig:"SURFACE_PRELOAD" default:"1"`
	Headless     bool `envconfig:"SURFACE_HEADLESS" default:"false"`
}

// StorageConfig holds per-app storage settings. An empty Dir keeps storage
// in memory.
type StorageConfig struct {
	Dir        string `envconfig:"STORAGE_DIR" default:"./data/storage"`
	LimitBytes int64  `envconfig:"STORAGE_LIMIT_BYTES" default:"10485760"`
}

// AssetsConfig holds asset resolution settings.
type AssetsConfig struct {
	BaseURL        string `envconfig:"ASSETS_BASE_URL" default:"/files"`
	ImageCacheSize int    `envconfig:"IMAGE_CACHE_SIZE" default:"512"`
	FetchRetries   int    `envconfig:"IMAGE_FETCH_RETRIES" default:"3"`
}

// AuthConfig holds authorization settings. Without AllowAll, scopes an
// application does not declare are refused until granted through the API.
type AuthConfig struct {
	AllowAll bool `envconfig:"PERMISSIONS_ALLOW_ALL" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			MaxConnections: 1024,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Runtime: RuntimeConfig{
			PackagesDir:        "./apps",
			SuspendDelay:       5 * time.Second,
			KillDelay:          15 * time.Minute,
			FirstRenderTimeout: 100 * time.Millisecond,
			NavigationTimeout:  10 * time.Second,
			ScriptTimeout:      5 * time.Second,
		},
		Surfaces: SurfaceConfig{
			PoolCeiling:  5,
			AutoGenerate: true,
			Preload:      1,
		},
		Storage: StorageConfig{
			Dir:        "./data/storage",
			LimitBytes: 10 << 20,
		},
		Assets: AssetsConfig{
			BaseURL:        "/files",
			ImageCacheSize: 512,
			FetchRetries:   3,
		},
	}
}

// App converts the runtime sections into instance settings.
func (c *Config) App() app.Config {
	cfg := app.DefaultConfig()
	cfg.Lifecycle = lifecycle.Config{
		SuspendDelay: c.Runtime.SuspendDelay,
		KillDelay:    c.Runtime.KillDelay,
	}
	cfg.Logic = logic.Config{
		ScriptTimeout:    c.Runtime.ScriptTimeout,
		MaxCallStackSize: logic.DefaultConfig().MaxCallStackSize,
	}
	cfg.Pool = surface.PoolConfig{
		Ceiling:      c.Surfaces.PoolCeiling,
		AutoGenerate: c.Surfaces.AutoGenerate,
	}
	cfg.Preload = c.Surfaces.Preload
	cfg.FirstRenderTimeout = c.Runtime.FirstRenderTimeout
	cfg.NavigationTimeout = c.Runtime.NavigationTimeout
	cfg.Headless = c.Surfaces.Headless
	return cfg
}

// AssetResolver converts the asset section into resolver settings.
func (c *Config) AssetResolver() assets.Config {
	cfg := assets.DefaultConfig(c.Runtime.PackagesDir)
	cfg.BaseURL = c.Assets.BaseURL
	cfg.CacheSize = c.Assets.ImageCacheSize
	cfg.Retries = c.Assets.FetchRetries
	return cfg
}
