// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Target     TargetConfig     `mapstructure:"target" yaml:"target"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Generation GenerationConfig `mapstructure:"generation" yaml:"generation"`
	Download   DownloadConfig   `mapstructure:"download" yaml:"download"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
	Humanoid   HumanoidConfig   `mapstructure:"humanoid" yaml:"humanoid"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output with rotation (lumberjack). Empty disables file logging.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the Chrome process and its persisted profile.
type BrowserConfig struct {
	// Headless is almost always false for this tool: challenges and 2FA
	// require a window a human can interact with.
	Headless bool `mapstructure:"headless" yaml:"headless"`

	// ProfileDir is the persistent user-data-dir. Sessions survive
	// process restarts through it. Exclusive to one live process.
	ProfileDir string `mapstructure:"profile_dir" yaml:"profile_dir"`

	// ExecPath overrides Chrome binary discovery when set.
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`

	// Extra command line switches appended after the built-in set.
	Args []string `mapstructure:"args" yaml:"args"`

	WindowWidth  int `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int `mapstructure:"window_height" yaml:"window_height"`

	// NavigationTimeout bounds every page navigation.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// TargetConfig describes the third party site being driven.
type TargetConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// SelectorsFile optionally overrides the embedded locator candidate
	// sets so markup drift can be absorbed without a rebuild.
	SelectorsFile string `mapstructure:"selectors_file" yaml:"selectors_file"`
}

// AuthConfig selects and parameterizes the login method.
type AuthConfig struct {
	// Method is "oauth" (third party provider button) or "password".
	Method string `mapstructure:"method" yaml:"method"`

	// CredentialsFile points at the encrypted credential store.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`

	// ManualWait bounds the human-intervention window during login
	// (2FA, automation checks).
	ManualWait time.Duration `mapstructure:"manual_wait" yaml:"manual_wait"`
}

// GenerationConfig tunes the completion poller.
type GenerationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait" yaml:"max_wait"`

	// VariantCount is how many outputs the site produces per submission.
	VariantCount int `mapstructure:"variant_count" yaml:"variant_count"`

	// ChallengeWait bounds the human-resolution window for CAPTCHAs.
	ChallengeWait time.Duration `mapstructure:"challenge_wait" yaml:"challenge_wait"`

	// InterJobDelay paces consecutive submissions within a batch.
	InterJobDelay time.Duration `mapstructure:"inter_job_delay" yaml:"inter_job_delay"`
}

// DownloadConfig controls artifact persistence.
type DownloadConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Timeout bounds a single variant download end to end.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StatusConfig controls the optional status WebSocket hub.
type StatusConfig struct {
	// Addr like "127.0.0.1:8787". Empty disables the hub.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// HumanoidConfig contains tunable parameters for human-like interaction
// pacing. All delays are heuristic, not correctness controls.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Typing cadence, per character.
	KeyDelayMinMs int `mapstructure:"key_delay_min_ms" yaml:"key_delay_min_ms"`
	KeyDelayMaxMs int `mapstructure:"key_delay_max_ms" yaml:"key_delay_max_ms"`

	// Pointer dwell between approach, settle and press.
	MoveDelayMinMs int `mapstructure:"move_delay_min_ms" yaml:"move_delay_min_ms"`
	MoveDelayMaxMs int `mapstructure:"move_delay_max_ms" yaml:"move_delay_max_ms"`

	// Pointer path resolution. More steps, smoother curve.
	PathSteps int `mapstructure:"path_steps" yaml:"path_steps"`

	// Jitter amplitude in pixels applied to the path via Perlin noise.
	JitterPx float64 `mapstructure:"jitter_px" yaml:"jitter_px"`
}

// SetDefaults registers every default with viper. Must run before
// ReadInConfig so partial config files unmarshal sanely.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "suno-automation")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.profile_dir", defaultProfileDir())
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)

	v.SetDefault("target.base_url", "https://suno.com")

	v.SetDefault("auth.method", "oauth")
	v.SetDefault("auth.credentials_file", defaultCredentialsFile())
	v.SetDefault("auth.manual_wait", 5*time.Minute)

	v.SetDefault("generation.poll_interval", 15*time.Second)
	v.SetDefault("generation.max_wait", 10*time.Minute)
	v.SetDefault("generation.variant_count", 2)
	v.SetDefault("generation.challenge_wait", 5*time.Minute)
	v.SetDefault("generation.inter_job_delay", 20*time.Second)

	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.timeout", 2*time.Minute)

	v.SetDefault("humanoid.enabled", true)
	v.SetDefault("humanoid.key_delay_min_ms", 40)
	v.SetDefault("humanoid.key_delay_max_ms", 140)
	v.SetDefault("humanoid.move_delay_min_ms", 60)
	v.SetDefault("humanoid.move_delay_max_ms", 220)
	v.SetDefault("humanoid.path_steps", 24)
	v.SetDefault("humanoid.jitter_px", 3.5)
}

// Validate rejects configurations the rest of the system cannot run on.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url must not be empty")
	}
	if c.Auth.Method != "oauth" && c.Auth.Method != "password" {
		return fmt.Errorf("auth.method must be \"oauth\" or \"password\", got %q", c.Auth.Method)
	}
	if c.Generation.PollInterval <= 0 {
		return fmt.Errorf("generation.poll_interval must be positive")
	}
	if c.Generation.MaxWait <= 0 {
		return fmt.Errorf("generation.max_wait must be positive")
	}
	if c.Generation.VariantCount < 1 {
		return fmt.Errorf("generation.variant_count must be at least 1")
	}
	if c.Download.Dir == "" {
		return fmt.Errorf("download.dir must not be empty")
	}
	return nil
}

// Load reads configuration from the given file (or default search
// paths when empty), layered under SUNO_* environment overrides.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SUNO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults plus env vars are a valid setup.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".suno-profile"
	}
	return filepath.Join(home, ".suno-automation", "profile")
}

func defaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".suno-credentials.json"
	}
	return filepath.Join(home, ".suno-automation", "credentials.json")
}
