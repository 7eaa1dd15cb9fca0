// Package config loads recur settings from the config file, RECUR_ env vars and flags.
package config

import (
	"fmt"
	"os"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/gmail"
	"github.com/Veraticus/the-spice-must-recur/internal/plaid"
	"github.com/Veraticus/the-spice-must-recur/internal/prefilter"
	"github.com/Veraticus/the-spice-must-recur/internal/scoring"
	"github.com/Veraticus/the-spice-must-recur/internal/sheets"
	"github.com/Veraticus/the-spice-must-recur/internal/simplefin"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Plaid     plaid.Config     `mapstructure:"plaid"`
	Gmail     gmail.Config     `mapstructure:"gmail"`
	SimpleFIN simplefin.Config `mapstructure:"simplefin"`
	Sheets    sheets.Config    `mapstructure:"sheets"`
	Database  DatabaseConfig   `mapstructure:"database"`
	User      UserConfig       `mapstructure:"user"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Prefilter PrefilterConfig  `mapstructure:"prefilter"`
	Normalize NormalizeConfig  `mapstructure:"normalize"`
	Server    ServerConfig     `mapstructure:"server"`
	Review    ReviewConfig     `mapstructure:"review"`
	Scoring   ScoringConfig    `mapstructure:"scoring"`
	Engine    EngineConfig     `mapstructure:"engine"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// UserConfig names the user commands act for.
type UserConfig struct {
	ID string `mapstructure:"id"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PrefilterConfig points at an optional YAML rule file.
type PrefilterConfig struct {
	RulesFile            string   `mapstructure:"rules_file"`
	KnownMerchantDomains []string `mapstructure:"known_merchant_domains"`
}

// NormalizeConfig sets record normalization defaults.
type NormalizeConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr     string   `mapstructure:"addr"`
	CertDir  string   `mapstructure:"cert_dir"`
	TLSHosts []string `mapstructure:"tls_hosts"`
	TLS      bool     `mapstructure:"tls"`
}

// ReviewConfig configures the review screen.
type ReviewConfig struct {
	Theme string `mapstructure:"theme"`
}

// ScoringConfig overrides scorer weights and thresholds. Zero values keep defaults.
type ScoringConfig struct {
	PeriodicityWeight  float64 `mapstructure:"periodicity_weight"`
	AmountWeight       float64 `mapstructure:"amount_weight"`
	KnownMerchantBonus float64 `mapstructure:"known_merchant_bonus"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
	MinObservations    int     `mapstructure:"min_observations"`
}

// EngineConfig sizes the ingestion worker pool.
type EngineConfig struct {
	Workers int `mapstructure:"workers"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/recur/recur.db")
	v.SetDefault("user.id", "default")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("normalize.default_currency", "USD")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.cert_dir", "~/.config/recur/certs")
	v.SetDefault("review.theme", "default")
	v.SetDefault("engine.workers", 4)
	v.SetDefault("plaid.environment", "production")
	v.SetDefault("gmail.token_file", "~/.config/recur/gmail-token.json")
	v.SetDefault("simplefin.state_file", "~/.local/share/recur/simplefin_auth.json")

	sheetsDefaults := sheets.DefaultConfig()
	v.SetDefault("sheets.spreadsheet_name", sheetsDefaults.SpreadsheetName)
	v.SetDefault("sheets.time_zone", sheetsDefaults.TimeZone)
	v.SetDefault("sheets.batch_size", sheetsDefaults.BatchSize)
	v.SetDefault("sheets.retry_attempts", sheetsDefaults.RetryAttempts)
	v.SetDefault("sheets.retry_delay", sheetsDefaults.RetryDelay)
	v.SetDefault("sheets.enable_formatting", sheetsDefaults.EnableFormatting)
}

// Load reads configuration from v. It follows this precedence:
// 1. Viper configuration (from config file or RECUR_ env vars)
// 2. Direct environment variables (PLAID_*, GMAIL_*, SIMPLEFIN_*, GOOGLE_SHEETS_*)
// 3. Default values
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Plaid.ClientID == "" {
		cfg.Plaid.ClientID = os.Getenv("PLAID_CLIENT_ID")
	}
	if cfg.Plaid.Secret == "" {
		cfg.Plaid.Secret = os.Getenv("PLAID_SECRET")
	}
	if cfg.Plaid.AccessToken == "" {
		cfg.Plaid.AccessToken = os.Getenv("PLAID_ACCESS_TOKEN")
	}
	if cfg.Gmail.ClientID == "" {
		cfg.Gmail.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	}
	if cfg.Gmail.ClientSecret == "" {
		cfg.Gmail.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	}
	if cfg.SimpleFIN.Token == "" {
		cfg.SimpleFIN.Token = os.Getenv("SIMPLEFIN_TOKEN")
	}
	if cfg.Sheets.SpreadsheetID == "" {
		cfg.Sheets.SpreadsheetID = os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID")
	}
	if cfg.Sheets.ServiceAccountPath == "" {
		cfg.Sheets.ServiceAccountPath = os.Getenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH")
	}
	if cfg.Sheets.ClientID == "" {
		cfg.Sheets.ClientID = os.Getenv("GOOGLE_SHEETS_CLIENT_ID")
	}
	if cfg.Sheets.ClientSecret == "" {
		cfg.Sheets.ClientSecret = os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET")
	}
	if cfg.Sheets.RefreshToken == "" {
		cfg.Sheets.RefreshToken = os.Getenv("GOOGLE_SHEETS_REFRESH_TOKEN")
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Server.CertDir = ExpandPath(cfg.Server.CertDir)
	cfg.SimpleFIN.StateFile = ExpandPath(cfg.SimpleFIN.StateFile)
	cfg.Sheets.ServiceAccountPath = ExpandPath(cfg.Sheets.ServiceAccountPath)
	cfg.Gmail.TokenFile = ExpandPath(cfg.Gmail.TokenFile)
	cfg.Prefilter.RulesFile = ExpandPath(cfg.Prefilter.RulesFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", common.ErrMissingConfig)
	}
	if c.User.ID == "" {
		return fmt.Errorf("%w: user.id is required", common.ErrMissingConfig)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("%w: engine.workers must be at least 1", common.ErrInvalidConfig)
	}

	s := c.Scoring
	for name, w := range map[string]float64{
		"periodicity_weight":   s.PeriodicityWeight,
		"amount_weight":        s.AmountWeight,
		"known_merchant_bonus": s.KnownMerchantBonus,
		"min_confidence":       s.MinConfidence,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: scoring.%s must be between 0 and 1", common.ErrInvalidConfig, name)
		}
	}
	if s.MinObservations < 0 {
		return fmt.Errorf("%w: scoring.min_observations must not be negative", common.ErrInvalidConfig)
	}
	return nil
}

// ScorerConfig merges the configured overrides over scoring.DefaultConfig.
func (c *Config) ScorerConfig() scoring.Config {
	out := scoring.DefaultConfig()
	s := c.Scoring
	if s.PeriodicityWeight > 0 {
		out.PeriodicityWeight = s.PeriodicityWeight
	}
	if s.AmountWeight > 0 {
		out.AmountWeight = s.AmountWeight
	}
	if s.KnownMerchantBonus > 0 {
		out.KnownMerchantBonus = s.KnownMerchantBonus
	}
	if s.MinConfidence > 0 {
		out.MinConfidence = s.MinConfidence
	}
	if s.MinObservations > 0 {
		out.MinObservations = s.MinObservations
	}
	return out
}

// FilterConfig loads the prefilter rule data, starting from the rule file if one
// is configured.
func (c *Config) FilterConfig() (prefilter.Config, error) {
	out := prefilter.DefaultConfig()
	if c.Prefilter.RulesFile != "" {
		loaded, err := prefilter.LoadConfig(c.Prefilter.RulesFile)
		if err != nil {
			return prefilter.Config{}, err
		}
		out = loaded
	}
	if len(c.Prefilter.KnownMerchantDomains) > 0 {
		out.KnownMerchantDomains = c.Prefilter.KnownMerchantDomains
	}
	return out, nil
}
