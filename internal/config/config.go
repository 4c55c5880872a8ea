package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"defi-advisor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Etherscan EtherscanConfig `mapstructure:"etherscan"`
	Gas       GasConfig       `mapstructure:"gas"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Advisor   AdvisorConfig   `mapstructure:"advisor"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig selects the optional Redis notification-state backend.
// When disabled, state lives in PostgreSQL (or memory without a database).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
}

// SchedulerConfig governs advisory tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Chain          string        `mapstructure:"chain"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EtherscanConfig captures explorer API connectivity for source verification
// and the gas-tracker fallback.
type EtherscanConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// GasConfig tunes the fee oracle window and classification.
type GasConfig struct {
	WindowSamples        int           `mapstructure:"window_samples"`
	WindowMaxAge         time.Duration `mapstructure:"window_max_age"`
	CheapPercentile      float64       `mapstructure:"cheap_percentile"`
	ExpensivePercentile  float64       `mapstructure:"expensive_percentile"`
	MinPredictionSamples int           `mapstructure:"min_prediction_samples"`
	SpikeThresholdGwei   float64       `mapstructure:"spike_threshold_gwei"`
}

// RiskConfig tunes contract assessment caching and scoring.
type RiskConfig struct {
	HighRiskTTL       time.Duration `mapstructure:"high_risk_ttl"`
	LowRiskTTL        time.Duration `mapstructure:"low_risk_ttl"`
	HighRiskThreshold int           `mapstructure:"high_risk_threshold"`
}

// AdvisorConfig tunes the per-user evaluation loop.
type AdvisorConfig struct {
	Lookahead      time.Duration `mapstructure:"lookahead"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CalendarConfig captures the claim-reminder calendar API.
type CalendarConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// HTTPConfig sets the API server listener. An empty AuthToken leaves the
// /v1 routes unauthenticated.
type HTTPConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	AuthToken       string        `mapstructure:"auth_token"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEFIADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "defiadvisor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64656669))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.chain", "ethereum")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("etherscan.base_url", "https://api.etherscan.io")
	v.SetDefault("etherscan.request_timeout", "10s")
	v.SetDefault("etherscan.user_agent", "defiadvisor/1.0")

	v.SetDefault("gas.window_samples", 288)
	v.SetDefault("gas.window_max_age", "24h")
	v.SetDefault("gas.cheap_percentile", 25.0)
	v.SetDefault("gas.expensive_percentile", 75.0)
	v.SetDefault("gas.min_prediction_samples", 12)
	v.SetDefault("gas.spike_threshold_gwei", 100.0)

	v.SetDefault("risk.high_risk_ttl", "1h")
	v.SetDefault("risk.low_risk_ttl", "24h")
	v.SetDefault("risk.high_risk_threshold", 70)

	v.SetDefault("advisor.lookahead", "24h")
	v.SetDefault("advisor.cooldown", "6h")
	v.SetDefault("advisor.max_concurrent", 4)
	v.SetDefault("advisor.retry_attempts", 3)
	v.SetDefault("advisor.retry_base_delay", "500ms")
	v.SetDefault("advisor.retry_max_delay", "5s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("calendar.enabled", false)
	v.SetDefault("calendar.request_timeout", "10s")
	v.SetDefault("calendar.user_agent", "defiadvisor/1.0")

	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.auth_token", "")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("redis.enabled", false)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Gas.CheapPercentile <= 0 || c.Gas.CheapPercentile >= 100 {
		return fmt.Errorf("gas.cheap_percentile must be between 0 and 100")
	}
	if c.Gas.ExpensivePercentile <= c.Gas.CheapPercentile || c.Gas.ExpensivePercentile >= 100 {
		return fmt.Errorf("gas.expensive_percentile must be between cheap_percentile and 100")
	}
	if c.Risk.HighRiskThreshold < 0 || c.Risk.HighRiskThreshold > 100 {
		return fmt.Errorf("risk.high_risk_threshold must be between 0 and 100")
	}
	if c.Advisor.Cooldown <= 0 {
		return fmt.Errorf("advisor.cooldown must be greater than zero")
	}
	if c.Advisor.Lookahead <= 0 {
		return fmt.Errorf("advisor.lookahead must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token 必须配置")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id 必须配置")
		}
	}
	if c.Calendar.Enabled && c.Calendar.BaseURL == "" {
		return fmt.Errorf("calendar.base_url must be set when calendar sync is enabled")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url must be set when redis is enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
