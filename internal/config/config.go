package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Platform string         `mapstructure:"platform"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Servers  []string       `mapstructure:"servers"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Rate     RateConfig     `mapstructure:"rate"`
	Output   OutputConfig   `mapstructure:"output"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DiscordConfig struct {
	Token             string  `mapstructure:"token"`
	APIBaseURL        string  `mapstructure:"api_base_url"`
	GatewayURL        string  `mapstructure:"gateway_url"`
	ConnectTimeoutSec int     `mapstructure:"connect_timeout_sec"`
	RequestsPerSec    float64 `mapstructure:"requests_per_sec"`
}

type TelegramConfig struct {
	Token          string   `mapstructure:"token"`
	APIBaseURL     string   `mapstructure:"api_base_url"`
	ChatIDs        []string `mapstructure:"chat_ids"`
	RequestsPerSec float64  `mapstructure:"requests_per_sec"`
}

type SyncConfig struct {
	MaxServersParallel   int      `mapstructure:"max_servers_parallel"`
	MaxChannelsParallel  int      `mapstructure:"max_channels_parallel"`
	MaxChannelsPerServer int      `mapstructure:"max_channels_per_server"`
	PriorityChannels     []string `mapstructure:"priority_channels"`
	MaxRetries           int      `mapstructure:"max_retries"`
	MaxRateLimitWaitSec  int      `mapstructure:"max_rate_limit_wait_sec"`
	BatchSize            int      `mapstructure:"batch_size"`
	FlushIntervalSec     int      `mapstructure:"flush_interval_sec"`
	DefaultDays          int      `mapstructure:"default_days"`
}

type RateConfig struct {
	BaseDelayMS int     `mapstructure:"base_delay_ms"`
	MaxDelaySec int     `mapstructure:"max_delay_sec"`
	Jitter      float64 `mapstructure:"jitter"`
}

type OutputConfig struct {
	Directory    string `mapstructure:"directory"`
	ArchiveMaxMB int    `mapstructure:"archive_max_mb"`
}

type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Server  string `mapstructure:"server"`
	Topic   string `mapstructure:"topic"`
}

type DaemonConfig struct {
	IntervalMin  int    `mapstructure:"interval_min"`
	RunOnStartup bool   `mapstructure:"run_on_startup"`
	StatusAddr   string `mapstructure:"status_addr"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("platform", "discord")
	v.SetDefault("discord.api_base_url", "https://discord.com/api/v10")
	v.SetDefault("discord.gateway_url", "wss://gateway.discord.gg")
	v.SetDefault("discord.connect_timeout_sec", 30)
	v.SetDefault("discord.requests_per_sec", 2)
	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	v.SetDefault("telegram.requests_per_sec", 1)
	v.SetDefault("sync.max_servers_parallel", 5)
	v.SetDefault("sync.max_channels_parallel", 10)
	v.SetDefault("sync.max_channels_per_server", 10)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.max_rate_limit_wait_sec", 300)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.flush_interval_sec", 5)
	v.SetDefault("sync.default_days", 7)
	v.SetDefault("rate.base_delay_ms", 20)
	v.SetDefault("rate.max_delay_sec", 60)
	v.SetDefault("rate.jitter", 0.5)
	v.SetDefault("output.directory", "data")
	v.SetDefault("output.archive_max_mb", 50)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("daemon.interval_min", 60)
	v.SetDefault("daemon.run_on_startup", true)
	v.SetDefault("daemon.status_addr", ":8080")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("discord.token", "CHATSYNC_DISCORD_TOKEN")
	_ = v.BindEnv("telegram.token", "CHATSYNC_TELEGRAM_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("chatsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if !ValidPlatforms[Platform(c.Platform)] {
		return fmt.Errorf("invalid platform: %s (must be 'discord' or 'telegram')", c.Platform)
	}
	switch Platform(c.Platform) {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("discord token is required (set CHATSYNC_DISCORD_TOKEN env var)")
		}
	case PlatformTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram token is required (set CHATSYNC_TELEGRAM_TOKEN env var)")
		}
		if len(c.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("telegram requires at least one chat_id")
		}
	}
	if c.Sync.MaxServersParallel < 1 {
		return fmt.Errorf("max_servers_parallel must be >= 1")
	}
	if c.Sync.MaxChannelsParallel < 1 {
		return fmt.Errorf("max_channels_parallel must be >= 1")
	}
	if c.Rate.Jitter < 0 || c.Rate.Jitter >= 1 {
		return fmt.Errorf("rate jitter must be in [0, 1)")
	}
	return nil
}
