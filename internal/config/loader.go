package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("GOPARL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("goparl")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".goparl"))
		}
		v.AddConfigPath("/etc/goparl")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("general.dbname", cfg.General.DBName)
	v.SetDefault("general.dbuser", cfg.General.DBUser)
	v.SetDefault("general.dbpassword", cfg.General.DBPassword)
	v.SetDefault("general.dbhost", cfg.General.DBHost)
	v.SetDefault("general.dbport", cfg.General.DBPort)
	v.SetDefault("general.user_agent", cfg.General.UserAgent)
	v.SetDefault("general.start_wait", cfg.General.StartWait)
	v.SetDefault("general.stop_wait", cfg.General.StopWait)

	v.SetDefault("token_bucket.min_interval", cfg.TokenBucket.MinInterval)
	v.SetDefault("token_bucket.throttle_window", cfg.TokenBucket.ThrottleWindow)

	v.SetDefault("session_day_checker.prefetch_limit", cfg.SessionDayChecker.PrefetchLimit)
	v.SetDefault("session_day_checker.request_timeout_factor", cfg.SessionDayChecker.RequestTimeoutFactor)
	v.SetDefault("session_day_checker.start_date", cfg.SessionDayChecker.StartDate)
	v.SetDefault("session_day_checker.today_offset", cfg.SessionDayChecker.TodayOffset)
	v.SetDefault("session_day_checker.empty_sleep", cfg.SessionDayChecker.EmptySleep)

	v.SetDefault("date_url_generator.prefetch_limit", cfg.DateUrlGenerator.PrefetchLimit)

	v.SetDefault("downloader.instances", cfg.Downloader.Instances)
	v.SetDefault("downloader.path", cfg.Downloader.Path)
	v.SetDefault("downloader.request_timeout_factor", cfg.Downloader.RequestTimeoutFactor)
	v.SetDefault("downloader.stop_wait", cfg.Downloader.StopWait)

	v.SetDefault("postprocessing_scheduler.prefetch_limit", cfg.Scheduler.PrefetchLimit)
	v.SetDefault("postprocessing_worker.instances", cfg.Postprocessor.Instances)

	v.SetDefault("indexer.connection", cfg.Indexer.Connection)
	v.SetDefault("indexer.index_name", cfg.Indexer.IndexName)
	v.SetDefault("indexer.prefetch_limit", cfg.Indexer.PrefetchLimit)

	v.SetDefault("download.path", cfg.Download.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
