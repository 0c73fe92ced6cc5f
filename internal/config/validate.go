package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.General.DBName == "" {
		return fmt.Errorf("general.dbname must not be empty")
	}
	if cfg.General.DBHost == "" {
		return fmt.Errorf("general.dbhost must not be empty")
	}
	if cfg.General.DBPort < 1 || cfg.General.DBPort > 65535 {
		return fmt.Errorf("general.dbport must be 1-65535, got %d", cfg.General.DBPort)
	}
	if cfg.General.StartWait <= 0 {
		return fmt.Errorf("general.start_wait must be > 0")
	}
	if cfg.General.StopWait <= 0 {
		return fmt.Errorf("general.stop_wait must be > 0")
	}

	if cfg.TokenBucket.MinInterval <= 0 {
		return fmt.Errorf("token_bucket.min_interval must be > 0")
	}
	if cfg.TokenBucket.ThrottleWindow <= 0 {
		return fmt.Errorf("token_bucket.throttle_window must be > 0")
	}

	if cfg.SessionDayChecker.PrefetchLimit < 2 {
		return fmt.Errorf("session_day_checker.prefetch_limit must be >= 2, got %d", cfg.SessionDayChecker.PrefetchLimit)
	}
	if cfg.SessionDayChecker.RequestTimeoutFactor <= 0 {
		return fmt.Errorf("session_day_checker.request_timeout_factor must be > 0")
	}
	if _, err := time.Parse(DateFormat, cfg.SessionDayChecker.StartDate); err != nil {
		return fmt.Errorf("session_day_checker.start_date %q is not a valid %s date: %w",
			cfg.SessionDayChecker.StartDate, DateFormat, err)
	}
	if cfg.SessionDayChecker.TodayOffset < 0 {
		return fmt.Errorf("session_day_checker.today_offset must be >= 0")
	}
	if cfg.SessionDayChecker.EmptySleep <= 0 {
		return fmt.Errorf("session_day_checker.empty_sleep must be > 0")
	}

	if cfg.DateUrlGenerator.PrefetchLimit < 1 {
		return fmt.Errorf("date_url_generator.prefetch_limit must be >= 1, got %d", cfg.DateUrlGenerator.PrefetchLimit)
	}

	if cfg.Downloader.Instances < 1 {
		return fmt.Errorf("downloader.instances must be >= 1, got %d", cfg.Downloader.Instances)
	}
	if cfg.Downloader.Instances > 64 {
		return fmt.Errorf("downloader.instances must be <= 64, got %d", cfg.Downloader.Instances)
	}
	if cfg.Downloader.Path == "" {
		return fmt.Errorf("downloader.path must not be empty")
	}
	if cfg.Downloader.RequestTimeoutFactor <= 0 {
		return fmt.Errorf("downloader.request_timeout_factor must be > 0")
	}
	if cfg.Downloader.StopWait <= 0 {
		return fmt.Errorf("downloader.stop_wait must be > 0")
	}

	if cfg.Scheduler.PrefetchLimit < 1 {
		return fmt.Errorf("postprocessing_scheduler.prefetch_limit must be >= 1, got %d", cfg.Scheduler.PrefetchLimit)
	}
	if cfg.Postprocessor.Instances < 1 {
		return fmt.Errorf("postprocessing_worker.instances must be >= 1, got %d", cfg.Postprocessor.Instances)
	}

	if cfg.Indexer.Connection != "" {
		u, err := url.Parse(cfg.Indexer.Connection)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("indexer.connection %q is not a valid URL", cfg.Indexer.Connection)
		}
	}
	if cfg.Indexer.IndexName == "" {
		return fmt.Errorf("indexer.index_name must not be empty")
	}
	if cfg.Indexer.PrefetchLimit < 1 {
		return fmt.Errorf("indexer.prefetch_limit must be >= 1, got %d", cfg.Indexer.PrefetchLimit)
	}

	if cfg.Download.Path == "" {
		return fmt.Errorf("download.path must not be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// StartTime returns the parsed earliest candidate date for probing.
// Validate must have accepted the configuration first.
func (c SessionDayCheckerConfig) StartTime() time.Time {
	t, err := time.Parse(DateFormat, c.StartDate)
	if err != nil {
		return time.Date(1994, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}
