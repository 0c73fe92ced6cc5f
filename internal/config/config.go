package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DateFormat is the layout for calendar dates in configuration values.
const DateFormat = "2006-01-02"

// Config is the root configuration for goparl.
type Config struct {
	General           GeneralConfig           `mapstructure:"general"            yaml:"general"`
	TokenBucket       TokenBucketConfig       `mapstructure:"token_bucket"       yaml:"token_bucket"`
	SessionDayChecker SessionDayCheckerConfig `mapstructure:"session_day_checker" yaml:"session_day_checker"`
	DateUrlGenerator  DateUrlGeneratorConfig  `mapstructure:"date_url_generator" yaml:"date_url_generator"`
	Downloader        DownloaderConfig        `mapstructure:"downloader"         yaml:"downloader"`
	Scheduler         SchedulerConfig         `mapstructure:"postprocessing_scheduler" yaml:"postprocessing_scheduler"`
	Postprocessor     PostprocessorConfig     `mapstructure:"postprocessing_worker"    yaml:"postprocessing_worker"`
	Indexer           IndexerConfig           `mapstructure:"indexer"            yaml:"indexer"`
	Download          DownloadConfig          `mapstructure:"download"           yaml:"download"`
	Logging           LoggingConfig           `mapstructure:"logging"            yaml:"logging"`
	Metrics           MetricsConfig           `mapstructure:"metrics"            yaml:"metrics"`
}

// GeneralConfig holds database credentials and process-wide settings.
type GeneralConfig struct {
	DBName     string `mapstructure:"dbname"     yaml:"dbname"`
	DBUser     string `mapstructure:"dbuser"     yaml:"dbuser"`
	DBPassword string `mapstructure:"dbpassword" yaml:"dbpassword"`
	DBHost     string `mapstructure:"dbhost"     yaml:"dbhost"`
	DBPort     int    `mapstructure:"dbport"     yaml:"dbport"`

	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	StartWait time.Duration `mapstructure:"start_wait" yaml:"start_wait"`
	StopWait  time.Duration `mapstructure:"stop_wait"  yaml:"stop_wait"`
}

// TokenBucketConfig controls the adaptive rate regulator.
type TokenBucketConfig struct {
	MinInterval    time.Duration `mapstructure:"min_interval"    yaml:"min_interval"`
	ThrottleWindow time.Duration `mapstructure:"throttle_window" yaml:"throttle_window"`
}

// SessionDayCheckerConfig controls session-day discovery.
type SessionDayCheckerConfig struct {
	PrefetchLimit        int           `mapstructure:"prefetch_limit"         yaml:"prefetch_limit"`
	RequestTimeoutFactor float64       `mapstructure:"request_timeout_factor" yaml:"request_timeout_factor"`
	StartDate            string        `mapstructure:"start_date"             yaml:"start_date"`
	TodayOffset          time.Duration `mapstructure:"today_offset"           yaml:"today_offset"`
	EmptySleep           time.Duration `mapstructure:"empty_sleep"            yaml:"empty_sleep"`
}

// DateUrlGeneratorConfig controls date/rule URL minting.
type DateUrlGeneratorConfig struct {
	PrefetchLimit int `mapstructure:"prefetch_limit" yaml:"prefetch_limit"`
}

// DownloaderConfig controls the document downloaders. StopWait scales the
// per-download HTTP timeout together with RequestTimeoutFactor.
type DownloaderConfig struct {
	Instances            int           `mapstructure:"instances"              yaml:"instances"`
	Path                 string        `mapstructure:"path"                   yaml:"path"`
	RequestTimeoutFactor float64       `mapstructure:"request_timeout_factor" yaml:"request_timeout_factor"`
	StopWait             time.Duration `mapstructure:"stop_wait"              yaml:"stop_wait"`
}

// SchedulerConfig controls the postprocessing scheduler.
type SchedulerConfig struct {
	PrefetchLimit int `mapstructure:"prefetch_limit" yaml:"prefetch_limit"`
}

// PostprocessorConfig controls the postprocessing workers.
type PostprocessorConfig struct {
	Instances int `mapstructure:"instances" yaml:"instances"`
}

// IndexerConfig controls the Elasticsearch shipper.
type IndexerConfig struct {
	Connection    string `mapstructure:"connection"     yaml:"connection"`
	IndexName     string `mapstructure:"index_name"     yaml:"index_name"`
	PrefetchLimit int    `mapstructure:"prefetch_limit" yaml:"prefetch_limit"`
}

// DownloadConfig controls ad-hoc session downloads.
type DownloadConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// ProbeTimeout returns the HTTP timeout for session-day probes.
func (c *Config) ProbeTimeout() time.Duration {
	return scaled(c.General.StopWait, c.SessionDayChecker.RequestTimeoutFactor)
}

// DownloadTimeout returns the HTTP timeout for document downloads.
func (c *Config) DownloadTimeout() time.Duration {
	return scaled(c.Downloader.StopWait, c.Downloader.RequestTimeoutFactor)
}

func scaled(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBName:     "europarl",
			DBUser:     "europarl",
			DBPassword: "",
			DBHost:     "localhost",
			DBPort:     5432,
			UserAgent:  "goparl/" + Version + " (https://github.com/IshaanNene/goparl)",
			StartWait:  3 * time.Second,
			StopWait:   3 * time.Second,
		},
		TokenBucket: TokenBucketConfig{
			MinInterval:    200 * time.Millisecond,
			ThrottleWindow: 1 * time.Second,
		},
		SessionDayChecker: SessionDayCheckerConfig{
			PrefetchLimit:        100,
			RequestTimeoutFactor: 5.0,
			StartDate:            "1994-01-01",
			TodayOffset:          30 * 24 * time.Hour,
			EmptySleep:           1 * time.Minute,
		},
		DateUrlGenerator: DateUrlGeneratorConfig{
			PrefetchLimit: 100,
		},
		Downloader: DownloaderConfig{
			Instances:            2,
			Path:                 "./documents",
			RequestTimeoutFactor: 5.0,
			StopWait:             3 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PrefetchLimit: 100,
		},
		Postprocessor: PostprocessorConfig{
			Instances: 1,
		},
		Indexer: IndexerConfig{
			Connection:    "http://localhost:9200",
			IndexName:     "europarl",
			PrefetchLimit: 10,
		},
		Download: DownloadConfig{
			Path: "./downloads",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
