package config

import (
	"os"

	"codeberg.org/mutker/shuttled/internal/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultInterval       = 1000 // ms
	defaultWindowSize     = 5
	defaultProbation      = 4
	defaultCPULimit       = 80.0
	defaultDiskQueueLimit = 5.0
	defaultStorageNotify  = 720 // minutes
	defaultAdminNotify    = 60
	defaultGraceNotify    = 1440
	defaultGracePeriod    = 72 // hours
	defaultStatusFile     = "/var/lib/shuttled/status.json"
)

// DriveWatch names a volume and the free-space floor below which it is
// reported as low.
type DriveWatch struct {
	Name         string `mapstructure:"name"`
	MinFreeBytes int64  `mapstructure:"min_free_bytes"`
}

// Mail holds the SMTP dispatcher settings. An empty host disables
// dispatching entirely.
type Mail struct {
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	From          string   `mapstructure:"from"`
	To            []string `mapstructure:"to"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

type Config struct {
	Interval         int          `mapstructure:"interval"`
	WindowSize       int          `mapstructure:"window_size"`
	Probation        int          `mapstructure:"probation"`
	CPULimit         float64      `mapstructure:"cpu_limit"`
	DiskQueueLimit   float64      `mapstructure:"disk_queue_limit"`
	Drives           []DriveWatch `mapstructure:"drives"`
	Blacklist        []string     `mapstructure:"blacklist"`
	LowSpaceSuspends bool         `mapstructure:"low_space_suspends"`

	StorageNotifyInterval int `mapstructure:"storage_notify_interval"`
	AdminNotifyInterval   int `mapstructure:"admin_notify_interval"`
	GraceNotifyInterval   int `mapstructure:"grace_notify_interval"`

	GraceDir         string `mapstructure:"grace_dir"`
	GracePeriodHours int    `mapstructure:"grace_period_hours"`

	StatusFile  string `mapstructure:"status_file"`
	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"database"`

	Mail Mail `mapstructure:"mail"`

	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`
}

func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("shuttled", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	configFlag := fs.String("config", "", "Path to configuration file")
	fs.Int("interval", defaultInterval, "Monitor tick interval in milliseconds")
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := v.BindPFlag("interval", fs.Lookup("interval")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("debug", fs.Lookup("debug")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("verbose", fs.Lookup("verbose")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("SHUTTLED_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("shuttled")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	applyLogLevel(config)

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("window_size", defaultWindowSize)
	v.SetDefault("probation", defaultProbation)
	v.SetDefault("cpu_limit", defaultCPULimit)
	v.SetDefault("disk_queue_limit", defaultDiskQueueLimit)
	v.SetDefault("low_space_suspends", false)
	v.SetDefault("storage_notify_interval", defaultStorageNotify)
	v.SetDefault("admin_notify_interval", defaultAdminNotify)
	v.SetDefault("grace_notify_interval", defaultGraceNotify)
	v.SetDefault("grace_period_hours", defaultGracePeriod)
	v.SetDefault("status_file", defaultStatusFile)
	v.SetDefault("telemetry", false)
	v.SetDefault("log_level", DefaultLogLevel)
}

// Validate rejects configurations the supervisor cannot safely run with.
// Called once at startup; the running loop assumes a validated config.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.WindowSize <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "window_size must be positive")
	}
	if c.Probation <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "probation must be positive")
	}
	if c.CPULimit <= 0 || c.CPULimit > 100 {
		return errFactory.WithData(errors.ErrInvalidConfig, c.CPULimit)
	}
	if c.DiskQueueLimit <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, c.DiskQueueLimit)
	}
	for _, d := range c.Drives {
		if d.Name == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "drive watch entry missing name")
		}
		if d.MinFreeBytes < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, d.MinFreeBytes)
		}
	}
	if c.StorageNotifyInterval <= 0 || c.AdminNotifyInterval <= 0 || c.GraceNotifyInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "notification intervals must be positive")
	}
	if c.StatusFile == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "status_file is required")
	}
	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "telemetry enabled without database path")
	}
	if c.LogLevel != "" && !isValidLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "error":
		return true
	default:
		return false
	}
}

func applyLogLevel(c *Config) {
	switch {
	case c.Debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case c.Verbose:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		switch c.LogLevel {
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warning":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		}
	}
}
