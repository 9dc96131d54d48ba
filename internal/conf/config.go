// Package conf loads and validates monitor settings from a YAML file,
// environment variables (MONITOR_ prefix) and built-in defaults.
package conf

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/originsmart/facility-monitor/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// MONITOR_DATABASE_TYPE=mysql.
const EnvPrefix = "MONITOR"

// Repeat notification modes.
const (
	// RepeatModeAcknowledge fires once and waits for a human to accept the log.
	RepeatModeAcknowledge = "acknowledge"
	// RepeatModeRepeat keeps firing while the condition holds, capped per day.
	RepeatModeRepeat = "repeat"
)

// Mail providers.
const (
	MailProviderShoutrrr = "shoutrrr"
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"
)

// Settings is the root configuration.
type Settings struct {
	Main     MainSettings     `mapstructure:"main" yaml:"main"`
	Logging  LoggingSettings  `mapstructure:"logging" yaml:"logging"`
	Server   ServerSettings   `mapstructure:"server" yaml:"server"`
	Database DatabaseSettings `mapstructure:"database" yaml:"database"`
	Alerting AlertingSettings `mapstructure:"alerting" yaml:"alerting"`
	Mail     MailSettings     `mapstructure:"mail" yaml:"mail"`
	Redis    RedisSettings    `mapstructure:"redis" yaml:"redis"`
	MQTT     MQTTSettings     `mapstructure:"mqtt" yaml:"mqtt"`
	Sentry   SentrySettings   `mapstructure:"sentry" yaml:"sentry"`
}

type MainSettings struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type LoggingSettings struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Backend string `mapstructure:"backend" yaml:"backend"` // zap or slog
	Format  string `mapstructure:"format" yaml:"format"`   // json or console
}

type ServerSettings struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	ReadTimeout     Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	ShutdownTimeout Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout"`
	AllowedOrigins  []string `mapstructure:"allowedOrigins" yaml:"allowedOrigins"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
}

// Address returns host:port for the HTTP listener.
func (s ServerSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseSettings struct {
	Type         string `mapstructure:"type" yaml:"type"` // sqlite or mysql
	Path         string `mapstructure:"path" yaml:"path"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"maxOpenConns" yaml:"maxOpenConns"`
	Debug        bool   `mapstructure:"debug" yaml:"debug"`
}

type AlertingSettings struct {
	Timezone         string               `mapstructure:"timezone" yaml:"timezone"`
	DailyReset       ClockTime            `mapstructure:"dailyReset" yaml:"dailyReset"`
	Repeat           RepeatSettings       `mapstructure:"repeat" yaml:"repeat"`
	OfflineSweep     OfflineSweepSettings `mapstructure:"offlineSweep" yaml:"offlineSweep"`
	LogRetentionDays int                  `mapstructure:"logRetentionDays" yaml:"logRetentionDays"`
	LookupCacheTTL   Duration             `mapstructure:"lookupCacheTTL" yaml:"lookupCacheTTL"`
}

// Location resolves the configured timezone.
func (a AlertingSettings) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("timezone", a.Timezone).
			Build()
	}
	return loc, nil
}

type RepeatSettings struct {
	Mode      string `mapstructure:"mode" yaml:"mode"`
	MaxPerDay int    `mapstructure:"maxPerDay" yaml:"maxPerDay"`
}

type OfflineSweepSettings struct {
	Interval   Duration `mapstructure:"interval" yaml:"interval"`
	StaleAfter Duration `mapstructure:"staleAfter" yaml:"staleAfter"`
}

type MailSettings struct {
	Provider      string           `mapstructure:"provider" yaml:"provider"`
	URLs          []string         `mapstructure:"urls" yaml:"urls"`
	From          string           `mapstructure:"from" yaml:"from"`
	FromName      string           `mapstructure:"fromName" yaml:"fromName"`
	SendGrid      SendGridSettings `mapstructure:"sendgrid" yaml:"sendgrid"`
	RatePerSecond float64          `mapstructure:"ratePerSecond" yaml:"ratePerSecond"`
	Burst         int              `mapstructure:"burst" yaml:"burst"`
	Retry         RetrySettings    `mapstructure:"retry" yaml:"retry"`
}

type SendGridSettings struct {
	APIKey     string   `mapstructure:"apiKey" yaml:"apiKey"`
	TemplateID string   `mapstructure:"templateID" yaml:"templateID"`
	BaseURL    string   `mapstructure:"baseURL" yaml:"baseURL"`
	Timeout    Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RetrySettings struct {
	MaxAttempts     int      `mapstructure:"maxAttempts" yaml:"maxAttempts"`
	InitialInterval Duration `mapstructure:"initialInterval" yaml:"initialInterval"`
	MaxInterval     Duration `mapstructure:"maxInterval" yaml:"maxInterval"`
}

type RedisSettings struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Addr      string   `mapstructure:"addr" yaml:"addr"`
	Password  string   `mapstructure:"password" yaml:"password"`
	DB        int      `mapstructure:"db" yaml:"db"`
	LockTTL   Duration `mapstructure:"lockTTL" yaml:"lockTTL"`
	KeyPrefix string   `mapstructure:"keyPrefix" yaml:"keyPrefix"`
}

type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"clientID" yaml:"clientID"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
}

type SentrySettings struct {
	DSN         string  `mapstructure:"dsn" yaml:"dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sampleRate" yaml:"sampleRate"`
}

// setDefaults registers every key so env overrides work without a file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("main.name", "facility-monitor")
	v.SetDefault("main.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.backend", "zap")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.debug", false)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "monitor.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.debug", false)

	v.SetDefault("alerting.timezone", "UTC")
	v.SetDefault("alerting.dailyReset", "00:00")
	v.SetDefault("alerting.repeat.mode", RepeatModeAcknowledge)
	v.SetDefault("alerting.repeat.maxPerDay", 3)
	v.SetDefault("alerting.offlineSweep.interval", "10s")
	v.SetDefault("alerting.offlineSweep.staleAfter", "12h")
	v.SetDefault("alerting.logRetentionDays", 90)
	v.SetDefault("alerting.lookupCacheTTL", "1m")

	v.SetDefault("mail.provider", MailProviderLog)
	v.SetDefault("mail.urls", []string{})
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.fromName", "Origin Smart Controls")
	v.SetDefault("mail.sendgrid.apiKey", "")
	v.SetDefault("mail.sendgrid.templateID", "")
	v.SetDefault("mail.sendgrid.baseURL", "https://api.sendgrid.com")
	v.SetDefault("mail.sendgrid.timeout", "10s")
	v.SetDefault("mail.ratePerSecond", 5.0)
	v.SetDefault("mail.burst", 10)
	v.SetDefault("mail.retry.maxAttempts", 3)
	v.SetDefault("mail.retry.initialInterval", "1s")
	v.SetDefault("mail.retry.maxInterval", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", "10s")
	v.SetDefault("redis.keyPrefix", "monitor:")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientID", "facility-monitor")
	v.SetDefault("mqtt.topic", "devices/+/telemetry")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.sampleRate", 1.0)
}

// Load reads settings. An empty configFile searches ./config.yaml,
// $HOME/.monitor and /etc/monitor; a missing file is not an error in that
// case. An explicit configFile must exist.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.monitor")
		v.AddConfigPath("/etc/monitor")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("failed to read config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", configFile).
				Build()
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	var problems []string

	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", s.Server.Port))
	}

	switch s.Database.Type {
	case "sqlite":
		if s.Database.Path == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	case "mysql":
		if s.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for mysql")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.type %q must be sqlite or mysql", s.Database.Type))
	}

	if _, err := time.LoadLocation(s.Alerting.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("alerting.timezone %q is not a known zone", s.Alerting.Timezone))
	}
	if s.Alerting.DailyReset.Hour < 0 || s.Alerting.DailyReset.Hour > 23 ||
		s.Alerting.DailyReset.Minute < 0 || s.Alerting.DailyReset.Minute > 59 {
		problems = append(problems, "alerting.dailyReset must be a valid HH:MM")
	}
	switch s.Alerting.Repeat.Mode {
	case RepeatModeAcknowledge:
	case RepeatModeRepeat:
		if s.Alerting.Repeat.MaxPerDay < 1 {
			problems = append(problems, "alerting.repeat.maxPerDay must be at least 1 in repeat mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("alerting.repeat.mode %q must be %s or %s",
			s.Alerting.Repeat.Mode, RepeatModeAcknowledge, RepeatModeRepeat))
	}
	if s.Alerting.OfflineSweep.Interval <= 0 {
		problems = append(problems, "alerting.offlineSweep.interval must be positive")
	}
	if s.Alerting.OfflineSweep.StaleAfter <= 0 {
		problems = append(problems, "alerting.offlineSweep.staleAfter must be positive")
	}
	if s.Alerting.LogRetentionDays < 0 {
		problems = append(problems, "alerting.logRetentionDays must not be negative")
	}

	switch s.Mail.Provider {
	case MailProviderLog:
	case MailProviderShoutrrr:
		if len(s.Mail.URLs) == 0 {
			problems = append(problems, "mail.urls is required for the shoutrrr provider")
		}
	case MailProviderSendGrid:
		if s.Mail.SendGrid.APIKey == "" || s.Mail.SendGrid.TemplateID == "" {
			problems = append(problems, "mail.sendgrid.apiKey and mail.sendgrid.templateID are required for sendgrid")
		}
		if _, err := mail.ParseAddress(s.Mail.From); err != nil {
			problems = append(problems, fmt.Sprintf("mail.from %q is not a valid address", s.Mail.From))
		}
	default:
		problems = append(problems, fmt.Sprintf("mail.provider %q is not supported", s.Mail.Provider))
	}
	if s.Mail.Retry.MaxAttempts < 1 {
		problems = append(problems, "mail.retry.maxAttempts must be at least 1")
	}

	if s.MQTT.Enabled && (s.MQTT.Broker == "" || s.MQTT.Topic == "") {
		problems = append(problems, "mqtt.broker and mqtt.topic are required when mqtt is enabled")
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1 or 2")
	}
	if s.Redis.Enabled && s.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("problems", len(problems)).
			Build()
	}
	return nil
}
