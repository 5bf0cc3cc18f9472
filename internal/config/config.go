// Package config loads and validates scheduler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JakeFAU/visit-scheduler/internal/logging"
	"github.com/JakeFAU/visit-scheduler/internal/manager"
	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// Poller and publisher providers.
const (
	ProviderStatic   = "static"
	ProviderPostgres = "postgres"
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Redirect  RedirectConfig  `mapstructure:"redirect"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the diagnostics HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HostRow throttles one domain, optionally for one order type only.
type HostRow struct {
	Domain    string        `mapstructure:"domain"`
	Type      string        `mapstructure:"type"`
	MinDelay  time.Duration `mapstructure:"min_delay"`
	MaxAccess int           `mapstructure:"max_access"`
}

// QueueConfig seeds the visit queue throttles.
type QueueConfig struct {
	MinDelay  time.Duration `mapstructure:"min_delay"`
	MaxAccess int           `mapstructure:"max_access"`
	Hosts     []HostRow     `mapstructure:"hosts"`
}

// PollConfig mirrors manager.PollConfig.
type PollConfig struct {
	MinInterval       time.Duration `mapstructure:"min_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	LowWatermarkRatio float64       `mapstructure:"low_watermark_ratio"`
	HighWatermark     int           `mapstructure:"high_watermark"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
}

// ManagerConfig sizes the worker pool.
type ManagerConfig struct {
	Workers        int           `mapstructure:"workers"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	Poll           PollConfig    `mapstructure:"poll"`
}

// RedirectConfig bounds redirect chains.
type RedirectConfig struct {
	MaxPath int `mapstructure:"max_path"`
}

// SeedConfig is one statically configured URL.
type SeedConfig struct {
	URL      string  `mapstructure:"url"`
	Type     string  `mapstructure:"type"`
	Priority float64 `mapstructure:"priority"`
}

// PostgresConfig locates the urls table.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Lease           time.Duration `mapstructure:"lease"`
	RevisitAfter    time.Duration `mapstructure:"revisit_after"`
	// Migrate creates the table on startup when it does not exist.
	Migrate bool `mapstructure:"migrate"`
}

// PollerConfig selects the work source and its damping.
type PollerConfig struct {
	Provider               string         `mapstructure:"provider"`
	DomainDepthCoefficient float64        `mapstructure:"domain_depth_coefficient"`
	MaxDomainURLs          int            `mapstructure:"max_domain_urls"`
	Seeds                  []SeedConfig   `mapstructure:"seeds"`
	Postgres               PostgresConfig `mapstructure:"postgres"`
}

// FetchConfig configures the HTTP fetch stage.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PublisherConfig selects where completion events go.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig names the service in trace resources.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment. Unknown keys in the file are
// an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHEDULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("queue.min_delay", time.Duration(0))
	v.SetDefault("queue.max_access", 1)
	v.SetDefault("manager.workers", 4)
	v.SetDefault("manager.acquire_timeout", 5*time.Second)
	v.SetDefault("manager.shutdown_grace", 30*time.Second)
	v.SetDefault("manager.poll.min_interval", 10*time.Second)
	v.SetDefault("manager.poll.max_interval", 5*time.Minute)
	v.SetDefault("manager.poll.low_watermark_ratio", 0.25)
	v.SetDefault("manager.poll.high_watermark", 1000)
	v.SetDefault("manager.poll.check_interval", time.Second)
	v.SetDefault("redirect.max_path", 5)
	v.SetDefault("poller.provider", ProviderStatic)
	v.SetDefault("poller.domain_depth_coefficient", 0.0)
	v.SetDefault("poller.max_domain_urls", 0)
	v.SetDefault("poller.postgres.dsn", "")
	v.SetDefault("poller.postgres.table", "urls")
	v.SetDefault("poller.postgres.max_conns", 4)
	v.SetDefault("poller.postgres.min_conns", 0)
	v.SetDefault("poller.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("poller.postgres.lease", 10*time.Minute)
	v.SetDefault("poller.postgres.revisit_after", 24*time.Hour)
	v.SetDefault("poller.postgres.migrate", false)
	v.SetDefault("fetch.user_agent", "visit-scheduler/0.1")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("publisher.provider", ProviderNone)
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "visits")
	v.SetDefault("telemetry.service_name", "visit-scheduler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return errors.New("server.port must be >= 0")
	}
	if _, err := c.QueueSettings(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := c.ManagerSettings().Validate(); err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	if c.Redirect.MaxPath < 1 {
		return errors.New("redirect.max_path must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if c.Poller.DomainDepthCoefficient < 0 {
		return errors.New("poller.domain_depth_coefficient must be >= 0")
	}
	if c.Poller.MaxDomainURLs < 0 {
		return errors.New("poller.max_domain_urls must be >= 0")
	}
	switch c.Poller.Provider {
	case ProviderStatic:
		for i, s := range c.Poller.Seeds {
			if s.URL == "" {
				return fmt.Errorf("poller.seeds[%d].url must be set", i)
			}
			if _, err := visit.ParseType(s.Type); err != nil {
				return fmt.Errorf("poller.seeds[%d]: %w", i, err)
			}
		}
	case ProviderPostgres:
		if c.Poller.Postgres.DSN == "" {
			return errors.New("poller.postgres.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("poller.provider %q is not supported", c.Poller.Provider)
	}
	switch c.Publisher.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Publisher.ProjectID == "" {
			return errors.New("publisher.project_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("publisher.provider %q is not supported", c.Publisher.Provider)
	}
	if c.Publisher.Provider != ProviderNone && c.Publisher.Topic == "" {
		return errors.New("publisher.topic must be set")
	}
	return nil
}

// LoggingSettings converts the logging section.
func (c Config) LoggingSettings() logging.Config {
	return logging.Config{Development: c.Logging.Development, Level: c.Logging.Level}
}

// QueueSettings converts the queue section, validating host rows.
func (c Config) QueueSettings() (queue.Config, error) {
	out := queue.Config{
		Defaults: queue.HostConfig{MinDelay: c.Queue.MinDelay, MaxAccess: c.Queue.MaxAccess},
	}
	if err := out.Defaults.Validate(); err != nil {
		return queue.Config{}, fmt.Errorf("defaults: %w", err)
	}
	for i, row := range c.Queue.Hosts {
		typ, err := visit.ParseType(row.Type)
		if err != nil {
			return queue.Config{}, fmt.Errorf("hosts[%d]: %w", i, err)
		}
		if strings.TrimSpace(row.Domain) == "" {
			return queue.Config{}, fmt.Errorf("hosts[%d]: domain must be set", i)
		}
		rule := queue.HostRule{
			Domain:     row.Domain,
			Type:       typ,
			HostConfig: queue.HostConfig{MinDelay: row.MinDelay, MaxAccess: row.MaxAccess},
		}
		if err := rule.Validate(); err != nil {
			return queue.Config{}, fmt.Errorf("hosts[%d] %s: %w", i, row.Domain, err)
		}
		out.Hosts = append(out.Hosts, rule)
	}
	return out, nil
}

// ManagerSettings converts the manager section.
func (c Config) ManagerSettings() manager.Config {
	return manager.Config{
		Workers:        c.Manager.Workers,
		AcquireTimeout: c.Manager.AcquireTimeout,
		ShutdownGrace:  c.Manager.ShutdownGrace,
		Poll: manager.PollConfig{
			MinInterval:       c.Manager.Poll.MinInterval,
			MaxInterval:       c.Manager.Poll.MaxInterval,
			LowWatermarkRatio: c.Manager.Poll.LowWatermarkRatio,
			HighWatermark:     c.Manager.Poll.HighWatermark,
			CheckInterval:     c.Manager.Poll.CheckInterval,
		},
	}
}
