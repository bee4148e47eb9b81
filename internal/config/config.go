package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig     `mapstructure:"app"`
	Server ServerConfig  `mapstructure:"server"`
	Log    LogConfig     `mapstructure:"log"`
	DB     DBConfig      `mapstructure:"db"`
	Fetch  FetchConfig   `mapstructure:"fetch"`
	Sync   SyncConfig    `mapstructure:"sync"`
	Alert  AlertConfig   `mapstructure:"alert"`
	Health HealthConfig  `mapstructure:"health"`
	States []StateConfig `mapstructure:"states"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type SyncConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SignificantChangeThreshold is the absolute additions count above which
	// a run is flagged as a significant-change candidate for alerting.
	SignificantChangeThreshold int `mapstructure:"significant_change_threshold"`
}

type AlertConfig struct {
	WebhookURL                  string        `mapstructure:"webhook_url"`
	Timeout                     time.Duration `mapstructure:"timeout"`
	ConsecutiveFailureThreshold int           `mapstructure:"consecutive_failure_threshold"`
	HistorySize                 int           `mapstructure:"history_size"`
}

type HealthConfig struct {
	FreshnessDegraded  time.Duration `mapstructure:"freshness_degraded"`
	FreshnessUnhealthy time.Duration `mapstructure:"freshness_unhealthy"`
	FreshnessCritical  time.Duration `mapstructure:"freshness_critical"`
	RunDurationBudget  time.Duration `mapstructure:"run_duration_budget"`
	WindowSize         int           `mapstructure:"window_size"`
	ReportHistory      int           `mapstructure:"report_history"`
}

// StateConfig describes one jurisdiction's pipeline.
type StateConfig struct {
	Code        string `mapstructure:"code"`
	Processor   string `mapstructure:"processor"`
	DownloadURL string `mapstructure:"download_url"`
	// LocalPath, when set, overrides DownloadURL (operator-staged file).
	LocalPath string        `mapstructure:"local_path"`
	Schedule  string        `mapstructure:"schedule"`
	Phases    []PhaseConfig `mapstructure:"phases"`
}

// PhaseConfig is a time-bounded rollout window with its own sync cadence.
type PhaseConfig struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Schedule string `mapstructure:"schedule"`
}

const phaseDateLayout = "2006-01-02"

// Window parses the phase boundaries. An empty end means the phase is
// open-ended.
func (p PhaseConfig) Window() (start, end time.Time, err error) {
	start, err = time.Parse(phaseDateLayout, strings.TrimSpace(p.Start))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("phase start %q: %w", p.Start, err)
	}
	if strings.TrimSpace(p.End) == "" {
		return start, time.Time{}, nil
	}
	end, err = time.Parse(phaseDateLayout, strings.TrimSpace(p.End))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("phase end %q: %w", p.End, err)
	}
	return start, end, nil
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.user_agent", "aplsync/1.0 (apl ingestion service)")
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.significant_change_threshold", 500)
	v.SetDefault("alert.timeout", "5s")
	v.SetDefault("alert.consecutive_failure_threshold", 3)
	v.SetDefault("alert.history_size", 100)
	v.SetDefault("health.freshness_degraded", "24h")
	v.SetDefault("health.freshness_unhealthy", "72h")
	v.SetDefault("health.freshness_critical", "168h")
	v.SetDefault("health.run_duration_budget", "5m")
	v.SetDefault("health.window_size", 20)
	v.SetDefault("health.report_history", 50)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	for i := range cfg.States {
		if strings.TrimSpace(cfg.States[i].Schedule) == "" {
			cfg.States[i].Schedule = "@every 24h"
		}
	}

	return cfg, nil
}
