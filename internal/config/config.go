package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-healing/internal/models"
)

// Config captures every setting required to boot the healing engine.
type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Logging      LoggingConfig        `yaml:"logging"`
	Schedule     ScheduleConfig       `yaml:"schedule"`
	Monitor      MonitorConfig        `yaml:"monitor"`
	Collector    CollectorConfig      `yaml:"collector"`
	Dependencies []DependencyConfig   `yaml:"dependencies"`
	Endpoints    EndpointsConfig      `yaml:"endpoints"`
	Rules        RulesConfig          `yaml:"rules"`
	Alerts       []models.AlertConfig `yaml:"alerts"`
	Actions      ActionsConfig        `yaml:"actions"`
	Store        StoreConfig          `yaml:"store"`
	Cache        CacheConfig          `yaml:"cache"`
	Channels     ChannelsConfig       `yaml:"channels"`
}

// ServerConfig controls the HTTP, gRPC health and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	// ManualRate and ManualBurst bound the manual POST operations.
	ManualRate  float64 `yaml:"manualRate"`
	ManualBurst int     `yaml:"manualBurst"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ScheduleConfig drives periodic cycles.
type ScheduleConfig struct {
	// Spec is a cron expression or descriptor such as "@every 30s".
	Spec       string `yaml:"spec"`
	Enabled    bool   `yaml:"enabled"`
	RunOnStart bool   `yaml:"runOnStart"`
}

// MonitorConfig tunes detection and healing.
type MonitorConfig struct {
	HistorySize      int           `yaml:"historySize"`
	AnomalyThreshold float64       `yaml:"anomalyThreshold"`
	MinSamples       int           `yaml:"minSamples"`
	Rebaseline       time.Duration `yaml:"rebaseline"`
	HealingEnabled   bool          `yaml:"healingEnabled"`
	// UseLease takes a cache lease around each cycle when a cache is enabled.
	UseLease bool          `yaml:"useLease"`
	LeaseTTL time.Duration `yaml:"leaseTTL"`
}

// CollectorConfig configures host sampling and probe fan-out.
type CollectorConfig struct {
	DiskPath        string        `yaml:"diskPath"`
	CPUSampleWindow time.Duration `yaml:"cpuSampleWindow"`
	LatencyTarget   string        `yaml:"latencyTarget"`
	APIProbeURL     string        `yaml:"apiProbeURL"`
	Timeout         time.Duration `yaml:"timeout"`
	Parallelism     int           `yaml:"parallelism"`
}

// DependencyConfig describes one external dependency to probe.
type DependencyConfig struct {
	Name          string        `yaml:"name"`
	Kind          string        `yaml:"kind"`
	Endpoint      string        `yaml:"endpoint"`
	Critical      bool          `yaml:"critical"`
	Timeout       time.Duration `yaml:"timeout"`
	DegradedAfter time.Duration `yaml:"degradedAfter"`
}

// EndpointsConfig lists the synthetic API checks.
type EndpointsConfig struct {
	BaseURL string           `yaml:"baseURL"`
	Checks  []EndpointConfig `yaml:"checks"`
}

// EndpointConfig is one synthetic request.
type EndpointConfig struct {
	Path           string        `yaml:"path"`
	Method         string        `yaml:"method"`
	ExpectedStatus int           `yaml:"expectedStatus"`
	SlowAfter      time.Duration `yaml:"slowAfter"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RulesConfig controls rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// ActionsConfig configures the remediation actions.
type ActionsConfig struct {
	RestartBackendCommand []string      `yaml:"restartBackendCommand"`
	RestartDBCommand      []string      `yaml:"restartDBCommand"`
	CacheFlushPrefix      string        `yaml:"cacheFlushPrefix"`
	NetworkTargets        []string      `yaml:"networkTargets"`
	CommandTimeout        time.Duration `yaml:"commandTimeout"`
	DialTimeout           time.Duration `yaml:"dialTimeout"`
	AdminChannel          string        `yaml:"adminChannel"`
	AdminRecipient        string        `yaml:"adminRecipient"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Retention int    `yaml:"retention"`
	Debug     bool   `yaml:"debug"`
}

// CacheConfig controls the Redis-backed cache used by clear_cache and the
// cycle lease.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// ChannelsConfig configures alert delivery.
type ChannelsConfig struct {
	WebhookURL     string        `yaml:"webhookURL"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
	MailgunDomain  string        `yaml:"mailgunDomain"`
	MailgunAPIKey  string        `yaml:"mailgunAPIKey"`
	EmailFrom      string        `yaml:"emailFrom"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return errors.New("store dsn is required for postgres")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache addr is required when cache is enabled")
	}
	if c.Monitor.AnomalyThreshold <= 0 {
		return fmt.Errorf("monitor anomalyThreshold must be positive, got %v", c.Monitor.AnomalyThreshold)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			ManualRate:      1,
			ManualBurst:     5,
		},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Schedule: ScheduleConfig{Spec: "@every 30s", Enabled: true},
		Monitor: MonitorConfig{
			HistorySize:      100,
			AnomalyThreshold: 2.5,
			MinSamples:       10,
			HealingEnabled:   true,
			LeaseTTL:         5 * time.Minute,
		},
		Collector: CollectorConfig{
			DiskPath:        "/",
			CPUSampleWindow: time.Second,
			LatencyTarget:   "8.8.8.8:53",
			Timeout:         5 * time.Second,
			Parallelism:     4,
		},
		Rules: RulesConfig{Path: "configs/rules/default.yaml"},
		Actions: ActionsConfig{
			CacheFlushPrefix: "mirador:",
			CommandTimeout:   30 * time.Second,
			DialTimeout:      3 * time.Second,
			AdminChannel:     models.ChannelLog,
		},
		Store: StoreConfig{Driver: "memory", Retention: 1000},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Channels: ChannelsConfig{
			WebhookTimeout: 5 * time.Second,
			EmailFrom:      "healing@mirador.local",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_HEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_HEAL_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("MIRADOR_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_HEAL_SCHEDULE"); v != "" {
		cfg.Schedule.Spec = v
	}
	envBool("MIRADOR_HEAL_SCHEDULE_ENABLED", &cfg.Schedule.Enabled)
	envBool("MIRADOR_HEAL_HEALING_ENABLED", &cfg.Monitor.HealingEnabled)
	envInt("MIRADOR_HEAL_HISTORY_SIZE", &cfg.Monitor.HistorySize)
	envInt("MIRADOR_HEAL_MIN_SAMPLES", &cfg.Monitor.MinSamples)
	if v := os.Getenv("MIRADOR_HEAL_ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Monitor.AnomalyThreshold = f
		}
	}
	envDuration("MIRADOR_HEAL_REBASELINE", &cfg.Monitor.Rebaseline)
	if v := os.Getenv("MIRADOR_HEAL_API_PROBE_URL"); v != "" {
		cfg.Collector.APIProbeURL = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LATENCY_TARGET"); v != "" {
		cfg.Collector.LatencyTarget = v
	}
	if v := os.Getenv("MIRADOR_HEAL_ENDPOINT_BASE_URL"); v != "" {
		cfg.Endpoints.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_HEAL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_HEAL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_HEAL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	envBool("MIRADOR_HEAL_CACHE_ENABLED", &cfg.Cache.Enabled)
	if v := os.Getenv("MIRADOR_HEAL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	envInt("MIRADOR_HEAL_CACHE_DB", &cfg.Cache.DB)
	envBool("MIRADOR_HEAL_CACHE_TLS", &cfg.Cache.TLS)
	envDuration("MIRADOR_HEAL_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	envInt("MIRADOR_HEAL_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)
	if v := os.Getenv("MIRADOR_HEAL_WEBHOOK_URL"); v != "" {
		cfg.Channels.WebhookURL = v
	}
	if v := os.Getenv("MIRADOR_HEAL_MAILGUN_DOMAIN"); v != "" {
		cfg.Channels.MailgunDomain = v
	}
	if v := os.Getenv("MIRADOR_HEAL_MAILGUN_API_KEY"); v != "" {
		cfg.Channels.MailgunAPIKey = v
	}
	if v := os.Getenv("MIRADOR_HEAL_EMAIL_FROM"); v != "" {
		cfg.Channels.EmailFrom = v
	}
	if v := os.Getenv("MIRADOR_HEAL_ADMIN_RECIPIENT"); v != "" {
		cfg.Actions.AdminRecipient = v
	}
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = strings.EqualFold(v, "true") || v == "1"
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
