package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/hostwatch/internal/models"
)

// EnvPrefix namespaces every environment override, e.g. HOSTWATCH_NOTIFY_WEBHOOK_URL.
// Keys derive from field names only; unprefixed variables are never read.
const EnvPrefix = "HOSTWATCH"

// ErrInvalid marks configuration that cannot be used to run a check.
var ErrInvalid = errors.New("invalid configuration")

// Record store backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendValkey = "valkey"
)

// Config captures everything one invocation needs. It is read once at start-up and
// never mutated afterwards.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" split_words:"true"`
	Notify     NotifyConfig     `yaml:"notify" split_words:"true"`
	Services   ServicesConfig   `yaml:"services" split_words:"true"`
	Escalation EscalationConfig `yaml:"escalation" split_words:"true"`
	Hosts      HostsConfig      `yaml:"hosts" split_words:"true"`
	Records    RecordsConfig    `yaml:"records" split_words:"true"`
	Disk       DiskConfig       `yaml:"disk" split_words:"true"`
	Metrics    MetricsConfig    `yaml:"metrics" split_words:"true"`
	Run        RunConfig        `yaml:"run" split_words:"true"`
	// Diagnostic inverts the aggregate alert condition so operators can verify the
	// notification path while everything is healthy.
	Diagnostic bool `yaml:"diagnostic" split_words:"true"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" split_words:"true"`
	JSON  bool   `yaml:"json" split_words:"true"`
}

// NotifyConfig configures the webhook chat sink.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL" split_words:"true"`
	Timeout    time.Duration `yaml:"timeout" split_words:"true"`
	// HostLabel prefixes every message. Defaults to the hostname.
	HostLabel string `yaml:"hostLabel" split_words:"true"`
}

// ServicesConfig lists what to watch and what may be restarted.
type ServicesConfig struct {
	Monitored []string `yaml:"monitored" split_words:"true"`
	Restart   []string `yaml:"restart" split_words:"true"`
	// GRPCHealth maps a service name to a gRPC health endpoint probed once the
	// init system reports the unit active.
	GRPCHealth        map[string]string `yaml:"grpcHealth" split_words:"true"`
	GRPCHealthTimeout time.Duration     `yaml:"grpcHealthTimeout" split_words:"true"`
	// CommandTimeout bounds systemctl calls. Zero keeps the platform default (none).
	CommandTimeout time.Duration `yaml:"commandTimeout" split_words:"true"`
	Systemctl      string        `yaml:"systemctl" split_words:"true"`
}

// EscalationConfig bounds auto-restart behaviour.
type EscalationConfig struct {
	MaxAttempts int           `yaml:"maxAttempts" split_words:"true"`
	ResetWindow time.Duration `yaml:"resetWindow" split_words:"true"`
	RestartWait time.Duration `yaml:"restartWait" split_words:"true"`
}

// HostsConfig holds glob patterns of hostnames that skip every check.
type HostsConfig struct {
	Exclude []string `yaml:"exclude" split_words:"true"`
}

// RecordsConfig selects and configures the failure record backend.
type RecordsConfig struct {
	Backend    string       `yaml:"backend" split_words:"true"`
	Dir        string       `yaml:"dir" split_words:"true"`
	BadgerPath string       `yaml:"badgerPath" split_words:"true"`
	Valkey     ValkeyConfig `yaml:"valkey" split_words:"true"`
}

// ValkeyConfig configures the Valkey/Redis-compatible record backend.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr" split_words:"true"`
	Username     string        `yaml:"username" split_words:"true"`
	Password     string        `yaml:"password" split_words:"true"`
	DB           int           `yaml:"db" split_words:"true"`
	KeyPrefix    string        `yaml:"keyPrefix" split_words:"true"`
	DialTimeout  time.Duration `yaml:"dialTimeout" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"readTimeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"writeTimeout" split_words:"true"`
	MaxRetries   int           `yaml:"maxRetries" split_words:"true"`
	TLS          bool          `yaml:"tls" split_words:"true"`
}

// DiskConfig controls the free-space companion check.
type DiskConfig struct {
	Paths               []string `yaml:"paths" split_words:"true"`
	WarnFreePercent     float64  `yaml:"warnFreePercent" split_words:"true"`
	CriticalFreePercent float64  `yaml:"criticalFreePercent" split_words:"true"`
}

// MetricsConfig controls where run metrics are exported once the run finishes.
type MetricsConfig struct {
	Textfile       string `yaml:"textfile" split_words:"true"`
	PushgatewayURL string `yaml:"pushgatewayURL" split_words:"true"`
	Job            string `yaml:"job" split_words:"true"`
}

// RunConfig controls invocation-level behaviour.
type RunConfig struct {
	// LockFile, when set, makes overlapping invocations exit without doing work.
	LockFile string `yaml:"lockFile" split_words:"true"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
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

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", JSON: false},
		Notify:  NotifyConfig{Timeout: 10 * time.Second},
		Services: ServicesConfig{
			GRPCHealthTimeout: 5 * time.Second,
			Systemctl:         "systemctl",
		},
		Escalation: EscalationConfig{
			MaxAttempts: 3,
			ResetWindow: 6 * time.Hour,
			RestartWait: 30 * time.Second,
		},
		Records: RecordsConfig{
			Backend:    BackendFile,
			Dir:        "/var/lib/hostwatch/records",
			BadgerPath: "/var/lib/hostwatch/badger",
			Valkey: ValkeyConfig{
				KeyPrefix:    "hostwatch:failure:",
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		Disk: DiskConfig{
			Paths:               []string{"/"},
			WarnFreePercent:     15,
			CriticalFreePercent: 5,
		},
		Metrics: MetricsConfig{Job: "hostwatch"},
	}
}

func (c *Config) normalise() {
	c.Services.Monitored = cleanNames(c.Services.Monitored)
	c.Services.Restart = cleanNames(c.Services.Restart)
	c.Records.Backend = strings.ToLower(strings.TrimSpace(c.Records.Backend))
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Escalation.MaxAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("escalation.maxAttempts must be >= 1, got %d", c.Escalation.MaxAttempts))
	}
	if c.Escalation.ResetWindow <= 0 {
		err = multierr.Append(err, errors.New("escalation.resetWindow must be positive"))
	}
	if c.Escalation.RestartWait < 0 {
		err = multierr.Append(err, errors.New("escalation.restartWait must not be negative"))
	}
	switch c.Records.Backend {
	case BackendFile:
		if c.Records.Dir == "" {
			err = multierr.Append(err, errors.New("records.dir is required for the file backend"))
		}
	case BackendBadger:
		if c.Records.BadgerPath == "" {
			err = multierr.Append(err, errors.New("records.badgerPath is required for the badger backend"))
		}
	case BackendValkey:
		if c.Records.Valkey.Addr == "" {
			err = multierr.Append(err, errors.New("records.valkey.addr is required for the valkey backend"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("records.backend %q is not one of file, badger, valkey", c.Records.Backend))
	}
	if c.Disk.CriticalFreePercent < 0 || c.Disk.WarnFreePercent > 100 {
		err = multierr.Append(err, errors.New("disk thresholds must be within 0-100"))
	}
	if c.Disk.CriticalFreePercent > c.Disk.WarnFreePercent {
		err = multierr.Append(err, errors.New("disk.criticalFreePercent must not exceed disk.warnFreePercent"))
	}
	for _, pattern := range c.Hosts.Exclude {
		if _, matchErr := path.Match(pattern, ""); matchErr != nil {
			err = multierr.Append(err, fmt.Errorf("hosts.exclude pattern %q: %w", pattern, matchErr))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ServiceSpecs builds the immutable per-run service list. Names in the restart list
// that are not monitored are returned separately; they are never restarted.
func (c *Config) ServiceSpecs() (specs []models.ServiceSpec, unmonitoredRestart []string) {
	restart := make(map[string]bool, len(c.Services.Restart))
	for _, name := range c.Services.Restart {
		restart[name] = true
	}
	monitored := make(map[string]bool, len(c.Services.Monitored))
	for _, name := range c.Services.Monitored {
		monitored[name] = true
		specs = append(specs, models.ServiceSpec{
			Name:                name,
			Monitored:           true,
			AutoRestartEligible: restart[name],
		})
	}
	for _, name := range c.Services.Restart {
		if !monitored[name] {
			unmonitoredRestart = append(unmonitoredRestart, name)
		}
	}
	return specs, unmonitoredRestart
}

func cleanNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
