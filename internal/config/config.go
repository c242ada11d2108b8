package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/raid"
)

const EnvAdminAddr = "RAIDBD_ADMIN_ADDR"

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendAbsent = "absent"
)

const (
	DefaultAdminAddr      = ":9420"
	DefaultHealthInterval = 5 * time.Second
	DefaultMaxFailures    = 3
	DefaultBlockSize      = 512
)

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Admin  AdminConfig   `toml:"admin"`
	Health HealthConfig  `toml:"health"`
	Arrays []ArrayConfig `toml:"array"`
}

type AdminConfig struct {
	Addr string `toml:"addr"`
}

type HealthConfig struct {
	Disabled    bool     `toml:"disabled"`
	Interval    Duration `toml:"interval"`
	MaxFailures int      `toml:"max_failures"`
}

type ArrayConfig struct {
	Name           string         `toml:"name"`
	UUID           string         `toml:"uuid"`
	Level          string         `toml:"level"`
	BlockSize      uint32         `toml:"block_size"`
	MinOperational int            `toml:"min_operational"`
	QueueDepth     int            `toml:"queue_depth"`
	Mirrors        []MirrorConfig `toml:"mirror"`
}

type MirrorConfig struct {
	Name    string `toml:"name"`
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Blocks  uint64 `toml:"blocks"`
}

// Default returns a configuration with no arrays and every default applied.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates the TOML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config load failed (%s)", path)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a TOML document. Keys that do not
// map to a field are rejected.
func Parse(data string) (Config, error) {
	var cfg Config
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "config parse failed")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, errors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Admin.Addr) == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	if c.Health.Interval.Duration == 0 {
		c.Health.Interval.Duration = DefaultHealthInterval
	}
	if c.Health.MaxFailures == 0 {
		c.Health.MaxFailures = DefaultMaxFailures
	}

	for i := range c.Arrays {
		arr := &c.Arrays[i]
		arr.Name = strings.TrimSpace(arr.Name)
		if strings.TrimSpace(arr.Level) == "" {
			arr.Level = string(raid.LevelRAID1)
		}
		if arr.BlockSize == 0 {
			arr.BlockSize = DefaultBlockSize
		}
		if arr.QueueDepth == 0 {
			arr.QueueDepth = bdev.DefaultQueueDepth
		}
		for j := range arr.Mirrors {
			m := &arr.Mirrors[j]
			m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
			if m.Backend == "" {
				m.Backend = BackendMemory
			}
			if strings.TrimSpace(m.Name) == "" {
				m.Name = fmt.Sprintf("%s-m%d", arr.Name, j)
			}
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(EnvAdminAddr)); v != "" {
		c.Admin.Addr = v
	}
}

// Validate reports every problem in c at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.Health.Interval.Duration < 0 {
		result = multierror.Append(result, errors.New("health.interval must be positive"))
	}
	if c.Health.MaxFailures < 0 {
		result = multierror.Append(result, errors.New("health.max_failures must not be negative"))
	}
	if len(c.Arrays) == 0 {
		result = multierror.Append(result, errors.New("at least one [[array]] is required"))
	}

	seen := make(map[string]bool)
	for i, arr := range c.Arrays {
		if arr.Name != "" {
			if seen[arr.Name] {
				result = multierror.Append(result, errors.Errorf("array[%d]: duplicate name %q", i, arr.Name))
			}
			seen[arr.Name] = true
		}
		for _, err := range arr.validate() {
			result = multierror.Append(result, errors.Wrapf(err, "array[%d] %s", i, arr.Name))
		}
	}
	return result.ErrorOrNil()
}

func (a ArrayConfig) validate() []error {
	var errs []error

	if a.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if a.UUID != "" {
		if _, err := uuid.Parse(a.UUID); err != nil {
			errs = append(errs, errors.Wrap(err, "uuid"))
		}
	}
	if _, err := raid.ParseLevel(a.Level); err != nil {
		errs = append(errs, err)
	}
	if a.BlockSize < 512 || a.BlockSize&(a.BlockSize-1) != 0 {
		errs = append(errs, errors.Errorf("block_size %d must be a power of two of at least 512", a.BlockSize))
	}
	if a.QueueDepth < 0 {
		errs = append(errs, errors.Errorf("queue_depth %d must not be negative", a.QueueDepth))
	}
	if len(a.Mirrors) < 2 {
		errs = append(errs, errors.Errorf("%d mirrors configured, at least 2 are required", len(a.Mirrors)))
	}

	present := 0
	names := make(map[string]bool)
	for j, m := range a.Mirrors {
		if names[m.Name] {
			errs = append(errs, errors.Errorf("mirror[%d]: duplicate name %q", j, m.Name))
		}
		names[m.Name] = true

		switch m.Backend {
		case BackendMemory, BackendFile:
			present++
			if m.Blocks == 0 {
				errs = append(errs, errors.Errorf("mirror[%d] %s: blocks is required", j, m.Name))
			}
			if m.Backend == BackendFile && strings.TrimSpace(m.Path) == "" {
				errs = append(errs, errors.Errorf("mirror[%d] %s: path is required for file backends", j, m.Name))
			}
		case BackendAbsent:
			if m.Path != "" {
				errs = append(errs, errors.Errorf("mirror[%d] %s: absent mirrors take no path", j, m.Name))
			}
		default:
			errs = append(errs, errors.Errorf("mirror[%d] %s: unknown backend %q", j, m.Name, m.Backend))
		}
	}

	if a.MinOperational < 0 {
		errs = append(errs, errors.Errorf("min_operational %d must not be negative", a.MinOperational))
	} else if a.MinOperational > present {
		errs = append(errs, errors.Errorf("min_operational %d exceeds the %d present mirrors", a.MinOperational, present))
	}
	if present == 0 && len(a.Mirrors) > 0 {
		errs = append(errs, errors.New("no present mirror"))
	}
	return errs
}

// Array returns the named array's configuration.
func (c Config) Array(name string) (ArrayConfig, bool) {
	for _, arr := range c.Arrays {
		if arr.Name == name {
			return arr, true
		}
	}
	return ArrayConfig{}, false
}
