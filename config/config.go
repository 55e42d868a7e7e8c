package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"bastionwaf/waf"
)

// Duration is a time.Duration that unmarshals from yaml strings like
// "30m" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.v2 unmarshaling.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Value returns the wrapped time.Duration.
func (d Duration) Value() time.Duration { return time.Duration(d) }

// Main is the top level configuration.
type Main struct {
	Log       Log        `yaml:"log"`
	API       API        `yaml:"api"`
	Engine    Engine     `yaml:"engine"`
	Events    Events     `yaml:"events"`
	Storage   Storage    `yaml:"storage"`
	RulesFile string     `yaml:"rulesFile"`
	Sites     []waf.Site `yaml:"sites"`
}

// Log configures the logger.
type Log struct {
	Level string `yaml:"level"`
}

// API configures the admin REST listener.
type API struct {
	Addr string `yaml:"addr"`
}

// Engine configures the inspection pipeline and lifecycle.
type Engine struct {
	MaxConditionDepth int      `yaml:"maxConditionDepth"`
	EvalTimeout       Duration `yaml:"evalTimeout"`
	FailClosed        bool     `yaml:"failClosed"`
	GracePeriod       Duration `yaml:"gracePeriod"`
	LogBuffer         int      `yaml:"logBuffer"`
}

// Events configures the attack-event aggregator.
type Events struct {
	IdleTimeout    Duration `yaml:"idleTimeout"`
	SweepInterval  Duration `yaml:"sweepInterval"`
	IncludeDstPort bool     `yaml:"includeDstPort"`
	MaxClosed      int      `yaml:"maxClosed"`
}

// Storage selects and configures the log store backend.
type Storage struct {
	Backend        string `yaml:"backend"` // memory | mongo
	MemoryCapacity int    `yaml:"memoryCapacity"`
	Mongo          Mongo  `yaml:"mongo"`
}

// Mongo configures the MongoDB log store.
type Mongo struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Default returns the configuration used when the file leaves settings
// unset.
func Default() *Main {
	return &Main{
		Log: Log{Level: "info"},
		API: API{Addr: ":8080"},
		Engine: Engine{
			MaxConditionDepth: 10,
			EvalTimeout:       Duration(500 * time.Millisecond),
			GracePeriod:       Duration(10 * time.Second),
			LogBuffer:         1000,
		},
		Events: Events{
			IdleTimeout:   Duration(30 * time.Minute),
			SweepInterval: Duration(time.Minute),
			MaxClosed:     10000,
		},
		Storage: Storage{
			Backend:        "memory",
			MemoryCapacity: 100000,
			Mongo: Mongo{
				Database:   "bastionwaf",
				Collection: "waf_logs",
			},
		},
	}
}

// Load reads a yaml config file over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Main, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
