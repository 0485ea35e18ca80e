package config

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// MaxTickHz bounds the monotonic rate. The system clock counts ticks on a
// ticker goroutine, which cannot run faster than this.
const MaxTickHz = 1_000_000

// Idle modes.
const (
	IdleWFI  = "wfi"  // park the core until an interrupt arrives
	IdleSpin = "spin" // busy-loop over pending priority-0 work
)

// Config mirrors the static configuration handed over by the build step.
type Config struct {
	Device    Device     `yaml:"device"`
	Monotonic Monotonic  `yaml:"monotonic"`
	Idle      Idle       `yaml:"idle"`
	Tasks     []Task     `yaml:"tasks"`
	Resources []Resource `yaml:"resources"`
	Trace     Trace      `yaml:"trace"`
}

// Device describes the interrupt controller of the target.
type Device struct {
	PriorityBits int            `yaml:"priority_bits"` // 3 (by default), 1<<bits levels
	Vectors      map[string]int `yaml:"vectors"`       // interrupt name -> irq number
	Dispatchers  []string       `yaml:"dispatchers"`   // free interrupts, in declaration order
}

// Monotonic configures the timer backing the timer queue.
type Monotonic struct {
	TickHz   int    `yaml:"tick_hz"`  // 1000 (by default)
	Vector   string `yaml:"vector"`   // compare interrupt, must exist in Device.Vectors
	Priority int    `yaml:"priority"` // 0 = highest task priority
}

// Idle selects the thread-mode behaviour when no idle function is supplied.
type Idle struct {
	Mode string `yaml:"mode"` // wfi (by default) or spin
}

// Task is one statically declared task.
type Task struct {
	Name     string   `yaml:"name"`
	Priority int      `yaml:"priority"` // 0 runs in thread mode
	Capacity int      `yaml:"capacity"` // 1 (by default), outstanding spawns
	Binds    string   `yaml:"binds"`    // hardware task vector; empty for software tasks
	Async    bool     `yaml:"async"`
	Shared   []string `yaml:"shared"`
	Local    []string `yaml:"local"`
}

// Resource is one shared resource.
type Resource struct {
	Name     string `yaml:"name"`
	LockFree bool   `yaml:"lock_free"`
}

// Trace configures event output.
type Trace struct {
	CSV      string `yaml:"csv"`       // empty = no csv output
	LogLevel string `yaml:"log_level"` // debug, info (by default), warn, error
}

// Hardware reports whether the task is bound to a peripheral interrupt.
func (t Task) Hardware() bool { return t.Binds != "" }

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Device: Device{
			PriorityBits: 3,
			Vectors:      map[string]int{},
		},
		Monotonic: Monotonic{TickHz: 1000},
		Idle:      Idle{Mode: IdleWFI},
		Trace:     Trace{LogLevel: "info"},
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and applies the sanity clamps.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize applies the sanity clamps. It is idempotent.
func (c *Config) Normalize() {
	if c.Device.PriorityBits <= 0 || c.Device.PriorityBits > 7 {
		c.Device.PriorityBits = 3
	}
	if c.Device.Vectors == nil {
		c.Device.Vectors = map[string]int{}
	}
	if c.Monotonic.TickHz <= 0 {
		c.Monotonic.TickHz = 1000
	}
	if c.Monotonic.TickHz > MaxTickHz {
		c.Monotonic.TickHz = MaxTickHz
	}
	if c.Idle.Mode != IdleSpin {
		c.Idle.Mode = IdleWFI
	}
	if c.Trace.LogLevel == "" {
		c.Trace.LogLevel = "info"
	}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.Capacity <= 0 {
			t.Capacity = 1
		}
		if t.Priority < 0 {
			t.Priority = 0
		}
	}
}

// Marshal renders the configuration back to YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
