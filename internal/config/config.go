// Package config handles praxis configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./praxis.yaml, ~/.config/praxis/praxis.yaml, /etc/praxis/praxis.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"praxis.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "praxis", "praxis.yaml"))
	}

	paths = append(paths, "/etc/praxis/praxis.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all praxis configuration.
type Config struct {
	Loop      LoopConfig      `yaml:"loop"`
	Resource  ResourceConfig  `yaml:"resource"`
	Inference InferenceConfig `yaml:"inference"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Feed      FeedConfig      `yaml:"feed"`
	Goals     []GoalConfig    `yaml:"goals"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// GoalConfig seeds one process-lifetime goal. Priority is a weight in
// [0,1] where larger means more urgent.
type GoalConfig struct {
	ID          string  `yaml:"id"`
	Description string  `yaml:"description"`
	Priority    float64 `yaml:"priority"`
}

// LoopConfig defines the autonomous loop's timing and capacity knobs.
// IntervalMS is the starting inter-cycle delay; the reflection engine
// adapts the live value between MinIntervalMS and a 30s ceiling.
type LoopConfig struct {
	IntervalMS           int    `yaml:"interval_ms"`
	MinIntervalMS        int    `yaml:"min_interval_ms"`
	MaxConcurrentActions int    `yaml:"max_concurrent_actions"`
	ActionTimeoutMS      int    `yaml:"action_timeout_ms"`
	TargetCycleTimeMS    int    `yaml:"target_cycle_time_ms"`
	RoomName             string `yaml:"room_name"`
}

// ResourceConfig defines resource monitor settings.
type ResourceConfig struct {
	SampleIntervalSec int    `yaml:"sample_interval_sec"`
	TaskSlots         int    `yaml:"task_slots"`
	DiskPath          string `yaml:"disk_path"`
}

// InferenceConfig defines the completion endpoint settings.
type InferenceConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// MQTTConfig defines the MQTT event provider settings. When Broker is
// empty the provider is not started.
type MQTTConfig struct {
	Broker     string   `yaml:"broker"` // e.g. mqtt://broker:1883 or mqtts://...
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	ClientName string   `yaml:"client_name"`
	Topics     []string `yaml:"topics"`
}

// FeedConfig defines the websocket event feed settings. When URL is
// empty the feed provider is not started.
type FeedConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			IntervalMS:           5000,
			MinIntervalMS:        1000,
			MaxConcurrentActions: 3,
			ActionTimeoutMS:      60000,
			TargetCycleTimeMS:    10000,
			RoomName:             "autonomous",
		},
		Resource: ResourceConfig{
			SampleIntervalSec: 5,
			TaskSlots:         3,
			DiskPath:          "/",
		},
		Inference: InferenceConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "qwen3:4b",
			TimeoutSec: 120,
		},
		DataDir: ".",
	}
}

// ApplyEnv overlays environment variable overrides onto the config.
// Each override is optional; unset or malformed values leave the
// config untouched.
//
//   - PRAXIS_LOOP_INTERVAL_MS — starting inter-cycle delay
//   - PRAXIS_MAX_CONCURRENT_ACTIONS — action concurrency cap
//   - PRAXIS_ACTION_TIMEOUT_MS — per-action timeout
func (c *Config) ApplyEnv() {
	if v, ok := envInt("PRAXIS_LOOP_INTERVAL_MS"); ok {
		c.Loop.IntervalMS = v
	}
	if v, ok := envInt("PRAXIS_MAX_CONCURRENT_ACTIONS"); ok {
		c.Loop.MaxConcurrentActions = v
	}
	if v, ok := envInt("PRAXIS_ACTION_TIMEOUT_MS"); ok {
		c.Loop.ActionTimeoutMS = v
	}
}

// envInt reads a positive integer environment variable. The second
// return is false when the variable is unset, empty, or not a
// positive integer.
func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
