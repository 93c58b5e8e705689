package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "10m" or "45s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TimeoutConfig sets per-priority liveness deadlines for running tasks.
type TimeoutConfig struct {
	High   Duration `yaml:"high,omitempty"`
	Medium Duration `yaml:"medium,omitempty"`
	Low    Duration `yaml:"low,omitempty"`
}

// WorkerConfig describes the command launched for each task attempt.
type WorkerConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// ProjectConfig holds project-level settings loaded from orchestrate.yml.
type ProjectConfig struct {
	LedgerDir    string        `yaml:"ledgerDir,omitempty"`
	WorkspaceDir string        `yaml:"workspaceDir,omitempty"`
	Concurrency  int           `yaml:"concurrency,omitempty"`
	MaxRetries   *int          `yaml:"maxRetries,omitempty"`
	PollInterval Duration      `yaml:"pollInterval,omitempty"`
	TaskTimeouts TimeoutConfig `yaml:"taskTimeouts,omitempty"`
	Worker       WorkerConfig  `yaml:"worker,omitempty"`
	HTTPAddr     string        `yaml:"httpAddr,omitempty"`
	Verbose      bool          `yaml:"verbose,omitempty"`
}

// Load attempts to read orchestrate.yml or orchestrate.yaml from the given
// directory. Returns a zero-value config (not an error) if no config file
// exists.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range []string{"orchestrate.yml", "orchestrate.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cfg ProjectConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return &ProjectConfig{}, nil
}
