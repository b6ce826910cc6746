package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stylizer-ml/stylizer/internal/quantize"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

// Defaults holds the per-batch settings a job can override.
type Defaults struct {
	Size         int      `yaml:"size"`
	Precision    string   `yaml:"precision"`
	Passes       []string `yaml:"passes"`
	ToleranceAbs float64  `yaml:"tolerance_abs"`
	ToleranceRel float64  `yaml:"tolerance_rel"`
	Samples      int      `yaml:"samples"`
	Seed         int64    `yaml:"seed"`
	SkipVerify   bool     `yaml:"skip_verify"`
}

// JobSpec describes one model in a batch configuration.
type JobSpec struct {
	Name      string  `yaml:"name"`
	Input     string  `yaml:"input"`
	Output    string  `yaml:"output"`
	Size      int     `yaml:"size"`
	Precision string  `yaml:"precision"`
	Strength  float64 `yaml:"strength"`
}

// Config is a YAML batch-conversion configuration.
type Config struct {
	Defaults Defaults  `yaml:"defaults"`
	Models   []JobSpec `yaml:"models"`
}

// LoadConfig reads and validates a batch configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent fields.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config lists no models")
	}
	if c.Defaults.Size < 0 {
		return fmt.Errorf("defaults: size must be positive")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Size < 0 {
			return fmt.Errorf("model %d: size must be positive", i)
		}
		if m.Input == "" {
			return fmt.Errorf("model %d: input path is required", i)
		}
		if m.Output == "" {
			return fmt.Errorf("model %d: output path is required", i)
		}
		if m.Name != "" && seen[m.Name] {
			return fmt.Errorf("model %d: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true
		if p := precisionFor(m, c.Defaults); p != "" {
			if _, err := quantize.ParsePrecision(p); err != nil {
				return fmt.Errorf("model %d: %w", i, err)
			}
		}
	}
	return nil
}

func precisionFor(m JobSpec, d Defaults) string {
	if m.Precision != "" {
		return m.Precision
	}
	return d.Precision
}

// options builds the effective Options for one job.
func (c *Config) options(m JobSpec) (Options, error) {
	precision, err := quantize.ParsePrecision(precisionFor(m, c.Defaults))
	if err != nil {
		return Options{}, err
	}
	size := m.Size
	if size == 0 {
		size = c.Defaults.Size
	}
	opts := Options{
		PassNames:   c.Defaults.Passes,
		TargetSize:  size,
		Precision:   precision,
		SampleCount: c.Defaults.Samples,
		Seed:        c.Defaults.Seed,
		SkipVerify:  c.Defaults.SkipVerify,
		ModelName:   m.Name,
		Strength:    m.Strength,
	}
	if c.Defaults.ToleranceAbs != 0 || c.Defaults.ToleranceRel != 0 {
		opts.Tolerance = verify.Tolerance{
			Absolute: c.Defaults.ToleranceAbs,
			Relative: c.Defaults.ToleranceRel,
		}
	}
	return opts, nil
}
