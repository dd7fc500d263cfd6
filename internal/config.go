package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ProviderConfig configures the model provider adapter.
type ProviderConfig struct {
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Temperature float32 `yaml:"temperature"`
	TopK        float32 `yaml:"top_k"`
	// ContextWindow is the token quota assumed for a handle when the
	// provider does not report one itself.
	ContextWindow int `yaml:"context_window"`
}

// BudgetConfig carries the prompt-budget policy constants. They are tuned
// against one provider's undocumented behavior, not derived from anything
// measurable, so they stay configurable.
type BudgetConfig struct {
	ResetFraction    float64 `yaml:"reset_fraction"`
	TruncateFraction float64 `yaml:"truncate_fraction"`
	CeilingFraction  float64 `yaml:"ceiling_fraction"`
	ContextFraction  float64 `yaml:"context_fraction"`
	MaxContextTurns  int     `yaml:"max_context_turns"`
	TurnCharLimit    int     `yaml:"turn_char_limit"`
	CharsPerToken    int     `yaml:"chars_per_token"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is "local" or "remote". The fallback-to-local behavior of
	// the remote backend is always on; there is no third mode.
	Backend      string `yaml:"backend"`
	DatabasePath string `yaml:"database_path,omitempty"`
	RemoteURL    string `yaml:"remote_url,omitempty"`
}

// Config is the top-level edgechat configuration.
type Config struct {
	Provider     ProviderConfig `yaml:"provider"`
	Budget       BudgetConfig   `yaml:"budget"`
	Storage      StorageConfig  `yaml:"storage"`
	ConverterURL string         `yaml:"converter_url"`
}

const (
	defaultModel         = "gemini-2.0-flash-lite"
	defaultContextWindow = 32768
	defaultConverterURL  = "http://localhost:5000"

	minTemperature = 0.0
	maxTemperature = 2.0
	minTopK        = 1.0
	maxTopK        = 128.0
)

// DefaultConfig returns the configuration shipped out of the box.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:         defaultModel,
			Temperature:   0.7,
			TopK:          40,
			ContextWindow: defaultContextWindow,
		},
		Budget: BudgetConfig{
			ResetFraction:    0.75,
			TruncateFraction: 0.50,
			CeilingFraction:  0.40,
			ContextFraction:  0.30,
			MaxContextTurns:  9,
			TurnCharLimit:    500,
			CharsPerToken:    4,
		},
		Storage: StorageConfig{
			Backend: "local",
		},
		ConverterURL: defaultConverterURL,
	}
}

// DataDir returns the per-OS edgechat data directory.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library/Application Support/edgechat"), nil
	case "linux":
		return filepath.Join(home, ".config/edgechat"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (only macOS and Linux are supported)", runtime.GOOS)
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadConfig reads the config file at path, filling unset fields with
// defaults. A missing file yields the defaults without error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Clamp bounds the sampling parameters to the provider's documented valid
// ranges. Out-of-range values are a creation failure on the real provider,
// and creation failures are permanent by policy.
func (p *ProviderConfig) Clamp() {
	if p.Temperature < minTemperature {
		p.Temperature = minTemperature
	}
	if p.Temperature > maxTemperature {
		p.Temperature = maxTemperature
	}
	if p.TopK < minTopK {
		p.TopK = minTopK
	}
	if p.TopK > maxTopK {
		p.TopK = maxTopK
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Provider.Model == "" {
		c.Provider.Model = def.Provider.Model
	}
	if c.Provider.ContextWindow <= 0 {
		c.Provider.ContextWindow = def.Provider.ContextWindow
	}
	if c.Budget.ResetFraction <= 0 {
		c.Budget.ResetFraction = def.Budget.ResetFraction
	}
	if c.Budget.TruncateFraction <= 0 {
		c.Budget.TruncateFraction = def.Budget.TruncateFraction
	}
	if c.Budget.CeilingFraction <= 0 {
		c.Budget.CeilingFraction = def.Budget.CeilingFraction
	}
	if c.Budget.ContextFraction <= 0 {
		c.Budget.ContextFraction = def.Budget.ContextFraction
	}
	if c.Budget.MaxContextTurns <= 0 {
		c.Budget.MaxContextTurns = def.Budget.MaxContextTurns
	}
	if c.Budget.TurnCharLimit <= 0 {
		c.Budget.TurnCharLimit = def.Budget.TurnCharLimit
	}
	if c.Budget.CharsPerToken <= 0 {
		c.Budget.CharsPerToken = def.Budget.CharsPerToken
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.ConverterURL == "" {
		c.ConverterURL = def.ConverterURL
	}
}
