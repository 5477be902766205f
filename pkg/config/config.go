package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Transfer TransferConfig `yaml:"transfer"`
	GPIO     GPIOConfig     `yaml:"gpio"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type TransferConfig struct {
	TimeoutMs    int    `yaml:"timeout_ms"`
	MaxRetries   int    `yaml:"max_retries"`
	ChecksumOnly bool   `yaml:"checksum_only"`
	TrimPadding  bool   `yaml:"trim_padding"`
	Output       string `yaml:"output"`
}

// GPIOConfig describes the optional bootstrap lines. When disabled the
// target is expected to already sit in its serial bootloader.
type GPIOConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Chip     string `yaml:"chip"`
	ResetPin int    `yaml:"reset_pin"`
	Boot0Pin int    `yaml:"boot0_pin"`
}

// Timeout converts the configured block timeout.
func (obj *TransferConfig) Timeout() time.Duration {
	return time.Duration(obj.TimeoutMs) * time.Millisecond
}

// Load reads path, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with working values.
func ApplyDefaults(cfg *Config) {
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Transfer.TimeoutMs == 0 {
		cfg.Transfer.TimeoutMs = 2000
	}
	if cfg.Transfer.MaxRetries == 0 {
		cfg.Transfer.MaxRetries = 10
	}
	if cfg.Transfer.Output == "" {
		cfg.Transfer.Output = "firmware.bin"
	}
	if cfg.GPIO.Chip == "" {
		cfg.GPIO.Chip = "gpiochip0"
	}
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Serial.Port == "" {
		return fmt.Errorf("serial.port must be set")
	}
	if cfg.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", cfg.Serial.Baud)
	}
	if cfg.Transfer.TimeoutMs <= 0 {
		return fmt.Errorf("transfer.timeout_ms must be positive, got %d", cfg.Transfer.TimeoutMs)
	}
	if cfg.Transfer.MaxRetries < 0 {
		return fmt.Errorf("transfer.max_retries must not be negative, got %d", cfg.Transfer.MaxRetries)
	}
	if cfg.Transfer.Output == "" {
		return fmt.Errorf("transfer.output must be set")
	}
	if cfg.GPIO.Enabled {
		if cfg.GPIO.ResetPin < 0 || cfg.GPIO.Boot0Pin < 0 {
			return fmt.Errorf("gpio pins must not be negative")
		}
		if cfg.GPIO.ResetPin == cfg.GPIO.Boot0Pin {
			return fmt.Errorf("gpio.reset_pin and gpio.boot0_pin must differ")
		}
	}
	return nil
}
