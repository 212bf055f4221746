package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Payment  PaymentConfig  `json:"payment"`
	Storage  StorageConfig  `json:"storage"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	mu       sync.RWMutex
}

// GatewayConfig is the dashboard HTTP server binding.
type GatewayConfig struct {
	Host string `json:"host" env:"PIXFUNNEL_GATEWAY_HOST"`
	Port int    `json:"port" env:"PIXFUNNEL_GATEWAY_PORT"`
}

// PaymentConfig holds the PIX gateway credentials and limits.
// CeilingCents is the maximum amount accepted per transaction, in cents.
type PaymentConfig struct {
	APIBase      string `json:"api_base" env:"PIXFUNNEL_PAYMENT_API_BASE"`
	APIKey       string `json:"api_key" env:"PIXFUNNEL_PAYMENT_API_KEY"`
	CeilingCents int64  `json:"ceiling_cents" env:"PIXFUNNEL_PAYMENT_CEILING_CENTS"`
	TimeoutSec   int    `json:"timeout_sec" env:"PIXFUNNEL_PAYMENT_TIMEOUT_SEC"`
}

type StorageConfig struct {
	DBPath string `json:"db_path" env:"PIXFUNNEL_STORAGE_DB_PATH"`
}

type TelegramConfig struct {
	// SendRatePerSec bounds outbound API calls per bot session.
	SendRatePerSec float64 `json:"send_rate_per_sec" env:"PIXFUNNEL_TELEGRAM_SEND_RATE_PER_SEC"`
	SendBurst      int     `json:"send_burst" env:"PIXFUNNEL_TELEGRAM_SEND_BURST"`
}

type LoggingConfig struct {
	Enabled       bool   `json:"enabled" env:"PIXFUNNEL_LOGGING_ENABLED"`
	Dir           string `json:"dir" env:"PIXFUNNEL_LOGGING_DIR"`
	Filename      string `json:"filename" env:"PIXFUNNEL_LOGGING_FILENAME"`
	MaxSizeMB     int    `json:"max_size_mb" env:"PIXFUNNEL_LOGGING_MAX_SIZE_MB"`
	RetentionDays int    `json:"retention_days" env:"PIXFUNNEL_LOGGING_RETENTION_DAYS"`
}

var (
	isDebug bool
	muDebug sync.RWMutex
)

func SetDebugMode(debug bool) {
	muDebug.Lock()
	defer muDebug.Unlock()
	isDebug = debug
}

func IsDebugMode() bool {
	muDebug.RLock()
	defer muDebug.RUnlock()
	return isDebug
}

func GetConfigDir() string {
	if IsDebugMode() {
		return ".pixfunnel"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pixfunnel")
}

func DefaultConfig() *Config {
	configDir := GetConfigDir()
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18690,
		},
		Payment: PaymentConfig{
			APIBase:      "",
			APIKey:       "",
			CeilingCents: 15000,
			TimeoutSec:   30,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(configDir, "pixfunnel.db"),
		},
		Telegram: TelegramConfig{
			SendRatePerSec: 25,
			SendBurst:      5,
		},
		Logging: LoggingConfig{
			Enabled:       true,
			Dir:           filepath.Join(configDir, "logs"),
			Filename:      "pixfunnel.log",
			MaxSizeMB:     20,
			RetentionDays: 7,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := unmarshalConfigStrict(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func unmarshalConfigStrict(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing JSON content")
		}
		return err
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetPaymentCredentials replaces the gateway credentials in place. Used by the
// dashboard when the operator edits them; callers are expected to refresh the
// payment client afterwards.
func (c *Config) SetPaymentCredentials(apiBase, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if apiBase != "" {
		c.Payment.APIBase = apiBase
	}
	if apiKey != "" {
		c.Payment.APIKey = apiKey
	}
}

func (c *Config) PaymentCredentials() (apiBase, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Payment.APIBase, c.Payment.APIKey
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	filename := c.Logging.Filename
	if filename == "" {
		filename = "pixfunnel.log"
	}
	return filepath.Join(c.Logging.Dir, filename)
}
