package config

import (
	"fmt"
	"strings"
)

// Validate returns configuration problems found in cfg.
// It does not mutate cfg.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{fmt.Errorf("config is nil")}
	}

	var errs []error

	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port must be in 1..65535"))
	}

	if cfg.Payment.CeilingCents <= 0 {
		errs = append(errs, fmt.Errorf("payment.ceiling_cents must be > 0"))
	}
	if cfg.Payment.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("payment.timeout_sec must be > 0"))
	}
	if cfg.Payment.APIBase != "" && !strings.HasPrefix(cfg.Payment.APIBase, "http://") && !strings.HasPrefix(cfg.Payment.APIBase, "https://") {
		errs = append(errs, fmt.Errorf("payment.api_base must start with http:// or https://"))
	}

	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		errs = append(errs, fmt.Errorf("storage.db_path is required"))
	}

	if cfg.Telegram.SendRatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("telegram.send_rate_per_sec must be > 0"))
	}
	if cfg.Telegram.SendBurst <= 0 {
		errs = append(errs, fmt.Errorf("telegram.send_burst must be > 0"))
	}

	if cfg.Logging.Enabled {
		if cfg.Logging.Dir == "" {
			errs = append(errs, fmt.Errorf("logging.dir is required when logging.enabled=true"))
		}
		if cfg.Logging.Filename == "" {
			errs = append(errs, fmt.Errorf("logging.filename is required when logging.enabled=true"))
		}
		if cfg.Logging.MaxSizeMB <= 0 {
			errs = append(errs, fmt.Errorf("logging.max_size_mb must be > 0"))
		}
		if cfg.Logging.RetentionDays <= 0 {
			errs = append(errs, fmt.Errorf("logging.retention_days must be > 0"))
		}
	}

	return errs
}
