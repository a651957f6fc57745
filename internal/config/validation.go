package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Dashboard.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Root) == "" {
		return fmt.Errorf("store.root cannot be empty")
	}
	return nil
}

func (d *DashboardConfig) validate() error {
	if d.DefaultCapital <= 0 {
		return fmt.Errorf("dashboard.default_capital must be > 0")
	}
	if d.MaxConcurrent <= 0 {
		return fmt.Errorf("dashboard.max_concurrent must be > 0")
	}
	return nil
}
