package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":8087"
	defaultAppLogPath       = "data/logs/tapelens.log"
	defaultDataCSVDir       = "data/exports"
	defaultStoreRoot        = "data/db"
	defaultImportLogPath    = "data/db/imports.db"
	defaultTemplatesPath    = "configs/templates.yaml"
	defaultDashboardCapital = 100_000
	defaultMaxConcurrent    = 4
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Dashboard.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.csv_dir", &d.CSVDir, defaultDataCSVDir),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.root", &s.Root, defaultStoreRoot),
		stringFieldDefault("store.import_log_path", &s.ImportLogPath, defaultImportLogPath),
		stringFieldDefault("store.templates_path", &s.TemplatesPath, defaultTemplatesPath),
	)
}

func (d *DashboardConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "dashboard.default_capital",
			need:  func() bool { return d.DefaultCapital <= 0 },
			apply: func() { d.DefaultCapital = defaultDashboardCapital },
		},
		fieldDefault{
			key:   "dashboard.max_concurrent",
			need:  func() bool { return d.MaxConcurrent <= 0 },
			apply: func() { d.MaxConcurrent = defaultMaxConcurrent },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
