package config

import "strings"

// Config 是 tapelens 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Store     StoreConfig     `toml:"store"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 描述 CSV 导出的来源目录与监听开关。
type DataConfig struct {
	CSVDir   string `toml:"csv_dir"`
	Watch    bool   `toml:"watch"`
	Template string `toml:"template"` // 为空用默认模板
}

// StoreConfig 描述结果库与导入日志的存放位置。
type StoreConfig struct {
	Root          string `toml:"root"`
	ImportLogPath string `toml:"import_log_path"`
	TemplatesPath string `toml:"templates_path"`
}

type DashboardConfig struct {
	DefaultCapital float64 `toml:"default_capital"`
	MaxConcurrent  int     `toml:"max_concurrent"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
