package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tapelens/internal/logger"
	"tapelens/internal/trades"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Definition 描述一个导出模板：别名表 + 时间格式 + 时区。
type Definition struct {
	ID          string              `yaml:"id" json:"id"`
	Description string              `yaml:"description" json:"description,omitempty"`
	Aliases     map[string][]string `yaml:"aliases" json:"aliases"`
	TimeLayouts []string            `yaml:"time_layouts" json:"time_layouts,omitempty"`
	Timezone    string              `yaml:"timezone" json:"timezone,omitempty"`
	Default     bool                `yaml:"default" json:"default,omitempty"`

	aliasTable trades.AliasTable
	location   *time.Location
}

// AliasTable 返回归一化后的别名表（拷贝）。
func (d Definition) AliasTable() trades.AliasTable {
	return d.aliasTable.Clone()
}

// ParseOptions 返回传给归一化器的解析选项。
func (d Definition) ParseOptions() trades.Options {
	return trades.Options{
		TimeLayouts: append([]string(nil), d.TimeLayouts...),
		Location:    d.location,
	}
}

// FileConfig 映射 templates 配置文件。
type FileConfig struct {
	Templates map[string]Definition `yaml:"templates"`
}

// Snapshot 对外暴露的模板集快照。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]Definition
}

// IDs 返回排序后的模板 ID 列表。
func (s Snapshot) IDs() []string {
	out := make([]string, 0, len(s.Templates))
	for id := range s.Templates {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ChangeListener 在模板文件重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理导出模板。内置模板始终可用，配置文件可以覆盖或新增，
// 文件变更时热重载（viper.WatchConfig）。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 构建注册表。path 为空时只含内置模板。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if r.path != "" {
		v := viper.New()
		v.SetConfigFile(r.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read template config failed: %w", err)
		}
		v.OnConfigChange(func(fsnotify.Event) {
			if err := r.reload(); err != nil {
				logger.Errorf("template reload failed: %v", err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前模板集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Template 返回指定 ID 的模板。
func (r *Registry) Template(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.snapshot.Templates[strings.TrimSpace(id)]
	return def, ok
}

// Resolve 返回指定模板，id 为空时回落到默认模板。
func (r *Registry) Resolve(id string) (Definition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return r.defaultDefinition()
	}
	def, ok := r.Template(id)
	if !ok {
		return Definition{}, fmt.Errorf("unknown export template: %s", id)
	}
	return def, nil
}

func (r *Registry) defaultDefinition() (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.snapshot.Templates {
		if def.Default {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("no default export template configured")
}

func (r *Registry) reload() error {
	templates := builtinDefinitions()
	if r.path != "" {
		fileCfg, err := readTemplateFile(r.path)
		if err != nil {
			return err
		}
		for name, def := range fileCfg.Templates {
			norm, err := normalizeDefinition(name, def)
			if err != nil {
				return fmt.Errorf("template %q: %w", name, err)
			}
			if norm.Default {
				for id, existing := range templates {
					existing.Default = false
					templates[id] = existing
				}
			}
			templates[norm.ID] = norm
		}
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
	}
	r.mu.Unlock()
	if r.path != "" {
		logger.Infof("template registry loaded %d templates from %s", len(templates), filepath.Base(r.path))
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("template listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Templates: make(map[string]Definition, len(src.Templates)),
	}
	for id, def := range src.Templates {
		dst.Templates[id] = def
	}
	return dst
}

func readTemplateFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read template config failed: %w", err)
	}
	if err := validateTemplateYAML(raw); err != nil {
		return FileConfig{}, err
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse template config failed: %w", err)
	}
	return cfg, nil
}

// definitionSchema 约束单个模板条目的结构。
const definitionSchema = `{
	"type": "object",
	"required": ["aliases"],
	"properties": {
		"id": {"type": "string"},
		"description": {"type": "string"},
		"default": {"type": "boolean"},
		"timezone": {"type": "string"},
		"time_layouts": {"type": "array", "items": {"type": "string"}},
		"aliases": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1
			}
		}
	},
	"additionalProperties": false
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func templateSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("template.json", strings.NewReader(definitionSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("template.json")
	})
	return compiledSchema, schemaErr
}

func validateTemplateYAML(raw []byte) error {
	schema, err := templateSchema()
	if err != nil {
		return fmt.Errorf("compile template schema: %w", err)
	}
	var doc struct {
		Templates map[string]any `yaml:"templates"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse template config failed: %w", err)
	}
	for name, entry := range doc.Templates {
		jsonForm, err := toJSONValue(entry)
		if err != nil {
			return fmt.Errorf("template %q: %w", name, err)
		}
		if err := schema.Validate(jsonForm); err != nil {
			return fmt.Errorf("template %q failed schema validation: %w", name, err)
		}
	}
	return nil
}

// toJSONValue 把 yaml 解码结果转成 jsonschema 能校验的 json 值形态。
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeDefinition(name string, def Definition) (Definition, error) {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		def.ID = strings.TrimSpace(name)
	}
	def.Description = strings.TrimSpace(def.Description)

	table := make(trades.AliasTable, len(def.Aliases))
	for field, aliases := range def.Aliases {
		table[trades.Field(strings.TrimSpace(field))] = append([]string(nil), aliases...)
	}
	for _, field := range trades.RequiredFields() {
		if len(table[field]) == 0 {
			return Definition{}, fmt.Errorf("aliases missing required field %q", field)
		}
	}
	def.aliasTable = table

	loc := time.UTC
	if tz := strings.TrimSpace(def.Timezone); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return Definition{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		loc = parsed
	}
	def.location = loc
	if len(def.TimeLayouts) == 0 {
		def.TimeLayouts = append([]string(nil), trades.DefaultTimeLayouts...)
	}
	return def, nil
}
