package app

import (
	"context"
	"fmt"
	"os"

	"tapelens/internal/config"
	"tapelens/internal/importer"
	"tapelens/internal/logger"
	"tapelens/internal/store"
	"tapelens/internal/store/importlog"
	"tapelens/internal/template"
	dashboardhttp "tapelens/internal/transport/http/dashboard"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

// AppBuilder 把各层的构造函数聚在一起，测试可以逐个替换。
type AppBuilder struct {
	cfg *config.Config

	registryFn  func(string) (*template.Registry, error)
	resultsFn   func(string) (*store.ResultStore, error)
	importLogFn func(string) (*importlog.Store, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		registryFn:  newTemplateRegistry,
		resultsFn:   store.NewResultStore,
		importLogFn: importlog.NewStore,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithResultStore 替换结果库构造，测试注入用。
func WithResultStore(fn func(string) (*store.ResultStore, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.resultsFn = fn }
}

// Build 按依赖顺序构建整个应用。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	registry, err := b.registryFn(cfg.Store.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("初始化模板注册表失败: %w", err)
	}
	registry.OnChange(func(snap template.Snapshot) {
		logger.Infof("导出模板已重载: %v", snap.IDs())
	})

	results, err := b.resultsFn(cfg.Store.Root)
	if err != nil {
		return nil, fmt.Errorf("打开结果库失败: %w", err)
	}
	imports, err := b.importLogFn(cfg.Store.ImportLogPath)
	if err != nil {
		results.Close()
		return nil, fmt.Errorf("打开导入日志失败: %w", err)
	}

	svc, err := importer.NewService(importer.Config{
		Templates:      registry,
		Results:        results,
		ImportLog:      imports,
		DefaultCapital: cfg.Dashboard.DefaultCapital,
		MaxConcurrent:  cfg.Dashboard.MaxConcurrent,
	})
	if err != nil {
		results.Close()
		imports.Close()
		return nil, err
	}

	dashboard, err := dashboardhttp.NewServer(dashboardhttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Importer:  svc,
		Results:   results,
		Templates: registry,
		Imports:   imports,
	})
	if err != nil {
		results.Close()
		imports.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		svc:       svc,
		results:   results,
		imports:   imports,
		dashboard: dashboard,
	}, nil
}

// newTemplateRegistry 在模板文件不存在时回落到内置模板。
func newTemplateRegistry(path string) (*template.Registry, error) {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Infof("模板文件 %s 不存在，仅使用内置模板", path)
			path = ""
		}
	}
	return template.NewRegistry(path)
}
