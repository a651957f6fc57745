package app

import (
	"context"
	"fmt"

	"tapelens/internal/config"
	"tapelens/internal/importer"
	"tapelens/internal/logger"
	"tapelens/internal/store"
	"tapelens/internal/store/importlog"
	dashboardhttp "tapelens/internal/transport/http/dashboard"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动导入与仪表盘服务。
type App struct {
	cfg       *config.Config
	svc       *importer.Service
	results   *store.ResultStore
	imports   *importlog.Store
	dashboard *dashboardhttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 执行初始目录扫描，然后启动仪表盘服务与可选的目录监听。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if dir := a.cfg.Data.CSVDir; dir != "" {
		if err := a.svc.ScanDir(ctx, dir, a.cfg.Data.Template); err != nil {
			logger.Warnf("初始扫描 %s 失败: %v", dir, err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.dashboard.Start(ctx); err != nil {
			return fmt.Errorf("dashboard http server error: %w", err)
		}
		return nil
	})
	if a.cfg.Data.Watch && a.cfg.Data.CSVDir != "" {
		group.Go(func() error {
			return a.svc.Watch(ctx, a.cfg.Data.CSVDir, a.cfg.Data.Template)
		})
	}
	return group.Wait()
}

// Close 释放持有的存储资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.imports != nil {
		_ = a.imports.Close()
	}
}

// Importer 暴露导入服务实例（测试与回放用）。
func (a *App) Importer() *importer.Service {
	if a == nil {
		return nil
	}
	return a.svc
}
