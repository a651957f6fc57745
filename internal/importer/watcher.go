package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tapelens/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow 合并导出软件分多次写入同一文件触发的事件。
const debounceWindow = 500 * time.Millisecond

// Watch 监听目录中的 CSV 新增/修改并自动导入，阻塞到 ctx 取消。
func (s *Service) Watch(ctx context.Context, dir, templateID string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Infof("watching %s for new exports", dir)

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Stop()
		}
		timers[path] = time.AfterFunc(debounceWindow, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			_, err := s.ImportFile(ctx, path, templateID, 0)
			switch {
			case errors.Is(err, ErrDuplicate):
				logger.Debugf("watcher: %s unchanged, skipping", filepath.Base(path))
			case err != nil:
				logger.Warnf("watcher: import %s failed: %v", filepath.Base(path), err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}
			schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watcher error: %v", err)
		}
	}
}
