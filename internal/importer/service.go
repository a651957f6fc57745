package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"tapelens/internal/logger"
	"tapelens/internal/stats"
	"tapelens/internal/store"
	"tapelens/internal/store/importlog"
	"tapelens/internal/template"
	"tapelens/internal/trades"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrDuplicate 表示同样内容的导出已经导入过。
var ErrDuplicate = errors.New("backtest already imported")

// DefaultCapital 是未指定初始资金时的默认值，与原版仪表盘一致。
const DefaultCapital = 100_000

// Config 描述导入服务的依赖。ImportLog 可为 nil（不记审计日志）。
type Config struct {
	Templates      *template.Registry
	Results        *store.ResultStore
	ImportLog      *importlog.Store
	DefaultCapital float64
	MaxConcurrent  int
}

// Service 负责把 CSV 导出变成入库的回测：解析→统计→落盘→记日志。
type Service struct {
	templates      *template.Registry
	results        *store.ResultStore
	importLog      *importlog.Store
	defaultCapital float64
	maxConcurrent  int
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Templates == nil {
		return nil, fmt.Errorf("template registry 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	capital := cfg.DefaultCapital
	if capital <= 0 {
		capital = DefaultCapital
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Service{
		templates:      cfg.Templates,
		results:        cfg.Results,
		importLog:      cfg.ImportLog,
		defaultCapital: capital,
		maxConcurrent:  maxConcurrent,
	}, nil
}

// Import 导入一份 CSV 内容。templateID 为空时用默认模板，capital<=0 用默认资金。
// 相同内容重复导入返回已存在的回测与 ErrDuplicate。
func (s *Service) Import(ctx context.Context, sourceFile string, csvText []byte, templateID string, capital float64) (store.Backtest, error) {
	def, err := s.templates.Resolve(templateID)
	if err != nil {
		return store.Backtest{}, err
	}
	if capital <= 0 {
		capital = s.defaultCapital
	}

	sum := sha256.Sum256(csvText)
	checksum := hex.EncodeToString(sum[:])
	if existing, found, err := s.results.FindByChecksum(ctx, checksum); err != nil {
		return store.Backtest{}, err
	} else if found {
		return existing, ErrDuplicate
	}

	records, err := trades.ParseWithOptions(string(csvText), def.AliasTable(), def.ParseOptions())
	if err != nil {
		s.logFailure(ctx, sourceFile, def.ID, err)
		return store.Backtest{}, err
	}

	summary := stats.Compute(records, capital)
	bt := store.Backtest{
		ID:             uuid.NewString(),
		Name:           deriveName(sourceFile, records),
		SourceFile:     filepath.Base(sourceFile),
		Template:       def.ID,
		Strategy:       firstStrategy(records),
		Instruments:    instrumentSummary(records),
		Checksum:       checksum,
		InitialCapital: capital,
		Trades:         len(records),
		FirstExit:      summary.FirstExit,
		LastExit:       summary.LastExit,
		Stats:          summary,
	}
	if err := s.results.InsertBacktest(ctx, bt, records); err != nil {
		s.logFailure(ctx, sourceFile, def.ID, err)
		return store.Backtest{}, fmt.Errorf("storing backtest: %w", err)
	}
	s.logSuccess(ctx, bt)
	logger.Infof("imported backtest %s (%d trades, template=%s)", bt.Name, len(records), def.ID)
	return bt, nil
}

// ImportFile 读取磁盘文件后导入。
func (s *Service) ImportFile(ctx context.Context, path, templateID string, capital float64) (store.Backtest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return store.Backtest{}, err
	}
	return s.Import(ctx, path, raw, templateID, capital)
}

// ScanDir 并发导入目录下的所有 CSV；重复文件静默跳过，
// 单个文件解析失败不影响其它文件（失败进导入日志）。
func (s *Service) ScanDir(ctx context.Context, dir, templateID string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scanning csv dir: %w", err)
	}
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxConcurrent)
	var imported, skipped atomic.Int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := entry.Name()
		group.Go(func() error {
			_, err := s.ImportFile(ctx, path, templateID, 0)
			switch {
			case errors.Is(err, ErrDuplicate):
				skipped.Add(1)
				logger.Debugf("skip duplicate export %s", name)
			case err != nil:
				logger.Warnf("import %s failed: %v", name, err)
			default:
				imported.Add(1)
			}
			return nil // 单个文件失败不中断扫描
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Infof("csv scan finished: %d imported, %d duplicates", imported.Load(), skipped.Load())
	return nil
}

func (s *Service) logSuccess(ctx context.Context, bt store.Backtest) {
	if s.importLog == nil {
		return
	}
	statsJSON, err := bt.MarshalStats()
	if err != nil {
		logger.Warnf("marshal stats for import log: %v", err)
		return
	}
	if err := s.importLog.RecordSuccess(ctx, bt.ID, bt.SourceFile, bt.Template, statsJSON); err != nil {
		logger.Warnf("import log write failed: %v", err)
	}
}

func (s *Service) logFailure(ctx context.Context, sourceFile, tpl string, cause error) {
	if s.importLog == nil {
		return
	}
	if err := s.importLog.RecordFailure(ctx, filepath.Base(sourceFile), tpl, cause); err != nil {
		logger.Warnf("import log write failed: %v", err)
	}
}

// deriveName 优先取导出里的策略名，缺失时用文件名去扩展名。
func deriveName(sourceFile string, records []trades.TradeRecord) string {
	if strategy := firstStrategy(records); strategy != "" {
		return strategy
	}
	base := filepath.Base(sourceFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstStrategy(records []trades.TradeRecord) string {
	for _, rec := range records {
		if rec.Strategy != "" {
			return rec.Strategy
		}
	}
	return ""
}

func instrumentSummary(records []trades.TradeRecord) string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range records {
		if rec.Instrument == "" || seen[rec.Instrument] {
			continue
		}
		seen[rec.Instrument] = true
		names = append(names, rec.Instrument)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
