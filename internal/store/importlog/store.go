package importlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tapelens/internal/trades"

	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Status 表示一次导入尝试的结果。
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// importModel 是导入日志的 gorm 模型；统计快照整块存 JSON。
type importModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	BacktestID    string         `gorm:"column:backtest_id;index"`
	File          string         `gorm:"column:file"`
	Template      string         `gorm:"column:template"`
	Status        Status         `gorm:"column:status;index"`
	ErrorKind     string         `gorm:"column:error_kind"`
	ErrorDetail   string         `gorm:"column:error_detail"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (importModel) TableName() string { return "import_log" }

// Entry 是对外暴露的导入记录；汇总字段从 stats JSON 里抽取，
// 不强依赖 stats 结构体版本。
type Entry struct {
	ID          int64     `json:"id"`
	BacktestID  string    `json:"backtest_id,omitempty"`
	File        string    `json:"file"`
	Template    string    `json:"template"`
	Status      Status    `json:"status"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	TotalPnL    float64   `json:"total_pnl"`
	Trades      int       `json:"trades"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store 用独立的 sqlite 库记录每次导入尝试，包括失败的。
type Store struct {
	db *gorm.DB
}

// NewStore 打开导入日志库并迁移表结构。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("import log: 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&importModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSuccess 记录一次成功导入。
func (s *Store) RecordSuccess(ctx context.Context, backtestID, file, tpl string, statsJSON []byte) error {
	m := importModel{
		BacktestID:    backtestID,
		File:          file,
		Template:      tpl,
		Status:        StatusOK,
		StatsJSON:     datatypes.JSON(statsJSON),
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// RecordFailure 记录一次失败导入；解析错误保留 kind 供前端分类展示。
func (s *Store) RecordFailure(ctx context.Context, file, tpl string, cause error) error {
	m := importModel{
		File:          file,
		Template:      tpl,
		Status:        StatusFailed,
		ErrorDetail:   cause.Error(),
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	var perr *trades.ParseError
	if errors.As(cause, &perr) {
		m.ErrorKind = string(perr.Kind)
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// List 按时间倒序返回导入记录。
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []importModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(models))
	for _, m := range models {
		entry := Entry{
			ID:          m.ID,
			BacktestID:  m.BacktestID,
			File:        m.File,
			Template:    m.Template,
			Status:      m.Status,
			ErrorKind:   m.ErrorKind,
			ErrorDetail: m.ErrorDetail,
			CreatedAt:   time.UnixMilli(m.CreatedAtUnix).UTC(),
		}
		if len(m.StatsJSON) > 0 {
			parsed := gjson.ParseBytes(m.StatsJSON)
			entry.TotalPnL = parsed.Get("total_pnl").Float()
			entry.Trades = int(parsed.Get("trades").Int())
		}
		out = append(out, entry)
	}
	return out, nil
}
