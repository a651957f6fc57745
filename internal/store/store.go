package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tapelens/internal/stats"
	"tapelens/internal/trades"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Backtest 是一次已导入的回测导出及其统计快照。
type Backtest struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	SourceFile     string        `json:"source_file"`
	Template       string        `json:"template"`
	Strategy       string        `json:"strategy,omitempty"`
	Instruments    string        `json:"instruments,omitempty"`
	Checksum       string        `json:"checksum"`
	InitialCapital float64       `json:"initial_capital"`
	Trades         int           `json:"trades"`
	FirstExit      time.Time     `json:"first_exit,omitzero"`
	LastExit       time.Time     `json:"last_exit,omitzero"`
	Stats          stats.Summary `json:"stats"`
	CreatedAt      time.Time     `json:"created_at"`
}

// MarshalStats 返回 stats JSON。
func (b Backtest) MarshalStats() ([]byte, error) {
	return json.Marshal(b.Stats)
}

// ResultStore 管理 backtests/backtest_trades 两张表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewResultStore 打开（或创建）root 下的 sqlite 库。
func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "backtests.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path 返回 sqlite 文件路径（启动摘要用）。
func (s *ResultStore) Path() string { return s.path }

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtests (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			source_file TEXT NOT NULL,
			template TEXT NOT NULL,
			strategy TEXT,
			instruments TEXT,
			checksum TEXT NOT NULL,
			initial_capital REAL NOT NULL,
			trades INTEGER NOT NULL DEFAULT 0,
			first_exit INTEGER,
			last_exit INTEGER,
			stats_json TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			backtest_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			entry_ts INTEGER NOT NULL,
			exit_ts INTEGER NOT NULL,
			instrument TEXT,
			position TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT,
			profit TEXT NOT NULL,
			strategy TEXT,
			FOREIGN KEY(backtest_id) REFERENCES backtests(id) ON DELETE CASCADE
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_backtests_checksum ON backtests(checksum);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_backtest ON backtest_trades(backtest_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertBacktest 在一个事务里写入回测与全部交易行；seq 保留文件顺序。
func (s *ResultStore) InsertBacktest(ctx context.Context, bt Backtest, records []trades.TradeRecord) error {
	statsJSON, err := json.Marshal(bt.Stats)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtests
			(id, name, source_file, template, strategy, instruments, checksum,
			initial_capital, trades, first_exit, last_exit, stats_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bt.ID, bt.Name, bt.SourceFile, bt.Template, bt.Strategy, bt.Instruments, bt.Checksum,
		bt.InitialCapital, len(records), nullableTime(bt.FirstExit), nullableTime(bt.LastExit),
		string(statsJSON), now)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(backtest_id, seq, entry_ts, exit_ts, instrument, position, quantity,
			entry_price, exit_price, profit, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for seq, rec := range records {
		exitPrice := any(nil)
		if !rec.ExitPrice.IsZero() {
			exitPrice = rec.ExitPrice.String()
		}
		_, err = stmt.ExecContext(ctx, bt.ID, seq, rec.EntryTime.UnixMilli(), rec.ExitTime.UnixMilli(),
			rec.Instrument, string(rec.MarketPosition), rec.Quantity,
			rec.EntryPrice.String(), exitPrice, rec.Profit.String(), rec.Strategy)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListBacktests 按导入时间倒序返回。
func (s *ResultStore) ListBacktests(ctx context.Context, limit int) ([]Backtest, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_file, template, strategy, instruments, checksum,
			initial_capital, trades, first_exit, last_exit, stats_json, created_at
		FROM backtests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Backtest
	for rows.Next() {
		bt, err := scanBacktest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}

// GetBacktest 按 ID 查询。
func (s *ResultStore) GetBacktest(ctx context.Context, id string) (Backtest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_file, template, strategy, instruments, checksum,
			initial_capital, trades, first_exit, last_exit, stats_json, created_at
		FROM backtests WHERE id = ?`, id)
	return scanBacktest(row)
}

// FindByChecksum 返回相同内容是否已导入过。
func (s *ResultStore) FindByChecksum(ctx context.Context, checksum string) (Backtest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_file, template, strategy, instruments, checksum,
			initial_capital, trades, first_exit, last_exit, stats_json, created_at
		FROM backtests WHERE checksum = ?`, checksum)
	bt, err := scanBacktest(row)
	if err == sql.ErrNoRows {
		return Backtest{}, false, nil
	}
	if err != nil {
		return Backtest{}, false, err
	}
	return bt, true, nil
}

// DeleteBacktest 删除回测及其交易行（外键级联）。
func (s *ResultStore) DeleteBacktest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtests WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListTrades 按文件顺序返回交易行；limit<=0 表示全部。
func (s *ResultStore) ListTrades(ctx context.Context, backtestID string, limit, offset int) ([]trades.TradeRecord, error) {
	query := `
		SELECT entry_ts, exit_ts, instrument, position, quantity, entry_price, exit_price, profit, strategy
		FROM backtest_trades WHERE backtest_id = ? ORDER BY seq`
	args := []any{backtestID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trades.TradeRecord
	for rows.Next() {
		var (
			rec        trades.TradeRecord
			entryTS    int64
			exitTS     int64
			instrument sql.NullString
			position   string
			entryPrice string
			exitPrice  sql.NullString
			profit     string
			strategy   sql.NullString
		)
		if err := rows.Scan(&entryTS, &exitTS, &instrument, &position, &rec.Quantity,
			&entryPrice, &exitPrice, &profit, &strategy); err != nil {
			return nil, err
		}
		rec.EntryTime = time.UnixMilli(entryTS).UTC()
		rec.ExitTime = time.UnixMilli(exitTS).UTC()
		rec.Instrument = instrument.String
		rec.MarketPosition = trades.MarketPosition(position)
		rec.Strategy = strategy.String
		if rec.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
			return nil, fmt.Errorf("corrupt entry_price %q: %w", entryPrice, err)
		}
		if rec.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("corrupt profit %q: %w", profit, err)
		}
		if exitPrice.Valid {
			if rec.ExitPrice, err = decimal.NewFromString(exitPrice.String); err != nil {
				return nil, fmt.Errorf("corrupt exit_price %q: %w", exitPrice.String, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBacktest(row rowScanner) (Backtest, error) {
	var (
		bt          Backtest
		strategy    sql.NullString
		instruments sql.NullString
		firstExit   sql.NullInt64
		lastExit    sql.NullInt64
		statsJSON   sql.NullString
		createdAt   int64
	)
	err := row.Scan(&bt.ID, &bt.Name, &bt.SourceFile, &bt.Template, &strategy, &instruments,
		&bt.Checksum, &bt.InitialCapital, &bt.Trades, &firstExit, &lastExit, &statsJSON, &createdAt)
	if err != nil {
		return Backtest{}, err
	}
	bt.Strategy = strategy.String
	bt.Instruments = instruments.String
	if firstExit.Valid {
		bt.FirstExit = time.UnixMilli(firstExit.Int64).UTC()
	}
	if lastExit.Valid {
		bt.LastExit = time.UnixMilli(lastExit.Int64).UTC()
	}
	bt.CreatedAt = time.UnixMilli(createdAt).UTC()
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &bt.Stats); err != nil {
			return Backtest{}, fmt.Errorf("corrupt stats_json for %s: %w", bt.ID, err)
		}
	}
	return bt, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
