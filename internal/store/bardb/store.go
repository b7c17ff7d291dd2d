package bardb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ibharvest/internal/market"
	"ibharvest/internal/store"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// BatchInfo summarizes one stored batch.
type BatchInfo struct {
	Symbol      string `json:"symbol"`
	SessionDate string `json:"session_date"`
	RTH         bool   `json:"rth"`
	Rows        int64  `json:"rows"`
	WrittenAt   int64  `json:"written_at"`
	Path        string `json:"path"`
}

// Store keeps one SQLite database per symbol under root.
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ store.BarSink = (*Store)(nil)

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("bar db root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*sql.DB, string, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, "", store.ErrEmptyKey
	}
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol), nil
	}
	path := s.dbPath(symbol)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol string) string {
	return filepath.Join(s.root, strings.ToUpper(symbol)+".db")
}

// WriteBatch replaces every row of key with bars in one transaction.
func (s *Store) WriteBatch(ctx context.Context, key store.BatchKey, bars []market.Bar) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	db, path, err := s.db(key.Symbol)
	if err != nil {
		return "", err
	}
	date := key.DateString()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bars WHERE session_date = ? AND rth = ?`, date, key.RegularHoursOnly); err != nil {
		_ = tx.Rollback()
		return "", err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (session_date, rth, seq, time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return "", err
	}
	defer stmt.Close()
	for i, b := range bars {
		if _, err := stmt.ExecContext(ctx, date, key.RegularHoursOnly, i, b.Time,
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String()); err != nil {
			_ = tx.Rollback()
			return "", err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches (session_date, rth, rows, written_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_date, rth) DO UPDATE SET rows=excluded.rows, written_at=excluded.written_at`,
		date, key.RegularHoursOnly, len(bars), time.Now().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return path + "#" + key.String(), nil
}

// QueryBatch returns the bars stored for key in arrival order.
func (s *Store) QueryBatch(ctx context.Context, key store.BatchKey) ([]market.Bar, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	db, _, err := s.db(key.Symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT time, open, high, low, close, volume
		FROM bars WHERE session_date = ? AND rth = ?
		ORDER BY seq ASC`, key.DateString(), key.RegularHoursOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Bar
	for rows.Next() {
		var ts string
		var raw [5]string
		if err := rows.Scan(&ts, &raw[0], &raw[1], &raw[2], &raw[3], &raw[4]); err != nil {
			return nil, err
		}
		vals := make([]decimal.Decimal, len(raw))
		for i, r := range raw {
			d, err := decimal.NewFromString(r)
			if err != nil {
				return nil, err
			}
			vals[i] = d
		}
		list = append(list, market.Bar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
	}
	return list, rows.Err()
}

// Batches lists the stored batches of symbol ordered by date.
func (s *Store) Batches(ctx context.Context, symbol string) ([]BatchInfo, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT session_date, rth, rows, written_at FROM batches ORDER BY session_date ASC, rth DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchInfo
	for rows.Next() {
		info := BatchInfo{Symbol: strings.ToUpper(symbol), Path: path}
		if err := rows.Scan(&info.SessionDate, &info.RTH, &info.Rows, &info.WrittenAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			session_date TEXT NOT NULL,
			rth          INTEGER NOT NULL,
			seq          INTEGER NOT NULL,
			time         TEXT NOT NULL,
			open         TEXT NOT NULL,
			high         TEXT NOT NULL,
			low          TEXT NOT NULL,
			close        TEXT NOT NULL,
			volume       TEXT NOT NULL,
			PRIMARY KEY (session_date, rth, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS batches (
			session_date TEXT NOT NULL,
			rth          INTEGER NOT NULL,
			rows         INTEGER NOT NULL DEFAULT 0,
			written_at   INTEGER NOT NULL,
			PRIMARY KEY (session_date, rth)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
