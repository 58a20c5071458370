package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS whale_alerts (
  id TEXT PRIMARY KEY,
  exchange TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  amount REAL NOT NULL,
  value_usd REAL NOT NULL,
  hash TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_whale_alerts_ts ON whale_alerts(ts_ms);

CREATE TABLE IF NOT EXISTS wallets (
  address TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  tags TEXT NOT NULL,
  chains TEXT NOT NULL,
  balance_usd REAL NOT NULL,
  positions TEXT NOT NULL,
  transactions TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

// Seed 写入初始钱包和历史 alert；已存在的记录保持不变
func (r *Repo) Seed(ctx context.Context, wallets []model.WalletProfile, alerts []model.WhaleAlert) error {
	now := time.Now().UnixMilli()
	for _, w := range wallets {
		cols, err := encodeWallet(w)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO wallets(address, owner, tags, chains, balance_usd, positions, transactions, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, strings.ToLower(w.Address), w.Owner, cols.tags, cols.chains, w.BalanceUSD, cols.positions, cols.transactions, now); err != nil {
			return fmt.Errorf("seed wallet %s: %w", w.Address, err)
		}
	}
	for _, a := range alerts {
		if _, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO whale_alerts(id, exchange, symbol, side, amount, value_usd, hash, ts_ms, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.Exchange, a.Symbol, a.Side, a.Amount, a.ValueUSD, a.Hash, a.Timestamp, now); err != nil {
			return fmt.Errorf("seed alert %s: %w", a.ID, err)
		}
	}
	return nil
}

func (r *Repo) RecordAlert(ctx context.Context, a model.WhaleAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO whale_alerts(id, exchange, symbol, side, amount, value_usd, hash, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, a.ID, a.Exchange, a.Symbol, a.Side, a.Amount, a.ValueUSD, a.Hash, a.Timestamp, time.Now().UnixMilli())
	return err
}

func (r *Repo) Recent(ctx context.Context, limit int) ([]model.WhaleAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, exchange, symbol, side, amount, value_usd, hash, ts_ms
		FROM whale_alerts ORDER BY ts_ms DESC, created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.WhaleAlert, 0, limit)
	for rows.Next() {
		var a model.WhaleAlert
		if err := rows.Scan(&a.ID, &a.Exchange, &a.Symbol, &a.Side, &a.Amount, &a.ValueUSD, &a.Hash, &a.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repo) SearchWallets(ctx context.Context, query string) ([]model.WalletSummary, error) {
	out := make([]model.WalletSummary, 0)
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return out, nil
	}
	like := "%" + escapeLike(q) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, owner, tags, chains, balance_usd, positions, transactions FROM wallets
		WHERE lower(address) LIKE ? ESCAPE '\' OR lower(owner) LIKE ? ESCAPE '\' OR lower(tags) LIKE ? ESCAPE '\'
		ORDER BY balance_usd DESC
	`, like, like, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		// tags 以 JSON 存储，LIKE 可能命中分隔符，这里再精确过滤
		if w.Matches(q) {
			out = append(out, w.Summary())
		}
	}
	return out, rows.Err()
}

func (r *Repo) FindWallet(ctx context.Context, address string) (model.WalletProfile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT address, owner, tags, chains, balance_usd, positions, transactions FROM wallets WHERE address = ?
	`, strings.ToLower(strings.TrimSpace(address)))
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WalletProfile{}, port.ErrNotFound
	}
	return w, err
}

type walletColumns struct {
	tags, chains, positions, transactions string
}

func encodeWallet(w model.WalletProfile) (walletColumns, error) {
	var cols walletColumns
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&cols.tags, w.Tags},
		{&cols.chains, w.Chains},
		{&cols.positions, w.Positions},
		{&cols.transactions, w.Transactions},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return cols, err
		}
		*f.dst = string(b)
	}
	return cols, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWallet(s scanner) (model.WalletProfile, error) {
	var (
		w    model.WalletProfile
		cols walletColumns
	)
	if err := s.Scan(&w.Address, &w.Owner, &cols.tags, &cols.chains, &w.BalanceUSD, &cols.positions, &cols.transactions); err != nil {
		return w, err
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{cols.tags, &w.Tags},
		{cols.chains, &w.Chains},
		{cols.positions, &w.Positions},
		{cols.transactions, &w.Transactions},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return w, fmt.Errorf("decode wallet %s: %w", w.Address, err)
		}
	}
	return w, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var (
	_ port.AlertRecorder   = (*Repo)(nil)
	_ port.AlertHistory    = (*Repo)(nil)
	_ port.WalletDirectory = (*Repo)(nil)
)
