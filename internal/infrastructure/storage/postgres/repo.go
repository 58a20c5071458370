package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/model"
)

// Repo 钱包目录 + alert 历史 (Postgres)
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

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
  amount DOUBLE PRECISION NOT NULL,
  value_usd DOUBLE PRECISION NOT NULL,
  hash TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_whale_alerts_ts ON whale_alerts(ts_ms);

CREATE TABLE IF NOT EXISTS wallets (
  address TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  tags JSONB NOT NULL,
  chains JSONB NOT NULL,
  balance_usd DOUBLE PRECISION NOT NULL,
  positions JSONB NOT NULL,
  transactions JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (r *Repo) Seed(ctx context.Context, wallets []model.WalletProfile, alerts []model.WhaleAlert) error {
	for _, w := range wallets {
		tags, _ := json.Marshal(w.Tags)
		chains, _ := json.Marshal(w.Chains)
		positions, _ := json.Marshal(w.Positions)
		txs, _ := json.Marshal(w.Transactions)
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO wallets(address, owner, tags, chains, balance_usd, positions, transactions)
			VALUES($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT(address) DO NOTHING
		`, strings.ToLower(w.Address), w.Owner, string(tags), string(chains), w.BalanceUSD, string(positions), string(txs)); err != nil {
			return fmt.Errorf("seed wallet %s: %w", w.Address, err)
		}
	}
	for _, a := range alerts {
		if err := r.RecordAlert(ctx, a); err != nil {
			return fmt.Errorf("seed alert %s: %w", a.ID, err)
		}
	}
	return nil
}

func (r *Repo) RecordAlert(ctx context.Context, a model.WhaleAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO whale_alerts(id, exchange, symbol, side, amount, value_usd, hash, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(id) DO NOTHING
	`, a.ID, a.Exchange, a.Symbol, a.Side, a.Amount, a.ValueUSD, a.Hash, a.Timestamp)
	return err
}

func (r *Repo) Recent(ctx context.Context, limit int) ([]model.WhaleAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, exchange, symbol, side, amount, value_usd, hash, ts_ms
		FROM whale_alerts ORDER BY ts_ms DESC, created_at DESC LIMIT $1
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
	q := strings.TrimSpace(query)
	if q == "" {
		return out, nil
	}
	pattern := "%" + escapeLike(q) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, owner, tags, balance_usd FROM wallets
		WHERE address ILIKE $1 OR owner ILIKE $1
		   OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) AS t(tag) WHERE t.tag ILIKE $1)
		ORDER BY balance_usd DESC
	`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s    model.WalletSummary
			tags []byte
		)
		if err := rows.Scan(&s.Address, &s.Owner, &tags, &s.BalanceUSD); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tags, &s.Tags); err != nil {
			return nil, fmt.Errorf("decode wallet %s tags: %w", s.Address, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) FindWallet(ctx context.Context, address string) (model.WalletProfile, error) {
	var (
		w                            model.WalletProfile
		tags, chains, positions, txs []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT address, owner, tags, chains, balance_usd, positions, transactions FROM wallets WHERE address = $1
	`, strings.ToLower(strings.TrimSpace(address))).Scan(&w.Address, &w.Owner, &tags, &chains, &w.BalanceUSD, &positions, &txs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WalletProfile{}, port.ErrNotFound
	}
	if err != nil {
		return model.WalletProfile{}, err
	}
	for _, f := range []struct {
		src []byte
		dst any
	}{
		{tags, &w.Tags},
		{chains, &w.Chains},
		{positions, &w.Positions},
		{txs, &w.Transactions},
	} {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return model.WalletProfile{}, fmt.Errorf("decode wallet %s: %w", w.Address, err)
		}
	}
	return w, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var (
	_ port.AlertRecorder   = (*Repo)(nil)
	_ port.AlertHistory    = (*Repo)(nil)
	_ port.WalletDirectory = (*Repo)(nil)
)
