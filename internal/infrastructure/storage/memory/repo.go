package memory

import (
	"context"
	"strings"
	"sync"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/model"
)

const defaultHistoryCap = 200

// Repo 进程内目录 + whale alert 历史，没有配置外部存储时使用
type Repo struct {
	mu      sync.RWMutex
	alerts  []model.WhaleAlert // newest first
	cap     int
	wallets []model.WalletProfile
}

func New(wallets []model.WalletProfile, history []model.WhaleAlert, capacity int) *Repo {
	if capacity <= 0 {
		capacity = defaultHistoryCap
	}
	r := &Repo{cap: capacity, wallets: append([]model.WalletProfile{}, wallets...)}
	r.alerts = append(r.alerts, history...)
	if len(r.alerts) > r.cap {
		r.alerts = r.alerts[:r.cap]
	}
	return r
}

func (r *Repo) RecordAlert(ctx context.Context, a model.WhaleAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append([]model.WhaleAlert{a}, r.alerts...)
	if len(r.alerts) > r.cap {
		r.alerts = r.alerts[:r.cap]
	}
	return nil
}

func (r *Repo) Recent(ctx context.Context, limit int) ([]model.WhaleAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.alerts) {
		limit = len(r.alerts)
	}
	return append([]model.WhaleAlert{}, r.alerts[:limit]...), nil
}

func (r *Repo) SearchWallets(ctx context.Context, query string) ([]model.WalletSummary, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.WalletSummary, 0)
	if q == "" {
		return out, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.Matches(q) {
			out = append(out, w.Summary())
		}
	}
	return out, nil
}

func (r *Repo) FindWallet(ctx context.Context, address string) (model.WalletProfile, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if strings.ToLower(w.Address) == addr {
			return w, nil
		}
	}
	return model.WalletProfile{}, port.ErrNotFound
}

var (
	_ port.AlertRecorder   = (*Repo)(nil)
	_ port.AlertHistory    = (*Repo)(nil)
	_ port.WalletDirectory = (*Repo)(nil)
)
