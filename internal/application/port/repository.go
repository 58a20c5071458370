package port

import (
	"context"
	"errors"

	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// AlertRecorder 记录新生成的 whale alert（历史 + 发布）
type AlertRecorder interface {
	RecordAlert(ctx context.Context, alert model.WhaleAlert) error
}

// AlertHistory 历史 whale alert 查询
type AlertHistory interface {
	// Recent returns at most limit alerts, newest first.
	Recent(ctx context.Context, limit int) ([]model.WhaleAlert, error)
}

// WalletDirectory 钱包目录
type WalletDirectory interface {
	// SearchWallets matches address, owner or any tag, case-insensitively.
	SearchWallets(ctx context.Context, query string) ([]model.WalletSummary, error)
	// FindWallet returns ErrNotFound when the address is unknown.
	FindWallet(ctx context.Context, address string) (model.WalletProfile, error)
}

// MarketMirror 行情镜像（外部缓存，如 Redis）
type MarketMirror interface {
	MirrorTicker(ctx context.Context, symbol string, t market.Ticker) error
}
