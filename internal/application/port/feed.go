package port

import (
	"context"

	"mdrelay/internal/domain/model"
)

// MarketFeed is the upstream market-data client.
type MarketFeed interface {
	Start(ctx context.Context)
	Stop()
	// WaitForInitialTicker blocks until the first REST fetch finished or ctx is done.
	WaitForInitialTicker(ctx context.Context) error
}

// AlertSource produces one synthetic whale alert per call.
type AlertSource interface {
	NextAlert(ctx context.Context) model.WhaleAlert
}
