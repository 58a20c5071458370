package composite

import (
	"context"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
)

// Recorder fans a recorded alert out to every configured store.
type Recorder struct {
	recorders []port.AlertRecorder
}

func NewRecorder(recorders ...port.AlertRecorder) *Recorder {
	// nil recorders are allowed; filter in constructor
	out := make([]port.AlertRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Recorder{recorders: out}
}

func (r *Recorder) Len() int { return len(r.recorders) }

func (r *Recorder) RecordAlert(ctx context.Context, a model.WhaleAlert) error {
	var firstErr error
	for _, rec := range r.recorders {
		if err := rec.RecordAlert(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Mirror fans ticker mirroring out the same way.
type Mirror struct {
	mirrors []port.MarketMirror
}

func NewMirror(mirrors ...port.MarketMirror) *Mirror {
	out := make([]port.MarketMirror, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			out = append(out, m)
		}
	}
	return &Mirror{mirrors: out}
}

func (m *Mirror) Len() int { return len(m.mirrors) }

func (m *Mirror) MirrorTicker(ctx context.Context, symbol string, t market.Ticker) error {
	var firstErr error
	for _, mm := range m.mirrors {
		if err := mm.MirrorTicker(ctx, symbol, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ port.AlertRecorder = (*Recorder)(nil)
	_ port.MarketMirror  = (*Mirror)(nil)
)
