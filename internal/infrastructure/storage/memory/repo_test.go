package memory

import (
	"context"
	"errors"
	"testing"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/model"
)

func seeded() *Repo {
	const now = int64(1700000000000)
	return New(model.SeedWallets(now), model.SeedWhaleAlerts(now), 5)
}

func TestSearchWallets(t *testing.T) {
	r := seeded()
	ctx := context.Background()

	cases := []struct {
		q    string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"WHALE", 1},
		{"0x742D", 1},
		{"binance", 1},
		{"fund", 1},
		{"0x", 3},
		{"nothing-here", 0},
	}
	for _, c := range cases {
		got, err := r.SearchWallets(ctx, c.q)
		if err != nil {
			t.Fatalf("search %q: %v", c.q, err)
		}
		if got == nil {
			t.Fatalf("search %q returned nil slice", c.q)
		}
		if len(got) != c.want {
			t.Errorf("search %q: got %d hits, want %d", c.q, len(got), c.want)
		}
	}
}

func TestFindWallet(t *testing.T) {
	r := seeded()
	w, err := r.FindWallet(context.Background(), "0X742D35CC6634C0532925A3B844BC454E4438F44E")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if w.Owner != "Whale Fund B" || len(w.Transactions) != 4 {
		t.Errorf("unexpected profile: %+v", w)
	}

	if _, err := r.FindWallet(context.Background(), "0xdead"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordAlertNewestFirstAndCapped(t *testing.T) {
	r := seeded()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := r.RecordAlert(ctx, model.WhaleAlert{ID: id}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, _ := r.Recent(ctx, 50)
	if len(got) != 5 {
		t.Fatalf("expected capped history of 5, got %d", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" || got[3].ID != "alert-1" {
		t.Errorf("unexpected order: %v %v %v", got[0].ID, got[1].ID, got[3].ID)
	}

	two, _ := r.Recent(ctx, 2)
	if len(two) != 2 {
		t.Errorf("expected limit respected, got %d", len(two))
	}
}
