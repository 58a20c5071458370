package binance

import "time"

// Backoff 流重连退避
//
// attempts 先自增再计算：2s, 4s, 8s, 16s, 30s, 30s, 60s x4, 然后 300s 并清零。
type Backoff struct {
	attempts int
}

func (b *Backoff) Next() time.Duration {
	b.attempts++
	switch {
	case b.attempts > 10:
		b.attempts = 0
		return 300 * time.Second
	case b.attempts > 6:
		return 60 * time.Second
	}
	d := time.Duration(1000<<b.attempts) * time.Millisecond
	return minDur(d, 30*time.Second)
}

func (b *Backoff) Reset() { b.attempts = 0 }

func (b *Backoff) Attempts() int { return b.attempts }

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
