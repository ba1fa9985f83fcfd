package worker

import "time"

// Backoff is base * 2^(n-1) for attempt n, capped at Max when Max > 0.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		if d > (1<<62)/2 {
			d = 1 << 62
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
