package util

import "time"

const maxBackoff = 10

// RateLimiter paces write calls against the review platform. The period
// grows with consecutive errors and shrinks back as calls succeed.
type RateLimiter struct {
	ticker     *time.Ticker
	errorCount int
	baseRate   time.Duration
}

func NewRateLimiter(baseRate time.Duration) RateLimiter {
	rl := RateLimiter{}
	rl.baseRate = baseRate
	rl.ticker = time.NewTicker(rl.baseRate)

	return rl
}

// Tick blocks until the next tick is due.
func (rl *RateLimiter) Tick() {
	if rl.ticker != nil {
		<-rl.ticker.C
	}
}

func (rl *RateLimiter) Close() {
	if rl.ticker != nil {
		rl.ticker.Stop()
	}
}

// UpdateRate adjusts the tick period after a call: errors stretch it up to
// maxBackoff times the base rate, successes relax it again.
func (rl *RateLimiter) UpdateRate(isError bool) {
	update := false
	if isError {
		if rl.errorCount < maxBackoff {
			rl.errorCount++
			update = true
		}
	} else if rl.errorCount > 0 {
		rl.errorCount--
		update = true
	}

	if update {
		tickerRate := rl.baseRate
		if rl.errorCount > 0 {
			tickerRate = rl.baseRate * time.Duration(rl.errorCount)
		}
		rl.ticker.Reset(tickerRate)
	}
}
