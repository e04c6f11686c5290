package round

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcdev12/potgame/go/internal/models"
)

const defaultLimiterSweep = 4096

// accountLimiter throttles purchases per account
type accountLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[models.Account]*rate.Limiter

	// A sweep runs when an insert would grow the map past sweepAt.
	minSweep int
	sweepAt  int
}

func newAccountLimiter(limit rate.Limit, burst int) *accountLimiter {
	return &accountLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[models.Account]*rate.Limiter),
		minSweep: defaultLimiterSweep,
		sweepAt:  defaultLimiterSweep,
	}
}

func (l *accountLimiter) allow(account models.Account, now time.Time) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[account]
	if !ok {
		if len(l.limiters) >= l.sweepAt {
			l.sweep(now)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[account] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// sweep drops limiters whose bucket has refilled, since a fresh limiter behaves the same.
// Caller holds mu.
func (l *accountLimiter) sweep(now time.Time) {
	for account, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, account)
		}
	}
	l.sweepAt = max(l.minSweep, 2*len(l.limiters))
}

func (l *accountLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
