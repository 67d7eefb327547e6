package courseplanner

import (
	"log"
	"sync"
	"time"
)

// rateLimitedLogger drops messages arriving within interval of the last one
// it printed.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{interval: interval}
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		return
	}
	l.lastAt = now
	if l.dropped > 0 {
		log.Printf("(%d similar messages suppressed)", l.dropped)
		l.dropped = 0
	}
	log.Printf(format, args...)
}
