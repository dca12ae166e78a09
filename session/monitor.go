package session

import (
	"sync"
	"time"
)

// DefaultCheckInterval is how often the inactivity monitor polls.
const DefaultCheckInterval = time.Minute

// ExpiryChecker reports whether the session has been idle for longer than
// timeout. *TokenStore implements it.
type ExpiryChecker interface {
	IsExpired(timeout time.Duration) bool
}

// StartMonitor polls checker every interval. The first time it reports
// expiry, onExpired is called once and polling ends. The returned stop
// function ends polling; it is safe to call more than once and from within
// onExpired.
func StartMonitor(checker ExpiryChecker, timeout, interval time.Duration, onExpired func()) (stop func()) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	stopCh := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(stopCh) }) }

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if !checker.IsExpired(timeout) {
					continue
				}
				select {
				case <-stopCh:
					return
				default:
				}
				stop()
				onExpired()
				return
			}
		}
	}()
	return stop
}
