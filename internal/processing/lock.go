package processing

import (
	"sync"
	"time"
)

// Lock admits one job at a time process-wide. It is never queued: a caller
// that cannot acquire it is told who holds it.
type Lock struct {
	mu     sync.Mutex
	holder string
	since  time.Time
}

// TryAcquire takes the lock for jobID. When it is already held, ok is false
// and holder names the job in flight.
func (l *Lock) TryAcquire(jobID string) (ok bool, holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false, l.holder
	}
	l.holder = jobID
	l.since = time.Now()
	return true, jobID
}

// Release frees the lock if jobID holds it.
func (l *Lock) Release(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == jobID {
		l.holder = ""
		l.since = time.Time{}
	}
}

// Holder reports the job in flight, if any, and when it was admitted.
func (l *Lock) Holder() (string, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.since, l.holder != ""
}
