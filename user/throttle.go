package user

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/donorhub/internal/derrors"
)

// limits configures one failure limiter: lockout starts at maxFailures
// consecutive failures and doubles per further failure up to maxLockout.
type limits struct {
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	expiry      time.Duration
}

var (
	accountLimits = limits{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
	ipLimits      = limits{maxFailures: 20, baseLockout: time.Minute, maxLockout: 30 * time.Minute, expiry: time.Hour}
	// resetLimits counts wrong password reset codes per account.
	resetLimits   = limits{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// failureLimiter tracks failed attempts per key. Account keys are email
// lookup ciphertexts, never raw addresses.
type failureLimiter struct {
	mu       sync.Mutex
	limits   limits
	now      func() time.Time
	attempts map[string]*attemptRecord
}

func newFailureLimiter(l limits, now func() time.Time) *failureLimiter {
	return &failureLimiter{limits: l, now: now, attempts: make(map[string]*attemptRecord)}
}

// check reports whether key is locked out and for how long.
func (rl *failureLimiter) check(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.limits.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *failureLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.limits.maxFailures {
		lockout := rl.limits.baseLockout
		for i := 0; i < rec.failures-rl.limits.maxFailures; i++ {
			lockout *= 2
			if lockout > rl.limits.maxLockout {
				lockout = rl.limits.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *failureLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep drops expired records.
func (rl *failureLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.limits.expiry {
			delete(rl.attempts, key)
		}
	}
}

// LockedError is returned by Login and the password reset calls while an
// account or source address is locked out after repeated failures.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts; retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return derrors.ErrUnauthorized }

// loginThrottle combines the per-account and per-address limiters.
type loginThrottle struct {
	accounts *failureLimiter
	ips      *failureLimiter
}

func newLoginThrottle(now func() time.Time) *loginThrottle {
	return &loginThrottle{
		accounts: newFailureLimiter(accountLimits, now),
		ips:      newFailureLimiter(ipLimits, now),
	}
}

func (t *loginThrottle) check(account, ip string) error {
	if blocked, wait := t.accounts.check(account); blocked {
		return &LockedError{RetryAfter: wait}
	}
	if ip == "" {
		return nil
	}
	if blocked, wait := t.ips.check(ip); blocked {
		return &LockedError{RetryAfter: wait}
	}
	return nil
}

func (t *loginThrottle) failure(account, ip string) {
	t.accounts.recordFailure(account)
	if ip != "" {
		t.ips.recordFailure(ip)
	}
}

func (t *loginThrottle) success(account, ip string) {
	t.accounts.recordSuccess(account)
	if ip != "" {
		t.ips.recordSuccess(ip)
	}
}

func (t *loginThrottle) sweep() {
	t.accounts.sweep()
	t.ips.sweep()
}
