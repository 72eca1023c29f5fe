// Package ratelimit provides the per-IP connection throttle applied at
// the WebSocket upgrade endpoint.
package ratelimit

import (
	"sync"
	"time"
)

// IPLimiter tracks connection attempts per IP within a sliding window.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
}

// NewIPLimiter creates an IPLimiter allowing max attempts per window.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	return &IPLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

// Allow returns true if the IP has not exhausted its window. The attempt
// is recorded only when allowed.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.pruneLocked(ip, time.Now())
	if len(valid) >= l.max {
		return false
	}
	l.entries[ip] = append(valid, time.Now())
	return true
}

// Remaining returns how many attempts the IP has left in its window.
func (l *IPLimiter) Remaining(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.max - len(l.pruneLocked(ip, time.Now()))
	if n < 0 {
		return 0
	}
	return n
}

// Reset forgets all recorded attempts for an IP.
func (l *IPLimiter) Reset(ip string) {
	l.mu.Lock()
	delete(l.entries, ip)
	l.mu.Unlock()
}

// pruneLocked drops expired attempts for an IP and returns what remains.
// Empty buckets are removed so the map does not grow with one-off IPs.
// Caller must hold mu.
func (l *IPLimiter) pruneLocked(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	timestamps := l.entries[ip]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(l.entries, ip)
		return nil
	}
	l.entries[ip] = valid
	return valid
}
