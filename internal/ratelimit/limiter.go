// Package ratelimit gates inbound traffic with in-process token buckets,
// one bucket per (client, API class) pair.
package ratelimit

import (
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrTooManyRequests is surfaced to callers when a bucket is exhausted.
// It must reach the user as a distinct error, never be swallowed.
var ErrTooManyRequests = errors.New("too many requests")

// Class buckets requests by API surface. Chat runs materially hotter
// than auth to match legitimate message-send cadence.
type Class string

const (
	ClassAuth     Class = "auth"
	ClassChat     Class = "chat"
	ClassPost     Class = "post"
	ClassLocation Class = "location"
	ClassGeneral  Class = "general"
)

// perMinute is the static policy per class: bucket capacity and refill
// allowance per minute. Bucket creation depends on nothing else.
var perMinute = map[Class]int{
	ClassAuth:     5,
	ClassChat:     50,
	ClassPost:     20,
	ClassLocation: 30,
	ClassGeneral:  100,
}

// Result reports one gate decision plus the metadata the transport
// attaches to responses.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type bucketKey struct {
	client string
	class  Class
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

func limitFor(class Class) int {
	if n, ok := perMinute[class]; ok {
		return n
	}
	return perMinute[ClassGeneral]
}

// Allow consumes one token from the client's bucket for the class,
// lazily creating the bucket from the class policy. On denial the result
// carries a retry-after hint computed from the refill schedule.
func (l *Limiter) Allow(clientID string, class Class) Result {
	limit := limitFor(class)

	k := bucketKey{client: clientID, class: class}
	l.mu.Lock()
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit)}
		l.buckets[k] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()

	if b.lim.Allow() {
		remaining := int(math.Floor(b.lim.Tokens()))
		if remaining < 0 {
			remaining = 0
		}
		return Result{Allowed: true, Limit: limit, Remaining: remaining}
	}

	r := b.lim.Reserve()
	delay := r.Delay()
	r.Cancel()
	return Result{Allowed: false, Limit: limit, RetryAfter: delay}
}

// Sweep drops buckets idle for longer than maxIdle and returns how many
// went. Active clients never notice; their buckets are recreated full
// only after a quiet period longer than any refill interval.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Size reports the current bucket count, for the sweep log line.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
