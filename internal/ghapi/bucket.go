package ghapi

import (
	"net/http"
	"strconv"
	"time"
)

// BucketClass names one of the three independent quota windows the API
// enforces. General operations, repository search and code search are
// limited separately; a client exhausted on one class can still serve
// the others.
type BucketClass int

const (
	BucketCore BucketClass = iota
	BucketSearch
	BucketCodeSearch

	numBucketClasses = 3
)

func (c BucketClass) String() string {
	switch c {
	case BucketCore:
		return "core"
	case BucketSearch:
		return "search"
	case BucketCodeSearch:
		return "code_search"
	default:
		return "unknown"
	}
}

// Thresholds holds the per-class "consider this bucket limited" safety
// margins. These are tunable heuristics, not API contracts: search-class
// limits are tiny (tens per minute) so the margin is tight, core limits
// are thousands per hour so a looser margin avoids burning the tail.
type Thresholds struct {
	Core   int
	Search int
}

// DefaultThresholds are the margins used in production runs.
var DefaultThresholds = Thresholds{Core: 50, Search: 2}

func (t Thresholds) forClass(c BucketClass) int {
	if c == BucketCore {
		return t.Core
	}
	return t.Search
}

// Bucket tracks one quota window for one client. Invariant: Limited is
// true iff Remaining is at or below the class threshold and the clock
// has not yet passed ResetAt.
type Bucket struct {
	Limit     int
	Remaining int
	Used      int
	ResetAt   time.Time
	Limited   bool
}

// UpdateFromHeader refreshes the bucket from standard rate-limit
// response headers. Missing or malformed headers leave the previous
// state untouched.
func (b *Bucket) UpdateFromHeader(h http.Header, threshold int) {
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		b.Limit = v
	}
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	b.Remaining = remaining
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Used")); err == nil {
		b.Used = v
	}
	if v, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		b.ResetAt = time.Unix(v, 0)
	}
	b.Limited = remaining <= threshold && time.Now().Before(b.ResetAt)
}

// markLimited forces the limited state, used on rate-limit error
// responses when headers are absent or not trustworthy. A zero resetAt
// falls back to one minute out so the bucket eventually self-clears.
func (b *Bucket) markLimited(resetAt time.Time) {
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Minute)
	}
	b.Limited = true
	b.Remaining = 0
	b.ResetAt = resetAt
}

// clearIfExpired drops the limited flag once the reset time has passed
// and restores the full window. Returns true if the bucket is now open.
func (b *Bucket) clearIfExpired(now time.Time) bool {
	if b.Limited && now.After(b.ResetAt) {
		b.Limited = false
		b.Remaining = b.Limit
		b.Used = 0
	}
	return !b.Limited
}

// parseResetHeader extracts the reset time from a rate-limit error
// response, preferring X-RateLimit-Reset and falling back to
// Retry-After seconds. Zero time when neither is present.
func parseResetHeader(h http.Header) time.Time {
	if v, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil && v > 0 {
		return time.Unix(v, 0)
	}
	if v, err := strconv.Atoi(h.Get("Retry-After")); err == nil && v > 0 {
		return time.Now().Add(time.Duration(v) * time.Second)
	}
	return time.Time{}
}
