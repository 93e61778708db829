package ghapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// maxWaitPerCycle caps a single sleep inside WaitForAvailable so the
// loop re-checks the stop predicate at a sane cadence even when a reset
// is far away.
const maxWaitPerCycle = 30 * time.Second

// Client is one authenticated (or anonymous) API connection with its
// own three quota buckets. Owned exclusively by the Pool; bucket state
// is mutated only through the pool's update methods.
type Client struct {
	Label         string
	Authenticated bool

	httpc   *http.Client
	buckets [numBucketClasses]Bucket
}

// Bucket returns the named quota bucket for inspection.
func (c *Client) Bucket(class BucketClass) Bucket {
	return c.buckets[class]
}

// Pool owns every API client and arbitrates access per bucket class.
// Selection is round-robin with an independent cursor per class, so an
// exhausted search bucket never starves core-class work.
type Pool struct {
	mu         sync.Mutex
	clients    []*Client
	cursors    [numBucketClasses]int
	thresholds Thresholds
}

// NewPool builds a pool from the provisioned tokens, one client per
// token. Tokens are expected to belong to distinct accounts so their
// quotas are independent. With no tokens at all a single anonymous
// client is created; it works, with a severely reduced quota ceiling.
func NewPool(tokens []string) *Pool {
	return NewPoolWithThresholds(tokens, DefaultThresholds)
}

// NewPoolWithThresholds is NewPool with explicit limited-state margins,
// primarily for tests.
func NewPoolWithThresholds(tokens []string, th Thresholds) *Pool {
	p := &Pool{thresholds: th}

	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
		p.clients = append(p.clients, &Client{
			Label:         clientLabel(i),
			Authenticated: true,
			httpc:         oauth2.NewClient(context.Background(), src),
		})
	}

	if len(p.clients) == 0 {
		logrus.Warn("no API tokens provisioned; using a single anonymous client with a reduced quota ceiling")
		p.clients = append(p.clients, &Client{
			Label: "anonymous",
			httpc: &http.Client{Timeout: 30 * time.Second},
		})
	}

	return p
}

func clientLabel(i int) string {
	if i == 0 {
		return "primary"
	}
	return fmt.Sprintf("token-%d", i+1)
}

// Clients returns the pool's clients, for calibration and reporting.
func (p *Pool) Clients() []*Client {
	return p.clients
}

// nextAvailable cycles indexes starting at cursor and returns the first
// index satisfying ok, along with the advanced cursor. Pure over its
// inputs so selection is testable without timers.
func nextAvailable(n, cursor int, ok func(int) bool) (idx, next int, found bool) {
	for i := 0; i < n; i++ {
		j := (cursor + i) % n
		if ok(j) {
			return j, (j + 1) % n, true
		}
	}
	return 0, cursor, false
}

// Select returns a client whose named bucket is open, round-robin from
// the per-class cursor. When every bucket is limited it returns the
// client with the soonest reset; callers are expected to have waited
// via WaitForAvailable first.
func (p *Pool) Select(class BucketClass) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	idx, next, found := nextAvailable(len(p.clients), p.cursors[class], func(i int) bool {
		return p.clients[i].buckets[class].clearIfExpired(now)
	})
	if found {
		p.cursors[class] = next
		return p.clients[idx]
	}

	// All limited: soonest reset wins.
	best := p.clients[0]
	for _, c := range p.clients[1:] {
		if c.buckets[class].ResetAt.Before(best.buckets[class].ResetAt) {
			best = c
		}
	}
	return best
}

// AllLimited reports whether every client's named bucket is limited,
// opportunistically clearing any bucket whose reset time has passed.
func (p *Pool) AllLimited(class BucketClass) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allLimitedLocked(class)
}

func (p *Pool) allLimitedLocked(class BucketClass) bool {
	now := time.Now()
	for _, c := range p.clients {
		if c.buckets[class].clearIfExpired(now) {
			return false
		}
	}
	return true
}

// AnyLimited reports whether any bucket of any client is still limited,
// surfaced as the output's rateLimited flag.
func (p *Pool) AnyLimited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, c := range p.clients {
		for class := 0; class < numBucketClasses; class++ {
			if !c.buckets[class].clearIfExpired(now) {
				return true
			}
		}
	}
	return false
}

// UpdateFromResponse refreshes a client's bucket from response headers
// after every API call.
func (p *Pool) UpdateFromResponse(c *Client, class BucketClass, h http.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := &c.buckets[class]
	b.UpdateFromHeader(h, p.thresholds.forClass(class))
	if b.Limited {
		logrus.Debugf("client %s %s bucket limited (remaining=%d, resets %s)",
			c.Label, class, b.Remaining, b.ResetAt.Format(time.TimeOnly))
	}
}

// MarkLimited forces a client's bucket into the limited state after a
// 403/429/422 rate-limit error, for when headers are absent or
// untrustworthy.
func (p *Pool) MarkLimited(c *Client, class BucketClass, resetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.buckets[class].markLimited(resetAt)
	logrus.Debugf("client %s %s bucket marked limited until %s",
		c.Label, class, c.buckets[class].ResetAt.Format(time.TimeOnly))
}

// applyCalibration seeds a bucket from a quota-probe response entry.
func (p *Pool) applyCalibration(c *Client, class BucketClass, e rateLimitEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := &c.buckets[class]
	b.Limit = e.Limit
	b.Remaining = e.Remaining
	b.Used = e.Used
	b.ResetAt = time.Unix(e.Reset, 0)
	b.Limited = e.Remaining <= p.thresholds.forClass(class) && time.Now().Before(b.ResetAt)
}

func (p *Pool) earliestReset(class BucketClass) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	earliest := p.clients[0].buckets[class].ResetAt
	for _, c := range p.clients[1:] {
		if r := c.buckets[class].ResetAt; r.Before(earliest) {
			earliest = r
		}
	}
	return earliest
}

// WaitForAvailable blocks until some client's bucket for the class is
// open, sleeping in capped slices until the earliest reset. It returns
// false when shouldStop reports the run is out of time or the context
// is cancelled; callers abandon the call rather than keep waiting.
func (p *Pool) WaitForAvailable(ctx context.Context, class BucketClass, shouldStop func() bool) bool {
	for {
		if !p.AllLimited(class) {
			return true
		}
		if shouldStop() {
			return false
		}

		wait := time.Until(p.earliestReset(class)) + time.Second
		if wait > maxWaitPerCycle {
			wait = maxWaitPerCycle
		}
		if wait < time.Second {
			wait = time.Second
		}
		logrus.Infof("all clients limited on %s; waiting %s", class, wait.Round(time.Second))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}
