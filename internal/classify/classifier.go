package classify

import (
	"context"
	"strings"
	"sync"

	"github.com/parapr/parapr/internal/logging"
)

// Classifier assigns safety verdicts to prompts. Deterministic pattern
// tables run first; inconclusive prompts go to the oracle gateway under a
// fleet-wide concurrency cap. Verdicts are cached per session by content
// fingerprint so a given prompt is classified (and the oracle called) at
// most once until the pane content changes.
type Classifier struct {
	tables  []patternTable
	gateway Gateway // nil when the oracle is disabled
	sem     chan struct{}
	log     *logging.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry // ticket + "\x00" + fingerprint
}

// cacheEntry is a settled or in-flight classification. While in flight,
// done is open and waiters block on it; once settled, result is valid.
type cacheEntry struct {
	done   chan struct{}
	result Result
}

// New creates a Classifier. Pass a nil gateway to run pattern-only; every
// inconclusive prompt then degrades to needs-attention.
func New(gateway Gateway, maxConcurrent int, log *logging.Logger) *Classifier {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Classifier{
		tables:  compileTables(),
		gateway: gateway,
		sem:     make(chan struct{}, maxConcurrent),
		log:     log.WithComponent("classifier"),
		cache:   make(map[string]*cacheEntry),
	}
}

// Classify returns the safety verdict for a prompt observed in the given
// session at the given content fingerprint.
//
// Concurrent calls for the same (ticket, fingerprint) coalesce into one
// computation; later callers wait for and share its result. The caller
// must NOT hold the session lock: oracle calls can take seconds.
func (c *Classifier) Classify(ctx context.Context, ticket, fingerprint, prompt string) Result {
	key := ticket + "\x00" + fingerprint

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok {
		c.mu.Unlock()
		select {
		case <-entry.done:
			return entry.result
		case <-ctx.Done():
			return Result{Verdict: VerdictNeedsAttention, Reason: "classification cancelled", Source: SourceDegraded}
		}
	}
	entry := &cacheEntry{done: make(chan struct{})}
	c.cache[key] = entry
	c.mu.Unlock()

	entry.result = c.classify(ctx, ticket, prompt)
	close(entry.done)
	return entry.result
}

// classify runs one uncached classification.
func (c *Classifier) classify(ctx context.Context, ticket, prompt string) Result {
	if verdict, ok := matchTable(c.tables, prompt); ok {
		result := Result{Verdict: verdict, Reason: "matched " + verdict.String() + " pattern", Source: SourcePattern}
		c.log.Debug("pattern verdict", "ticket", ticket, "verdict", verdict.String())
		return result
	}

	if c.gateway == nil {
		return Result{
			Verdict: VerdictNeedsAttention,
			Reason:  "no oracle configured; ambiguous prompt needs a human",
			Source:  SourceDegraded,
		}
	}

	// Fleet-wide admission control on oracle calls.
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return Result{Verdict: VerdictNeedsAttention, Reason: "oracle admission cancelled", Source: SourceDegraded}
	}

	result, err := c.gateway.Classify(ctx, prompt)
	if err != nil {
		c.log.Warn("oracle degraded, falling back to needs-attention",
			"ticket", ticket, "error", err.Error())
		return Result{
			Verdict: VerdictNeedsAttention,
			Reason:  "oracle unavailable: " + truncate(err.Error(), 120),
			Source:  SourceDegraded,
		}
	}

	c.log.Debug("oracle verdict", "ticket", ticket, "verdict", result.Verdict.String(), "reason", result.Reason)
	return result
}

// ForgetSession drops all cached verdicts for a session. Called when the
// session is destroyed.
func (c *Classifier) ForgetSession(ticket string) {
	prefix := ticket + "\x00"

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
