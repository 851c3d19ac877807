package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"cohortweaver/internal/core"
)

const shardCount = 32

type buildShard struct {
	mu       sync.Mutex
	inflight map[core.Fingerprint]*build
}

// Coordinator implements Manager over a Store.
//
// The in-flight registry is process-wide: every run sharing a Coordinator
// observes the same builders, so concurrent runs never build the same
// fingerprint twice. It is safe for concurrent use.
type Coordinator struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time

	// CommitRetries bounds how often a failed store write is retried before
	// Commit gives up and reports a cache error.
	CommitRetries uint64

	newBackOff func() backoff.BackOff

	shards [shardCount]buildShard
}

// NewCoordinator returns a Coordinator persisting into store.
func NewCoordinator(store Store, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Coordinator{
		store:         store,
		log:           log.WithField("component", "cache"),
		now:           time.Now,
		CommitRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
	for i := range c.shards {
		c.shards[i].inflight = make(map[core.Fingerprint]*build)
	}
	return c
}

func (c *Coordinator) shard(fp core.Fingerprint) *buildShard {
	return &c.shards[xxhash.Sum64String(string(fp))%shardCount]
}

// TryGet implements Manager.
func (c *Coordinator) TryGet(ctx context.Context, fp core.Fingerprint) (*core.IdentifierSet, bool, error) {
	entry, err := c.store.Get(ctx, fp)
	if err != nil {
		metrics.lookups.WithLabelValues("error").Inc()
		return nil, false, core.NewError(core.ErrCache, "", err, "reading %s", fp.Short())
	}
	if entry == nil || entry.Identifiers == nil {
		metrics.lookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	metrics.lookups.WithLabelValues("hit").Inc()
	return entry.Identifiers, true, nil
}

// Acquire implements Manager.
func (c *Coordinator) Acquire(ctx context.Context, fp core.Fingerprint) (Acquisition, error) {
	if err := ctx.Err(); err != nil {
		return Acquisition{}, err
	}
	s := c.shard(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.inflight[fp]; ok {
		metrics.buildWaits.Inc()
		return Acquisition{Building: b.done}, nil
	}
	b := &build{done: make(chan struct{}), started: c.now()}
	s.inflight[fp] = b
	metrics.inflight.Inc()
	return Acquisition{Token: &BuildToken{fp: fp, build: b}}, nil
}

// Commit implements Manager.
func (c *Coordinator) Commit(ctx context.Context, token *BuildToken, ids *core.IdentifierSet) error {
	if token == nil {
		return fmt.Errorf("commit: nil build token")
	}
	defer c.finish(token)

	entry := &Entry{Fingerprint: token.fp, Identifiers: ids, CreatedAt: c.now().UTC()}
	attempt := 0
	op := func() error {
		attempt++
		return c.store.Put(ctx, entry)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.CommitRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		metrics.commits.WithLabelValues("error").Inc()
		return core.NewError(core.ErrCache, "", err, "storing %s after %d attempts", token.fp.Short(), attempt)
	}
	metrics.commits.WithLabelValues("ok").Inc()
	metrics.buildDuration.Observe(c.now().Sub(token.build.started).Seconds())
	return nil
}

// Release implements Manager.
func (c *Coordinator) Release(token *BuildToken, cause error) {
	if token == nil {
		return
	}
	c.log.WithFields(logrus.Fields{
		"fingerprint": token.fp.Short(),
		"cause":       cause,
	}).Debug("Build released without result")
	c.finish(token)
}

func (c *Coordinator) finish(token *BuildToken) {
	token.once.Do(func() {
		s := c.shard(token.fp)
		s.mu.Lock()
		if s.inflight[token.fp] == token.build {
			delete(s.inflight, token.fp)
		}
		s.mu.Unlock()
		metrics.inflight.Dec()
		close(token.build.done)
	})
}

// Invalidate implements Manager.
func (c *Coordinator) Invalidate(ctx context.Context, fp core.Fingerprint) error {
	if err := c.store.Delete(ctx, fp); err != nil {
		return core.NewError(core.ErrCache, "", err, "invalidating %s", fp.Short())
	}
	c.log.WithField("fingerprint", fp.Short()).Debug("Cache entry invalidated")
	return nil
}

// InFlight returns the number of builds currently holding a token.
func (c *Coordinator) InFlight() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.inflight)
		s.mu.Unlock()
	}
	return n
}
