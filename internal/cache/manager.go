package cache

import (
	"context"
	"sync"
	"time"

	"cohortweaver/internal/core"
)

// Manager is the contract the runner requires of a result cache.
//
// For a given fingerprint at most one build is in flight at any time across
// all callers sharing the Manager. A caller that finds a build in flight waits
// on Acquisition.Building and then looks the result up again.
type Manager interface {
	// TryGet returns the cached identifiers for fp, if any.
	TryGet(ctx context.Context, fp core.Fingerprint) (*core.IdentifierSet, bool, error)

	// Acquire grants the exclusive right to build fp, or reports that another
	// caller already holds it.
	Acquire(ctx context.Context, fp core.Fingerprint) (Acquisition, error)

	// Commit publishes a built result and wakes blocked followers. The token
	// is released even when storing fails.
	Commit(ctx context.Context, token *BuildToken, ids *core.IdentifierSet) error

	// Release gives up a token without publishing; followers race to rebuild.
	Release(token *BuildToken, cause error)

	// Invalidate evicts fp.
	Invalidate(ctx context.Context, fp core.Fingerprint) error
}

// Acquisition is the result of Manager.Acquire. Exactly one of Token and
// Building is set.
type Acquisition struct {
	// Token is the exclusive right to build.
	Token *BuildToken

	// Building is closed once the current builder commits or releases.
	Building <-chan struct{}
}

// Acquired reports whether the caller now holds the build token.
func (a Acquisition) Acquired() bool { return a.Token != nil }

// BuildToken is an exclusivity grant for one fingerprint. It is finished
// exactly once, by Commit or Release.
type BuildToken struct {
	fp    core.Fingerprint
	build *build
	once  sync.Once
}

// Fingerprint returns the fingerprint the token grants.
func (t *BuildToken) Fingerprint() core.Fingerprint { return t.fp }

type build struct {
	done    chan struct{}
	started time.Time
}

// Entry is one stored result.
type Entry struct {
	Fingerprint core.Fingerprint    `json:"fingerprint"`
	Identifiers *core.IdentifierSet `json:"identifiers"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Store is the storage medium behind a Coordinator.
//
// Get returns (nil, nil) when no entry exists.
type Store interface {
	Get(ctx context.Context, fp core.Fingerprint) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, fp core.Fingerprint) error
}
