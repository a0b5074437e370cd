// Package guard serializes balance-mutating operations per account. Every
// mutation in the wallet engine runs entirely inside WithExclusive, so reads
// used to decide mutation eligibility are always fresh.
package guard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
)

type lock struct {
	ch   chan struct{}
	refs int
}

// Guard provides exclusive access to sets of account ids. Lock entries are
// created on demand and removed once no caller references them.
type Guard struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*lock
}

// New creates a guard. A non-positive timeout means acquisition waits until
// the caller's context expires.
func New(timeout time.Duration) *Guard {
	return &Guard{
		timeout: timeout,
		locks:   make(map[string]*lock),
	}
}

// WithExclusive acquires exclusive access to every id in ids, runs fn and
// releases on every exit path. Ids are deduplicated and acquired in sorted
// order so two operations touching the same pair of accounts can never
// deadlock each other.
func (g *Guard) WithExclusive(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	ordered := dedupeSorted(ids)
	if len(ordered) == 0 {
		return fn(ctx)
	}

	var deadline <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	held := make([]*lock, 0, len(ordered))
	for _, id := range ordered {
		l := g.ref(id)
		select {
		case l.ch <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			g.unref(id)
			g.releaseAll(ordered, held)
			return ctx.Err()
		case <-deadline:
			g.unref(id)
			g.releaseAll(ordered, held)
			return fmt.Errorf("%w: account %s", ledger.ErrLockTimeout, id)
		}
	}
	defer g.releaseAll(ordered, held)

	return fn(ctx)
}

func (g *Guard) ref(id string) *lock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &lock{ch: make(chan struct{}, 1)}
		g.locks[id] = l
	}
	l.refs++
	return l
}

func (g *Guard) unref(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(g.locks, id)
	}
}

// releaseAll unlocks the held prefix in reverse acquisition order and drops
// the references taken for it.
func (g *Guard) releaseAll(ordered []string, held []*lock) {
	for i := len(held) - 1; i >= 0; i-- {
		<-held[i].ch
		g.unref(ordered[i])
	}
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}
