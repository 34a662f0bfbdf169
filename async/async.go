// Package async implements the bounded worker pool + task-group
// abstraction described in spec.md §4.9: a fixed-size pool shared by
// every group, with sub-groups able to spawn and await children without
// deadlocking the pool.
//
// Grounded on two things from the pack: the teacher's reconnect.go
// (clients/go/reconnect.go) for the sync.WaitGroup + mutex lifecycle
// shape of a long-lived worker abstraction, and golang.org/x/sync/semaphore's
// Weighted type for the actual admission control — a plain buffered
// channel (as seen in beenet's fetcher.go) cannot satisfy the "awaiting
// a child group yields the slot back to the pool" requirement, because
// a blocked acquire on a channel holds no weight that can be released
// early; semaphore.Weighted's context-aware Acquire does.
package async

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded worker pool. Every Group created from the same Pool
// (directly or as a sub-group) shares the same capacity, matching
// spec.md §4.9's "thread count fixed at construction".
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool admitting at most n concurrent tasks.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// NewGroup starts a new top-level task group on this pool.
func (p *Pool) NewGroup(ctx context.Context) *Group {
	return &Group{pool: p, ctx: ctx}
}

// Group tracks a batch of related tasks: submit with Run, wait for them
// with Sync. A Group created via NewSubgroup has its own failure state;
// a child's failure reaches the parent only through the return value of
// the parent task that synced it (see NewSubgroup).
type Group struct {
	pool *Pool
	ctx  context.Context

	wg sync.WaitGroup

	mu     sync.Mutex
	failed bool
}

// Run submits task to the group's pool. It blocks only long enough to
// acquire a worker slot (or until ctx is canceled); the task itself
// runs asynchronously. Run is safe to call from within a task running
// on the same pool — see NewSubgroup and Recurse.
func (g *Group) Run(task func(ctx context.Context) error) {
	g.wg.Add(1)

	if err := g.pool.sem.Acquire(g.ctx, 1); err != nil {
		g.markFailed()
		g.wg.Done()
		return
	}

	go func() {
		defer g.pool.sem.Release(1)
		defer g.wg.Done()

		if err := task(g.ctx); err != nil {
			g.markFailed()
		}
	}()
}

func (g *Group) markFailed() {
	g.mu.Lock()
	g.failed = true
	g.mu.Unlock()
}

// Failed reports whether any task submitted to this group has returned
// a non-nil error (or could not acquire a worker slot) so far.
func (g *Group) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// Sync blocks until every task submitted to this group has completed,
// then reports whether all of them succeeded. A failure inside a
// subgroup counts only if the task that synced it returned an error.
func (g *Group) Sync() bool {
	g.wg.Wait()
	return !g.Failed()
}

// NewSubgroup returns a child Group sharing this pool. A task running
// inside g may call NewSubgroup, Run further tasks on it, then call
// Sync on the child. Sync's boolean result is not auto-propagated to
// the parent: the enclosing task must fold it into its own return
// value (typically `return errFromChild` when `!child.Sync()`) for the
// failure to poison g, the same way a directory task's own success
// depends on whatever its submitted children report.
//
// A task dispatching to a subgroup is almost always recursive (a
// directory walking its own children, which may themselves be
// directories), so the dispatch and the following Sync must run inside
// Recurse — see its doc comment for why.
func (g *Group) NewSubgroup() *Group {
	return &Group{pool: g.pool, ctx: g.ctx}
}

// Recurse runs fn with the calling goroutine's own worker slot
// released for fn's duration, reacquiring it before Recurse returns.
//
// A task running on g already holds one of the pool's slots — that is
// how it came to be running at all, via Run's synchronous Acquire. If
// that task then dispatches to a subgroup sharing the same pool (see
// NewSubgroup) and blocks waiting on it, it is holding a slot it no
// longer needs while asking the pool for more: a directory chain
// deeper than the pool's capacity deadlocks solid, every level stuck
// in Run's Acquire or Sync's Wait with no slot left for the next level
// down. Wrapping the dispatch-and-wait in Recurse gives the slot back
// to the pool for exactly the window where this goroutine isn't doing
// any work of its own, so capacity is bounded by how many tasks are
// genuinely running at once, not by tree depth.
func (g *Group) Recurse(fn func()) {
	g.pool.sem.Release(1)
	defer g.pool.sem.Acquire(context.Background(), 1)

	fn()
}
