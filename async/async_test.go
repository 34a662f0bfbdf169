package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupRunsAllTasks(t *testing.T) {
	pool := NewPool(4)
	g := pool.NewGroup(context.Background())

	var count int64
	for i := 0; i < 50; i++ {
		g.Run(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}

	if ok := g.Sync(); !ok {
		t.Fatal("expected success")
	}
	if count != 50 {
		t.Fatalf("count = %d, want 50", count)
	}
}

func TestGroupFailurePoisonsResult(t *testing.T) {
	pool := NewPool(4)
	g := pool.NewGroup(context.Background())

	g.Run(func(ctx context.Context) error { return nil })
	g.Run(func(ctx context.Context) error { return errors.New("boom") })
	g.Run(func(ctx context.Context) error { return nil })

	if ok := g.Sync(); ok {
		t.Fatal("expected failure to poison the group")
	}
}

func TestSubgroupDoesNotDeadlockPool(t *testing.T) {
	pool := NewPool(2)
	g := pool.NewGroup(context.Background())

	done := make(chan struct{})

	g.Run(func(ctx context.Context) error {
		child := g.NewSubgroup()
		for i := 0; i < 10; i++ {
			child.Run(func(ctx context.Context) error { return nil })
		}
		ok := child.Sync()
		close(done)
		if !ok {
			return errors.New("child failed")
		}
		return nil
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("parent task deadlocked waiting on its subgroup")
	}

	if ok := g.Sync(); !ok {
		t.Fatal("expected overall success")
	}
}

// TestRecurseAllowsNestingDeeperThanPool builds a chain of nested
// subgroups deeper than the pool's capacity, each level blocking on its
// child's Sync the way putDirectory/restoreChildren do. Without
// Recurse releasing each level's slot for the duration of that wait,
// the chain deadlocks as soon as depth exceeds the pool size.
func TestRecurseAllowsNestingDeeperThanPool(t *testing.T) {
	const poolSize = 3
	const depth = poolSize + 5

	pool := NewPool(poolSize)
	g := pool.NewGroup(context.Background())

	var descend func(g *Group, level int) error
	descend = func(g *Group, level int) error {
		if level == 0 {
			return nil
		}

		sub := g.NewSubgroup()
		var childErr error
		g.Recurse(func() {
			sub.Run(func(ctx context.Context) error {
				childErr = descend(sub, level-1)
				return childErr
			})
			sub.Sync()
		})
		return childErr
	}

	done := make(chan error, 1)
	g.Run(func(ctx context.Context) error {
		done <- descend(g, depth)
		return nil
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("descend: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recursive subgroup chain deeper than pool capacity deadlocked")
	}

	if ok := g.Sync(); !ok {
		t.Fatal("expected overall success")
	}
}

func TestGroupRespectsContextCancellation(t *testing.T) {
	pool := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	g := pool.NewGroup(ctx)

	started := make(chan struct{})
	release := make(chan struct{})
	g.Run(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	cancel()
	g.Run(func(ctx context.Context) error {
		t.Fatal("task should not run after context cancellation blocks acquire")
		return nil
	})

	close(release)
	if ok := g.Sync(); ok {
		t.Fatal("expected cancellation to poison the group")
	}
}
