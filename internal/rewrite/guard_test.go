package rewrite

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuard_MarkOnce(t *testing.T) {
	ctx, g := WithGuard(context.Background())
	if g.Done() {
		t.Fatal("new guard already done")
	}
	if !g.Mark() {
		t.Fatal("first Mark should succeed")
	}
	if g.Mark() {
		t.Fatal("second Mark should fail")
	}

	_, again := WithGuard(ctx)
	if again != g {
		t.Fatal("WithGuard should reuse the guard in ctx")
	}
}

func TestGuard_IndependentRequests(t *testing.T) {
	_, a := WithGuard(context.Background())
	_, b := WithGuard(context.Background())
	a.Mark()
	if b.Done() {
		t.Fatal("guards of different requests must be independent")
	}
}

func TestGuard_ConcurrentMark(t *testing.T) {
	_, g := WithGuard(context.Background())
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Mark() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want 1", wins.Load())
	}
}

func TestGuardFromContext_Absent(t *testing.T) {
	if _, ok := GuardFromContext(context.Background()); ok {
		t.Fatal("empty context should not carry a guard")
	}
}
