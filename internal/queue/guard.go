package queue

import (
	"context"
	"sync"
)

// Guard grants exclusive ownership of a key without blocking.
//
// TryAcquire returns ok=false when the key is held elsewhere. When ok is true the
// caller owns the key until release is called; release must run exactly once,
// whatever the outcome of the guarded work.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// LocalGuard is an in-process guard: one flag per key, owned by the runner.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: map[string]struct{}{}}
}

func (g *LocalGuard) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently owned.
func (g *LocalGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// ChainGuard acquires every guard in order and releases them in reverse.
// It is used to combine the local flag with a cross-process lock.
type ChainGuard []Guard

func (c ChainGuard) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	undo := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, g := range c {
		release, ok, err := g.TryAcquire(ctx, key)
		if err != nil || !ok {
			undo()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	var once sync.Once
	return func() { once.Do(undo) }, true, nil
}
