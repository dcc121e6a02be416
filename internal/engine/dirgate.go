package engine

import (
	"context"
	"fmt"
	"sync"
)

// dirGate lets workers wait until the staging directory for a path exists.
// The dispatcher calls expect before handing a directory to a worker; the
// worker that creates it calls resolve. Entries arrive parent-first and
// tasks are taken in FIFO order, so a waiter's directory is always held by
// a worker that is already running.
type dirGate struct {
	mu   sync.Mutex
	dirs map[string]*dirState
}

type dirState struct {
	done chan struct{}
	err  error
}

func newDirGate() *dirGate {
	g := &dirGate{dirs: make(map[string]*dirState)}
	g.expect(".")
	g.resolve(".", nil)
	return g
}

func (g *dirGate) expect(rel string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dirs[rel]; !ok {
		g.dirs[rel] = &dirState{done: make(chan struct{})}
	}
}

// resolve records the creation result for rel and wakes its waiters. Only
// the first call for a path has any effect.
func (g *dirGate) resolve(rel string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.dirs[rel]
	if !ok {
		st = &dirState{done: make(chan struct{})}
		g.dirs[rel] = st
	}
	select {
	case <-st.done:
		return
	default:
	}
	st.err = err
	close(st.done)
}

// wait blocks until rel has been resolved. It fails with ErrParentMissing
// when the directory was never expected or could not be created.
func (g *dirGate) wait(ctx context.Context, rel string) error {
	g.mu.Lock()
	st, ok := g.dirs[rel]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", rel, ErrParentMissing)
	}

	select {
	case <-st.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if st.err != nil {
		return fmt.Errorf("%s: %w", rel, ErrParentMissing)
	}
	return nil
}
