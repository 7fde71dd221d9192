// Package inflight allows at most one running request per session and action.
package inflight

import (
	"sync"

	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
)

// ErrBusy is returned by Acquire while the same session already has the
// action running.
var ErrBusy = internal_errors.Validation("A request is already in progress. Please wait for it to finish.")

type key struct {
	session string
	action  string
}

type Guard struct {
	mu      sync.Mutex
	running map[key]struct{}
}

func New() *Guard {
	return &Guard{running: make(map[key]struct{})}
}

// Acquire marks the action as running and returns its release func.
func (g *Guard) Acquire(session, action string) (release func(), err error) {
	k := key{session: session, action: action}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[k]; busy {
		return nil, ErrBusy
	}
	g.running[k] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, k)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether the action is running for the session.
func (g *Guard) Busy(session, action string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.running[key{session: session, action: action}]
	return busy
}
