package shadow

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/taintflow/internal/taint/goid"
)

// rmutex is a mutex the owning goroutine may acquire again.
//
// Handlers hold the store lock while they call helpers that take it
// themselves; a plain sync.Mutex would deadlock there.
type rmutex struct {
	mu    sync.Mutex
	owner atomic.Int64 // goroutine ID of the holder, 0 when free
	depth int          // guarded by mu
}

func (m *rmutex) Lock() {
	g := goid.Current()
	if g != 0 && m.owner.Load() == g {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(g)
	m.depth = 1
}

func (m *rmutex) Unlock() {
	m.depth--
	if m.depth > 0 {
		return
	}
	m.owner.Store(0)
	m.mu.Unlock()
}
