package boundary

import (
	"strings"
	"sync"
)

// registry decides which targets count as user code.
type registry struct {
	mu       sync.RWMutex
	names    map[string]struct{}
	patterns []string
}

func newRegistry() *registry {
	return &registry{names: make(map[string]struct{})}
}

// mark registers functions, method expressions or method values by their
// runtime name.
func (r *registry) mark(fns ...any) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, fn := range fns {
		t, err := resolve(Call{Fn: fn})
		if err != nil || t.name == "" {
			continue
		}
		r.names[t.name] = struct{}{}
		n++
	}
	return n
}

// monitor adds package patterns. A pattern is an import path, or an import
// path followed by "/..." to include every package below it.
func (r *registry) monitor(patterns ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			r.patterns = append(r.patterns, p)
		}
	}
}

func (r *registry) instrumented(t *target) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.names[t.name]; ok && t.name != "" {
		return true
	}
	for _, p := range r.patterns {
		if matchPackage(p, t.pkg) {
			return true
		}
	}
	return false
}

func matchPackage(pattern, pkg string) bool {
	if pkg == "" {
		return false
	}
	if base, ok := strings.CutSuffix(pattern, "/..."); ok {
		return pkg == base || strings.HasPrefix(pkg, base+"/")
	}
	return pkg == pattern
}
