package root

import (
	"sync"
	"time"
)

// PoisonState records why a root was declared unusable.
type PoisonState struct {
	RootPath string
	Reason   string
	Code     int
	At       time.Time
}

// PoisonLatch is the process-wide poison record, keyed by root path. It is
// created unset, shared by every root in the daemon, and cleared only by
// process restart. Setting an already-set path overwrites the record (last
// write wins) but never un-poisons.
type PoisonLatch struct {
	mu     sync.RWMutex
	states map[string]PoisonState
}

func NewPoisonLatch() *PoisonLatch {
	return &PoisonLatch{
		states: make(map[string]PoisonState),
	}
}

func (l *PoisonLatch) Set(state PoisonState) {
	if l == nil || state.RootPath == "" {
		return
	}
	if state.At.IsZero() {
		state.At = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[state.RootPath] = state
}

func (l *PoisonLatch) Get(rootPath string) (PoisonState, bool) {
	if l == nil {
		return PoisonState{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	state, ok := l.states[rootPath]
	return state, ok
}
