package worker

import (
	"sync"
	"time"
)

// PauseState is the broadcast cell carrying the scheduler's pause instant.
// The scheduler is the only writer; the worker reads it at dequeue time.
// Last write wins.
type PauseState struct {
	mu    sync.RWMutex
	until *time.Time
}

// NewPauseState returns an unpaused cell.
func NewPauseState() *PauseState {
	return &PauseState{}
}

// Set replaces the pause instant. nil clears the pause.
func (p *PauseState) Set(until *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until = until
}

// Until returns the current pause instant, nil when unpaused.
func (p *PauseState) Until() *time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.until
}

// Paused reports whether now falls before the pause instant.
func (p *PauseState) Paused(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.until != nil && now.Before(*p.until)
}
