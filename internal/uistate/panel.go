// Package uistate holds presentation state that is independent of the
// question session.
package uistate

import "sync"

// Panel tracks whether the references panel is shown. The zero value is a
// hidden panel.
type Panel struct {
	mu      sync.RWMutex
	visible bool
}

// Show makes the panel visible.
func (p *Panel) Show() {
	p.mu.Lock()
	p.visible = true
	p.mu.Unlock()
}

// Hide hides the panel.
func (p *Panel) Hide() {
	p.mu.Lock()
	p.visible = false
	p.mu.Unlock()
}

// Toggle flips visibility and returns the new value.
func (p *Panel) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = !p.visible
	return p.visible
}

func (p *Panel) Visible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}
