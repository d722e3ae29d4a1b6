package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction checks the module switch and then the "module.action" switch.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return Guard(p, module+"."+action)
}

// Pauses is an in-memory PauseView operators can toggle at runtime.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses returns a registry with the supplied keys paused.
func NewPauses(keys ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, key := range keys {
		p.Set(key, true)
	}
	return p
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[normalizeKey(module)]
}

// Set toggles a module or module.action switch.
func (p *Pauses) Set(key string, paused bool) {
	key = normalizeKey(key)
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[key] = true
		return
	}
	delete(p.paused, key)
}

// List returns the paused keys in sorted order.
func (p *Pauses) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.paused))
	for key := range p.paused {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
