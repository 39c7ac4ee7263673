package config

import "sync/atomic"

// Provider hands out the current configuration snapshot. Snapshots must be
// treated as read-only.
type Provider interface {
	Current() *ControllerConfig
}

// AtomicProvider is a Provider whose snapshot can be replaced at runtime.
type AtomicProvider struct {
	v atomic.Pointer[ControllerConfig]
}

// NewAtomicProvider returns a provider seeded with cfg.
func NewAtomicProvider(cfg *ControllerConfig) *AtomicProvider {
	p := &AtomicProvider{}
	p.v.Store(cfg)
	return p
}

// Current returns the latest stored snapshot.
func (p *AtomicProvider) Current() *ControllerConfig {
	return p.v.Load()
}

// Store replaces the snapshot.
func (p *AtomicProvider) Store(cfg *ControllerConfig) {
	p.v.Store(cfg)
}

// Static returns a Provider that always yields cfg.
func Static(cfg *ControllerConfig) Provider {
	return NewAtomicProvider(cfg)
}
