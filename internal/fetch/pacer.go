package fetch

import (
	"sync"
	"time"
)

// HostPacer enforces a minimum spacing between fetches to the same host.
// Slots are reserved under the lock; the caller sleeps outside it, so two
// workers hitting the same host serialize without blocking other hosts.
type HostPacer struct {
	mu   sync.Mutex
	next map[string]time.Time
	now  func() time.Time
}

// NewHostPacer builds an empty pacer.
func NewHostPacer() *HostPacer {
	return &HostPacer{next: make(map[string]time.Time), now: time.Now}
}

// Reserve claims the next fetch slot for a host and returns how long the
// caller must wait before using it.
func (p *HostPacer) Reserve(host string, minDelay time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	slot, ok := p.next[host]
	if !ok || slot.Before(now) {
		slot = now
	}
	p.next[host] = slot.Add(minDelay)
	return slot.Sub(now)
}
