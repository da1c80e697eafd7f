package fetch

import (
	"testing"
	"time"
)

func TestPacerFirstReserveIsImmediate(t *testing.T) {
	p := NewHostPacer()
	if wait := p.Reserve("a.com", 200*time.Millisecond); wait != 0 {
		t.Fatalf("first Reserve wait = %v, want 0", wait)
	}
}

func TestPacerSpacesSameHost(t *testing.T) {
	p := NewHostPacer()
	base := time.Now()
	p.now = func() time.Time { return base }

	if wait := p.Reserve("a.com", 200*time.Millisecond); wait != 0 {
		t.Fatalf("wait = %v, want 0", wait)
	}
	if wait := p.Reserve("a.com", 200*time.Millisecond); wait != 200*time.Millisecond {
		t.Fatalf("wait = %v, want 200ms", wait)
	}
	if wait := p.Reserve("a.com", 200*time.Millisecond); wait != 400*time.Millisecond {
		t.Fatalf("wait = %v, want 400ms", wait)
	}
}

func TestPacerHostsAreIndependent(t *testing.T) {
	p := NewHostPacer()
	base := time.Now()
	p.now = func() time.Time { return base }

	p.Reserve("a.com", 200*time.Millisecond)
	if wait := p.Reserve("b.com", 200*time.Millisecond); wait != 0 {
		t.Fatalf("b.com wait = %v, want 0", wait)
	}
}

func TestPacerStaleSlotResets(t *testing.T) {
	p := NewHostPacer()
	base := time.Now()
	p.now = func() time.Time { return base }
	p.Reserve("a.com", 200*time.Millisecond)

	// well past the reserved slot: no wait accumulates
	p.now = func() time.Time { return base.Add(5 * time.Second) }
	if wait := p.Reserve("a.com", 200*time.Millisecond); wait != 0 {
		t.Fatalf("wait after idle gap = %v, want 0", wait)
	}
}
