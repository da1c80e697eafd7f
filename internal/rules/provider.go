package rules

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

// Provider owns the current compiled engine for a category and handles hot
// reloads. A bundle rewrite compiles a fresh engine off-thread; the swap only
// becomes visible when Advance is called, which the orchestrator does at a
// round boundary.
type Provider struct {
	helperRoot string
	category   string
	current    atomic.Pointer[Engine]
	pending    atomic.Pointer[Engine]
}

// NewProvider compiles the initial engine for a category.
func NewProvider(helperRoot, category string) (*Provider, error) {
	eng, err := NewEngine(helperRoot, category)
	if err != nil {
		return nil, err
	}
	p := &Provider{helperRoot: helperRoot, category: category}
	p.current.Store(eng)
	return p, nil
}

// Engine returns the engine currently in effect.
func (p *Provider) Engine() *Engine { return p.current.Load() }

// Advance swaps in a pending reloaded engine, if any. Returns true when a
// swap happened.
func (p *Provider) Advance() bool {
	next := p.pending.Swap(nil)
	if next == nil {
		return false
	}
	p.current.Store(next)
	return true
}

// Watch recompiles the bundle whenever its generated directory changes. The
// recompiled engine is staged for the next Advance. Blocks until ctx is done.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := BundleDir(p.helperRoot, p.category)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	log := logging.Get(logging.CategoryRules)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".json" {
				continue
			}
			eng, err := NewEngine(p.helperRoot, p.category)
			if err != nil {
				log.Warn("bundle reload failed, keeping current engine", logging.Err(err))
				continue
			}
			p.pending.Store(eng)
			log.Info("bundle recompiled, staged for next round boundary")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("bundle watcher error", logging.Err(err))
		}
	}
}
