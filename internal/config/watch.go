// ABOUTME: Policy hot-reload: watches the policy file and swaps snapshots atomically
// ABOUTME: Subscribers are notified after each successful swap

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider owns the current policy snapshot. Reads are a single atomic
// pointer load; reload replaces the whole snapshot and never mutates one
// in place.
type Provider struct {
	path   string
	domain string
	logger *slog.Logger

	snap atomic.Pointer[Snapshot]

	mu   sync.Mutex
	subs []func(*Snapshot)
}

// NewProvider loads the policy file and returns a provider holding its
// first snapshot.
func NewProvider(path, domain string, logger *slog.Logger) (*Provider, error) {
	snap, err := LoadPolicy(path, domain)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		path:   path,
		domain: domain,
		logger: logger.With("component", "policy"),
	}
	p.snap.Store(snap)
	return p, nil
}

// Snapshot returns the current policy snapshot. Safe for concurrent use;
// callers hold the returned snapshot for the duration of one processing
// unit and never longer.
func (p *Provider) Snapshot() *Snapshot {
	return p.snap.Load()
}

// Subscribe registers a callback invoked after every successful reload.
func (p *Provider) Subscribe(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Reload re-reads the policy file and swaps in the new snapshot.
// On parse or validation failure the previous snapshot stays active.
func (p *Provider) Reload() error {
	snap, err := LoadPolicy(p.path, p.domain)
	if err != nil {
		return fmt.Errorf("reloading policy: %w", err)
	}

	p.snap.Store(snap)
	p.logger.Info("policy reloaded",
		"identities", len(snap.byUserID),
		"rooms", len(snap.Rooms),
	)

	p.mu.Lock()
	subs := make([]func(*Snapshot), len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// Watch blocks watching the policy file for changes until the context is
// cancelled. Failed reloads are logged and the previous snapshot remains
// in effect.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which would
	// otherwise drop the watch on the file itself.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("watching policy directory: %w", err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("policy watcher error", "error", err)

		case <-reload:
			if err := p.Reload(); err != nil {
				p.logger.Error("policy reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}
