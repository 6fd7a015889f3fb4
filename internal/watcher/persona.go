// Package watcher reloads the assistant persona when its file changes on disk.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"senteros-chat/internal/assistant"
)

// DefaultDebounce coalesces the burst of events editors emit on save
const DefaultDebounce = 250 * time.Millisecond

// PersonaTarget receives reloaded personas
type PersonaTarget interface {
	SetPersona(persona *assistant.Persona)
}

// PersonaWatcher watches one persona file
type PersonaWatcher struct {
	path     string
	target   PersonaTarget
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	reloads atomic.Int64
}

// NewPersonaWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewPersonaWatcher(path string, target PersonaTarget, debounce time.Duration) *PersonaWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &PersonaWatcher{
		path:     filepath.Clean(path),
		target:   target,
		debounce: debounce,
	}
}

// Start loads the current file, if any, and begins watching its directory.
// Calling Start on a running watcher is a no-op.
func (w *PersonaWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		log.Printf("[Watcher] Persona watcher already running path=%s", w.path)
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watching the directory survives editors that save by rename
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if _, err := os.Stat(w.path); err == nil {
		w.reload()
	}

	w.watcher = fsw
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true

	w.wg.Add(1)
	go w.run(w.ctx, fsw)

	log.Printf("[Watcher] Persona watcher started path=%s debounce=%v", w.path, w.debounce)
	return nil
}

// Stop ends watching and waits for the event loop to exit
func (w *PersonaWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	fsw := w.watcher
	w.mu.Unlock()

	fsw.Close()
	w.wg.Wait()
	log.Printf("[Watcher] Persona watcher stopped path=%s reloads=%d", w.path, w.reloads.Load())
}

// Reloads returns how many times a persona was applied
func (w *PersonaWatcher) Reloads() int64 {
	return w.reloads.Load()
}

func (w *PersonaWatcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[Watcher] Persona watcher error path=%s err=%v", w.path, err)
		}
	}
}

// reload applies the file; a missing or invalid file keeps the current persona
func (w *PersonaWatcher) reload() {
	persona, err := assistant.LoadPersona(w.path)
	if err != nil {
		log.Printf("[Watcher] Persona reload failed: keeping current path=%s err=%v", w.path, err)
		return
	}
	w.target.SetPersona(persona)
	n := w.reloads.Add(1)
	log.Printf("[Watcher] Persona reloaded path=%s reloads=%d", w.path, n)
}
