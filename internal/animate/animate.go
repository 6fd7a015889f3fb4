// Package animate reveals an already complete text in small timed chunks.
// It is a cosmetic effect only and never touches network IO.
package animate

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Options controls chunk sizes and pacing
type Options struct {
	MinChunk     int
	MaxChunk     int
	MinDelay     time.Duration
	MaxDelay     time.Duration
	InitialDelay time.Duration
	// Rand is used for chunk lengths and delays; nil uses the global source
	Rand *rand.Rand
}

// DefaultOptions returns 1-3 rune chunks every 10-40ms after a 100ms start delay
func DefaultOptions() Options {
	return Options{
		MinChunk:     1,
		MaxChunk:     3,
		MinDelay:     10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		InitialDelay: 100 * time.Millisecond,
	}
}

// Animator starts reveal runs with shared options
type Animator struct {
	opts Options
	mu   sync.Mutex
}

// New creates an animator. Out-of-range values are clamped.
func New(opts Options) *Animator {
	if opts.MinChunk < 1 {
		opts.MinChunk = 1
	}
	if opts.MaxChunk < opts.MinChunk {
		opts.MaxChunk = opts.MinChunk
	}
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	return &Animator{opts: opts}
}

var defaultAnimator = New(DefaultOptions())

// Reveal starts a run with the default options
func Reveal(text string, onChunk func(chunk string), onDone func()) *Run {
	return defaultAnimator.Reveal(text, onChunk, onDone)
}

// Reveal emits text through onChunk in order and then calls onDone.
// Both callbacks run on the run's own goroutine; either may be nil.
func (a *Animator) Reveal(text string, onChunk func(chunk string), onDone func()) *Run {
	r := &Run{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop(a, []rune(text), onChunk, onDone)
	return r
}

func (a *Animator) intn(n int) int {
	if n <= 0 {
		return 0
	}
	if a.opts.Rand == nil {
		return rand.IntN(n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opts.Rand.IntN(n)
}

func (a *Animator) chunkLen() int {
	return a.opts.MinChunk + a.intn(a.opts.MaxChunk-a.opts.MinChunk+1)
}

func (a *Animator) delay() time.Duration {
	spread := int(a.opts.MaxDelay - a.opts.MinDelay)
	return a.opts.MinDelay + time.Duration(a.intn(spread+1))
}

// Run is one reveal in progress
type Run struct {
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	cancelled atomic.Bool
}

// Cancel stops the run and waits for it to exit: when Cancel returns no
// callback is running and none starts again. Callbacks must use Stop instead,
// Cancel from inside one never returns.
func (r *Run) Cancel() {
	r.Stop()
	<-r.done
}

// Stop signals the run to end without waiting. Emission stops once the
// current callback, if any, returns.
func (r *Run) Stop() {
	r.cancelled.Store(true)
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done is closed when the run has finished or been cancelled
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancelled reports whether Cancel or Stop was called
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

func (r *Run) loop(a *Animator, runes []rune, onChunk func(string), onDone func()) {
	defer close(r.done)

	if !r.wait(a.opts.InitialDelay) {
		return
	}
	for len(runes) > 0 {
		n := min(a.chunkLen(), len(runes))
		chunk := string(runes[:n])
		runes = runes[n:]
		if !r.emit(func() {
			if onChunk != nil {
				onChunk(chunk)
			}
		}) {
			return
		}
		if len(runes) > 0 && !r.wait(a.delay()) {
			return
		}
	}
	r.emit(func() {
		if onDone != nil {
			onDone()
		}
	})
}

func (r *Run) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-r.stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !r.cancelled.Load()
	case <-r.stop:
		return false
	}
}

func (r *Run) emit(fn func()) bool {
	if r.cancelled.Load() {
		return false
	}
	fn()
	return !r.cancelled.Load()
}
