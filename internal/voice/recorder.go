package voice

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when writing to a released capture
	ErrClosed = errors.New("capture is closed")
	// ErrTooLarge is returned when a capture exceeds its size limit
	ErrTooLarge = errors.New("capture exceeds size limit")
)

// DefaultMaxCaptureBytes bounds a single capture
const DefaultMaxCaptureBytes = 25 << 20

// Recorder hands out capture sessions and tracks them until release
type Recorder struct {
	dir      string
	maxBytes int64

	mu       sync.Mutex
	captures map[string]*Capture
}

// NewRecorder creates a recorder writing temp files under dir ("" for the system temp dir)
func NewRecorder(dir string, maxBytes int64) *Recorder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCaptureBytes
	}
	return &Recorder{
		dir:      dir,
		maxBytes: maxBytes,
		captures: make(map[string]*Capture),
	}
}

// Open acquires a capture for owner. The caller must Close it on every path.
func (r *Recorder) Open(owner string) (*Capture, error) {
	if r.dir != "" {
		if err := os.MkdirAll(r.dir, 0755); err != nil {
			log.Printf("[Voice] Open failed: create dir owner=%s err=%v", owner, err)
			return nil, fmt.Errorf("create capture dir: %w", err)
		}
	}

	f, err := os.CreateTemp(r.dir, "capture-*.webm")
	if err != nil {
		log.Printf("[Voice] Open failed owner=%s err=%v", owner, err)
		return nil, fmt.Errorf("open capture: %w", err)
	}

	c := &Capture{
		ID:       uuid.NewString(),
		Owner:    owner,
		file:     f,
		recorder: r,
		maxBytes: r.maxBytes,
	}

	r.mu.Lock()
	r.captures[c.ID] = c
	r.mu.Unlock()

	log.Printf("[Voice] Capture opened owner=%s id=%s", owner, c.ID)
	return c, nil
}

// Active returns the number of unreleased captures
func (r *Recorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captures)
}

// Shutdown releases every open capture
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	open := make([]*Capture, 0, len(r.captures))
	for _, c := range r.captures {
		open = append(open, c)
	}
	r.mu.Unlock()

	for _, c := range open {
		c.Close()
	}
	log.Printf("[Voice] Recorder shut down released=%d", len(open))
}

func (r *Recorder) release(id string) {
	r.mu.Lock()
	delete(r.captures, id)
	r.mu.Unlock()
}

// Capture is one audio upload in progress
type Capture struct {
	ID    string
	Owner string

	recorder *Recorder
	maxBytes int64

	mu     sync.Mutex
	file   *os.File
	size   int64
	closed bool
}

// Write appends a chunk
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.size+int64(len(p)) > c.maxBytes {
		return 0, ErrTooLarge
	}
	n, err := c.file.Write(p)
	c.size += int64(n)
	return n, err
}

// ReadFrom copies r into the capture
func (c *Capture) ReadFrom(r io.Reader) (int64, error) {
	return io.Copy(writerOnly{c}, r)
}

// Size returns the number of bytes written so far
func (c *Capture) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close releases the temp file. It is safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	name := c.file.Name()
	closeErr := c.file.Close()
	c.mu.Unlock()

	removeErr := os.Remove(name)
	c.recorder.release(c.ID)
	log.Printf("[Voice] Capture released owner=%s id=%s size=%d", c.Owner, c.ID, c.size)

	if closeErr != nil {
		return closeErr
	}
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return removeErr
	}
	return nil
}

// writerOnly hides ReadFrom so io.Copy does not recurse
type writerOnly struct {
	io.Writer
}
