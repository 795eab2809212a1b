// Package bus implements the shared-state channel the pipeline processes
// coordinate through: a directory of JSON documents, each replaced wholesale
// via write-temp-then-rename so readers never observe a torn document.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Option configures a Bus.
type Option func(*Bus)

// Bus is a single-writer-per-key, multi-reader document store rooted at one
// directory. Atomicity of visibility is the only guarantee it makes.
type Bus struct {
	dir          string
	maxRetries   int
	retryBase    time.Duration
	readAttempts int
	fsync        bool
}

// WithRetries sets the bounded publish retry count.
func WithRetries(n int) Option {
	return func(b *Bus) {
		b.maxRetries = n
	}
}

// WithRetryBase sets the first retry delay; subsequent delays double.
func WithRetryBase(d time.Duration) Option {
	return func(b *Bus) {
		b.retryBase = d
	}
}

// WithFsync toggles fsync before the rename.
func WithFsync(enabled bool) Option {
	return func(b *Bus) {
		b.fsync = enabled
	}
}

// New creates a Bus rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Bus, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bus dir: %w", err)
	}
	b := &Bus{
		dir:          dir,
		maxRetries:   6,
		retryBase:    150 * time.Millisecond,
		readAttempts: 3,
		fsync:        true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Dir returns the bus root directory.
func (b *Bus) Dir() string { return b.dir }

// Path returns the absolute path of a key. Keys may contain subdirectories
// (e.g. "executed/done_A_17.json").
func (b *Bus) Path(key string) string { return filepath.Join(b.dir, key) }

// Publish writes doc to key atomically: marshal, write a sibling temp file,
// fsync, rename over the destination. Transient failures (the destination
// briefly locked by a reader on platforms without atomic overwrite) are
// retried with exponential backoff; after the final attempt it degrades to a
// direct non-atomic write rather than dropping the update.
func (b *Bus) Publish(key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	dst := b.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	tmp := dst + ".tmp"

	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if lastErr = b.writeAndRename(tmp, dst, data); lastErr == nil {
			return nil
		}
		time.Sleep(b.retryBase * (1 << attempt))
	}

	// Last resort: non-atomic write beats losing the update entirely.
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("publish %s: %w (after %w)", key, err, lastErr)
	}
	return nil
}

func (b *Bus) writeAndRename(tmp, dst string, data []byte) error {
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if b.fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// Read unmarshals the document at key into dest. It reports false and leaves
// dest untouched when the key does not exist or the document fails to parse;
// corrupt or mid-write content is treated as absent, never as a failure.
func (b *Bus) Read(key string, dest interface{}) bool {
	path := b.Path(key)
	for attempt := 0; attempt < b.readAttempts; attempt++ {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err := json.Unmarshal(data, dest); err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return true
	}
	return false
}

// Exists reports whether a document or marker is present at key.
func (b *Bus) Exists(key string) bool {
	_, err := os.Stat(b.Path(key))
	return err == nil
}

// Remove deletes the document at key. A missing key is not an error.
func (b *Bus) Remove(key string) error {
	err := os.Remove(b.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// WriteMarker drops an empty flag file at key (readiness and shutdown flags).
func (b *Bus) WriteMarker(key string) error {
	path := b.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("marker %s: %w", key, err)
	}
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return fmt.Errorf("marker %s: %w", key, err)
	}
	return nil
}

// WaitForMarker polls for key until it appears, the timeout elapses, or ctx
// is canceled. It reports whether the marker was seen.
func (b *Bus) WaitForMarker(ctx context.Context, key string, timeout time.Duration, poll time.Duration) bool {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if b.Exists(key) {
			return true
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
}
