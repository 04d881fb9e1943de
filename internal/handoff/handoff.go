// Package handoff passes computed data from one page to the next.
//
// Records are scoped to a browser session and delivered at most once: a
// successful read removes the record. Absence is the normal case and means
// the consumer fetches the equivalent data from the backend.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
)

// Well-known record names.
const (
	KeyBaseline = "metrics_baseline"
	KeyBacktest = "metrics_backtest"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("handoff: store closed")

// Store keeps raw records. Take must be atomic: two concurrent Takes of the
// same record never both see it.
type Store interface {
	Put(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, scope, key string) ([]byte, bool, error)
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// Buffer is the handoff view of a single browser session.
type Buffer struct {
	store   Store
	scope   string
	ttl     time.Duration
	observe func(key string, hit bool)
}

// NewBuffer binds store to a session scope. Records expire after ttl.
func NewBuffer(store Store, scope string, ttl time.Duration) *Buffer {
	return &Buffer{store: store, scope: scope, ttl: ttl}
}

// WithObserver returns a copy of b that reports every read to fn.
func (b *Buffer) WithObserver(fn func(key string, hit bool)) *Buffer {
	c := *b
	c.observe = fn
	return &c
}

// Scope returns the session scope of the buffer.
func (b *Buffer) Scope() string {
	return b.scope
}

// Write serializes v and stores it under key, replacing any earlier record.
func (b *Buffer) Write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding handoff %q: %w", key, err)
	}
	return b.WriteRaw(ctx, key, data)
}

// WriteRaw stores an already-encoded JSON record.
func (b *Buffer) WriteRaw(ctx context.Context, key string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("handoff %q: value is not valid JSON", key)
	}
	if err := b.store.Put(ctx, b.scope, key, data, b.ttl); err != nil {
		return fmt.Errorf("storing handoff %q: %w", key, err)
	}
	return nil
}

// WritePair writes both halves of a comparison back to back.
func (b *Buffer) WritePair(ctx context.Context, baseKey string, base any, variantKey string, variant any) error {
	if err := b.Write(ctx, baseKey, base); err != nil {
		return err
	}
	return b.Write(ctx, variantKey, variant)
}

// ReadOnce decodes the record under key into out and deletes it. It reports
// false, with a nil error, when no record exists. A record that cannot be
// decoded has already been consumed and is reported as absent.
func (b *Buffer) ReadOnce(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := b.ReadOnceRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("discarding undecodable handoff record", "key", key, "err", err)
		return false, nil
	}
	return true, nil
}

// ReadOnceRaw returns the raw JSON record under key and deletes it.
func (b *Buffer) ReadOnceRaw(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := b.store.Take(ctx, b.scope, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading handoff %q: %w", key, err)
	}
	if b.observe != nil {
		b.observe(key, ok)
	}
	return data, ok, nil
}
