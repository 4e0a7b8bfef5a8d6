// Package dataloader batches lookups of rows by key into one query per
// batch.
//
// # Basic Usage
//
// Build a loader per request from a DAO and the column keyed on:
//
//	authors := dataloader.NewLoader(dataloader.ByKey(authorDAO, "id",
//		func(a *Author) int { return a.ID }))
//	author, err := authors.Load(ctx, book.AuthorID)
//
// Loads issued concurrently within the wait window, or until the batch is
// full, are served by a single "id:in" query. Results are cached by key
// for the lifetime of the loader.
//
// One-to-many relations load with GroupBy:
//
//	books := dataloader.NewLoader(dataloader.GroupBy(bookDAO, "author_id",
//		func(b *Book) int { return b.AuthorID }))
//	list, err := books.Load(ctx, author.ID)
//
// # Context
//
// Loaders are usually created by a middleware and stored in the request
// context:
//
//	ctx = dataloader.WithLoaders(ctx, &Loaders{Authors: authors})
//	loaders := dataloader.For[*Loaders](ctx)
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syssam/nomnom"
)

// ErrNotFound is returned when an entity is not found in a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc is a function that loads a batch of entities by their keys.
// It returns one value and one error per key, in key order, or a single
// error that fails the whole batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, []error)

// OrderByKeys reorders entities to match the order of requested keys.
// Missing entities are represented as zero values with ErrNotFound.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// GroupByKey groups entities by a key function.
// Useful for one-to-many relationships where multiple entities share the same foreign key.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys reorders grouped entities to match the order of requested keys.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// ByKey returns a batch function loading the rows of dao whose column is
// one of the keys. keyFn reads the column back from a loaded row.
func ByKey[K comparable, T any](dao *nomnom.DAO[T], column string, keyFn KeyFunc[K, *T]) BatchFunc[K, *T] {
	return func(ctx context.Context, keys []K) ([]*T, []error) {
		objs, err := dao.Filter(nomnom.Filter{column + ":in": keys}).All(ctx)
		if err != nil {
			return nil, []error{err}
		}
		return OrderByKeys(keys, objs, keyFn)
	}
}

// GroupBy returns a batch function loading, for every key, the rows of
// dao whose column holds it. Keys without rows load an empty list.
func GroupBy[K comparable, T any](dao *nomnom.DAO[T], column string, keyFn KeyFunc[K, *T]) BatchFunc[K, []*T] {
	return func(ctx context.Context, keys []K) ([][]*T, []error) {
		objs, err := dao.Filter(nomnom.Filter{column + ":in": keys}).All(ctx)
		if err != nil {
			return nil, []error{err}
		}
		return OrderGroupsByKeys(keys, GroupByKey(objs, keyFn)), nil
	}
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	wait     time.Duration
	maxBatch int
}

// WithWait sets how long a batch collects keys before it runs.
func WithWait(d time.Duration) Option {
	return func(o *options) { o.wait = d }
}

// WithMaxBatch sets the number of keys that runs a batch immediately.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// Loader batches and caches loads by key. A Loader is safe for
// concurrent use and is meant to live for one request.
type Loader[K comparable, V any] struct {
	batch BatchFunc[K, V]
	opts  options

	mu      sync.Mutex
	cache   map[K]*result[V]
	pending *pending[K, V]
}

type result[V any] struct {
	done  chan struct{}
	value V
	err   error
}

type pending[K comparable, V any] struct {
	ctx     context.Context
	keys    []K
	results []*result[V]
	timer   *time.Timer
	once    sync.Once
}

// NewLoader returns a loader running batch.
func NewLoader[K comparable, V any](batch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	o := options{wait: 2 * time.Millisecond, maxBatch: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[K, V]{batch: batch, opts: o, cache: make(map[K]*result[V])}
}

// Load returns the value of key, waiting for the batch holding it.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	r := l.enqueue(ctx, key)
	l.mu.Unlock()
	return r.wait(ctx)
}

// LoadMany returns the values of keys, in key order, with one error per
// key.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, []error) {
	l.mu.Lock()
	rs := make([]*result[V], len(keys))
	for i, key := range keys {
		rs[i] = l.enqueue(ctx, key)
	}
	l.mu.Unlock()
	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, r := range rs {
		values[i], errs[i] = r.wait(ctx)
	}
	return values, errs
}

// Prime stores value for key unless key is already loaded or loading.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; ok {
		return
	}
	r := &result[V]{done: make(chan struct{}), value: value}
	close(r.done)
	l.cache[key] = r
}

// Clear drops the cached value of key.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, key)
}

// enqueue returns the result of key, adding it to the pending batch when
// it is not cached. l.mu must be held.
func (l *Loader[K, V]) enqueue(ctx context.Context, key K) *result[V] {
	if r, ok := l.cache[key]; ok {
		return r
	}
	r := &result[V]{done: make(chan struct{})}
	l.cache[key] = r
	b := l.pending
	if b == nil {
		b = &pending[K, V]{ctx: context.WithoutCancel(ctx)}
		b.timer = time.AfterFunc(l.opts.wait, func() { l.flush(b) })
		l.pending = b
	}
	b.keys = append(b.keys, key)
	b.results = append(b.results, r)
	if len(b.keys) >= l.opts.maxBatch {
		l.pending = nil
		b.timer.Stop()
		go l.run(b)
	}
	return r
}

func (l *Loader[K, V]) flush(b *pending[K, V]) {
	l.mu.Lock()
	if l.pending == b {
		l.pending = nil
	}
	l.mu.Unlock()
	l.run(b)
}

func (l *Loader[K, V]) run(b *pending[K, V]) {
	b.once.Do(func() {
		values, errs := l.batch(b.ctx, b.keys)
		var failed []int
		for i, r := range b.results {
			switch {
			case len(errs) == 1 && len(values) != len(b.keys):
				r.err = errs[0]
			case i >= len(values):
				r.err = fmt.Errorf("dataloader: batch returned %d values for %d keys", len(values), len(b.keys))
			default:
				r.value = values[i]
				if i < len(errs) {
					r.err = errs[i]
				}
			}
			if r.err != nil {
				failed = append(failed, i)
			}
			close(r.done)
		}
		// Failed keys load again on the next call.
		l.mu.Lock()
		for _, i := range failed {
			if l.cache[b.keys[i]] == b.results[i] {
				delete(l.cache, b.keys[i])
			}
		}
		l.mu.Unlock()
	})
}

func (r *result[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// ctxKey is the context key for storing DataLoaders.
type ctxKey struct{}

// WithLoaders injects DataLoaders into the context.
func WithLoaders[T any](ctx context.Context, loaders T) context.Context {
	return context.WithValue(ctx, ctxKey{}, loaders)
}

// For extracts DataLoaders from context.
func For[T any](ctx context.Context) T {
	v, _ := ctx.Value(ctxKey{}).(T)
	return v
}
