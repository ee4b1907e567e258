// Package abort provides a keyed registry of cancellation tokens for
// in-flight conversation turns and background tasks.
package abort

import (
	"context"
	"sync"
)

// Token is a cancellation handle registered under a key. It wraps a
// context that observers of long-running work select on.
type Token struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
}

// Key returns the registry key the token was created under.
func (t *Token) Key() string { return t.key }

// Context returns the token's cancellation context.
func (t *Token) Context() context.Context { return t.ctx }

// Done returns a channel closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cancel signals cancellation on the token directly. The registry
// mapping, if any, is untouched; use Registry.Cancel to signal and
// unmap in one step.
func (t *Token) Cancel() { t.cancel() }

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Observer is notified for each key affected by CancelAll.
type Observer func(key string)

// Registry maps keys to live cancellation tokens. At most one token per
// key is addressable at any time: Create for an existing key replaces
// the mapping without signalling the old token, so cancelling a
// replaced-but-still-running operation is the caller's responsibility.
type Registry struct {
	mu       sync.Mutex
	tokens   map[string]*Token
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// SetObserver installs the CancelAll notification sink.
func (r *Registry) SetObserver(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Create allocates a new token under key, replacing any existing entry.
// The replaced token is not cancelled, only unmapped.
func (r *Registry) Create(parent context.Context, key string) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	token := &Token{key: key, ctx: ctx, cancel: cancel}

	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()

	return token
}

// Get returns the token for key, or nil if none is registered.
func (r *Registry) Get(key string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[key]
}

// Cancel signals cancellation on the token for key and removes the
// entry. Returns whether an entry was found.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	token, ok := r.tokens[key]
	if ok {
		delete(r.tokens, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	token.cancel()
	return true
}

// Delete removes the entry for key without signalling cancellation.
// Used after natural completion. No-op for absent keys.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, key)
}

// CancelAll signals cancellation on every tracked token, notifies the
// observer per key, then clears the registry. Entries are snapshotted
// first so an observer that re-enters the registry cannot corrupt the
// iteration. Observer panics are swallowed; one bad notification must
// not stop cancellation of the remaining entries.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	snapshot := make([]*Token, 0, len(r.tokens))
	for _, token := range r.tokens {
		snapshot = append(snapshot, token)
	}
	r.tokens = make(map[string]*Token)
	observer := r.observer
	r.mu.Unlock()

	for _, token := range snapshot {
		token.cancel()
		if observer != nil {
			notify(observer, token.key)
		}
	}
}

func notify(fn Observer, key string) {
	defer func() { _ = recover() }()
	fn(key)
}

// Size returns the count of currently tracked entries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
