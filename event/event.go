// Copyright (c) Roman Atachiants and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package event

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Callback is a listener registered against an event key. Callbacks are
// matched by pointer, so the same *Callback must be handed to Off/Unsubscribe
// that was handed to On/Subscribe.
type Callback struct {
	fn func(args ...any)
}

// Func wraps fn into a new callback. Every call returns a distinct callback,
// even for the same fn.
func Func(fn func(args ...any)) *Callback {
	return &Callback{fn: fn}
}

// Call invokes the callback directly, bypassing any registry.
func (c *Callback) Call(args ...any) {
	c.fn(args...)
}

// subscription is one registration of a callback. Registering the same
// callback twice yields two subscriptions.
type subscription struct {
	cb *Callback
}

// listenerSet holds an immutable mapping of event keys to their subscriptions
type listenerSet[K comparable] struct {
	keys map[K][]*subscription
}

// ------------------------------------- Registry -------------------------------------

// Registry stores, per event key, the ordered list of subscribed callbacks.
// The zero value is ready to use. Registries never share state.
type Registry[K comparable] struct {
	subs atomic.Pointer[listenerSet[K]] // Atomic pointer to immutable set
	mu   sync.Mutex                     // Only for writes (subscribe/unsubscribe)
}

// NewRegistry creates a new, empty registry.
func NewRegistry[K comparable]() *Registry[K] {
	return new(Registry[K])
}

// Subscribe appends cb to the listeners of key. The returned function removes
// this registration only, and is safe to call more than once.
func (r *Registry[K]) Subscribe(key K, cb *Callback) context.CancelFunc {
	if cb == nil {
		panic(errNilCallback)
	}

	sub := &subscription{cb: cb}

	r.mu.Lock()
	r.update(key, func(old []*subscription) ([]*subscription, bool) {
		next := make([]*subscription, len(old), len(old)+1)
		copy(next, old)
		return append(next, sub), true
	})
	r.mu.Unlock()

	return func() {
		r.remove(key, func(s *subscription) bool {
			return s == sub
		})
	}
}

// Unsubscribe removes every registration of cb under key. Unknown keys and
// callbacks are ignored.
func (r *Registry[K]) Unsubscribe(key K, cb *Callback) {
	if cb == nil {
		return
	}

	r.remove(key, func(s *subscription) bool {
		return s.cb == cb
	})
}

// Dispatch invokes the listeners of key in registration order. The listeners
// are those registered when Dispatch was called; changes made by a listener
// apply from the next dispatch. A panicking listener aborts the dispatch.
func (r *Registry[K]) Dispatch(key K, args ...any) {
	set := r.subs.Load()
	if set == nil {
		return
	}

	for _, sub := range set.keys[key] {
		sub.cb.fn(args...)
	}
}

// remove drops the subscriptions of key for which match returns true
func (r *Registry[K]) remove(key K, match func(*subscription) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.update(key, func(old []*subscription) ([]*subscription, bool) {
		next := make([]*subscription, 0, len(old))
		for _, s := range old {
			if !match(s) {
				next = append(next, s)
			}
		}
		return next, len(next) != len(old)
	})
}

// update replaces the subscriptions of key with the result of fn and publishes
// a new listener set. Nothing is published when fn reports no change. Must be
// called with mu held.
func (r *Registry[K]) update(key K, fn func([]*subscription) ([]*subscription, bool)) {
	var keys map[K][]*subscription
	if old := r.subs.Load(); old != nil {
		keys = old.keys
	}

	next, changed := fn(keys[key])
	if !changed {
		return
	}

	// Copy-on-write: readers keep iterating the set they loaded
	copied := make(map[K][]*subscription, len(keys)+1)
	for k, v := range keys {
		copied[k] = v
	}

	if len(next) == 0 {
		delete(copied, key)
	} else {
		copied[key] = next
	}

	r.subs.Store(&listenerSet[K]{keys: copied})
}

// count returns the number of registrations for key, this is for testing only.
func (r *Registry[K]) count(key K) int {
	if set := r.subs.Load(); set != nil {
		return len(set.keys[key])
	}
	return 0
}

// ------------------------------------- Debugging -------------------------------------

var errNilCallback = fmt.Errorf("event callback is nil")
var errDetachedListener = fmt.Errorf("event listener was not created by NewEmitterListener")

// errConflict returns a payload conflict message
func errConflict[T any](key any, got any) string {
	return fmt.Sprintf(
		"conflicting payload type, want=<%s>, got=<%T>, event=%v",
		reflect.TypeFor[T](), got, key,
	)
}
