// Copyright (c) Roman Atachiants and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package event

// Topic binds an event key to the payload type its listeners receive. Payloads
// with several values are carried in a struct, and keys without a payload use
// struct{}.
type Topic[K comparable, A any] struct {
	Key K
}

// NewTopic creates a topic for key with payload type A, for example
// NewTopic[string]("speak").
func NewTopic[A any, K comparable](key K) Topic[K, A] {
	return Topic[K, A]{Key: key}
}

// Func wraps fn into a callback which can be subscribed to the topic key on
// any emitter. The listener receives the zero payload when the event carries
// no arguments, and panics if the first argument is not an A.
func (t Topic[K, A]) Func(fn func(A)) *Callback {
	return Func(func(args ...any) {
		var payload A
		if len(args) > 0 && args[0] != nil {
			v, ok := args[0].(A)
			if !ok {
				panic(errConflict[A](t.Key, args[0]))
			}
			payload = v
		}
		fn(payload)
	})
}

// Emit dispatches payload to the topic listeners of d.
func (t Topic[K, A]) Emit(d Dispatcher[K], payload A) {
	d.Dispatch(t.Key, payload)
}
