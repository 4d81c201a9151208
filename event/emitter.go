// Copyright (c) Roman Atachiants and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package event

import (
	"context"
)

// Dispatcher is anything that can trigger the listeners of a key.
type Dispatcher[K comparable] interface {
	Dispatch(key K, args ...any)
}

var (
	_ Dispatcher[string] = (*Registry[string])(nil)
	_ Dispatcher[string] = (*EventEmitter[string])(nil)
	_ Dispatcher[string] = EmitFunc[string](nil)
)

// ------------------------------------- EventEmitter -------------------------------------

// EventEmitter is a stateful emitter owning a single registry. The zero value
// is ready to use.
type EventEmitter[K comparable] struct {
	reg Registry[K]
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter[K comparable]() *EventEmitter[K] {
	return new(EventEmitter[K])
}

// On subscribes cb to key and returns a function removing that registration.
func (e *EventEmitter[K]) On(key K, cb *Callback) context.CancelFunc {
	return e.reg.Subscribe(key, cb)
}

// Off removes every registration of cb under key.
func (e *EventEmitter[K]) Off(key K, cb *Callback) *EventEmitter[K] {
	e.reg.Unsubscribe(key, cb)
	return e
}

// Emit calls the listeners of key with args.
func (e *EventEmitter[K]) Emit(key K, args ...any) *EventEmitter[K] {
	e.reg.Dispatch(key, args...)
	return e
}

// Dispatch is Emit without the chaining result.
func (e *EventEmitter[K]) Dispatch(key K, args ...any) {
	e.reg.Dispatch(key, args...)
}

// ------------------------------------- Emitter/Listener pair -------------------------------------

// Listener is the subscribing half returned by NewEmitterListener. A Listener
// is only usable when obtained from NewEmitterListener, since it shares its
// registry with the emit function; the zero value panics.
type Listener[K comparable] struct {
	reg *Registry[K]
}

// On subscribes cb to key and returns a function removing that registration.
func (l *Listener[K]) On(key K, cb *Callback) context.CancelFunc {
	return l.registry().Subscribe(key, cb)
}

// Off removes every registration of cb under key.
func (l *Listener[K]) Off(key K, cb *Callback) *Listener[K] {
	l.registry().Unsubscribe(key, cb)
	return l
}

func (l *Listener[K]) registry() *Registry[K] {
	if l == nil || l.reg == nil {
		panic(errDetachedListener)
	}
	return l.reg
}

// EmitFunc is the emitting half returned by NewEmitterListener. It returns
// itself so that calls can be chained: emit("a")("b", 1).
type EmitFunc[K comparable] func(key K, args ...any) EmitFunc[K]

// Dispatch calls the emit function, dropping the chaining result.
func (emit EmitFunc[K]) Dispatch(key K, args ...any) {
	emit(key, args...)
}

// NewEmitterListener creates a registry and splits it into a listener, which
// only subscribes, and an emit function, which only dispatches.
func NewEmitterListener[K comparable]() (*Listener[K], EmitFunc[K]) {
	reg := NewRegistry[K]()

	var emit EmitFunc[K]
	emit = func(key K, args ...any) EmitFunc[K] {
		reg.Dispatch(key, args...)
		return emit
	}

	return &Listener[K]{reg: reg}, emit
}
