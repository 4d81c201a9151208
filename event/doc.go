// Package event implements a small, synchronous, in-process event emitter.
//
// Callbacks are registered against event keys and are called, in
// registration order, every time their key is emitted:
//
//	em := event.NewEventEmitter[string]()
//	speak := event.Func(func(args ...any) {
//	    fmt.Println("said:", args[0])
//	})
//	stop := em.On("speak", speak)
//	em.Emit("speak", "hello") // said: hello
//	stop()
//
// The same behaviour is available split in two halves, so that the code able
// to subscribe is not the code able to emit:
//
//	listener, emit := event.NewEmitterListener[string]()
//	listener.On("win", onWin)
//	emit("win")("speak", "gg")
//
// # Removing listeners
//
// The function returned by On removes exactly the registration it came from.
// Off removes every registration of a callback under a key, so a callback
// registered twice is removed by a single Off but needs both cancel functions
// to be called otherwise. Callbacks are compared by pointer.
//
// # Typed payloads
//
// A Topic ties a key to a payload type so that the compiler checks both ends:
//
//	speak := event.NewTopic[string]("speak")
//	em.On(speak.Key, speak.Func(func(msg string) { ... }))
//	speak.Emit(em, "hello")
package event
