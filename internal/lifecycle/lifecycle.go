// Package lifecycle owns the runtime state shared by the pipeline's
// goroutines: a one-shot cancellation [Token] handed to every worker at spawn
// time, and [Go], which runs a worker with panic isolation.
//
// Tokens are explicit values rather than a process-wide flag, so tests can
// construct independent tokens.
package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Token is a one-shot cancellation flag. A new token is not cancelled; Cancel
// sets it once and there is no way to reset it. Token is safe for concurrent
// use.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a token that is not cancelled.
func New() *Token {
	return NewWithParent(context.Background())
}

// NewWithParent returns a token that is also cancelled when parent is done.
func NewWithParent(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancelled reports whether Cancel has been called or the parent is done.
// Workers check it on every loop iteration.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Cancel marks the token cancelled. Calling Cancel more than once is safe.
func (t *Token) Cancel() {
	t.cancel()
}

// Done returns a channel that is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context that is cancelled together with the token.
func (t *Token) Context() context.Context {
	return t.ctx
}

// PanicError is reported by a [Worker] whose function panicked.
type PanicError struct {
	// Worker is the name passed to [Go].
	Worker string
	// Value is the value passed to panic.
	Value any
	// Stack is the goroutine stack at the time of the panic.
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("lifecycle: worker %q panicked: %v", e.Worker, e.Value)
}

// Worker is a goroutine started by [Go].
type Worker struct {
	name string
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Go runs fn on a new goroutine. A panic inside fn is recovered and reported
// through [Worker.Err] as a *PanicError; it never crashes the process.
func Go(name string, fn func() error) *Worker {
	w := &Worker{name: name, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.setErr(&PanicError{Worker: name, Value: r, Stack: debug.Stack()})
			}
		}()
		w.setErr(fn())
	}()
	return w
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Done returns a channel that is closed when the worker has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Finished reports whether the worker has returned, without blocking.
func (w *Worker) Finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Err returns the worker's result once it has finished, or nil while it is
// still running.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the worker finishes or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}
