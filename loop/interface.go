/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package loop implements the readiness-driven dispatch loop that every
// worker hosts. Go has no portable user-facing epoll/kqueue handle, so the
// loop is realized the idiomatic Go way: each registered Source is polled by
// its own goroutine (the language's readiness primitive is the netpoller
// hiding behind blocking calls with deadlines), and every event that
// goroutine observes is funneled through a single channel into one
// dispatcher goroutine. That dispatcher is the only place handlers run,
// which is what gives the loop its core guarantee: a handler never runs
// concurrently with itself or with any other handler on the same Loop.
package loop

import (
	"context"
	"time"
)

// Interest is a bitmask of readiness conditions a Source can be waited on for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) Has(o Interest) bool { return i&o != 0 }

// Handle identifies a registration within a Loop. Handles are never reused
// for the lifetime of the Loop.
type Handle uint64

// Source is anything a Loop can wait readiness on. Wait blocks until at
// least one of the requested interests is satisfied, ctx is cancelled, or
// an unrecoverable error occurs on the underlying transport.
type Source interface {
	Wait(ctx context.Context, interest Interest) (Interest, error)
}

// Handler is invoked by the Loop's dispatcher goroutine whenever a
// registered Source reports readiness, or whenever a scheduled deadline
// fires. ev is zero for timer callbacks.
type Handler func(h Handle, ev Interest)

// Loop multiplexes many Sources and deadline timers onto handler callbacks
// that all execute on the same goroutine.
type Loop interface {
	// Register adds src under the given interest; handler fires on every
	// readiness event until Modify or Unregister changes things. The
	// returned Handle also identifies scheduled timers created afterward
	// with Schedule if the caller wants to cancel them via Unregister.
	Register(src Source, interest Interest, handler Handler) Handle

	// Modify changes the interest mask of an existing registration.
	Modify(h Handle, interest Interest) error

	// Unregister removes a registration or a pending timer. Any event for
	// h already in flight when Unregister is called is discarded rather
	// than delivered — this is the loop's reentrancy guarantee.
	Unregister(h Handle) error

	// Schedule arranges for cb to run on the dispatcher goroutine at or
	// after deadline. The returned Handle may be passed to Unregister to
	// cancel it before it fires.
	Schedule(deadline time.Time, cb func()) Handle

	// RunOnce waits for at most timeout (or forever if timeout <= 0) for
	// the next ready event or expired timer, dispatches it, and returns.
	// A zero return with no error means nothing was ready within timeout.
	RunOnce(timeout time.Duration) error

	// RunForever calls RunOnce until Stop is invoked or ctx passed to New
	// is cancelled.
	RunForever() error

	// Stop requests the loop to exit RunForever and release all sources.
	Stop()
}
