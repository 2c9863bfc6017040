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

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sabouaram/goproxy/loop"
)

// inboxSource adapts a buffered Accepted channel to loop.Source. A single
// Wait call both waits for and consumes the next item; the worker's onInbox
// handler reads it back from last immediately afterward. This is safe
// without extra locking because the Loop never calls Wait again (re-arm)
// until the previous handler invocation for the same handle has returned.
type inboxSource struct {
	ch   chan Accepted
	last Accepted
}

func (s *inboxSource) Wait(ctx context.Context, interest loop.Interest) (loop.Interest, error) {
	select {
	case a := <-s.ch:
		s.last = a
		return loop.Readable, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Worker owns one Loop, its inbox of accepted connections, and the Work
// Units currently registered on that Loop.
type Worker struct {
	id     int
	ctx    context.Context
	l      loop.Loop
	driver Driver
	cfg    Config

	inbox  chan Accepted
	source *inboxSource

	m        sync.Mutex
	units    map[loop.Handle]Unit
	stopping bool
}

func (w *Worker) ID() int          { return w.id }
func (w *Worker) Loop() loop.Loop  { return w.l }
func (w *Worker) Units() int       { w.m.Lock(); defer w.m.Unlock(); return len(w.units) }
func (w *Worker) Inbox() chan<- Accepted { return w.inbox }

// Run registers the inbox and blocks, dispatching events, until the
// worker's context is cancelled or Stop completes a graceful drain.
func (w *Worker) Run() error {
	w.source = &inboxSource{ch: w.inbox}
	w.l.Register(w.source, loop.Readable, w.onInbox)
	return w.l.RunForever()
}

func (w *Worker) onInbox(h loop.Handle, ev loop.Interest) {
	w.m.Lock()
	stopping := w.stopping
	w.m.Unlock()
	if stopping {
		return
	}

	a := w.source.last
	unit, src, interest, handler := w.driver.NewUnit(w, a)

	uh := w.l.Register(src, interest, handler)

	w.m.Lock()
	w.units[uh] = unit
	w.m.Unlock()
}

// Forget removes a unit from the live set once it has reached a terminal
// state; callers (the proxy Driver) call this from their own Close path.
func (w *Worker) Forget(h loop.Handle) {
	w.m.Lock()
	delete(w.units, h)
	w.m.Unlock()
	_ = w.l.Unregister(h)
}

// Rekey moves a unit's bookkeeping entry from old to new without touching
// the Loop. A Driver that swaps a Unit's underlying Source mid-lifetime
// (MITM engaging TLS on an already-registered connection: the Loop has no
// in-place Source replacement, only Unregister+Register, which mints a new
// Handle) uses this so worker.Stop's live-unit enumeration keeps tracking
// the same Unit under its new Handle.
func (w *Worker) Rekey(old, new loop.Handle) {
	w.m.Lock()
	defer w.m.Unlock()
	if u, ok := w.units[old]; ok {
		delete(w.units, old)
		w.units[new] = u
	}
}

// Stop stops accepting new work, closes at once every unit that already
// reports Done, waits up to cfg.GraceDeadline for the rest to finish on
// their own, then force closes whatever remains and stops the Loop. Units
// have no separate idle state: a connection waiting between keep-alive
// requests is waited on like one with a request in flight.
func (w *Worker) Stop() {
	w.m.Lock()
	w.stopping = true
	var live []Unit
	for _, u := range w.units {
		live = append(live, u)
	}
	w.m.Unlock()

	deadline := time.Now().Add(w.cfg.GraceDeadline)
	for _, u := range live {
		if u.Done() {
			_ = u.Close()
		}
	}

	for time.Now().Before(deadline) {
		if w.Units() == 0 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	w.m.Lock()
	for h, u := range w.units {
		_ = u.Close()
		delete(w.units, h)
	}
	w.m.Unlock()

	w.l.Stop()
}
