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

package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	liberr "github.com/sabouaram/goproxy/errors"
)

type registration struct {
	handle   Handle
	interest Interest
	handler  Handler
	source   Source
	cancel   context.CancelFunc
	gen      uint64
}

type readyEvent struct {
	handle Handle
	gen    uint64
	ev     Interest
}

type loop struct {
	ctx    context.Context
	cancel context.CancelFunc

	m    sync.Mutex
	regs map[Handle]*registration
	next uint64

	timers   *timerHeap
	timerIdx map[Handle]*timerEntry

	ready chan readyEvent

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Loop bound to ctx. Cancelling ctx is equivalent to calling
// Stop and causes every in-flight Source.Wait to be cancelled too.
func New(ctx context.Context) Loop {
	c, cancel := context.WithCancel(ctx)

	h := &timerHeap{}
	heap.Init(h)

	l := &loop{
		ctx:      c,
		cancel:   cancel,
		regs:     make(map[Handle]*registration),
		timers:   h,
		timerIdx: make(map[Handle]*timerEntry),
		ready:    make(chan readyEvent, 256),
		done:     make(chan struct{}),
	}

	return l
}

func (l *loop) allocHandle() Handle {
	l.next++
	return Handle(l.next)
}

func (l *loop) Register(src Source, interest Interest, handler Handler) Handle {
	l.m.Lock()
	h := l.allocHandle()
	r := &registration{
		handle:   h,
		interest: interest,
		handler:  handler,
		source:   src,
	}
	l.regs[h] = r
	l.m.Unlock()

	l.arm(r)
	return h
}

// arm spawns (or respawns, after a Modify) the goroutine that waits on the
// registration's Source for its current interest. gen guards against a
// stale Wait delivering an event after Unregister/Modify superseded it.
func (l *loop) arm(r *registration) {
	l.m.Lock()
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(l.ctx)
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	interest := r.interest
	handle := r.handle
	src := r.source
	l.m.Unlock()

	if interest == 0 {
		return
	}

	go func() {
		ev, err := src.Wait(ctx, interest)
		if err != nil {
			return
		}
		select {
		case l.ready <- readyEvent{handle: handle, gen: gen, ev: ev}:
		case <-ctx.Done():
		}
	}()
}

func (l *loop) Modify(h Handle, interest Interest) error {
	l.m.Lock()
	r, ok := l.regs[h]
	if !ok {
		l.m.Unlock()
		return ErrorUnknownHandle.Error(nil)
	}
	r.interest = interest
	l.m.Unlock()

	l.arm(r)
	return nil
}

func (l *loop) Unregister(h Handle) error {
	l.m.Lock()
	if r, ok := l.regs[h]; ok {
		if r.cancel != nil {
			r.cancel()
		}
		delete(l.regs, h)
		l.m.Unlock()
		return nil
	}

	if t, ok := l.timerIdx[h]; ok {
		t.canceled = true
		l.m.Unlock()
		return nil
	}
	l.m.Unlock()

	return ErrorUnknownHandle.Error(nil)
}

func (l *loop) Schedule(deadline time.Time, cb func()) Handle {
	l.m.Lock()
	defer l.m.Unlock()

	h := l.allocHandle()
	t := &timerEntry{deadline: deadline, handle: h, cb: cb}
	heap.Push(l.timers, t)
	l.timerIdx[h] = t
	return h
}

func (l *loop) RunOnce(timeout time.Duration) error {
	l.m.Lock()
	next, has := l.nextDeadline()
	l.m.Unlock()

	var timer *time.Timer
	var waitCh <-chan time.Time

	now := time.Now()
	switch {
	case has && (timeout <= 0 || next.Sub(now) < timeout):
		d := next.Sub(now)
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		waitCh = timer.C
	case timeout > 0:
		timer = time.NewTimer(timeout)
		waitCh = timer.C
	}
	if timer != nil {
		defer timer.Stop()
	}

	select {
	case ev := <-l.ready:
		l.dispatch(ev)
		return nil
	case <-waitCh:
		l.fireExpiredTimers()
		return nil
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

func (l *loop) dispatch(ev readyEvent) {
	l.m.Lock()
	r, ok := l.regs[ev.handle]
	if !ok || r.gen != ev.gen {
		l.m.Unlock()
		return
	}
	l.m.Unlock()

	r.handler(ev.handle, ev.ev)

	// level-triggered: re-arm for the next readiness event unless the
	// handler itself unregistered or modified us (arm/Unregister bumps
	// gen or removes the registration, making this a no-op).
	l.m.Lock()
	cur, ok := l.regs[ev.handle]
	stillCurrent := ok && cur.gen == ev.gen
	l.m.Unlock()
	if stillCurrent {
		l.arm(r)
	}
}

func (l *loop) fireExpiredTimers() {
	l.m.Lock()
	due := l.popExpired(time.Now())
	l.m.Unlock()

	for _, t := range due {
		t.cb()
	}
}

func (l *loop) RunForever() error {
	for {
		if err := l.RunOnce(0); err != nil {
			close(l.done)
			return err
		}
		select {
		case <-l.ctx.Done():
			close(l.done)
			return l.ctx.Err()
		default:
		}
	}
}

func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
	})
}

const (
	ErrorUnknownHandle liberr.CodeError = iota + liberr.MinPkgLoop
)

func init() {
	liberr.RegisterIdFctMessage(ErrorUnknownHandle, func(code liberr.CodeError) string {
		switch code {
		case ErrorUnknownHandle:
			return "unknown loop handle"
		default:
			return liberr.NullMessage
		}
	})
}
