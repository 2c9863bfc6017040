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

// Package worker hosts one loop.Loop per worker goroutine (the Go analogue
// of a teacher "worker process": see DESIGN.md's Open Question on
// goroutines vs OS processes) and owns the live Work Units handed to it by
// an acceptor. The worker itself is protocol-agnostic: it only knows how to
// register a Unit on its Loop and drain it at shutdown. The protocol state
// machine lives in the proxy package and plugs in via the Driver interface.
package worker

import (
	"context"
	"net"
	"time"

	"github.com/sabouaram/goproxy/loop"
)

// Accepted is a connection handed off from an acceptor to a worker's inbox.
type Accepted struct {
	Conn net.Conn
	Addr net.Addr
}

// Unit is a per-connection state machine owned by exactly one Worker for
// the connection's lifetime.
type Unit interface {
	// Close terminates the unit's connections immediately.
	Close() error

	// Done reports whether the unit has already reached a terminal state
	// (both sides closed, or an unrecoverable error) on its own, without
	// being asked to Close.
	Done() bool
}

// Driver builds a Unit for each accepted connection and returns the
// loop.Source/Interest/Handler the worker should register it with. This
// indirection keeps worker protocol-agnostic: the proxy package supplies
// the Driver.
type Driver interface {
	NewUnit(w *Worker, a Accepted) (unit Unit, src loop.Source, interest loop.Interest, handler loop.Handler)
}

// Config bounds a Worker's behavior.
type Config struct {
	InboxDepth    int           // default 1, per the Worker Inbox spec
	GraceDeadline time.Duration // default 10s, drain timeout at shutdown
}

func (c Config) withDefaults() Config {
	if c.InboxDepth <= 0 {
		c.InboxDepth = 1
	}
	if c.GraceDeadline <= 0 {
		c.GraceDeadline = 10 * time.Second
	}
	return c
}

// New creates a Worker bound to ctx, driven by driver.
func New(ctx context.Context, id int, driver Driver, cfg Config) *Worker {
	cfg = cfg.withDefaults()

	w := &Worker{
		id:     id,
		ctx:    ctx,
		l:      loop.New(ctx),
		driver: driver,
		inbox:  make(chan Accepted, cfg.InboxDepth),
		units:  make(map[loop.Handle]Unit),
		cfg:    cfg,
	}

	return w
}
