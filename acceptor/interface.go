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

// Package acceptor binds the listening socket and fans accepted connections
// out to a fixed set of worker inboxes, round-robin. It never touches
// protocol bytes; that starts only once a worker takes ownership.
package acceptor

import (
	"context"
	"net"

	liberr "github.com/sabouaram/goproxy/errors"
	"github.com/sabouaram/goproxy/worker"
)

const DefaultBacklog = 128

// Config describes where and how to listen.
type Config struct {
	Host    string
	Port    int
	Backlog int
}

func (c Config) withDefaults() Config {
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	return c
}

// Pool is the acceptor: one listening socket fanning connections out to a
// slice of worker inboxes.
type Pool struct {
	cfg     Config
	inboxes []chan<- worker.Accepted
	next    int

	ln net.Listener
}

// New binds the listening socket immediately (bind failures are reported
// to the caller synchronously, matching exit code 2 in the external
// interfaces section: bind failure).
func New(cfg Config, inboxes []chan<- worker.Accepted) (*Pool, error) {
	cfg = cfg.withDefaults()

	ln, err := listen(cfg.Host, cfg.Port, cfg.Backlog)
	if err != nil {
		return nil, ErrorBindFailed.Error(err)
	}

	return &Pool{cfg: cfg, inboxes: inboxes, ln: ln}, nil
}

// Addr returns the bound listener address.
func (p *Pool) Addr() net.Addr {
	return p.ln.Addr()
}

// Run accepts connections until ctx is cancelled or the listener errors,
// dispatching each to the next worker inbox round-robin. A full inbox
// briefly blocks the accept loop — this is the spec's load-shedding
// mechanism, not a bug.
func (p *Pool) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = p.ln.Close()
	}()

	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return ErrorAcceptFailed.Error(err)
			}
		}

		a := worker.Accepted{Conn: conn, Addr: conn.RemoteAddr()}
		inbox := p.inboxes[p.next%len(p.inboxes)]
		p.next++

		select {
		case inbox <- a:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}
	}
}

func (p *Pool) Close() error {
	return p.ln.Close()
}

const (
	ErrorBindFailed liberr.CodeError = iota + liberr.MinPkgAcceptor
	ErrorAcceptFailed
)

func init() {
	liberr.RegisterIdFctMessage(ErrorBindFailed, func(code liberr.CodeError) string {
		switch code {
		case ErrorBindFailed:
			return "failed to bind listening socket"
		case ErrorAcceptFailed:
			return "accept failed"
		default:
			return liberr.NullMessage
		}
	})
}
