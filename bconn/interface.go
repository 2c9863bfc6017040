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

// Package bconn wraps a net.Conn (TCP or TLS) with capped in/out byte
// buffers, exposing the non-blocking read/write/flush shape the proxy
// handler drives and implementing loop.Source so a Conn can be registered
// directly on a Loop.
package bconn

import (
	"net"

	"github.com/sabouaram/goproxy/loop"
)

// DefaultBufferSize is the default cap for both directions (64 KiB, per
// the connection buffer size invariant).
const DefaultBufferSize = 64 * 1024

// Conn is a buffered, non-blocking-shaped wrapper around a net.Conn.
type Conn interface {
	loop.Source

	// Read drains the underlying socket into the in-buffer until the
	// buffer is full, the read would block, or EOF/error occurs. It
	// returns the number of bytes newly buffered and io.EOF or a
	// terminal error when the peer half-closed or the connection died.
	Read() (int, error)

	// Peek returns up to n unconsumed bytes from the in-buffer without
	// removing them.
	Peek(n int) []byte

	// Discard removes n bytes from the front of the in-buffer.
	Discard(n int)

	// InLen returns the number of unconsumed bytes currently buffered.
	InLen() int

	// InCap returns the configured in-buffer cap.
	InCap() int

	// Write appends p to the out-buffer. It returns an error without
	// buffering anything if the out-buffer does not have room for all of
	// p (backpressure: callers must wait for WantsWrite to clear via
	// Flush before retrying).
	Write(p []byte) (int, error)

	// Flush pushes the out-buffer to the kernel until it would block or
	// drains completely.
	Flush() (int, error)

	// OutLen returns the number of bytes still queued to be flushed.
	OutLen() int

	// WantsRead reports whether the in-buffer currently has room.
	WantsRead() bool

	// WantsWrite reports whether the out-buffer is non-empty.
	WantsWrite() bool

	// Closed reports whether the connection has been terminally closed.
	Closed() bool

	// HalfClosed reports whether the peer has sent EOF while this side
	// may still have data to drain to it.
	HalfClosed() bool

	Close() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Raw returns the underlying net.Conn (e.g. to type-assert to
	// *tls.Conn for ConnectionState()).
	Raw() net.Conn
}

// New wraps conn with in/out buffer caps inCap/outCap. A cap of 0 uses
// DefaultBufferSize.
func New(conn net.Conn, inCap, outCap int) Conn {
	if inCap <= 0 {
		inCap = DefaultBufferSize
	}
	if outCap <= 0 {
		outCap = DefaultBufferSize
	}

	return &bufConn{
		conn:   conn,
		inCap:  inCap,
		outCap: outCap,
	}
}
