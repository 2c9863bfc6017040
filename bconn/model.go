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

package bconn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sabouaram/goproxy/loop"
)

type bufConn struct {
	conn   net.Conn
	inCap  int
	outCap int

	m          sync.Mutex
	in         []byte
	out        []byte
	closed     bool
	halfClosed bool
}

func (c *bufConn) Read() (int, error) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.readLocked()
}

func (c *bufConn) readLocked() (int, error) {
	if c.closed {
		return 0, ErrorClosed.Error(nil)
	}

	room := c.inCap - len(c.in)
	if room <= 0 {
		return 0, nil
	}

	buf := make([]byte, room)
	total := 0

	for room > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := c.conn.Read(buf[:room])
		if n > 0 {
			c.in = append(c.in, buf[:n]...)
			total += n
			room -= n
		}
		if err != nil {
			if isEOF(err) {
				c.halfClosed = true
				return total, err
			}
			if isRetryable(err) {
				return total, nil
			}
			c.closed = true
			return total, err
		}
		if n == 0 {
			break
		}
	}

	return total, nil
}

func (c *bufConn) Peek(n int) []byte {
	c.m.Lock()
	defer c.m.Unlock()

	if n > len(c.in) {
		n = len(c.in)
	}
	out := make([]byte, n)
	copy(out, c.in[:n])
	return out
}

func (c *bufConn) Discard(n int) {
	c.m.Lock()
	defer c.m.Unlock()

	if n > len(c.in) {
		n = len(c.in)
	}
	c.in = c.in[n:]
}

func (c *bufConn) InLen() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.in)
}

func (c *bufConn) InCap() int { return c.inCap }

func (c *bufConn) Write(p []byte) (int, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return 0, ErrorClosed.Error(nil)
	}
	if len(c.out)+len(p) > c.outCap {
		return 0, ErrorBufferFull.Error(nil)
	}

	c.out = append(c.out, p...)
	return len(p), nil
}

func (c *bufConn) Flush() (int, error) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.flushLocked()
}

func (c *bufConn) flushLocked() (int, error) {
	if c.closed {
		return 0, ErrorClosed.Error(nil)
	}

	total := 0
	for len(c.out) > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := c.conn.Write(c.out)
		if n > 0 {
			c.out = c.out[n:]
			total += n
		}
		if err != nil {
			if isRetryable(err) {
				return total, nil
			}
			c.closed = true
			return total, err
		}
	}

	return total, nil
}

func (c *bufConn) OutLen() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.out)
}

func (c *bufConn) WantsRead() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return !c.closed && len(c.in) < c.inCap
}

func (c *bufConn) WantsWrite() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return !c.closed && len(c.out) > 0
}

func (c *bufConn) Closed() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.closed
}

func (c *bufConn) HalfClosed() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.halfClosed
}

func (c *bufConn) Close() error {
	c.m.Lock()
	if c.closed {
		c.m.Unlock()
		return nil
	}
	c.closed = true
	c.m.Unlock()

	return c.conn.Close()
}

func (c *bufConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *bufConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *bufConn) Raw() net.Conn        { return c.conn }

// Wait implements loop.Source. For Readable it performs the actual socket
// read into the in-buffer (Go's blocking-call-with-deadline *is* its
// readiness primitive, so "wait for readable" and "read what's available"
// collapse into one step); for Writable it flushes the out-buffer. When
// both bits are requested it races both against whichever completes first;
// net.Conn explicitly permits concurrent Read and Write from different
// goroutines.
func (c *bufConn) Wait(ctx context.Context, interest loop.Interest) (loop.Interest, error) {
	type result struct {
		ev  loop.Interest
		err error
	}

	resCh := make(chan result, 2)
	started := 0

	if interest.Has(loop.Readable) {
		started++
		go func() {
			for {
				select {
				case <-ctx.Done():
					resCh <- result{0, ctx.Err()}
					return
				default:
				}
				n, err := c.Read()
				if err != nil {
					resCh <- result{loop.Readable, err}
					return
				}
				if n > 0 {
					resCh <- result{loop.Readable, nil}
					return
				}
			}
		}()
	}

	if interest.Has(loop.Writable) {
		started++
		go func() {
			for {
				select {
				case <-ctx.Done():
					resCh <- result{0, ctx.Err()}
					return
				default:
				}
				if !c.WantsWrite() {
					resCh <- result{loop.Writable, nil}
					return
				}
				n, err := c.Flush()
				if err != nil {
					resCh <- result{loop.Writable, err}
					return
				}
				if n > 0 || !c.WantsWrite() {
					resCh <- result{loop.Writable, nil}
					return
				}
			}
		}()
	}

	if started == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	select {
	case r := <-resCh:
		return r.ev, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
