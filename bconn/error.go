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
	"errors"
	"io"
	"net"
	"syscall"

	liberr "github.com/sabouaram/goproxy/errors"
)

const (
	ErrorBufferFull liberr.CodeError = iota + liberr.MinPkgBConn
	ErrorClosed
)

func init() {
	liberr.RegisterIdFctMessage(ErrorBufferFull, func(code liberr.CodeError) string {
		switch code {
		case ErrorBufferFull:
			return "out buffer full, flush before writing more"
		case ErrorClosed:
			return "connection already closed"
		default:
			return liberr.NullMessage
		}
	})
}

// isRetryable reports whether err means "no progress right now, try again
// later" rather than "this connection is dead". Would-block, interrupted
// syscalls, and I/O timeouts are retryable; everything else, including EOF,
// is terminal.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
