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

package proxy

import (
	"context"

	"github.com/sabouaram/goproxy/loop"
)

// oneShotSource adapts a blocking operation (dial, TLS handshake) to
// loop.Source so it runs on the Loop's own per-registration goroutine
// instead of the shared dispatcher goroutine — the same idiom bconn.Conn
// uses internally for its Read/Flush retries, applied here to the one
// connect-style operations the proxy state machine needs.
//
// Wait never itself returns an error: the Loop silently drops the delivered
// event when Source.Wait returns a non-nil error (that path is reserved for
// context cancellation of a registration being torn down), so a one-shot
// result that must always reach its handler — success or failure — is
// reported as data the handler reads back from the source, not as a Wait
// error.
type oneShotSource struct {
	fn  func(ctx context.Context) error
	err error
}

func newOneShot(fn func(ctx context.Context) error) *oneShotSource {
	return &oneShotSource{fn: fn}
}

func (s *oneShotSource) Wait(ctx context.Context, _ loop.Interest) (loop.Interest, error) {
	s.err = s.fn(ctx)
	return loop.Writable, nil
}
