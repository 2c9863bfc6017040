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

import liberr "github.com/sabouaram/goproxy/errors"

// Most of the proxy handler's error taxonomy is already the shared,
// HTTP-status-like CodeError set in the errors package (MalformedProtocol,
// UpstreamUnreachable, UpstreamTimeout, TlsHandshakeFailed, PluginRejected,
// ...). Only the one condition with no existing home gets a package-local
// code here.
const (
	ErrorNoTarget liberr.CodeError = iota + liberr.MinPkgProxy
)

func init() {
	liberr.RegisterIdFctMessage(ErrorNoTarget, func(code liberr.CodeError) string {
		switch code {
		case ErrorNoTarget:
			return "request target names no host"
		default:
			return liberr.NullMessage
		}
	})
}
