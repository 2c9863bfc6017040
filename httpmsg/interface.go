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

// Package httpmsg is an incremental, byte-driven HTTP/1.x parser for request
// and status lines, headers, and bodies (Content-Length, chunked,
// until-close). It mirrors the header-ordering conventions of a teacher's
// ordered field list (httpserver/types.Fields) with a case-insensitive
// lookup layered on top, and follows stdlib net/textproto's line-folding and
// trimming idiom for raw header parsing.
package httpmsg

// Kind distinguishes parsing a request (method + target) from a response
// (status code + reason).
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

// BodyFraming is how a message's body length is determined.
type BodyFraming int

const (
	BodyNone BodyFraming = iota
	BodyFixed
	BodyChunked
	BodyUntilClose
)

// Header is one (name, value) pair. Order and duplicates are preserved as
// received.
type Header struct {
	Name  string
	Value string
}

// Limits bounds parser input to guard memory; zero fields fall back to the
// package defaults.
type Limits struct {
	MaxRequestLine int
	MaxHeaderBlock int
	MaxHeaderValue int
	MaxChunkSize   int64
}

const (
	DefaultMaxRequestLine = 8 * 1024
	DefaultMaxHeaderBlock = 64 * 1024
	DefaultMaxHeaderValue = 8 * 1024
	DefaultMaxChunkSize   = 16 * 1024 * 1024
)

func (l Limits) withDefaults() Limits {
	if l.MaxRequestLine <= 0 {
		l.MaxRequestLine = DefaultMaxRequestLine
	}
	if l.MaxHeaderBlock <= 0 {
		l.MaxHeaderBlock = DefaultMaxHeaderBlock
	}
	if l.MaxHeaderValue <= 0 {
		l.MaxHeaderValue = DefaultMaxHeaderValue
	}
	if l.MaxChunkSize <= 0 {
		l.MaxChunkSize = DefaultMaxChunkSize
	}
	return l
}
