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

package httpmsg

import (
	"bytes"
	"strconv"
	"strings"

	liberr "github.com/sabouaram/goproxy/errors"
)

func errMalformed(why string) error {
	return liberr.MalformedProtocol.Errorf(why)
}

type parserState int

const (
	stLine parserState = iota
	stHeaders
	stDone
)

// Parser incrementally parses a request or status line followed by headers.
// Feed may be called repeatedly with arbitrarily-chunked input; Done reports
// when the line+headers are complete, at which point Unconsumed returns any
// trailing bytes (the start of the body) the caller should route to a
// ChunkDecoder or count against Content-Length.
type Parser struct {
	kind   Kind
	limits Limits

	state       parserState
	buf         []byte
	msg         *Message
	headerBytes int
}

func NewParser(kind Kind, limits Limits) *Parser {
	return &Parser{
		kind:   kind,
		limits: limits.withDefaults(),
		state:  stLine,
		msg:    &Message{Kind: kind},
	}
}

// Reset prepares the parser to parse the next message on the same
// connection (HTTP keep-alive).
func (p *Parser) Reset() {
	p.state = stLine
	p.msg = &Message{Kind: p.kind}
	p.headerBytes = 0
}

func (p *Parser) Done() bool        { return p.state == stDone }
func (p *Parser) Message() *Message { return p.msg }

// Unconsumed returns and clears any bytes fed past the end of the headers.
func (p *Parser) Unconsumed() []byte {
	b := p.buf
	p.buf = nil
	return b
}

// Feed appends b to the parser's internal buffer and advances as far as
// possible. It returns a MalformedProtocol error if limits are exceeded or
// the input cannot be parsed.
func (p *Parser) Feed(b []byte) error {
	p.buf = append(p.buf, b...)

	for {
		switch p.state {
		case stLine:
			line, ok, err := p.nextLine(p.limits.MaxRequestLine)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := p.parseStartLine(line); err != nil {
				return err
			}
			p.state = stHeaders
			p.headerBytes = 0

		case stHeaders:
			line, ok, err := p.nextLine(p.limits.MaxHeaderValue)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			p.headerBytes += len(line) + 2
			if p.headerBytes > p.limits.MaxHeaderBlock {
				return errMalformed("header block too large")
			}

			if len(line) == 0 {
				if err := p.finishHeaders(); err != nil {
					return err
				}
				p.state = stDone
				return nil
			}

			if err := p.consumeHeaderLine(line); err != nil {
				return err
			}

		case stDone:
			return nil
		}
	}
}

// nextLine extracts the next LF-terminated line from p.buf (tolerating
// LF-only terminators), trims a trailing CR, and removes the consumed bytes
// including the terminator from the front of the buffer.
func (p *Parser) nextLine(maxLen int) (line []byte, ok bool, err error) {
	idx := bytes.IndexByte(p.buf, '\n')
	if idx < 0 {
		if len(p.buf) > maxLen {
			return nil, false, errMalformed("line exceeds limit")
		}
		return nil, false, nil
	}

	line = bytes.TrimSuffix(p.buf[:idx], []byte{'\r'})
	p.buf = p.buf[idx+1:]

	if len(line) > maxLen {
		return nil, false, errMalformed("line exceeds limit")
	}

	return line, true, nil
}

func (p *Parser) parseStartLine(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return errMalformed("malformed start line")
	}

	if p.kind == KindRequest {
		p.msg.Method = parts[0]
		p.msg.Target = parts[1]
		p.msg.Version = parts[2]
	} else {
		p.msg.Version = parts[0]
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return errMalformed("malformed status code")
		}
		p.msg.StatusCode = code
		p.msg.Reason = parts[2]
	}

	return nil
}

func (p *Parser) consumeHeaderLine(line []byte) error {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		if len(p.msg.Headers) == 0 {
			return errMalformed("obs-fold continuation with no prior header")
		}
		last := &p.msg.Headers[len(p.msg.Headers)-1]
		last.Value += " " + strings.TrimSpace(string(line))
		return nil
	}

	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return errMalformed("header line missing colon")
	}

	name := strings.TrimSpace(string(line[:idx]))
	value := strings.TrimSpace(string(line[idx+1:]))
	if name == "" {
		return errMalformed("empty header name")
	}

	p.msg.Headers = append(p.msg.Headers, Header{Name: name, Value: value})
	return nil
}

func (p *Parser) finishHeaders() error {
	te, hasTE := p.msg.Get("Transfer-Encoding")
	cl, hasCL := p.msg.Get("Content-Length")
	chunked := hasTE && strings.Contains(strings.ToLower(te), "chunked")

	if chunked && hasCL {
		return errMalformed("both Content-Length and Transfer-Encoding: chunked present")
	}

	switch {
	case chunked:
		p.msg.Framing = BodyChunked
	case hasCL:
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return errMalformed("invalid Content-Length")
		}
		p.msg.Framing = BodyFixed
		p.msg.ContentLength = n
	case p.kind == KindResponse:
		p.msg.Framing = BodyUntilClose
	default:
		p.msg.Framing = BodyNone
	}

	return nil
}
