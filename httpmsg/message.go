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
	"fmt"
	"strconv"
	"strings"
)

// HopByHopHeaders must never be forwarded across a proxy hop (4.F).
var HopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Message is a parsed HTTP/1.x request or response.
type Message struct {
	Kind    Kind
	Method  string
	Target  string
	Version string

	StatusCode int
	Reason     string

	Headers []Header

	Framing       BodyFraming
	ContentLength int64
}

func (m *Message) Get(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (m *Message) Values(name string) []string {
	var out []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

func (m *Message) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Set replaces the first occurrence of name (removing the rest) or appends
// if absent.
func (m *Message) Set(name, value string) {
	found := false
	out := m.Headers[:0]
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			if !found {
				out = append(out, Header{Name: name, Value: value})
				found = true
			}
			continue
		}
		out = append(out, h)
	}
	m.Headers = out
	if !found {
		m.Headers = append(m.Headers, Header{Name: name, Value: value})
	}
}

func (m *Message) Add(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// Del removes every header whose name case-insensitively matches name.
func (m *Message) Del(name string) {
	out := m.Headers[:0]
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	m.Headers = out
}

// StripHopByHop removes the fixed hop-by-hop set plus any header named in
// the client's Connection field (4.F forward-proxy rewrite rule).
func (m *Message) StripHopByHop() {
	for _, extra := range m.Values("Connection") {
		for _, tok := range strings.Split(extra, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				m.Del(tok)
			}
		}
	}
	for _, h := range HopByHopHeaders {
		m.Del(h)
	}
}

// Serialize renders the message as CRLF-terminated wire bytes (request line
// or status line, then headers, then the blank line). It never includes the
// body; callers stream the body separately.
func (m *Message) Serialize() []byte {
	var b strings.Builder

	if m.Kind == KindRequest {
		fmt.Fprintf(&b, "%s %s %s\r\n", m.Method, m.Target, m.Version)
	} else {
		reason := m.Reason
		if reason == "" {
			reason = statusText(m.StatusCode)
		}
		fmt.Fprintf(&b, "%s %d %s\r\n", m.Version, m.StatusCode, reason)
	}

	for _, h := range m.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	return []byte(b.String())
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 407:
		return "Proxy Authentication Required"
	case 408:
		return "Request Timeout"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return strconv.Itoa(code)
	}
}
