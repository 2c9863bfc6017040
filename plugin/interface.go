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

// Package plugin dispatches named lifecycle hooks to an ordered list of user
// plugins. A plugin declares the hooks it implements by satisfying small
// optional interfaces (the same pattern net/http uses for http.Flusher /
// http.Hijacker); the Chain type-asserts each plugin once at construction and
// records the result as a bitmask, so the hot path tests a bit instead of
// doing an interface assertion per call.
package plugin

import (
	"net"

	"github.com/sabouaram/goproxy/httpmsg"
)

// Capability is a bitmask of the hooks a plugin implements.
type Capability uint8

const (
	CapBeforeUpstreamConnection Capability = 1 << iota
	CapOnClientRequest
	CapOnResponseChunk
	CapOnClientConnectionClose
	CapOnAccessLog
)

// OutcomeKind is the terminal shape of a hook call's result.
type OutcomeKind int

const (
	// OutcomeContinue lets dispatch proceed to the next plugin, or to the
	// phase that follows the hook site if this was the last plugin.
	OutcomeContinue OutcomeKind = iota
	// OutcomeReject terminates the connection; short-circuits the chain.
	OutcomeReject
	// OutcomeSynthesized supplies a response to send directly to the
	// client, skipping upstream entirely; short-circuits the chain.
	OutcomeSynthesized
)

// Outcome is what a hook call returns. Rewriting a request or response is
// done in place through the Context's Request/Response pointers, not via
// Outcome — only veto and synthesized-response are terminal shapes.
type Outcome struct {
	Kind     OutcomeKind
	Response *httpmsg.Message // set when Kind == OutcomeSynthesized
	Reason   string           // set when Kind == OutcomeReject, for access logging
}

func continueOutcome() Outcome { return Outcome{Kind: OutcomeContinue} }

// AccessLogEntry is the fixed record passed to OnAccessLog, mirroring
// proxy.py's AccessLogPlugin fields.
type AccessLogEntry struct {
	RequestID    string
	Method       string
	Target       string
	Status       int
	UpstreamHost string
	BytesIn      int64
	BytesOut     int64
	Failure      string
}

// Context is the Work Unit view passed to every hook: read-only connection
// bindings plus the mutable request/response the plugin may rewrite.
type Context struct {
	WorkerID     string
	RequestID    string
	ClientAddr   net.Addr
	UpstreamAddr net.Addr
	Request      *httpmsg.Message
	Response     *httpmsg.Message
	Values       map[string]interface{}
}

// Plugin is the minimal identity every plugin carries. A plugin that wants
// to observe a given hook additionally implements that hook's interface
// below; a plugin implementing none of them is registered but never called.
type Plugin interface {
	Name() string
}

type BeforeUpstreamConnectionHook interface {
	BeforeUpstreamConnection(ctx *Context) (Outcome, error)
}

type OnClientRequestHook interface {
	OnClientRequest(ctx *Context) (Outcome, error)
}

type OnResponseChunkHook interface {
	OnResponseChunk(ctx *Context, chunk []byte) (Outcome, error)
}

type OnClientConnectionCloseHook interface {
	OnClientConnectionClose(ctx *Context)
}

type OnAccessLogHook interface {
	OnAccessLog(ctx *Context, entry AccessLogEntry)
}
