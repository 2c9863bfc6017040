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

package plugin

import (
	"fmt"

	"github.com/sabouaram/goproxy/logger"
	loglvl "github.com/sabouaram/goproxy/logger/level"
)

// Chain is an ordered, immutable list of plugins. Dispatch is strictly
// ordered and stops at the first terminal outcome (reject or synthesized).
type Chain struct {
	plugins []Plugin
	caps    []Capability
	log     logger.FuncLog
}

// NewChain type-asserts every plugin against each hook interface exactly
// once, recording the result as a bitmask so later dispatch calls pay only
// a bit test per hook site instead of repeating the assertion.
func NewChain(log logger.FuncLog, plugins ...Plugin) *Chain {
	c := &Chain{plugins: plugins, caps: make([]Capability, len(plugins)), log: log}

	for i, p := range plugins {
		var mask Capability
		if _, ok := p.(BeforeUpstreamConnectionHook); ok {
			mask |= CapBeforeUpstreamConnection
		}
		if _, ok := p.(OnClientRequestHook); ok {
			mask |= CapOnClientRequest
		}
		if _, ok := p.(OnResponseChunkHook); ok {
			mask |= CapOnResponseChunk
		}
		if _, ok := p.(OnClientConnectionCloseHook); ok {
			mask |= CapOnClientConnectionClose
		}
		if _, ok := p.(OnAccessLogHook); ok {
			mask |= CapOnAccessLog
		}
		c.caps[i] = mask
	}

	return c
}

func (c *Chain) logEntry(lvl loglvl.Level, msg string) {
	if c.log == nil {
		return
	}
	if l := c.log(); l != nil {
		l.Entry(lvl, msg).Log()
	}
}

// recoverAsReject runs fn, converting a panic into Outcome{Kind:
// OutcomeReject} — fail-closed, used only for before_upstream_connection.
func (c *Chain) recoverAsReject(name string, fn func() (Outcome, error)) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logEntry(loglvl.ErrorLevel, fmt.Sprintf("plugin %q panicked in before_upstream_connection, rejecting: %v", name, r))
			out = Outcome{Kind: OutcomeReject, Reason: "plugin panic"}
			err = nil
		}
	}()
	return fn()
}

// recoverAsContinue runs fn, converting a panic (or error) into continue —
// fail-open, used for every hook except before_upstream_connection.
func (c *Chain) recoverAsContinue(hook, name string, fn func() (Outcome, error)) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logEntry(loglvl.ErrorLevel, fmt.Sprintf("plugin %q panicked in %s, continuing: %v", name, hook, r))
			out = continueOutcome()
		}
	}()
	out, err := fn()
	if err != nil {
		c.logEntry(loglvl.WarnLevel, fmt.Sprintf("plugin %q returned error in %s, continuing: %v", name, hook, err))
		return continueOutcome()
	}
	return out
}

// BeforeUpstreamConnection dispatches the before_upstream_connection hook.
// Fail-closed: a plugin panic rejects the connection.
func (c *Chain) BeforeUpstreamConnection(ctx *Context) Outcome {
	for i, p := range c.plugins {
		if c.caps[i]&CapBeforeUpstreamConnection == 0 {
			continue
		}
		h := p.(BeforeUpstreamConnectionHook)
		out, err := c.recoverAsReject(p.Name(), func() (Outcome, error) { return h.BeforeUpstreamConnection(ctx) })
		if err != nil {
			return Outcome{Kind: OutcomeReject, Reason: err.Error()}
		}
		if out.Kind != OutcomeContinue {
			return out
		}
	}
	return continueOutcome()
}

// OnClientRequest dispatches the on_client_request hook. Fail-open: a
// plugin panic or error is logged and treated as continue.
func (c *Chain) OnClientRequest(ctx *Context) Outcome {
	for i, p := range c.plugins {
		if c.caps[i]&CapOnClientRequest == 0 {
			continue
		}
		h := p.(OnClientRequestHook)
		out := c.recoverAsContinue("on_client_request", p.Name(), func() (Outcome, error) { return h.OnClientRequest(ctx) })
		if out.Kind != OutcomeContinue {
			return out
		}
	}
	return continueOutcome()
}

// OnResponseChunk dispatches the on_response_chunk hook. Fail-open.
func (c *Chain) OnResponseChunk(ctx *Context, chunk []byte) Outcome {
	for i, p := range c.plugins {
		if c.caps[i]&CapOnResponseChunk == 0 {
			continue
		}
		h := p.(OnResponseChunkHook)
		out := c.recoverAsContinue("on_response_chunk", p.Name(), func() (Outcome, error) { return h.OnResponseChunk(ctx, chunk) })
		if out.Kind != OutcomeContinue {
			return out
		}
	}
	return continueOutcome()
}

// OnClientConnectionClose notifies every plugin implementing the hook; it
// has no terminal outcome and a panic is only logged, never propagated.
func (c *Chain) OnClientConnectionClose(ctx *Context) {
	for i, p := range c.plugins {
		if c.caps[i]&CapOnClientConnectionClose == 0 {
			continue
		}
		h := p.(OnClientConnectionCloseHook)
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logEntry(loglvl.ErrorLevel, fmt.Sprintf("plugin %q panicked in on_client_connection_close: %v", p.Name(), r))
				}
			}()
			h.OnClientConnectionClose(ctx)
		}()
	}
}

// OnAccessLog notifies every plugin implementing the hook.
func (c *Chain) OnAccessLog(ctx *Context, entry AccessLogEntry) {
	for i, p := range c.plugins {
		if c.caps[i]&CapOnAccessLog == 0 {
			continue
		}
		h := p.(OnAccessLogHook)
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logEntry(loglvl.ErrorLevel, fmt.Sprintf("plugin %q panicked in on_access_log: %v", p.Name(), r))
				}
			}()
			h.OnAccessLog(ctx, entry)
		}()
	}
}
