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
	"net"
	"net/url"
	"strings"

	"github.com/sabouaram/goproxy/httpmsg"
	"github.com/sabouaram/goproxy/loop"
	"github.com/sabouaram/goproxy/plugin"
)

// originForm rewrites an absolute-form request target ("http://host/path")
// to origin-form ("/path") before the request line is serialized to the
// upstream hop, per 4.F step 5. A target already in origin-form (the usual
// case inside a MITM tunnel) has no Host component and is returned as-is.
func originForm(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	if rf := u.RequestURI(); rf != "" {
		return rf
	}
	return "/"
}

func maxChunkSize(l httpmsg.Limits) int64 {
	if l.MaxChunkSize <= 0 {
		return httpmsg.DefaultMaxChunkSize
	}
	return l.MaxChunkSize
}

// beginForwardRelay rewrites the request for the upstream hop, sends its
// head, then forwards whatever body bytes already arrived with it. A plain
// (non-MITM) forward relay opens one upstream connection per forwarded
// request and never reuses it across a client's keep-alive cycles (scope
// simplification, DESIGN.md); a MITM session keeps its upstream open.
func (u *unit) beginForwardRelay() {
	u.phase = PhaseRelay

	u.keepAliveClient = !wantsClose(u.req)
	u.req.Target = originForm(u.req.Target)
	u.req.StripHopByHop()
	if !u.mitmed {
		u.req.Set("Connection", "close")
	}
	u.req.Add("Via", u.cfg.ServerVersion+" "+u.cfg.ServerName)
	if host, _, err := net.SplitHostPort(u.clientAddr.String()); err == nil {
		u.req.Add("X-Forwarded-For", host)
	}

	if _, err := u.upstream.Write(u.req.Serialize()); err != nil {
		u.failUpstream(502, "Bad Gateway")
		return
	}

	if u.req.Framing != httpmsg.BodyNone {
		u.reqBody = newBodyState(u.req.Framing, u.req.ContentLength, maxChunkSize(u.cfg.Limits))
	}

	if unconsumed := u.reqParser.Unconsumed(); len(unconsumed) > 0 {
		var send []byte
		if u.reqBody != nil {
			n := u.reqBody.cap(len(unconsumed))
			send = unconsumed[:n]
			// Bytes beyond the current request body (a pipelined next
			// request already buffered by the client) are not supported by
			// this relay and are dropped; see DESIGN.md.
		}
		if len(send) > 0 {
			if _, err := u.upstream.Write(send); err != nil {
				u.failUpstream(502, "Bad Gateway")
				return
			}
			u.reqBody.observe(send)
		}
	}

	if _, err := u.upstream.Flush(); err != nil {
		u.failUpstream(502, "Bad Gateway")
		return
	}

	u.respParser = httpmsg.NewParser(httpmsg.KindResponse, u.cfg.Limits)
	_ = u.w.Loop().Modify(u.clientHandle, loop.Readable)
}

func (u *unit) failUpstream(status int, reason string) {
	u.accessEntry.Failure = reason
	u.sendSimpleResponse(status, reason)
	u.finishRequest(status)
	u.closeSoon()
}

// stepResponse drives response-head parsing then body relay once the
// upstream side has bytes available.
func (u *unit) stepResponse() {
	if u.respBody != nil {
		u.relayResponseBody()
		return
	}

	if n := u.upstream.InLen(); n > 0 {
		b := u.upstream.Peek(n)
		u.upstream.Discard(n)
		if err := u.respParser.Feed(b); err != nil {
			u.failUpstream(502, "Bad Gateway")
			return
		}
	}

	if u.upstream.HalfClosed() && u.upstream.InLen() == 0 && !u.respParser.Done() {
		u.failUpstream(502, "Bad Gateway")
		return
	}

	if !u.respParser.Done() {
		return
	}

	u.onResponseHead()
}

func (u *unit) onResponseHead() {
	u.resp = u.respParser.Message()
	u.pctx.Response = u.resp
	u.accessEntry.Status = u.resp.StatusCode

	upstreamClosing := wantsClose(u.resp) || u.resp.Framing == httpmsg.BodyUntilClose
	u.resp.StripHopByHop()
	if !u.keepAliveClient || upstreamClosing {
		u.resp.Set("Connection", "close")
		u.keepAliveClient = false
	} else {
		u.resp.Set("Connection", "keep-alive")
		u.keepAliveClient = true
	}

	if _, err := u.client.Write(u.resp.Serialize()); err != nil {
		u.closeSoon()
		return
	}
	if _, err := u.client.Flush(); err != nil {
		u.closeSoon()
		return
	}

	if u.resp.Framing != httpmsg.BodyNone && u.req.Method != "HEAD" {
		u.respBody = newBodyState(u.resp.Framing, u.resp.ContentLength, maxChunkSize(u.cfg.Limits))
	} else {
		u.respBody = newBodyState(httpmsg.BodyNone, 0, 0)
	}

	if leftover := u.respParser.Unconsumed(); len(leftover) > 0 {
		u.relayResponseChunk(leftover)
	}

	if u.respBody.done() {
		u.finishResponse()
		return
	}

	u.relayResponseBody()
}

// relayResponseBody forwards whatever of the upstream's buffered bytes fit,
// running each forwarded chunk through on_response_chunk first.
func (u *unit) relayResponseBody() {
	avail := u.respBody.cap(u.upstream.InLen())
	if avail > 0 {
		b := u.upstream.Peek(avail)
		if !u.relayResponseChunk(b) {
			return
		}
		u.upstream.Discard(len(b))
	}

	if u.upstream.HalfClosed() && u.upstream.InLen() == 0 {
		u.finishResponse()
		return
	}
	if u.respBody.done() {
		u.finishResponse()
	}
}

// relayResponseChunk runs on_response_chunk then writes chunk to the
// client verbatim (the hook may veto the connection but not rewrite the
// bytes — mutation is observational, per plugin.Context's documented
// contract). Returns false if the write backpressured or the hook
// rejected, in which case the caller must not discard the source bytes.
func (u *unit) relayResponseChunk(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	out := u.cfg.Plugins.OnResponseChunk(u.pctx, chunk)
	if out.Kind == plugin.OutcomeReject {
		u.closeSoon()
		return false
	}

	if _, err := u.client.Write(chunk); err != nil {
		_ = u.w.Loop().Modify(u.upstreamHandle, 0)
		return false
	}
	if _, err := u.client.Flush(); err != nil {
		u.closeSoon()
		return false
	}
	u.respBody.observe(chunk)
	u.accessEntry.BytesOut += int64(len(chunk))
	return true
}

// finishResponse flushes the response, logs the access entry, and either
// resets the client connection for its next request (keep-alive) or tears
// the unit down.
func (u *unit) finishResponse() {
	_, _ = u.client.Flush()
	if !u.mitmed {
		// Non-MITM forward relays open one upstream connection per
		// request (DESIGN.md); a MITM session's upstream TLS connection
		// is the CONNECT tunnel itself and stays open for further
		// decrypted requests on the same session.
		_ = u.upstream.Close()
		if u.upstreamHandle != 0 {
			_ = u.w.Loop().Unregister(u.upstreamHandle)
			u.upstreamHandle = 0
		}
	}
	u.finishRequest(0)

	if !u.keepAliveClient || u.client.Closed() {
		u.closeSoon()
		return
	}

	u.req = nil
	u.resp = nil
	u.reqBody = nil
	u.respBody = nil
	u.respParser = nil
	u.phase = PhaseAwaitHead
	u.newRequestParser()
	u.stepAwaitHead(loop.Readable)
}

func wantsClose(msg *httpmsg.Message) bool {
	for _, tok := range msg.Values("Connection") {
		for _, t := range strings.Split(tok, ",") {
			if strings.EqualFold(strings.TrimSpace(t), "close") {
				return true
			}
		}
	}
	if msg.Version == "HTTP/1.0" {
		for _, tok := range msg.Values("Connection") {
			if strings.EqualFold(strings.TrimSpace(tok), "keep-alive") {
				return false
			}
		}
		return true
	}
	return false
}
