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
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabouaram/goproxy/bconn"
	"github.com/sabouaram/goproxy/httpmsg"
	"github.com/sabouaram/goproxy/loop"
	"github.com/sabouaram/goproxy/plugin"
	"github.com/sabouaram/goproxy/worker"
)

// unit is the Work Unit: the per-connection state bundle a Handler hands to
// exactly one worker.Worker for the connection's lifetime.
type unit struct {
	w   *worker.Worker
	cfg Config

	client       bconn.Conn
	clientHandle loop.Handle
	clientAddr   net.Addr

	upstream       bconn.Conn
	upstreamHandle loop.Handle
	dialConn       net.Conn

	phase           Phase
	isConnect       bool
	mitmed          bool
	keepAliveClient bool
	targetHost      string
	targetPort      string
	requestID       string

	reqParser  *httpmsg.Parser
	respParser *httpmsg.Parser
	reqBody    *bodyState
	respBody   *bodyState

	req  *httpmsg.Message
	resp *httpmsg.Message
	pctx *plugin.Context

	accessEntry plugin.AccessLogEntry

	idleHandle loop.Handle

	m      sync.Mutex
	closed bool
	done   bool
}

func newUnit(w *worker.Worker, cfg Config, a worker.Accepted) (worker.Unit, loop.Source, loop.Interest, loop.Handler) {
	u := &unit{
		w:          w,
		cfg:        cfg,
		client:     bconn.New(a.Conn, cfg.ClientBufSize, cfg.ClientBufSize),
		clientAddr: a.Addr,
		phase:      PhaseAwaitHead,
	}
	u.newRequestParser()
	return u, u.client, loop.Readable, u.onClientEvent
}

func (u *unit) newRequestParser() {
	u.reqParser = httpmsg.NewParser(httpmsg.KindRequest, u.cfg.Limits)
}

// Close terminates both connections immediately and releases the unit's
// Loop registrations. Safe to call more than once and from a goroutine
// other than the worker's dispatcher (worker.Stop calls it directly).
func (u *unit) Close() error {
	u.m.Lock()
	if u.closed {
		u.m.Unlock()
		return nil
	}
	u.closed = true
	u.done = true
	u.m.Unlock()

	if u.pctx != nil {
		u.cfg.Plugins.OnClientConnectionClose(u.pctx)
	}

	_ = u.client.Close()
	if u.upstream != nil {
		_ = u.upstream.Close()
	}
	if u.idleHandle != 0 {
		_ = u.w.Loop().Unregister(u.idleHandle)
	}
	if u.upstreamHandle != 0 {
		_ = u.w.Loop().Unregister(u.upstreamHandle)
	}
	if u.clientHandle != 0 {
		u.w.Forget(u.clientHandle)
	}
	return nil
}

func (u *unit) Done() bool {
	u.m.Lock()
	defer u.m.Unlock()
	return u.done
}

func (u *unit) isClosed() bool {
	u.m.Lock()
	defer u.m.Unlock()
	return u.closed
}

// closeSoon marks the unit terminal and tears it down. Called from within
// the dispatcher goroutine once a phase reaches an unrecoverable condition.
func (u *unit) closeSoon() {
	u.m.Lock()
	u.done = true
	u.m.Unlock()
	_ = u.Close()
}

// bumpIdle (re)schedules the idle-timeout close, cancelling any previous
// timer (per spec.md §5: 30s since the last byte in either direction).
func (u *unit) bumpIdle() {
	if u.idleHandle != 0 {
		_ = u.w.Loop().Unregister(u.idleHandle)
	}
	u.idleHandle = u.w.Loop().Schedule(time.Now().Add(u.cfg.IdleTimeout), func() {
		if u.isClosed() {
			return
		}
		if u.phase == PhaseAwaitHead && !u.reqParser.Done() && u.reqParser.Message().Method == "" {
			u.sendSimpleResponse(408, "Request Timeout")
		}
		u.closeSoon()
	})
}

func (u *unit) onClientEvent(h loop.Handle, ev loop.Interest) {
	if u.clientHandle == 0 {
		u.clientHandle = h
	}
	if u.isClosed() {
		return
	}
	u.bumpIdle()

	switch u.phase {
	case PhaseAwaitHead:
		u.stepAwaitHead(ev)
	case PhaseRelay, PhaseTunnel:
		u.stepClientData(ev)
	default:
		// UpstreamConnect / TLS handshake phases are driven by one-shot
		// sources registered on their own handles, not the client's.
	}
}

func (u *unit) onUpstreamEvent(h loop.Handle, ev loop.Interest) {
	if u.isClosed() {
		return
	}
	u.bumpIdle()

	switch u.phase {
	case PhaseRelay, PhaseTunnel:
		u.stepUpstreamData(ev)
	default:
	}
}

func (u *unit) stepAwaitHead(ev loop.Interest) {
	if !ev.Has(loop.Readable) {
		return
	}
	if u.client.Closed() {
		u.closeSoon()
		return
	}

	if n := u.client.InLen(); n > 0 {
		b := u.client.Peek(n)
		u.client.Discard(n)
		if err := u.reqParser.Feed(b); err != nil {
			u.sendSimpleResponse(400, "Bad Request")
			u.closeSoon()
			return
		}
	}

	if u.client.HalfClosed() && u.client.InLen() == 0 {
		u.closeSoon()
		return
	}

	if !u.reqParser.Done() {
		return
	}

	u.classify()
}

func (u *unit) classify() {
	u.phase = PhaseClassify
	u.req = u.reqParser.Message()
	u.requestID = uuid.NewString()
	u.accessEntry = plugin.AccessLogEntry{RequestID: u.requestID, Method: u.req.Method, Target: u.req.Target}

	if strings.EqualFold(u.req.Method, "CONNECT") {
		host, port, err := splitHostPort(u.req.Target, "443")
		if err != nil {
			u.rejectMalformed()
			return
		}
		u.isConnect = true
		u.targetHost, u.targetPort = host, port
		u.upstreamConnect()
		return
	}

	if u.mitmed {
		// A decrypted request inside an already-established CONNECT/MITM
		// session: the target and its upstream TLS connection were fixed
		// by the CONNECT that preceded the handshake, and origin-form
		// request-targets (no absolute URI) are expected here.
		u.accessEntry.UpstreamHost = net.JoinHostPort(u.targetHost, u.targetPort)
		u.pluginRequest()
		return
	}

	host, port, ok := targetFromRequest(u.req)
	if !ok {
		u.rejectNoTarget()
		return
	}
	u.targetHost, u.targetPort = host, port
	u.accessEntry.UpstreamHost = net.JoinHostPort(host, port)

	if u.cfg.DisableHTTPProxy {
		u.upstreamConnect()
		return
	}

	u.pluginRequest()
}

func (u *unit) buildContext() {
	if u.pctx == nil {
		u.pctx = &plugin.Context{
			WorkerID:   fmt.Sprintf("worker-%d", u.w.ID()),
			ClientAddr: u.clientAddr,
			Values:     make(map[string]interface{}),
		}
	}
	u.pctx.RequestID = u.requestID
	u.pctx.Request = u.req
	u.pctx.Response = u.resp
}

func (u *unit) pluginRequest() {
	u.phase = PhasePluginRequest
	u.buildContext()

	out := u.cfg.Plugins.OnClientRequest(u.pctx)
	switch out.Kind {
	case plugin.OutcomeReject:
		u.accessEntry.Failure = "rejected: " + out.Reason
		u.sendSimpleResponse(403, "Forbidden")
		u.finishRequest(403)
		u.closeSoon()
	case plugin.OutcomeSynthesized:
		u.respondSynthesized(out.Response)
	default:
		u.upstreamConnect()
	}
}

func (u *unit) upstreamConnect() {
	u.phase = PhaseUpstreamConnect
	u.buildContext()

	if !u.cfg.DisableHTTPProxy {
		out := u.cfg.Plugins.BeforeUpstreamConnection(u.pctx)
		switch out.Kind {
		case plugin.OutcomeReject:
			u.accessEntry.Failure = "rejected: " + out.Reason
			u.sendSimpleResponse(403, "Forbidden")
			u.finishRequest(403)
			u.closeSoon()
			return
		case plugin.OutcomeSynthesized:
			u.respondSynthesized(out.Response)
			return
		}
	}

	if u.mitmed && u.upstream != nil {
		u.beginForwardRelay()
		return
	}

	u.dialUpstream(net.JoinHostPort(u.targetHost, u.targetPort))
}

func splitHostPort(target, defaultPort string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(target)
	if err == nil {
		return host, port, nil
	}
	return target, defaultPort, nil
}

func targetFromRequest(msg *httpmsg.Message) (host, port string, ok bool) {
	u, err := url.Parse(msg.Target)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	h := u.Hostname()
	p := u.Port()
	if p == "" {
		if u.Scheme == "https" {
			p = "443"
		} else {
			p = "80"
		}
	}
	if h == "" {
		return "", "", false
	}
	return h, p, true
}

func (u *unit) rejectMalformed() {
	u.accessEntry.Failure = "malformed request"
	u.sendSimpleResponse(400, "Bad Request")
	u.closeSoon()
}

func (u *unit) rejectNoTarget() {
	u.accessEntry.Failure = ErrorNoTarget.Message()
	u.sendSimpleResponse(400, "Bad Request")
	u.closeSoon()
}

func (u *unit) sendSimpleResponse(status int, reason string) {
	msg := &httpmsg.Message{
		Kind:       httpmsg.KindResponse,
		Version:    "HTTP/1.1",
		StatusCode: status,
		Reason:     reason,
	}
	msg.Set("Content-Length", "0")
	msg.Set("Connection", "close")
	_, _ = u.client.Write(msg.Serialize())
	_, _ = u.client.Flush()
	u.accessEntry.Status = status
}

func (u *unit) respondSynthesized(resp *httpmsg.Message) {
	if resp == nil {
		resp = &httpmsg.Message{Kind: httpmsg.KindResponse, Version: "HTTP/1.1", StatusCode: 502, Reason: "Bad Gateway"}
	}
	_, _ = u.client.Write(resp.Serialize())
	_, _ = u.client.Flush()
	u.accessEntry.Status = resp.StatusCode
	u.finishRequest(resp.StatusCode)
	u.closeSoon()
}

// finishRequest emits the access log entry for the request just completed
// and resets the per-request accumulators.
func (u *unit) finishRequest(status int) {
	if status != 0 {
		u.accessEntry.Status = status
	}
	u.cfg.Plugins.OnAccessLog(u.pctx, u.accessEntry)
	u.accessEntry = plugin.AccessLogEntry{}
}
