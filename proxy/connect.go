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
	"crypto/tls"
	"net"

	"github.com/sabouaram/goproxy/bconn"
	"github.com/sabouaram/goproxy/httpmsg"
	"github.com/sabouaram/goproxy/loop"
)

// dialUpstream opens the upstream connection on a one-shot Source (its own
// per-registration goroutine, per oneshot.go) so the dispatcher goroutine
// never blocks on connect. Shared by the CONNECT tunnel and the
// forward-proxy path.
func (u *unit) dialUpstream(addr string) {
	src := newOneShot(func(ctx context.Context) error {
		d := &net.Dialer{Timeout: u.cfg.ConnectTimeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		u.dialConn = c
		return err
	})

	var h loop.Handle
	h = u.w.Loop().Register(src, loop.Writable, func(loop.Handle, loop.Interest) {
		_ = u.w.Loop().Unregister(h)
		if u.isClosed() {
			return
		}
		if src.err != nil {
			u.accessEntry.Failure = "dial: " + src.err.Error()
			u.sendSimpleResponse(502, "Bad Gateway")
			u.finishRequest(502)
			u.closeSoon()
			return
		}

		u.upstream = bconn.New(u.dialConn, u.cfg.UpstreamBufSize, u.cfg.UpstreamBufSize)
		u.upstreamHandle = u.w.Loop().Register(u.upstream, loop.Readable, u.onUpstreamEvent)
		u.onUpstreamDialed()
	})
}

func (u *unit) onUpstreamDialed() {
	if u.isConnect {
		u.startConnect()
		return
	}
	if u.cfg.DisableHTTPProxy {
		u.startRawTunnelWithHead()
		return
	}
	u.beginForwardRelay()
}

// startConnect replies 200 to the client and either hands off to a raw byte
// tunnel or, when MITM applies to this target, engages the TLS Interceptor.
func (u *unit) startConnect() {
	ok := &httpmsg.Message{Kind: httpmsg.KindResponse, Version: "HTTP/1.1", StatusCode: 200, Reason: "Connection Established"}
	if _, err := u.client.Write(ok.Serialize()); err != nil {
		u.closeSoon()
		return
	}
	_, _ = u.client.Flush()
	u.accessEntry.Status = 200

	if !u.cfg.DisableHTTPProxy && u.cfg.mitmAllowed(u.targetHost) {
		u.startMITM()
		return
	}
	u.startRawTunnel()
}

func (u *unit) startRawTunnel() {
	u.phase = PhaseTunnel
	_ = u.w.Loop().Modify(u.clientHandle, loop.Readable)
	_ = u.w.Loop().Modify(u.upstreamHandle, loop.Readable)
}

// startRawTunnelWithHead is startRawTunnel for the disable-http-proxy,
// non-CONNECT path: stepAwaitHead already had to parse the request head to
// learn the upstream target (classify needs a host to dial), so those bytes
// were discarded from the client's buffer before ever reaching upstream.
// Replay the parsed head and whatever body bytes the parser already
// consumed, then hand off to the same parser-free byte pump CONNECT uses —
// nothing past this point engages the HTTP parser again (SPEC_FULL.md §6).
func (u *unit) startRawTunnelWithHead() {
	if _, err := u.upstream.Write(u.req.Serialize()); err != nil {
		u.failUpstream(502, "Bad Gateway")
		return
	}
	if unconsumed := u.reqParser.Unconsumed(); len(unconsumed) > 0 {
		if _, err := u.upstream.Write(unconsumed); err != nil {
			u.failUpstream(502, "Bad Gateway")
			return
		}
	}
	if _, err := u.upstream.Flush(); err != nil {
		u.failUpstream(502, "Bad Gateway")
		return
	}
	u.startRawTunnel()
}

// startMITM terminates the client's TLS using a leaf signed on demand for
// targetHost, opens a TLS session to the real upstream, and on success
// swaps both connections' Loop registrations for TLS-wrapped ones before
// looping back to AWAIT_HEAD on the decrypted stream (spec.md §4.F item 6).
func (u *unit) startMITM() {
	leaf, err := u.cfg.Authority.LeafFor(u.targetHost)
	if err != nil {
		u.closeSoon()
		return
	}

	rawClient := u.client.Raw()
	rawUpstream := u.dialConn

	// The plaintext client/upstream registrations each have their own
	// background Wait goroutine reading the same raw net.Conn the
	// handshake below reads and writes directly; both must be torn down
	// first or the two would race on the same socket.
	oldClientHandle := u.clientHandle
	oldUpstreamHandle := u.upstreamHandle
	_ = u.w.Loop().Unregister(oldClientHandle)
	_ = u.w.Loop().Unregister(oldUpstreamHandle)

	src := newOneShot(func(ctx context.Context) error {
		tlsClient := tls.Server(rawClient, &tls.Config{Certificates: []tls.Certificate{*leaf}})
		if err := tlsClient.HandshakeContext(ctx); err != nil {
			return err
		}

		tlsUpstream := tls.Client(rawUpstream, &tls.Config{
			ServerName:         u.targetHost,
			InsecureSkipVerify: u.cfg.InsecureSkipUpstreamVerify,
		})
		if err := tlsUpstream.HandshakeContext(ctx); err != nil {
			_ = tlsClient.Close()
			return err
		}

		u.swapMITMConns(tlsClient, tlsUpstream, oldClientHandle)
		return nil
	})

	var h loop.Handle
	h = u.w.Loop().Register(src, loop.Writable, func(loop.Handle, loop.Interest) {
		_ = u.w.Loop().Unregister(h)
		if u.isClosed() {
			return
		}
		if src.err != nil {
			u.closeSoon()
			return
		}
		u.mitmed = true
		u.phase = PhaseAwaitHead
		u.newRequestParser()
		u.stepAwaitHead(loop.Readable)
	})
}

// swapMITMConns replaces the unit's plaintext client/upstream bconn.Conn
// with ones wrapping the now-established TLS sessions. startMITM has
// already unregistered the old plaintext registrations (so the handshake
// above never raced their Wait goroutines); this only has to register the
// new ones and re-key the worker's unit bookkeeping onto the client's new
// Handle, since the Loop has no in-place Source replacement.
func (u *unit) swapMITMConns(tlsClient, tlsUpstream net.Conn, oldClientHandle loop.Handle) {
	newClient := bconn.New(tlsClient, u.cfg.ClientBufSize, u.cfg.ClientBufSize)
	newUpstream := bconn.New(tlsUpstream, u.cfg.UpstreamBufSize, u.cfg.UpstreamBufSize)

	newClientHandle := u.w.Loop().Register(newClient, loop.Readable, u.onClientEvent)
	newUpstreamHandle := u.w.Loop().Register(newUpstream, loop.Readable, u.onUpstreamEvent)

	u.w.Rekey(oldClientHandle, newClientHandle)

	u.client = newClient
	u.clientHandle = newClientHandle
	u.upstream = newUpstream
	u.upstreamHandle = newUpstreamHandle
}

// stepClientData relays client->upstream bytes while in Relay (request
// body) or Tunnel phase, respecting upstream backpressure.
func (u *unit) stepClientData(ev loop.Interest) {
	if !ev.Has(loop.Readable) {
		return
	}
	if u.client.Closed() {
		u.closeSoon()
		return
	}

	var bs *bodyState
	if u.phase == PhaseRelay {
		bs = u.reqBody
	}

	n, backpressure := relayOnce(u.client, u.upstream, bs)
	u.accessEntry.BytesIn += int64(n)
	if backpressure {
		_ = u.w.Loop().Modify(u.clientHandle, 0)
		return
	}

	if u.client.HalfClosed() && u.client.InLen() == 0 {
		if u.phase == PhaseTunnel {
			u.finishTunnelHalf()
		}
	}
}

// stepUpstreamData relays upstream->client bytes in Tunnel phase, and
// drives response parsing/relay in forward.go's Relay phase.
func (u *unit) stepUpstreamData(ev loop.Interest) {
	if ev.Has(loop.Writable) {
		// A flush completed on the upstream out-buffer: if the client side
		// was backpressured waiting for upstream to drain request-body
		// bytes, there is nothing more to drain here (bconn flushed its
		// own out-buffer from its Wait already); re-arm client reads.
		if u.phase == PhaseRelay || u.phase == PhaseTunnel {
			_ = u.w.Loop().Modify(u.clientHandle, loop.Readable)
		}
	}
	if !ev.Has(loop.Readable) {
		return
	}
	if u.upstream.Closed() {
		u.finishTunnelHalf()
		return
	}

	if u.phase == PhaseTunnel {
		n, backpressure := relayOnce(u.upstream, u.client, nil)
		u.accessEntry.BytesOut += int64(n)
		if backpressure {
			_ = u.w.Loop().Modify(u.upstreamHandle, 0)
			return
		}
		if u.upstream.HalfClosed() && u.upstream.InLen() == 0 {
			u.finishTunnelHalf()
		}
		return
	}

	u.stepResponse()
}

func (u *unit) finishTunnelHalf() {
	if u.client.HalfClosed() && u.upstream.HalfClosed() {
		u.finishRequest(0)
		u.closeSoon()
	}
}
