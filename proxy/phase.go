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

// Phase is the state a Work Unit currently occupies. A readiness
// notification runs a unit through every phase that needs no further I/O
// (Classify, PluginRequest and the start of UpstreamConnect follow a
// completed AwaitHead within the same notification) and stops at the first
// phase that waits on a connection, a dial or a handshake.
type Phase int

const (
	PhaseAwaitHead Phase = iota
	PhaseClassify
	PhasePluginRequest
	PhaseUpstreamConnect
	PhaseRelay
	PhaseTunnel
	PhaseKeepAlive
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitHead:
		return "await_head"
	case PhaseClassify:
		return "classify"
	case PhasePluginRequest:
		return "plugin_request"
	case PhaseUpstreamConnect:
		return "upstream_connect"
	case PhaseRelay:
		return "relay"
	case PhaseTunnel:
		return "tunnel"
	case PhaseKeepAlive:
		return "keep_alive"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
