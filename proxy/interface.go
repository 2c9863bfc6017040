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

// Package proxy implements the forward-proxy/CONNECT state machine (the
// proxy handler): it is the worker.Driver that turns each accepted
// connection into a worker.Unit advancing through
// AwaitHead/Classify/PluginRequest/UpstreamConnect/Relay/Tunnel/KeepAlive;
// each readiness notification carries a unit forward until the next phase
// that waits on I/O.
package proxy

import (
	"time"

	"github.com/sabouaram/goproxy/bconn"
	"github.com/sabouaram/goproxy/httpmsg"
	"github.com/sabouaram/goproxy/logger"
	"github.com/sabouaram/goproxy/loop"
	"github.com/sabouaram/goproxy/plugin"
	"github.com/sabouaram/goproxy/tlsintercept"
	"github.com/sabouaram/goproxy/worker"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
	DefaultServerName     = "goproxy"
	DefaultServerVersion  = "1.1"
)

// Config bounds a Handler's behavior; it is built once per worker and
// shared read-only by every Unit that worker creates.
type Config struct {
	ServerName    string // used in the Via header
	ServerVersion string

	ClientBufSize   int
	UpstreamBufSize int

	ConnectTimeout time.Duration
	IdleTimeout    time.Duration

	// DisableHTTPProxy routes CONNECT and absolute-form requests alike as
	// raw byte tunnels: the request head is parsed only to find the target,
	// no plugin or MITM step runs, and no header is rewritten.
	DisableHTTPProxy bool

	// MITM enables TLS interception for CONNECT tunnels whose target
	// matches MITMHosts (nil/empty MITMHosts with MITM true intercepts
	// every CONNECT target).
	MITM      bool
	MITMHosts []string
	Authority *tlsintercept.Authority

	// InsecureSkipUpstreamVerify disables certificate validation on the
	// MITM-side upstream TLS session (spec.md §4.G's "policy flag to
	// disable validation for testing"). Never set outside test harnesses.
	InsecureSkipUpstreamVerify bool

	Plugins *plugin.Chain
	Limits  httpmsg.Limits
	Log     logger.FuncLog
}

func (c Config) withDefaults() Config {
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.ServerVersion == "" {
		c.ServerVersion = DefaultServerVersion
	}
	if c.ClientBufSize <= 0 {
		c.ClientBufSize = bconn.DefaultBufferSize
	}
	if c.UpstreamBufSize <= 0 {
		c.UpstreamBufSize = bconn.DefaultBufferSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Plugins == nil {
		c.Plugins = plugin.NewChain(c.Log)
	}
	return c
}

func (c Config) mitmAllowed(host string) bool {
	if !c.MITM {
		return false
	}
	if len(c.MITMHosts) == 0 {
		return true
	}
	for _, h := range c.MITMHosts {
		if h == host {
			return true
		}
	}
	return false
}

// Handler is the worker.Driver building a Unit per accepted connection.
type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg.withDefaults()}
}

func (h *Handler) NewUnit(w *worker.Worker, a worker.Accepted) (worker.Unit, loop.Source, loop.Interest, loop.Handler) {
	return newUnit(w, h.cfg, a)
}
