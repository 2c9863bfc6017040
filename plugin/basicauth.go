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
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/sabouaram/goproxy/httpmsg"
)

// basicAuthRealm is pinned byte-for-byte by the scenario 4 test in the
// proxy behavior properties: 407 + this exact realm string.
const basicAuthRealm = `Basic realm="proxy.py"`

// BasicAuthPlugin rejects any request lacking a valid
// "Proxy-Authorization: Basic <user:pass>" header, matching proxy.py's
// HttpProxyBasicAuthPlugin.
type BasicAuthPlugin struct {
	Username string
	Password string
}

func NewBasicAuthPlugin(username, password string) *BasicAuthPlugin {
	return &BasicAuthPlugin{Username: username, Password: password}
}

func (p *BasicAuthPlugin) Name() string { return "basic-auth" }

func (p *BasicAuthPlugin) OnClientRequest(ctx *Context) (Outcome, error) {
	if p.authorized(ctx.Request) {
		ctx.Request.Del("Proxy-Authorization")
		return continueOutcome(), nil
	}

	resp := &httpmsg.Message{
		Kind:       httpmsg.KindResponse,
		Version:    "HTTP/1.1",
		StatusCode: 407,
		Reason:     "Proxy Authentication Required",
	}
	resp.Set("Proxy-Authenticate", basicAuthRealm)
	resp.Set("Content-Length", "0")

	return Outcome{Kind: OutcomeSynthesized, Response: resp, Reason: "basic auth required"}, nil
}

func (p *BasicAuthPlugin) authorized(req *httpmsg.Message) bool {
	if req == nil {
		return false
	}

	hdr, ok := req.Get("Proxy-Authorization")
	if !ok {
		return false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(hdr, prefix) {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hdr, prefix))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(p.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(p.Password)) == 1
	return userOK && passOK
}
