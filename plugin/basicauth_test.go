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

package plugin_test

import (
	"encoding/base64"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/goproxy/httpmsg"
	"github.com/sabouaram/goproxy/plugin"
)

var _ = Describe("BasicAuthPlugin", func() {
	p := plugin.NewBasicAuthPlugin("alice", "s3cret")

	It("rejects a request with no Proxy-Authorization header", func() {
		ctx := &plugin.Context{Request: &httpmsg.Message{Kind: httpmsg.KindRequest}}
		out, err := p.OnClientRequest(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.Kind).To(Equal(plugin.OutcomeSynthesized))
		Expect(out.Response.StatusCode).To(Equal(407))
		val, ok := out.Response.Get("Proxy-Authenticate")
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal(`Basic realm="proxy.py"`))
	})

	It("rejects wrong credentials", func() {
		req := &httpmsg.Message{Kind: httpmsg.KindRequest}
		req.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:wrong")))
		out, _ := p.OnClientRequest(&plugin.Context{Request: req})
		Expect(out.Kind).To(Equal(plugin.OutcomeSynthesized))
	})

	It("accepts correct credentials and strips the header", func() {
		req := &httpmsg.Message{Kind: httpmsg.KindRequest}
		req.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:s3cret")))
		out, err := p.OnClientRequest(&plugin.Context{Request: req})
		Expect(err).ToNot(HaveOccurred())
		Expect(out.Kind).To(Equal(plugin.OutcomeContinue))
		Expect(req.Has("Proxy-Authorization")).To(BeFalse())
	})
})
