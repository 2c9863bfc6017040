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

package acceptor_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/goproxy/acceptor"
	"github.com/sabouaram/goproxy/worker"
)

var _ = Describe("Pool", func() {
	It("binds an ephemeral port and round-robins connections across inboxes", func() {
		inbox1 := make(chan worker.Accepted, 1)
		inbox2 := make(chan worker.Accepted, 1)

		p, err := acceptor.New(
			acceptor.Config{Host: "127.0.0.1", Port: 0},
			[]chan<- worker.Accepted{inbox1, inbox2},
		)
		Expect(err).ToNot(HaveOccurred())
		defer p.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = p.Run(ctx) }()

		addr := p.Addr().String()

		c1, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer c1.Close()

		c2, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer c2.Close()

		Eventually(inbox1, time.Second).Should(Receive())
		Eventually(inbox2, time.Second).Should(Receive())
	})
})
