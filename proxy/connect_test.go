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

package proxy_test

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/goproxy/proxy"
	"github.com/sabouaram/goproxy/tlsintercept"
)

// readConnectResponse reads the CONNECT response's status line and headers
// off r, returning the status line.
func readConnectResponse(r *bufio.Reader) string {
	status, err := r.ReadString('\n')
	Expect(err).ToNot(HaveOccurred())
	for {
		line, err := r.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		if line == "\r\n" {
			break
		}
	}
	return status
}

var _ = Describe("CONNECT tunnel", func() {
	It("tunnels raw bytes end to end when MITM is disabled", func() {
		addr, stopUpstream := startEchoUpstream()
		defer stopUpstream()

		tp, stop := startTestProxy(proxy.Config{})
		defer stop()

		client := tp.dial()
		defer client.Close()

		fmt.Fprintf(client, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", addr, addr)

		reader := bufio.NewReader(client)
		Expect(readConnectResponse(reader)).To(ContainSubstring("200"))

		_, err := client.Write([]byte("ping"))
		Expect(err).ToNot(HaveOccurred())

		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 4)
		_, err = io.ReadFull(reader, buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(buf)).To(Equal("ping"))
	})

	It("intercepts TLS and relays a decrypted request when MITM is enabled", func() {
		caCertPEM, caKeyPEM := mustSelfSignedCA()
		authority, err := tlsintercept.NewAuthority(tlsintercept.Config{CACertPEM: caCertPEM, CAKeyPEM: caKeyPEM})
		Expect(err).ToNot(HaveOccurred())

		upstreamAddr, stopUpstream := startHTTPSUpstream("target.test",
			"HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
		defer stopUpstream()
		host, _, err := net.SplitHostPort(upstreamAddr)
		Expect(err).ToNot(HaveOccurred())

		tp, stop := startTestProxy(proxy.Config{
			MITM:                       true,
			Authority:                  authority,
			InsecureSkipUpstreamVerify: true,
		})
		defer stop()

		client := tp.dial()
		defer client.Close()

		fmt.Fprintf(client, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", upstreamAddr, upstreamAddr)
		reader := bufio.NewReader(client)
		Expect(readConnectResponse(reader)).To(ContainSubstring("200"))

		tlsClient := tls.Client(client, &tls.Config{InsecureSkipVerify: true, ServerName: host})
		Expect(tlsClient.Handshake()).To(Succeed())

		fmt.Fprintf(tlsClient, "GET / HTTP/1.1\r\nHost: %s\r\n\r\n", host)

		got := readUntilClose(tlsClient, 2*time.Second)
		Expect(got).To(ContainSubstring("200"))
		Expect(got).To(ContainSubstring("ok"))
	})

	It("replays the parsed head then tunnels raw bytes when disable-http-proxy is set", func() {
		upstreamAddr, stopUpstream, received := startHTTPUpstreamCapture(
			"HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
		defer stopUpstream()

		tp, stop := startTestProxy(proxy.Config{DisableHTTPProxy: true})
		defer stop()

		client := tp.dial()
		defer client.Close()

		fmt.Fprintf(client, "GET http://%s/hello HTTP/1.1\r\nHost: %s\r\n\r\n", upstreamAddr, upstreamAddr)

		var head []byte
		Eventually(received, 2*time.Second).Should(Receive(&head))
		Expect(string(head)).To(HavePrefix("GET http://" + upstreamAddr + "/hello HTTP/1.1\r\n"))

		got := readUntilClose(client, 2*time.Second)
		Expect(got).To(ContainSubstring("200"))
		Expect(got).To(ContainSubstring("ok"))
	})
})
