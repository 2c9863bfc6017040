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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	. "github.com/onsi/gomega"

	"github.com/sabouaram/goproxy/proxy"
	"github.com/sabouaram/goproxy/worker"
)

// testProxy starts one worker driven by a Handler built from cfg and
// returns a func that hands a fresh client/proxy net.Pipe pair to it,
// plus a teardown func.
type testProxy struct {
	w *worker.Worker
}

func startTestProxy(cfg proxy.Config) (*testProxy, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	h := proxy.NewHandler(cfg)
	w := worker.New(ctx, 1, h, worker.Config{GraceDeadline: 500 * time.Millisecond})

	go func() { _ = w.Run() }()

	return &testProxy{w: w}, func() {
		w.Stop()
		cancel()
	}
}

// dial hands a new simulated client connection to the proxy and returns
// the client's end of the pipe.
func (tp *testProxy) dial() net.Conn {
	client, proxySide := net.Pipe()
	tp.w.Inbox() <- worker.Accepted{Conn: proxySide, Addr: client.RemoteAddr()}
	return client
}

// readUntilClose reads c until EOF or the deadline, returning whatever
// arrived.
func readUntilClose(c net.Conn, d time.Duration) string {
	_ = c.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, 4096)
	var out []byte
	for {
		n, err := c.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(out)
}

// startEchoUpstream runs a raw TCP echo server and returns its address.
func startEchoUpstream() (addr string, closeFn func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

// startHTTPUpstream runs a listener that replies with a single fixed
// HTTP/1.1 response to every connection, closing it afterward.
func startHTTPUpstream(response string) (addr string, closeFn func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneHTTPExchange(c, response)
		}
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func serveOneHTTPExchange(c net.Conn, response string) {
	defer c.Close()
	buf := make([]byte, 4096)
	seen := make([]byte, 0, 256)
	for {
		n, err := c.Read(buf)
		seen = append(seen, buf[:n]...)
		if containsHeaderEnd(seen) || err != nil {
			break
		}
	}
	_, _ = c.Write([]byte(response))
}

// startHTTPUpstreamCapture behaves like startHTTPUpstream but also hands
// back the raw bytes of the request head it received, for tests asserting
// on what actually crossed the wire to the upstream hop.
func startHTTPUpstreamCapture(response string) (addr string, closeFn func(), received <-chan []byte) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	ch := make(chan []byte, 1)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneHTTPExchangeCapture(c, response, ch)
		}
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }, ch
}

func serveOneHTTPExchangeCapture(c net.Conn, response string, ch chan<- []byte) {
	defer c.Close()
	buf := make([]byte, 4096)
	seen := make([]byte, 0, 256)
	for {
		n, err := c.Read(buf)
		seen = append(seen, buf[:n]...)
		if containsHeaderEnd(seen) || err != nil {
			break
		}
	}
	ch <- append([]byte(nil), seen...)
	_, _ = c.Write([]byte(response))
}

// mustSelfSignedCA mints an ephemeral ECDSA CA, PEM-encoded, for handing
// to tlsintercept.Authority in MITM tests.
func mustSelfSignedCA() (certPEM, keyPEM string) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).ToNot(HaveOccurred())

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	Expect(err).ToNot(HaveOccurred())

	keyDER, err := x509.MarshalECPrivateKey(key)
	Expect(err).ToNot(HaveOccurred())

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

// selfSignedServerCert mints an ephemeral leaf for host, for an upstream
// test listener that a MITM test's tls.Client (InsecureSkipVerify) talks
// to directly — the proxy's own upstream-side TLS session also skips
// verification via Config.InsecureSkipUpstreamVerify in those tests.
func selfSignedServerCert(host string) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).ToNot(HaveOccurred())

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	Expect(err).ToNot(HaveOccurred())

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// startHTTPSUpstream is startHTTPUpstream's TLS-terminating twin, used by
// MITM tests as the "real" upstream the proxy dials after the handshake.
func startHTTPSUpstream(host, response string) (addr string, closeFn func()) {
	cert := selfSignedServerCert(host)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		panic(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneHTTPExchange(c, response)
		}
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func containsHeaderEnd(b []byte) bool {
	for i := 0; i+3 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return true
		}
	}
	return false
}
