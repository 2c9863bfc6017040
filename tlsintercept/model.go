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

package tlsintercept

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	tlscrt "github.com/sabouaram/goproxy/certificates/certs"
)

// Authority signs per-hostname leaf certificates from a loaded CA. The same
// Authority is shared by reference across every worker goroutine — it is
// the one piece of state the concurrency model explicitly allows to be
// shared, guarded by its own mutex (spec.md §5: the certificate cache is
// process-wide).
type Authority struct {
	cfg Config

	caCert *x509.Certificate
	caKey  crypto.Signer

	m     sync.Mutex
	cache map[string]*tls.Certificate

	sf singleflight.Group
}

// NewAuthority loads the CA certificate/key pair via the certs package and
// returns an Authority ready to sign leaves. The pair is loaded once and
// kept in memory for the life of the Authority. A SIGHUP does not replace
// it: cmd/goproxy's reload refreshes only the log level, so new CA material
// takes effect after a restart.
func NewAuthority(cfg Config) (*Authority, error) {
	cfg = cfg.withDefaults()

	if cfg.CACertPEM == "" || cfg.CAKeyPEM == "" {
		return nil, ErrorCAMaterialInvalid.Error(nil)
	}

	pair, err := tlscrt.ParsePair(cfg.CAKeyPEM, cfg.CACertPEM)
	if err != nil {
		return nil, ErrorCAMaterialInvalid.Error(err)
	}

	tlsCert := pair.TLS()
	if len(tlsCert.Certificate) == 0 {
		return nil, ErrorCAMaterialInvalid.Error(nil)
	}

	caCert, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, ErrorCAMaterialInvalid.Error(err)
	}

	signer, ok := tlsCert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, ErrorNotSigningCapable.Error(nil)
	}

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
			return nil, ErrorCAMaterialInvalid.Error(err)
		}
	}

	return &Authority{
		cfg:    cfg,
		caCert: caCert,
		caKey:  signer,
		cache:  make(map[string]*tls.Certificate),
	}, nil
}

// LeafFor returns a signed leaf certificate for hostname, generating and
// caching one on first request. Concurrent requests for the same hostname
// single-flight onto one signing operation.
func (a *Authority) LeafFor(hostname string) (*tls.Certificate, error) {
	a.m.Lock()
	if c, ok := a.cache[hostname]; ok {
		a.m.Unlock()
		return c, nil
	}
	a.m.Unlock()

	v, err, _ := a.sf.Do(hostname, func() (interface{}, error) {
		if c := a.loadFromDisk(hostname); c != nil {
			a.store(hostname, c)
			return c, nil
		}

		c, err := a.sign(hostname)
		if err != nil {
			return nil, err
		}
		a.store(hostname, c)
		a.saveToDisk(hostname, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*tls.Certificate), nil
}

func (a *Authority) store(hostname string, c *tls.Certificate) {
	a.m.Lock()
	a.cache[hostname] = c
	a.m.Unlock()
}

func (a *Authority) sign(hostname string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, ErrorSigningFailed.Error(err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, ErrorSigningFailed.Error(err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(a.cfg.LeafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(hostname); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return nil, ErrorSigningFailed.Error(err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ErrorSigningFailed.Error(err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, a.caCert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// loadFromDisk returns a cached leaf+key pair from cfg.CacheDir, or nil if
// absent/unreadable/expired — any of those just falls through to signing.
func (a *Authority) loadFromDisk(hostname string) *tls.Certificate {
	if a.cfg.CacheDir == "" {
		return nil
	}

	certPath, keyPath := a.diskPaths(hostname)
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil
	}

	pair, err := tlscrt.ParsePair(string(keyPEM), string(certPEM))
	if err != nil {
		return nil
	}

	tlsCert := pair.TLS()
	if len(tlsCert.Certificate) == 0 {
		return nil
	}

	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil || time.Now().After(leaf.NotAfter) {
		return nil
	}
	tlsCert.Leaf = leaf
	tlsCert.Certificate = append(tlsCert.Certificate, a.caCert.Raw)

	return &tlsCert
}

// saveToDisk mirrors a freshly signed leaf to cfg.CacheDir using
// write-temp-then-rename so a concurrent reader never observes a partial
// file (no pack library offers atomic file publish, so this is hand-rolled
// stdlib — see DESIGN.md).
func (a *Authority) saveToDisk(hostname string, c *tls.Certificate) {
	if a.cfg.CacheDir == "" {
		return
	}

	certPath, keyPath := a.diskPaths(hostname)
	certPEM, keyPEM, err := encodePair(c)
	if err != nil {
		return
	}

	_ = atomicWrite(certPath, certPEM)
	_ = atomicWrite(keyPath, keyPEM)
}

func (a *Authority) diskPaths(hostname string) (cert, key string) {
	safe := filepath.Base(hostname)
	return filepath.Join(a.cfg.CacheDir, safe+".crt"),
		filepath.Join(a.cfg.CacheDir, safe+".key")
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
