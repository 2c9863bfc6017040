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

// Package tlsintercept signs per-hostname leaf certificates on demand from a
// configured CA, for MITM interception of CONNECT tunnels. Leaf generation
// is single-flighted per hostname and cached both in memory and, optionally,
// on disk.
package tlsintercept

import (
	"crypto/tls"
	"time"
)

// DefaultLeafValidity is the signing window for a generated leaf absent an
// explicit override.
const DefaultLeafValidity = 365 * 24 * time.Hour

// Config configures an Authority.
type Config struct {
	// CACertPEM/CAKeyPEM are the PEM-encoded CA certificate and private key
	// used to sign generated leaves (spec.md §6 ca-cert-file/ca-key-file).
	CACertPEM string
	CAKeyPEM  string

	// CacheDir optionally mirrors signed leaves to disk under ca-cert-dir,
	// so a restart does not have to re-sign every previously-seen hostname.
	CacheDir string

	// LeafValidity overrides DefaultLeafValidity when positive.
	LeafValidity time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeafValidity <= 0 {
		c.LeafValidity = DefaultLeafValidity
	}
	return c
}

// LeafSource is what a TLS interceptor needs from an Authority: a signed
// leaf certificate for a given SNI/Host hostname.
type LeafSource interface {
	LeafFor(hostname string) (*tls.Certificate, error)
}
