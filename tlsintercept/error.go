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
	liberr "github.com/sabouaram/goproxy/errors"
)

// These map to exit code 3 in the external interfaces section: CA material
// missing or invalid when MITM is enabled.
const (
	ErrorCAMaterialInvalid liberr.CodeError = iota + liberr.MinPkgTlsIntercept
	ErrorNotSigningCapable
	ErrorSigningFailed
)

func init() {
	liberr.RegisterIdFctMessage(ErrorCAMaterialInvalid, func(code liberr.CodeError) string {
		switch code {
		case ErrorCAMaterialInvalid:
			return "CA certificate/key material is missing or invalid"
		case ErrorNotSigningCapable:
			return "CA private key does not support signing"
		case ErrorSigningFailed:
			return "failed to sign leaf certificate"
		default:
			return liberr.NullMessage
		}
	})
}
