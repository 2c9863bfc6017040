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
	liberr "github.com/sabouaram/goproxy/errors"
)

const (
	ErrorDuplicateName liberr.CodeError = iota + liberr.MinPkgPlugin
)

func init() {
	liberr.RegisterIdFctMessage(ErrorDuplicateName, func(code liberr.CodeError) string {
		switch code {
		case ErrorDuplicateName:
			return "duplicate plugin name in chain"
		default:
			return liberr.NullMessage
		}
	})
}

// ValidateNames returns ErrorDuplicateName if any two plugins in the chain
// share a Name(). cmd/goproxy does not call it: the plugin list is built
// once at startup and a SIGHUP does not reload it.
func ValidateNames(plugins []Plugin) error {
	seen := make(map[string]struct{}, len(plugins))
	for _, p := range plugins {
		if _, ok := seen[p.Name()]; ok {
			return ErrorDuplicateName.Error(nil)
		}
		seen[p.Name()] = struct{}{}
	}
	return nil
}
