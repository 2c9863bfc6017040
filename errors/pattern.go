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

package errors

import (
	"encoding/json"
)

var (
	defaultPattern      = "[Error #%d] %s"
	defaultPatternTrace = "[Error #%d] %s (%s)"
)

// SetDefaultPattern defines the pattern used for CodeError(""); takes code then message.
func SetDefaultPattern(pattern string) {
	defaultPattern = pattern
}

// GetDefaultPattern returns the current pattern used for CodeError("").
func GetDefaultPattern() string {
	return defaultPattern
}

// SetDefaultPatternTrace defines the pattern used for CodeErrorTrace(""); takes code, message, trace.
func SetDefaultPatternTrace(patternTrace string) {
	defaultPatternTrace = patternTrace
}

// GetDefaultPatternTrace returns the current pattern used for CodeErrorTrace("").
func GetDefaultPatternTrace() string {
	return defaultPatternTrace
}

// SetTracePathFilter customizes the filter applied to file paths in traces.
func SetTracePathFilter(p string) {
	filterPkg = p
}

// Return is a JSON-serializable collector for errors surfaced across a
// plugin/config boundary (e.g. a SIGHUP reload reporting which plugin
// failed). It has no web-framework dependency: callers that need to send it
// over HTTP do so by marshaling JSON() themselves.
type Return interface {
	// SetError replaces the collector's primary error.
	SetError(code int, msg string, file string, line int)
	// AddParent appends a parent error to the collector.
	AddParent(code int, msg string, file string, line int)
	// JSON returns the collector's JSON representation.
	JSON() []byte
}

// DefaultReturn is the default Return implementation.
type DefaultReturn struct {
	Code    string
	Message string
	err     []error
}

func (r *DefaultReturn) SetError(code int, msg string, file string, line int) {
	r.Code = CodeError(code).String()
	r.Message = msg

	if r.err == nil {
		r.err = make([]error, 0)
	}

	r.err = append(r.err, NewErrorTrace(code, msg, file, line))
}

func (r *DefaultReturn) AddParent(code int, msg string, file string, line int) {
	if r.err == nil {
		r.err = make([]error, 0)
	}

	r.err = append(r.err, NewErrorTrace(code, msg, file, line))
}

func (r *DefaultReturn) JSON() []byte {
	if b, err := json.Marshal(r); err != nil {
		return make([]byte, 0)
	} else {
		return b
	}
}
