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

package main

// Process exit codes. 0 is the zero value of os.Exit's argument and needs no
// name; the rest mirror the external-interfaces table: a configuration
// problem, a bind failure, and missing/invalid CA material with MITM on are
// distinct enough for an operator's init system to tell them apart.
const (
	exitConfigError = 1
	exitBindFailure = 2
	exitCAMaterial  = 3
)

// exitErr pairs a process exit code with the error that produced it, so
// main can report the error and choose os.Exit's argument in one place
// instead of threading the code through every return path.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func wrapExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitErr{code: code, err: err}
}

// exitCode extracts the process exit code intended for err, defaulting to
// exitConfigError for any error that was never wrapped with a specific code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(*exitErr); ok {
		return e.code
	}
	return exitConfigError
}
