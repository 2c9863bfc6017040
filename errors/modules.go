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

// UNK_ERROR is the sentinel code used by package-local error tables to mean
// "not one of mine"; equivalent to UnknownError.
const UNK_ERROR CodeError = UnknownError

// Reserved code ranges for packages that keep their own const block of
// CodeError values (mirroring the proxy handler's reserved 400-599 range
// declared in code.go). Each package starts its iota block at its MinPkg*
// boundary so codes never collide across packages.
const (
	MinPkgCertificate  CodeError = 1000
	MinPkgLoggerConfig CodeError = 1100
	MinPkgConfig       CodeError = 1200
	MinPkgProxy        CodeError = 1300
	MinPkgPlugin       CodeError = 1400
	MinPkgAcceptor     CodeError = 1500
	MinPkgWorker       CodeError = 1600
	MinPkgTlsIntercept CodeError = 1700
	MinPkgBConn        CodeError = 1800
	MinPkgHttpMsg      CodeError = 1900
	MinPkgLoop         CodeError = 2000
	MinPkgCmd          CodeError = 2100
)
