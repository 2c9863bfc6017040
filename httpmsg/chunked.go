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

package httpmsg

import (
	"bytes"
	"strconv"
	"strings"
)

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkCRLF
	chunkTrailer
	chunkDone
)

// ChunkDecoder incrementally decodes a chunked transfer-coded body,
// validating hex chunk-size lines and rejecting any single chunk larger
// than maxChunk.
type ChunkDecoder struct {
	maxChunk  int64
	state     chunkState
	remaining int64
	buf       []byte
}

func NewChunkDecoder(maxChunk int64) *ChunkDecoder {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkSize
	}
	return &ChunkDecoder{maxChunk: maxChunk}
}

func (d *ChunkDecoder) Done() bool { return d.state == chunkDone }

// Feed appends b and returns as much decoded body data as is available.
// done is true once the terminating zero-length chunk and trailer have
// been consumed.
func (d *ChunkDecoder) Feed(b []byte) (decoded []byte, done bool, err error) {
	d.buf = append(d.buf, b...)
	var out []byte

	for {
		switch d.state {
		case chunkSize:
			idx := bytes.IndexByte(d.buf, '\n')
			if idx < 0 {
				return out, false, nil
			}
			line := bytes.TrimRight(d.buf[:idx], "\r\n")
			d.buf = d.buf[idx+1:]

			sizeField := line
			if semi := bytes.IndexByte(line, ';'); semi >= 0 {
				sizeField = line[:semi]
			}

			n, perr := strconv.ParseInt(strings.TrimSpace(string(sizeField)), 16, 64)
			if perr != nil || n < 0 {
				return out, false, errMalformed("invalid chunk size")
			}
			if n > d.maxChunk {
				return out, false, errMalformed("chunk exceeds maximum size")
			}

			d.remaining = n
			if n == 0 {
				d.state = chunkTrailer
			} else {
				d.state = chunkData
			}

		case chunkData:
			if int64(len(d.buf)) < d.remaining {
				out = append(out, d.buf...)
				d.remaining -= int64(len(d.buf))
				d.buf = nil
				return out, false, nil
			}
			out = append(out, d.buf[:d.remaining]...)
			d.buf = d.buf[d.remaining:]
			d.remaining = 0
			d.state = chunkCRLF

		case chunkCRLF:
			idx := bytes.IndexByte(d.buf, '\n')
			if idx < 0 {
				return out, false, nil
			}
			d.buf = d.buf[idx+1:]
			d.state = chunkSize

		case chunkTrailer:
			idx := bytes.IndexByte(d.buf, '\n')
			if idx < 0 {
				return out, false, nil
			}
			line := bytes.TrimRight(d.buf[:idx], "\r\n")
			d.buf = d.buf[idx+1:]
			if len(line) == 0 {
				d.state = chunkDone
				return out, true, nil
			}

		case chunkDone:
			return out, true, nil
		}
	}
}
