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

package proxy

import (
	"github.com/sabouaram/goproxy/bconn"
	"github.com/sabouaram/goproxy/httpmsg"
)

// bodyState tracks how much more of a message body remains to be relayed.
// Fixed framing counts down an exact byte budget; chunked framing mirrors
// the raw bytes into a ChunkDecoder purely to detect the terminating
// chunk — the original bytes are forwarded unchanged, so on_response_chunk
// observes relay-sized slices rather than exact chunk boundaries (the one
// place this relay departs from byte-exact HTTP chunk framing, documented
// in DESIGN.md).
type bodyState struct {
	framing   httpmsg.BodyFraming
	remaining int64
	chunkDec  *httpmsg.ChunkDecoder
}

func newBodyState(framing httpmsg.BodyFraming, contentLength int64, maxChunk int64) *bodyState {
	bs := &bodyState{framing: framing, remaining: contentLength}
	if framing == httpmsg.BodyChunked {
		bs.chunkDec = httpmsg.NewChunkDecoder(maxChunk)
	}
	return bs
}

func (bs *bodyState) done() bool {
	switch bs.framing {
	case httpmsg.BodyNone:
		return true
	case httpmsg.BodyFixed:
		return bs.remaining <= 0
	case httpmsg.BodyChunked:
		return bs.chunkDec.Done()
	default: // BodyUntilClose: only done when the source reports EOF
		return false
	}
}

// observe records n freshly relayed bytes against the budget/decoder. It
// never errors: a malformed chunk stream simply stops being tracked as
// "done" early, which degrades to until-close behavior rather than
// corrupting the relay.
func (bs *bodyState) observe(chunk []byte) {
	switch bs.framing {
	case httpmsg.BodyFixed:
		bs.remaining -= int64(len(chunk))
		if bs.remaining < 0 {
			bs.remaining = 0
		}
	case httpmsg.BodyChunked:
		_, _, _ = bs.chunkDec.Feed(chunk)
	}
}

// cap bounds how many of the currently buffered bytes may be relayed this
// round so a fixed-length body never consumes bytes belonging to the next
// pipelined message on the same connection.
func (bs *bodyState) cap(avail int) int {
	if bs.framing != httpmsg.BodyFixed {
		return avail
	}
	if int64(avail) > bs.remaining {
		return int(bs.remaining)
	}
	return avail
}

// relayOnce moves whatever of src's buffered bytes fit into dst's out
// buffer and flushes them to the wire, honoring bs's remaining budget. It
// returns the bytes moved and whether dst rejected or failed to flush them
// (backpressure) — the source bytes are left unconsumed in that case so a
// retry on the next readiness notification picks them up again.
func relayOnce(src, dst bconn.Conn, bs *bodyState) (moved int, backpressure bool) {
	avail := src.InLen()
	if bs != nil {
		avail = bs.cap(avail)
	}
	if avail == 0 {
		return 0, false
	}

	b := src.Peek(avail)
	if _, err := dst.Write(b); err != nil {
		return 0, true
	}
	if _, err := dst.Flush(); err != nil {
		return 0, true
	}
	src.Discard(len(b))
	if bs != nil {
		bs.observe(b)
	}
	return len(b), false
}
