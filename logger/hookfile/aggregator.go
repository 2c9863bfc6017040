/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

// Package hookfile provides file-based logging hooks for logrus.
// This file handles log file aggregation and rotation detection, sharing a
// single writer goroutine across every hook instance pointed at the same path.
package hookfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	libatm "github.com/sabouaram/goproxy/atomic"
)

// fileAgg is a reference-counted async writer shared by every hook pointed
// at the same file path, so SIGUSR1-triggered reopen and external log
// rotation (logrotate-style rename) only have to be detected once per path.
type fileAgg struct {
	refs  atomic.Int64
	mu    sync.Mutex
	f     *os.File
	path  string
	mode  os.FileMode
	queue chan []byte
	done  chan struct{}
	dead  atomic.Bool
}

// ErrClosedResources is returned by fileAgg.Write once the writer has been
// closed by delAgg; callers (hkf.Write) use it to know a fresh writer must
// be fetched via setAgg before retrying.
var ErrClosedResources = fmt.Errorf("hookfile: aggregator resources are closed")

var agg = libatm.NewMapTyped[string, *fileAgg]()

func init() {
	runtime.SetFinalizer(agg, func(a libatm.MapTyped[string, *fileAgg]) {
		a.Range(func(k string, v *fileAgg) bool {
			if v != nil {
				v.close()
			}
			return true
		})
	})
}

// setAgg retrieves or creates the shared writer for path k, incrementing its
// reference count.
func setAgg(k string, m os.FileMode, cre bool) (io.Writer, error) {
	if i, ok := agg.Load(k); ok && i != nil {
		i.refs.Add(1)
		return i, nil
	}

	i, e := newAgg(k, m, cre)
	if e != nil {
		return nil, e
	}

	agg.Store(k, i)
	return i, nil
}

// delAgg decrements the reference count for k, closing the shared writer
// once the last hook using it is gone.
func delAgg(k string) {
	i, ok := agg.Load(k)
	if !ok || i == nil {
		return
	}

	if i.refs.Add(-1) > 0 {
		return
	}

	agg.Delete(k)
	i.close()
}

func newAgg(p string, m os.FileMode, cre bool) (*fileAgg, error) {
	fl := os.O_WRONLY | os.O_APPEND
	if cre {
		fl = fl | os.O_CREATE
	}

	f, e := os.OpenFile(p, fl, m)
	if e != nil {
		return nil, e
	} else if _, e = f.Seek(0, io.SeekEnd); e != nil {
		_ = f.Close()
		return nil, e
	}

	i := &fileAgg{
		f:     f,
		path:  p,
		mode:  m,
		queue: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	i.refs.Store(1)

	go i.run(cre, fl)

	return i, nil
}

// run drains the write queue and, every second, syncs the file and checks
// whether it still refers to the path on disk - if not (logrotate renamed
// it out from under us, or SIGUSR1 asked for a reopen), it reopens.
func (i *fileAgg) run(cre bool, flags int) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case b, ok := <-i.queue:
			if !ok {
				return
			}

			i.mu.Lock()
			_, _ = i.f.Write(b)
			i.mu.Unlock()

		case <-t.C:
			i.checkRotation(cre, flags)

		case <-i.done:
			return
		}
	}
}

func (i *fileAgg) checkRotation(cre bool, flags int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	syncErr := i.f.Sync()

	needReopen := syncErr != nil
	if !needReopen && cre {
		cur, err1 := i.f.Stat()
		disk, err2 := os.Stat(i.path)

		if err2 != nil || (err1 == nil && !os.SameFile(cur, disk)) {
			needReopen = true
		}
	}

	if !needReopen {
		return
	}

	_ = i.f.Close()

	if f, e := os.OpenFile(i.path, flags, i.mode); e != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error reopening file %s: %v\n", i.path, e)
	} else {
		_, _ = f.Seek(0, io.SeekEnd)
		i.f = f
	}
}

func (i *fileAgg) Write(p []byte) (int, error) {
	if i.dead.Load() {
		return 0, ErrClosedResources
	}

	b := make([]byte, len(p))
	copy(b, p)

	select {
	case i.queue <- b:
		return len(p), nil
	default:
		// queue full: write synchronously rather than drop the log line.
		i.mu.Lock()
		defer i.mu.Unlock()
		return i.f.Write(p)
	}
}

func (i *fileAgg) close() {
	i.dead.Store(true)
	close(i.done)
	i.mu.Lock()
	_ = i.f.Close()
	i.mu.Unlock()
}

// ResetOpenFiles closes every shared writer and clears the registry. Used by
// tests that need a clean slate between file-hook scenarios.
func ResetOpenFiles() {
	agg.Range(func(k string, v *fileAgg) bool {
		v.close()
		agg.Delete(k)
		return true
	})
}
