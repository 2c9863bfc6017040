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

package loop

import (
	"container/heap"
	"time"
)

type timerEntry struct {
	deadline time.Time
	handle   Handle
	cb       func()
	index    int
	canceled bool
}

// timerHeap is a container/heap.Interface min-heap ordered by deadline.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// nextDeadline returns the earliest non-canceled deadline, discarding
// canceled entries it encounters at the top of the heap.
func (l *loop) nextDeadline() (time.Time, bool) {
	for l.timers.Len() > 0 {
		top := (*l.timers)[0]
		if top.canceled {
			heap.Pop(l.timers)
			delete(l.timerIdx, top.handle)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// popExpired pops and returns every timer entry whose deadline is <= now.
func (l *loop) popExpired(now time.Time) []*timerEntry {
	var due []*timerEntry
	for l.timers.Len() > 0 {
		top := (*l.timers)[0]
		if top.canceled {
			heap.Pop(l.timers)
			delete(l.timerIdx, top.handle)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(l.timers)
		delete(l.timerIdx, top.handle)
		due = append(due, top)
	}
	return due
}
