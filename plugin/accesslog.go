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
	"github.com/sabouaram/goproxy/logger"
	loglvl "github.com/sabouaram/goproxy/logger/level"
)

// AccessLogPlugin emits one structured log line per finished Work Unit,
// mirroring proxy.py's AccessLogPlugin.
type AccessLogPlugin struct {
	log logger.FuncLog
}

func NewAccessLogPlugin(log logger.FuncLog) *AccessLogPlugin {
	return &AccessLogPlugin{log: log}
}

func (p *AccessLogPlugin) Name() string { return "access-log" }

func (p *AccessLogPlugin) OnAccessLog(ctx *Context, entry AccessLogEntry) {
	if p.log == nil {
		return
	}
	l := p.log()
	if l == nil {
		return
	}

	e := l.Entry(loglvl.InfoLevel, "request completed")
	e = e.FieldAdd("request_id", entry.RequestID)
	e = e.FieldAdd("method", entry.Method)
	e = e.FieldAdd("target", entry.Target)
	e = e.FieldAdd("status", entry.Status)
	e = e.FieldAdd("upstream", entry.UpstreamHost)
	e = e.FieldAdd("bytes_in", entry.BytesIn)
	e = e.FieldAdd("bytes_out", entry.BytesOut)
	if entry.Failure != "" {
		e = e.FieldAdd("failure", entry.Failure)
	}
	if ctx != nil {
		e = e.FieldAdd("worker", ctx.WorkerID)
	}
	e.Log()
}
