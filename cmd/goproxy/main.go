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

// Command goproxy runs a lightweight, pluggable forwarding proxy: an
// acceptor fanning accepted connections out to a fixed worker pool, each
// worker advancing its units through the forward-proxy/CONNECT state
// machine with optional TLS interception and a user plugin chain.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/sabouaram/goproxy/config"
	loglvl "github.com/sabouaram/goproxy/logger/level"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "goproxy: ")
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		return exitCode(err)
	}
	return 0
}

// runUntilSignal starts every worker and the acceptor, then blocks
// dispatching process signals until a shutdown signal arrives or a
// collaborator exits on its own. Grounded on the teacher's StartWaitNotify
// idiom (one select over quit/ctx-done/internal channels), extended with
// the two operational signals the external-interfaces section adds:
// SIGHUP to reload what can be reloaded without a restart, and SIGUSR1 to
// reopen the log sink (for external log rotation).
func (s *server) runUntilSignal(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	reopen := make(chan os.Signal, 1)
	signal.Notify(reopen, syscall.SIGUSR1)

	// Buffered for every goroutine start launches (one per worker, one for
	// the acceptor) so a late send after this loop has already returned
	// never blocks a goroutine that has nothing left reading from errCh.
	errCh := make(chan error, len(s.workers)+1)
	s.start(errCh)

	for {
		select {
		case <-quit:
			s.stop()
			return nil

		case <-ctx.Done():
			s.stop()
			return nil

		case <-reload:
			s.reload()

		case <-reopen:
			s.reopenLog()

		case err := <-errCh:
			s.stop()
			if err == nil {
				return nil
			}
			return wrapExit(exitConfigError, err)
		}
	}
}

// reload re-reads the log level from the environment/config defaults and
// applies it live. The plugin chain and MITM authority are built once into
// an immutable proxy.Config at startup (see newServer) and are not
// hot-swappable in this version — a SIGHUP that changes "plugins" or the
// CA material requires a restart to take effect; this is recorded as a
// scoping decision in DESIGN.md rather than silently ignored.
func (s *server) reload() {
	cfg, lerr := config.Load(s.configPath)
	if lerr != nil {
		s.log.Warning("SIGHUP reload failed, keeping current configuration", lerr)
		return
	}
	s.log.SetLevel(loglvl.Parse(cfg.LogLevel))
	s.log.Info("SIGHUP received: log level refreshed (plugins/CA material require a restart)", nil)
}

// reopenLog re-applies the logger's current options, which recreates any
// file-backed writers against their configured paths — the usual trick for
// cooperating with external log rotation (logrotate copytruncate/rename).
func (s *server) reopenLog() {
	if err := s.log.SetOptions(s.log.GetOptions()); err != nil {
		fmt.Fprintln(os.Stderr, "goproxy: SIGUSR1 reopen failed:", err)
		return
	}
	s.log.Info("SIGUSR1 received: log sink reopened", nil)
}
