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

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sabouaram/goproxy/acceptor"
	"github.com/sabouaram/goproxy/config"
	"github.com/sabouaram/goproxy/logger"
	loglvl "github.com/sabouaram/goproxy/logger/level"
	"github.com/sabouaram/goproxy/plugin"
	"github.com/sabouaram/goproxy/proxy"
	"github.com/sabouaram/goproxy/tlsintercept"
	"github.com/sabouaram/goproxy/worker"
)

// server bundles the process-lifetime pieces main needs after startup: the
// worker pool to drain on shutdown, the acceptor to stop taking new
// connections, and the logger/authority a SIGHUP/SIGUSR1 handler reaches
// back into.
type server struct {
	cfg        config.Model
	configPath string
	log        logger.Logger
	logFn      logger.FuncLog
	authority  *tlsintercept.Authority

	ctx     context.Context
	pool    *acceptor.Pool
	workers []*worker.Worker
	cancel  context.CancelFunc
}

func runMain(cmd *cobra.Command, configPath string) error {
	cfg, lerr := config.Load(configPath, func(v *viper.Viper) {
		_ = bindFlags(v, cmd.Flags())
	})
	if lerr != nil {
		return wrapExit(exitConfigError, lerr)
	}

	srv, err := newServer(cfg)
	if err != nil {
		return err
	}
	srv.configPath = configPath

	if cfg.PidFile != "" {
		if err := os.WriteFile(cfg.PidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			return wrapExit(exitConfigError, fmt.Errorf("writing pid file: %w", err))
		}
		defer os.Remove(cfg.PidFile)
	}

	return srv.runUntilSignal(cmd.Context())
}

// newServer builds every long-lived collaborator a running proxy needs:
// the logger, the MITM authority (if enabled), the plugin chain, the
// handler, the worker pool, and finally the listening socket — in that
// order, since a later step's failure (a bad plugin name, a bind failure)
// should never leave an earlier one half-started without being reported
// under its own exit code.
func newServer(cfg config.Model) (*server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	log := logger.New(ctx)
	log.SetLevel(loglvl.Parse(cfg.LogLevel))
	logFn := func() logger.Logger { return log }

	var authority *tlsintercept.Authority
	if cfg.MITM {
		a, err := loadAuthority(cfg)
		if err != nil {
			cancel()
			return nil, wrapExit(exitCAMaterial, err)
		}
		authority = a
	}

	plugins, err := buildPlugins(cfg, logFn)
	if err != nil {
		cancel()
		return nil, wrapExit(exitConfigError, err)
	}

	handler := proxy.NewHandler(proxy.Config{
		ServerName:                 proxy.DefaultServerName,
		ClientBufSize:              cfg.ClientRecvBufSize,
		UpstreamBufSize:            cfg.ServerRecvBufSize,
		ConnectTimeout:             cfg.Timeout.Time(),
		DisableHTTPProxy:           cfg.DisableHTTPProxy,
		MITM:                       cfg.MITM,
		MITMHosts:                  cfg.MITMHosts,
		Authority:                  authority,
		InsecureSkipUpstreamVerify: cfg.InsecureSkipUpstreamVerify,
		Plugins:                    plugin.NewChain(logFn, plugins...),
		Log:                        logFn,
	})

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	// MaxConcurrentConnections has no dedicated global semaphore; it is
	// approximated by spreading the configured cap across each worker's
	// inbox depth, so a burst beyond the cap backs up the acceptor's
	// Accept loop the same way a zero-depth inbox would (see acceptor.Run).
	inboxDepth := 1
	if cfg.MaxConcurrentConnections > 0 {
		inboxDepth = cfg.MaxConcurrentConnections / numWorkers
		if inboxDepth <= 0 {
			inboxDepth = 1
		}
	}

	workers := make([]*worker.Worker, numWorkers)
	inboxes := make([]chan<- worker.Accepted, numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := worker.New(ctx, i, handler, worker.Config{InboxDepth: inboxDepth})
		workers[i] = w
		inboxes[i] = w.Inbox()
	}

	pool, err := acceptor.New(acceptor.Config{
		Host:    cfg.Hostname,
		Port:    cfg.Port,
		Backlog: cfg.Backlog,
	}, inboxes)
	if err != nil {
		cancel()
		return nil, wrapExit(exitBindFailure, err)
	}

	return &server{
		cfg:       cfg,
		log:       log,
		logFn:     logFn,
		authority: authority,
		ctx:       ctx,
		pool:      pool,
		workers:   workers,
		cancel:    cancel,
	}, nil
}

// loadAuthority reads the configured CA material from disk into PEM
// strings and builds the signing Authority; ValidateCAMaterial has already
// confirmed both files exist and are named, so a read failure here means
// the file changed or became unreadable between the two calls.
func loadAuthority(cfg config.Model) (*tlsintercept.Authority, error) {
	if err := cfg.ValidateCAMaterial(); err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("reading ca-cert-file: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.SigningKeyFile())
	if err != nil {
		return nil, fmt.Errorf("reading signing key file: %w", err)
	}

	return tlsintercept.NewAuthority(tlsintercept.Config{
		CACertPEM: string(certPEM),
		CAKeyPEM:  string(keyPEM),
		CacheDir:  cfg.CACertDir,
	})
}

// start launches every worker and the acceptor, returning once the
// acceptor has bound (or failed to). Worker/acceptor run loops execute in
// their own goroutines; errCh carries whichever one exits first, whether
// from a clean shutdown or a genuine fault.
func (s *server) start(errCh chan<- error) {
	for _, w := range s.workers {
		go func(w *worker.Worker) {
			if err := w.Run(); err != nil {
				errCh <- err
			}
		}(w)
	}

	go func() {
		errCh <- s.pool.Run(s.ctx)
	}()
}

// stop initiates a graceful shutdown: the acceptor's context cancellation
// (wired in start via cancel) stops new Accepts, then every worker drains
// its live units up to its GraceDeadline before the process exits.
func (s *server) stop() {
	s.cancel()
	_ = s.pool.Close()
	for _, w := range s.workers {
		w.Stop()
	}
	_ = s.log.Close()
}
