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
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newRootCommand builds the goproxy cobra command. Every long-form flag
// name matches a config.Model mapstructure tag one-for-one, so bindFlags
// can hand the whole FlagSet to viper and let the usual file < env < flag
// precedence fall out of viper.BindPFlag without any flag-by-flag plumbing
// here.
func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "goproxy",
		Short:         "a lightweight, pluggable forwarding proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.String("hostname", "", "address to bind (default 0.0.0.0)")
	flags.Int("port", 0, "listening port")
	flags.Int("num-workers", 0, "worker pool size (0 = number of CPUs)")
	flags.Int("backlog", 0, "listen() backlog")
	flags.Int("client-recvbuf-size", 0, "client-side read buffer size in bytes")
	flags.Int("server-recvbuf-size", 0, "upstream-side read buffer size in bytes")
	flags.Int("max-concurrent-connections", 0, "soft cap on live connections")
	flags.Duration("timeout", 0, "upstream connect timeout")
	flags.String("ca-cert-file", "", "PEM file of the MITM signing CA certificate")
	flags.String("ca-key-file", "", "PEM file of the MITM signing CA's private key")
	flags.String("ca-signing-key-file", "", "PEM file of a delegated signing key, overriding ca-key-file")
	flags.String("ca-cert-dir", "", "directory caching signed leaf certificates across restarts")
	flags.Bool("mitm", false, "enable TLS interception for CONNECT tunnels")
	flags.StringSlice("mitm-hosts", nil, "hostnames eligible for interception (empty = all)")
	flags.StringSlice("plugins", nil, "ordered plugin identifiers to load")
	flags.String("pid-file", "", "file to write the running process id to")
	flags.String("log-level", "", "minimum log level (default Info)")
	flags.Bool("disable-http-proxy", false, "tunnel every connection as raw bytes")
	flags.String("basic-auth", "", "user:pass required of every client (enables the basic-auth plugin)")
	flags.Bool("insecure-skip-upstream-verify", false, "skip certificate validation on MITM upstream sessions (tests only)")
	flags.StringVar(&configPath, "config", "", "configuration file (json/yaml/toml)")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runMain(c, configPath)
	}

	return cmd
}

// bindFlags wires every flag in flags onto v under its own name, so
// config.Load's viper instance picks up "--port 9090" ahead of a config
// file value ahead of its own SetDefault, mirroring viper's documented
// precedence order.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	return v.BindPFlags(flags)
}
