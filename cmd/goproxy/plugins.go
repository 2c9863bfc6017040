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
	"fmt"

	"github.com/sabouaram/goproxy/config"
	"github.com/sabouaram/goproxy/logger"
	"github.com/sabouaram/goproxy/plugin"
)

// buildPlugins turns cfg.Plugins' ordered identifier list into the
// concrete plugin instances the chain dispatches to, in the order given.
// An unrecognized identifier is a configuration error (exitConfigError),
// not a silent skip — a typo in a plugin name should fail loudly at
// startup, not quietly run the proxy unauthenticated.
func buildPlugins(cfg config.Model, log logger.FuncLog) ([]plugin.Plugin, error) {
	plugins := make([]plugin.Plugin, 0, len(cfg.Plugins))

	for _, name := range cfg.Plugins {
		switch name {
		case "basic-auth":
			user, pass, ok := cfg.BasicAuthCredentials()
			if !ok {
				return nil, fmt.Errorf("plugin %q requires basic-auth to be set as \"user:pass\"", name)
			}
			plugins = append(plugins, plugin.NewBasicAuthPlugin(user, pass))
		case "access-log":
			plugins = append(plugins, plugin.NewAccessLogPlugin(log))
		default:
			return nil, fmt.Errorf("unrecognized plugin %q", name)
		}
	}

	return plugins, nil
}
