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

package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	liberr "github.com/sabouaram/goproxy/errors"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", DefaultHostname)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("backlog", DefaultBacklog)
	v.SetDefault("client-recvbuf-size", DefaultClientRecvBufSize)
	v.SetDefault("server-recvbuf-size", DefaultServerRecvBufSize)
	v.SetDefault("max-concurrent-connections", DefaultMaxConcurrentConnections)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("log-level", DefaultLogLevel)
}

// Load reads configuration from path (any format spf13/viper recognizes by
// extension — json, yaml, toml, ...), overlays GOPROXY_-prefixed
// environment variables (hyphens folded to underscores), and validates the
// result. An empty path skips the file source and relies on defaults plus
// environment/flag overrides already bound onto extra.
func Load(path string, extra ...func(*viper.Viper)) (Model, liberr.Error) {
	v := newViper()
	for _, f := range extra {
		f(v)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Model{}, ErrorReadConfig.Error(err)
		}
	}
	return decode(v)
}

// LoadBytes reads configuration of the given viper format name ("json",
// "yaml", "toml", ...) from raw — used by tests and by callers embedding a
// default config alongside the binary rather than reading one from disk.
func LoadBytes(format string, raw []byte) (Model, liberr.Error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return Model{}, ErrorReadConfig.Error(err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Model, liberr.Error) {
	var m Model
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&m, viper.DecodeHook(hook)); err != nil {
		return Model{}, ErrorDecodeConfig.Error(err)
	}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate runs go-playground/validator's struct constraints over m,
// collecting every failing field as a parent error on a single
// ErrorValidateConfig rather than stopping at the first one.
func (m Model) Validate() liberr.Error {
	val := validator.New()
	err := val.Struct(m)
	if err == nil {
		return nil
	}

	if e, ok := err.(*validator.InvalidValidationError); ok {
		return ErrorValidateConfig.Error(e)
	}

	out := ErrorValidateConfig.Error()
	for _, e := range err.(validator.ValidationErrors) {
		out.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", e.Field(), e.ActualTag()))
	}
	if out.HasParent() {
		return out
	}
	return nil
}

// ValidateCAMaterial additionally requires CACertFile and a signing key
// (CASigningKeyFile or CAKeyFile) to name existing, readable files,
// matching exit code 3 ("CA material missing or invalid when MITM
// enabled") — callers invoke this only once MITM is confirmed on, since a
// non-MITM deployment is never required to carry CA material at all.
func (m Model) ValidateCAMaterial() liberr.Error {
	if m.CACertFile == "" {
		return ErrorCAMaterial.Error(fmt.Errorf("ca-cert-file is required when mitm is enabled"))
	}
	if m.SigningKeyFile() == "" {
		return ErrorCAMaterial.Error(fmt.Errorf("ca-key-file or ca-signing-key-file is required when mitm is enabled"))
	}
	if _, err := os.Stat(m.CACertFile); err != nil {
		return ErrorCAMaterial.Error(err)
	}
	if _, err := os.Stat(m.SigningKeyFile()); err != nil {
		return ErrorCAMaterial.Error(err)
	}
	return nil
}
