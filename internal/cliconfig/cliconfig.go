// Package cliconfig supplies environment-variable overrides for the
// proxy's CLI flag defaults, following the same viper.New plus
// SetDefault/AutomaticEnv pattern the teacher uses for its own config
// loading — but there is no config file here, only flags and env vars.
package cliconfig

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the shared prefix for every override variable, e.g.
// LSP_WS_PROXY_LISTEN.
const EnvPrefix = "LSP_WS_PROXY"

// Defaults holds the flag default values, after env-var overrides are
// applied but before cobra's own flag parsing runs. cobra flag values
// set explicitly on the command line always win over these.
type Defaults struct {
	Listen  string
	Timeout int
	Sync    bool
	Remap   bool
}

// Load reads LSP_WS_PROXY_{LISTEN,TIMEOUT,SYNC,REMAP} environment
// variables over the given base defaults, returning the effective
// defaults to register as cobra flag defaults.
func Load(base Defaults) Defaults {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", base.Listen)
	v.SetDefault("timeout", base.Timeout)
	v.SetDefault("sync", base.Sync)
	v.SetDefault("remap", base.Remap)

	return Defaults{
		Listen:  NormalizeListen(v.GetString("listen")),
		Timeout: v.GetInt("timeout"),
		Sync:    v.GetBool("sync"),
		Remap:   v.GetBool("remap"),
	}
}

// NormalizeListen applies the CLI's "bare integer means 0.0.0.0:<int>"
// shorthand for the listen address, leaving anything else untouched.
func NormalizeListen(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		return "0.0.0.0:" + addr
	}
	return addr
}
