/*
NAME
  config.go

DESCRIPTION
  Package muxcfg loads the INI file that carries process-wide mux settings:
  the suppressed compliance classes, the debug category bitmap, and default
  mux-rate/start-time values, and the underflow settings. These are
  parsed once at startup rather than read from process globals
  thereafter; cmd/bdmux takes the debug bitmap and the default mux rate
  and start time from the result.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package muxcfg loads bdmux's INI configuration file.
package muxcfg

import (
	"github.com/pkg/errors"
	ini "gopkg.in/ini.v1"
)

// Compliance classes that may be independently suppressed.
const (
	ClassCompliance      = "COMPLIANCE"
	ClassBDCompliance    = "BDCOMPLIANCE"
	ClassSTDCompliance   = "STDCOMPLIANCE"
	ClassBDAVSTDComplian = "BDAVSTDCOMPLIANCE"
)

// Debug category bits, combined into a single bitmap.
const (
	DebugScript uint32 = 1 << iota
	DebugScheduler
	DebugBufferModel
	DebugPSI
)

// Config is the process-wide configuration loaded from the INI file.
type Config struct {
	// Suppressed holds the set of compliance classes that should log a
	// warning and continue rather than abort.
	Suppressed map[string]bool

	// Debug is the bitmap of enabled debug categories, settable from the
	// INI file and overridable by CLI/env.
	Debug uint32

	// DefaultMuxRate is used when a META file's MUXOPT omits --mux-rate.
	DefaultMuxRate uint64

	// DefaultStartTime is used when a META file's MUXOPT omits
	// --start-time, in 90 kHz ticks.
	DefaultStartTime uint64

	// AbortOnUnderflow is read from the INI file's abort_on_underflow key.
	// No other package reads it: the scheduler aborts the run on every
	// BDAV-STD buffer underflow, whatever its value.
	AbortOnUnderflow bool

	// UnderflowWarnTimeoutTicks is read from the INI file's
	// underflow_warn_timeout_ticks key (in 27 MHz ticks). No other package
	// reads it.
	UnderflowWarnTimeoutTicks uint64
}

// Default returns the built-in configuration used when no INI file is
// supplied.
func Default() *Config {
	return &Config{
		Suppressed:                map[string]bool{},
		DefaultMuxRate:            48_000_000,
		DefaultStartTime:          54_000_000, // 10 minutes at 90 kHz.
		AbortOnUnderflow:          false,
		UnderflowWarnTimeoutTicks: 27_000_000, // 1 second.
	}
}

// Load reads an INI file at path and returns the Config it describes,
// falling back to Default's values for any key that is absent.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not load ini file")
	}

	cfg := Default()

	sec := f.Section("compliance")
	for _, class := range []string{ClassCompliance, ClassBDCompliance, ClassSTDCompliance, ClassBDAVSTDComplian} {
		if sec.HasKey(class) && !sec.Key(class).MustBool(true) {
			cfg.Suppressed[class] = true
		}
	}

	gen := f.Section("general")
	cfg.DefaultMuxRate = gen.Key("mux_rate").MustUint64(cfg.DefaultMuxRate)
	cfg.DefaultStartTime = gen.Key("start_time").MustUint64(cfg.DefaultStartTime)
	cfg.AbortOnUnderflow = gen.Key("abort_on_underflow").MustBool(cfg.AbortOnUnderflow)
	cfg.UnderflowWarnTimeoutTicks = gen.Key("underflow_warn_timeout_ticks").MustUint64(cfg.UnderflowWarnTimeoutTicks)

	dbg := f.Section("debug")
	if dbg.Key("script").MustBool(false) {
		cfg.Debug |= DebugScript
	}
	if dbg.Key("scheduler").MustBool(false) {
		cfg.Debug |= DebugScheduler
	}
	if dbg.Key("buffer_model").MustBool(false) {
		cfg.Debug |= DebugBufferModel
	}
	if dbg.Key("psi").MustBool(false) {
		cfg.Debug |= DebugPSI
	}

	return cfg, nil
}

// IsSuppressed reports whether class has been suppressed by the INI file,
// meaning a violation should be logged as a warning instead of treated as
// fatal.
func (c *Config) IsSuppressed(class string) bool {
	return c.Suppressed[class]
}
