/*
NAME
  codec.go

DESCRIPTION
  Package codec defines the contract every elementary-stream parser
  implements: read a raw bitstream, emit a validating ESMS script
  describing the PES packets needed to reconstruct it, and return the
  coding type actually found plus a PES-header callback used by the
  multiplex scheduler when it assembles the wire-level PES header for
  each descriptor.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package codec

import (
	"github.com/nautilusav/bdmux/esms"
	"github.com/nautilusav/bdmux/logging"
)

// ParsingSettings carries everything a parser needs to analyze one
// elementary stream and produce an ESMS script for it.
type ParsingSettings struct {
	InputPath  string
	ScriptPath string

	// OptionFlags is recorded in the resulting script's ESProperties so a
	// later run can tell whether the options used to build it are still
	// sufficient.
	OptionFlags uint32

	// Restart is set by the caller when it re-invokes a parser that
	// requested a second pass. None of the analyzers in this module
	// requests one.
	Restart bool

	FPS           float64
	HasFPS        bool
	ARWidth       int
	ARHeight      int
	HasAR         bool
	Level         string
	RemoveSEI     bool
	DisableHRD    bool
	PBRStatsPath  string
	Core          bool
	Secondary     bool

	HDMVInitialTimestamp uint64
	HDMVHasInitialTS     bool
	HDMVForceRetiming    bool

	Log logging.Logger
}

// PreparePESHeader fills in the codec-specific PES-header extension
// fields (H.264 CPB removal / DPB output time) for one descriptor, ahead
// of wire-level PES assembly. Most codecs have nothing to add and use
// NopPreparePESHeader.
type PreparePESHeader func(d *esms.PESDescriptor)

// NopPreparePESHeader is the PreparePESHeader used by codecs with no
// PES-header extension data.
func NopPreparePESHeader(*esms.PESDescriptor) {}

// Result is what Analyze returns on success: the coding type it actually
// detected (which may differ from a caller's AUTO guess) and the
// PES-header callback to use at mux time.
type Result struct {
	CodingType esms.CodingType
	Prepare    PreparePESHeader
}

// Parser is implemented by every codec-specific analyzer.
type Parser interface {
	// Analyze streams ParsingSettings.InputPath, writing a validating
	// ESMS script to ParsingSettings.ScriptPath. RestartRequested may be
	// set on return to ask the caller to invoke Analyze again with
	// Restart=true; every analyzer in this module returns false.
	Analyze(settings *ParsingSettings) (result Result, restartRequested bool, err error)
}

// registry maps a declared or guessed coding type to the parser that
// handles it. Populated by each codec package's init.
var registry = map[esms.CodingType]Parser{}

// Register installs p as the parser for coding type ct. Codec packages
// call this from init.
func Register(ct esms.CodingType, p Parser) {
	registry[ct] = p
}

// Lookup returns the registered parser for ct, or nil if none is
// registered.
func Lookup(ct esms.CodingType) Parser {
	return registry[ct]
}
