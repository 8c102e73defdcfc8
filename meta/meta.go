/*
NAME
  meta.go

DESCRIPTION
  Package meta parses the line-oriented META file that describes a mux run:
  one MUXOPT line of global options followed by one line per elementary
  stream track.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package meta parses BDAV mux description (META) files.
package meta

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Codec keywords recognised on a track line.
const (
	Auto       = "AUTO"
	VMPEG2     = "V_MPEG2"
	VH262      = "V_H262"
	VMPEG4AVC  = "V_MPEG4/ISO/AVC"
	VH264      = "V_H264"
	ALPCM      = "A_LPCM"
	AAC3       = "A_AC3"
	ADTS       = "A_DTS"
	MHDMVIGS   = "M_HDMV/IGS"
	MHDMVPGS   = "M_HDMV/PGS"
)

var validCodecs = map[string]bool{
	Auto: true, VMPEG2: true, VH262: true, VMPEG4AVC: true, VH264: true,
	ALPCM: true, AAC3: true, ADTS: true, MHDMVIGS: true, MHDMVPGS: true,
}

// GlobalOptions carries the MUXOPT line's recognised options.
type GlobalOptions struct {
	NoExtraHeader bool
	CBR           bool
	ForceESMS     bool
	DisableTSTD   bool
	DVDMedia      bool
	StartTime     uint64 // 90 kHz ticks; 0 means unset.
	MuxRate       uint64 // bits/sec; 0 means unset.
}

// TrackOptions carries a track line's recognised per-track options.
type TrackOptions struct {
	Secondary            bool
	Core                 bool
	PBRPath              string
	FPS                  float64
	ARWidth, ARHeight    int
	Level                string
	RemoveSEI            bool
	DisableHRDVerif      bool
	ESMSPath             string
	HDMVInitialTimestamp uint64
	HDMVForceRetiming    bool

	hasFPS bool
	hasAR  bool
}

// HasFPS reports whether --fps was given.
func (o *TrackOptions) HasFPS() bool { return o.hasFPS }

// HasAR reports whether --ar was given.
func (o *TrackOptions) HasAR() bool { return o.hasAR }

// Track describes one elementary stream track line.
type Track struct {
	Codec   string
	Path    string
	Options TrackOptions
}

// Description is the fully parsed META file: global options plus the
// ordered list of track lines.
type Description struct {
	Global GlobalOptions
	Tracks []Track
}

// Errors returned by Parse.
var (
	ErrNoMuxopt      = errors.New("META file does not begin with MUXOPT line")
	ErrNoTracks      = errors.New("META file declares no tracks")
	ErrUnknownCodec  = errors.New("unrecognised codec keyword")
	ErrMalformedLine = errors.New("malformed META line")
)

// Parse reads a META file from r and returns the Description it contains.
func Parse(r io.Reader) (*Description, error) {
	sc := bufio.NewScanner(r)
	var desc Description
	sawMuxopt := false

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripComment(line)
		if line == "" {
			continue
		}

		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}

		if !sawMuxopt {
			if fields[0] != "MUXOPT" {
				return nil, ErrNoMuxopt
			}
			sawMuxopt = true
			for _, opt := range fields[1:] {
				if err := applyGlobalOption(&desc.Global, opt); err != nil {
					return nil, err
				}
			}
			continue
		}

		codec := strings.TrimSuffix(fields[0], ",")
		if !validCodecs[codec] {
			return nil, errors.Wrapf(ErrUnknownCodec, "%q", codec)
		}
		if len(fields) < 2 {
			return nil, ErrMalformedLine
		}
		track := Track{Codec: codec, Path: strings.TrimSuffix(fields[1], ",")}
		for _, opt := range fields[2:] {
			if err := applyTrackOption(&track.Options, opt); err != nil {
				return nil, err
			}
		}
		desc.Tracks = append(desc.Tracks, track)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "error scanning META file")
	}
	if !sawMuxopt {
		return nil, ErrNoMuxopt
	}
	if len(desc.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	return &desc, nil
}

// stripComment trims everything from the first '#' onward; a '#' inside
// an option value also starts a comment.
func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// splitFields splits a META line on commas and whitespace, keeping
// "--key=value" and "--key" tokens intact.
func splitFields(line string) []string {
	raw := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := raw[:0]
	for _, f := range raw {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// optKV splits a "--key" or "--key=value" token.
func optKV(tok string) (key, val string, hasVal bool) {
	tok = strings.TrimPrefix(tok, "--")
	if i := strings.Index(tok, "="); i >= 0 {
		return tok[:i], tok[i+1:], true
	}
	return tok, "", false
}

func applyGlobalOption(g *GlobalOptions, tok string) error {
	key, val, hasVal := optKV(tok)
	switch key {
	case "no-extra-header":
		g.NoExtraHeader = true
	case "cbr":
		g.CBR = true
	case "force-esms":
		g.ForceESMS = true
	case "disable-tstd":
		g.DisableTSTD = true
	case "dvd-media":
		g.DVDMedia = true
	case "start-time":
		if !hasVal {
			return errors.Wrap(ErrMalformedLine, "--start-time requires a value")
		}
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil || v < 90_000 || v > 1_620_000_000_000 {
			return errors.Wrap(ErrMalformedLine, "--start-time out of range")
		}
		g.StartTime = v
	case "mux-rate":
		if !hasVal {
			return errors.Wrap(ErrMalformedLine, "--mux-rate requires a value")
		}
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil || v < 500_000 || v > 120_000_000 {
			return errors.Wrap(ErrMalformedLine, "--mux-rate out of range")
		}
		g.MuxRate = v
	default:
		// Unknown global options that have no specified effect are ignored.
	}
	return nil
}

func applyTrackOption(t *TrackOptions, tok string) error {
	key, val, hasVal := optKV(tok)
	switch key {
	case "secondary":
		t.Secondary = true
	case "core":
		t.Core = true
	case "pbr":
		if hasVal {
			t.PBRPath = val
		}
	case "fps":
		if hasVal {
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return errors.Wrap(ErrMalformedLine, "--fps value")
			}
			t.FPS = v
			t.hasFPS = true
		}
	case "ar":
		if hasVal {
			w, h, err := parseAR(val)
			if err != nil {
				return err
			}
			t.ARWidth, t.ARHeight = w, h
			t.hasAR = true
		}
	case "level":
		if hasVal {
			t.Level = val
		}
	case "remove-sei":
		t.RemoveSEI = true
	case "disable-hrd-verif":
		t.DisableHRDVerif = true
	case "esms":
		if hasVal {
			t.ESMSPath = val
		}
	case "hdmv-initial-timestamp":
		if hasVal {
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return errors.Wrap(ErrMalformedLine, "--hdmv-initial-timestamp value")
			}
			t.HDMVInitialTimestamp = v
		}
	case "hdmv-force-retiming":
		t.HDMVForceRetiming = true
	default:
		// Ignored, same rationale as applyGlobalOption's default case.
	}
	return nil
}

func parseAR(val string) (w, h int, err error) {
	parts := strings.SplitN(val, ":", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Wrap(ErrMalformedLine, "--ar requires w:h")
	}
	w64, err1 := strconv.ParseInt(parts[0], 10, 32)
	h64, err2 := strconv.ParseInt(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, errors.Wrap(ErrMalformedLine, "--ar requires integers")
	}
	return int(w64), int(h64), nil
}
