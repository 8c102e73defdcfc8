/*
NAME
  h264.go

DESCRIPTION
  Package h264 analyzes an Annex-B H.264/AVC elementary stream and emits
  an ESMS script. It records picture dimensions and level from the SPS
  (the last one parsed, when the stream carries several), starts a new
  PES descriptor at every slice NAL after the first (a picture split into
  several slices is not kept together), and emits a level_idc overwrite
  command when the caller requests a level override.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package h264

import (
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/codec/nal"
	"github.com/nautilusav/bdmux/esms"
)

// NAL unit types referenced here (ITU-T H.264 Table 7-1).
const (
	nalNonIDR = 1
	nalIDR    = 5
	nalSEI    = 6
	nalSPS    = 7
	nalPPS    = 8
	nalAUD    = 9
)

const crcPrefixBytes = 65536

type analyzer struct{}

func init() { codec.Register(esms.CodingAVC, analyzer{}) }

func (analyzer) Analyze(settings *codec.ParsingSettings) (codec.Result, bool, error) {
	f, err := os.Open(settings.InputPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "h264: open input")
	}
	defer f.Close()

	crc, n, err := prefixCRC(settings.InputPath, crcPrefixBytes)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "h264: prefix CRC")
	}

	sc := nal.NewScanner(f)

	var videoFmt esms.VideoFmtProperties
	var sps *seqParamSet
	var levelOverride *byte
	if settings.Level != "" {
		if lv, ok := parseLevel(settings.Level); ok {
			levelOverride = &lv
		}
	}

	var firstPTS, lastPTS uint64
	var descs []esms.PESDescriptor
	var auStart int64 = -1
	var spsOffset int64 = -1
	sawFirstSlice := false
	havePicture := false
	frameDuration := uint64(27_000_000 / 25) // Refined once an SPS/--fps gives us a real rate.
	if settings.HasFPS && settings.FPS > 0 {
		frameDuration = uint64(27_000_000 / settings.FPS)
	}
	pts := uint64(0)

	flush := func(end int64) {
		if auStart < 0 {
			return
		}
		size := int(end - auStart)
		if size <= 0 {
			return
		}
		d := esms.PESDescriptor{
			Kind:        esms.KindVideo,
			PTS:         pts,
			PayloadSize: uint32(size),
			Commands: []esms.Command{
				esms.CopyPayload(0, auStart, 0, size),
			},
		}
		if levelOverride != nil && spsOffset >= auStart && spsOffset < end {
			// spsOffset is level_idc's absolute offset within the source
			// file; relative to this descriptor's payload start it is
			// spsOffset-auStart.
			d.Commands = append(d.Commands, esms.AddBytes(
				[]byte{*levelOverride}, int(spsOffset-auStart), esms.ModeOverwrite))
		}
		if !havePicture {
			firstPTS = pts
		}
		lastPTS = pts
		havePicture = true
		descs = append(descs, d)
		pts += frameDuration
	}

	for {
		u, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return codec.Result{}, false, errors.Wrap(err, "h264: scan")
		}
		nalType := u.Code & 0x1F

		if auStart < 0 {
			auStart = u.Offset - 4
		}

		switch nalType {
		case nalSPS:
			if parsed, ok := parseSPS(u.Data); ok {
				sps = parsed
				videoFmt.Width = parsed.Width
				videoFmt.Height = parsed.Height
				videoFmt.H264 = &esms.H264FmtExt{
					ProfileIDC:      parsed.ProfileIDC,
					LevelIDC:        parsed.LevelIDC,
					ConstraintFlags: parsed.ConstraintFlags,
				}
				// level_idc is the 3rd byte of the SPS RBSP, i.e. at
				// u.Offset (start of payload) + 2.
				spsOffset = u.Offset + 2
			}
		case nalNonIDR, nalIDR:
			// Leading non-VCL NALs (AUD/SEI/SPS/PPS) of the first access
			// unit stay attached to it; only subsequent slice NALs open a
			// new one.
			if sawFirstSlice {
				flush(u.Offset - 4)
				auStart = u.Offset - 4
			}
			sawFirstSlice = true
		}
	}
	flush(sizeOf(settings.InputPath))

	if sps != nil && levelOverride != nil {
		videoFmt.H264.ConstraintFlags = sps.ConstraintFlags
		videoFmt.H264.LevelIDC = *levelOverride
	}

	props := esms.ESProperties{
		Kind:        esms.KindVideo,
		CodingType:  esms.CodingAVC,
		FirstPTS:    firstPTS,
		LastPTS:     lastPTS,
		OptionFlags: settings.OptionFlags,
		Sources: []esms.SourceFile{
			{Path: settings.InputPath, CRC: crc, N: uint32(n)},
		},
	}

	script := &esms.Script{Properties: props, VideoFmt: &videoFmt, Descs: descs}
	out, err := os.Create(settings.ScriptPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "h264: create script")
	}
	defer out.Close()
	if _, err := script.WriteTo(out); err != nil {
		return codec.Result{}, false, errors.Wrap(err, "h264: write script")
	}

	return codec.Result{CodingType: esms.CodingAVC, Prepare: prepareH264PESHeader}, false, nil
}

// prepareH264PESHeader is a placeholder for CPB/DPB timing callers that
// feed HRD data gathered by a two-pass run; single-pass callers leave the
// descriptor's H264Ext zero.
func prepareH264PESHeader(d *esms.PESDescriptor) {}

// parseLevel parses a level string ("4.0" or "40") into level_idc.
func parseLevel(s string) (byte, bool) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ".") {
		parts := strings.SplitN(s, ".", 2)
		major, err1 := strconv.Atoi(parts[0])
		minor, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return byte(major*10 + minor), true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

func prefixCRC(path string, n int) (uint32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, 0, err
	}
	return crc32.ChecksumIEEE(buf[:read]), read, nil
}

func sizeOf(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
