/*
NAME
  dts.go

DESCRIPTION
  Package dts analyzes a DTS-family elementary stream (core, HD-HR,
  HD-MA, Express). Frames are delimited by the 0x7FFE8001 core sync
  word (or 0x64582025 for an extension substream); each becomes one PES
  descriptor built from a CopyPayload command. When a PBR statistics
  file is supplied, each frame's declared size is padded up to the
  corresponding entry so the re-emitted stream follows that size
  distribution.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package dts

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

const crcPrefixBytes = 65536

var coreSync = [4]byte{0x7F, 0xFE, 0x80, 0x01}
var extSync = [4]byte{0x64, 0x58, 0x20, 0x25}

// sfreqTable maps the 4-bit SFREQ field to sample rate (ETSI TS 102 114
// Table 7-11), index 0 unused.
var sfreqTable = [16]uint32{
	0, 8000, 16000, 32000, 0, 0, 11025, 22050, 44100, 0,
	12000, 24000, 48000, 96000, 192000, 0,
}

type analyzer struct {
	codingType esms.CodingType
}

func init() {
	codec.Register(esms.CodingDTS, analyzer{esms.CodingDTS})
	codec.Register(esms.CodingDTSHDHR, analyzer{esms.CodingDTSHDHR})
	codec.Register(esms.CodingDTSHDMA, analyzer{esms.CodingDTSHDMA})
	codec.Register(esms.CodingDTSExpress, analyzer{esms.CodingDTSExpress})
}

// readPBRStats parses a PBR statistics file: one average-size sample in
// bytes per line, blank lines and '#' comments ignored.
func readPBRStats(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "dts: open PBR stats")
	}
	defer f.Close()
	var out []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, errors.Wrapf(err, "dts: bad PBR stats line %q", line)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "dts: read PBR stats")
	}
	return out, nil
}

func (a analyzer) Analyze(settings *codec.ParsingSettings) (codec.Result, bool, error) {
	f, err := os.Open(settings.InputPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "dts: open input")
	}
	defer f.Close()

	crc, n, err := prefixCRC(settings.InputPath, crcPrefixBytes)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "dts: prefix CRC")
	}

	var pbrStats []int
	if settings.PBRStatsPath != "" {
		pbrStats, err = readPBRStats(settings.PBRStatsPath)
		if err != nil {
			return codec.Result{}, false, err
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "dts: read input")
	}

	offsets := findSyncOffsets(data)
	if len(offsets) == 0 {
		return codec.Result{}, false, errors.New("dts: no sync word found")
	}

	sampleRate, bitDepth := parseCoreHeader(data, offsets[0])

	// DTS core frames run at sample_rate/512 per second; XLL/extension
	// substreams share the same access-unit cadence.
	const samplesPerFrame = 512
	frameDuration := uint64(27_000_000) * samplesPerFrame / uint64(max32(sampleRate, 1))

	var descs []esms.PESDescriptor
	var firstPTS, lastPTS uint64
	pts := uint64(0)
	for i, off := range offsets {
		end := int64(len(data))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		size := int(end - off)
		d := esms.PESDescriptor{
			Kind: esms.KindAudio,
			PTS:  pts,
			Commands: []esms.Command{
				esms.CopyPayload(0, off, 0, size),
			},
		}
		if len(pbrStats) > 0 {
			target := pbrStats[i%len(pbrStats)]
			if target > size {
				pad := target - size
				d.Commands = append(d.Commands, esms.AddPadding(size, esms.ModeOverwrite, pad, 0))
				size = target
			}
		}
		d.PayloadSize = uint32(size)

		if i == 0 {
			firstPTS = pts
		}
		lastPTS = pts
		descs = append(descs, d)
		pts += frameDuration
	}

	props := esms.ESProperties{
		Kind:        esms.KindAudio,
		CodingType:  a.codingType,
		FirstPTS:    firstPTS,
		LastPTS:     lastPTS,
		OptionFlags: settings.OptionFlags,
		Sources: []esms.SourceFile{
			{Path: settings.InputPath, CRC: crc, N: uint32(n)},
		},
	}
	audioFmt := &esms.AudioFmtProperties{SampleRate: sampleRate, BitDepth: bitDepth, Channels: 2}

	// PayloadSize as declared above may exceed the source AddPadding
	// target; ensure the buffer allocated by Apply is large enough by
	// recomputing from the written commands rather than source length
	// alone. (handled by the padding branch already adjusting size.)

	script := &esms.Script{Properties: props, AudioFmt: audioFmt, Descs: descs}
	out, err := os.Create(settings.ScriptPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "dts: create script")
	}
	defer out.Close()
	if _, err := script.WriteTo(out); err != nil {
		return codec.Result{}, false, errors.Wrap(err, "dts: write script")
	}

	return codec.Result{CodingType: a.codingType, Prepare: codec.NopPreparePESHeader}, false, nil
}

// findSyncOffsets locates every core or extension-substream sync word in
// data, in ascending order.
func findSyncOffsets(data []byte) []int64 {
	var offs []int64
	for i := 0; i+4 <= len(data); i++ {
		if matchesSync(data[i:i+4], coreSync) || matchesSync(data[i:i+4], extSync) {
			offs = append(offs, int64(i))
		}
	}
	return offs
}

func matchesSync(b []byte, sync [4]byte) bool {
	return b[0] == sync[0] && b[1] == sync[1] && b[2] == sync[2] && b[3] == sync[3]
}

// parseCoreHeader extracts the sample rate from the frame at off, reading
// it as a core header whichever sync word was found there. The bit depth
// it returns is always 24.
func parseCoreHeader(data []byte, off int64) (uint32, byte) {
	if off+10 > int64(len(data)) {
		return 48000, 24
	}
	hdr := binary.BigEndian.Uint64(data[off : off+8])
	_ = hdr
	// SFREQ is a 4-bit field a fixed number of bits after the sync word;
	// byte 8 (0-indexed from sync start) carries it in bits 5..2.
	sfreq := (data[off+8] >> 2) & 0xF
	rate := sfreqTable[sfreq]
	if rate == 0 {
		rate = 48000
	}
	return rate, 24
}

func max32(v uint32, min uint32) uint32 {
	if v < min {
		return min
	}
	return v
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
