/*
NAME
  ac3.go

DESCRIPTION
  Package ac3 analyzes an AC-3/Enhanced AC-3/TrueHD elementary stream:
  scans 0x0B77 syncframes, records the family's small set of
  ES_FMT_PROPERTIES fields, and emits one PES descriptor per syncframe
  built from a single CopyPayload command (no reshaping is needed for
  this family).

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package ac3

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

const crcPrefixBytes = 65536

var sampleRates = [4]uint32{48000, 44100, 32000, 0}

// acmodChannels maps audio coding mode to channel count (ATSC A/52
// Table 5.7).
var acmodChannels = [8]byte{2, 1, 2, 3, 3, 4, 4, 5}

// frameSizeWords[fscod][frmsizecod/2] gives the 16-bit word count of one
// syncframe (ATSC A/52 Table 5.18); frmsizecod is 6 bits (0..37).
var frameSizeWords = [3][19]uint16{
	{64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 448, 512, 640, 768, 896, 1024, 1152, 1280},
	{69, 87, 104, 121, 139, 174, 208, 243, 278, 348, 417, 487, 557, 696, 835, 975, 1114, 1253, 1393},
	{96, 120, 144, 168, 192, 240, 288, 336, 384, 480, 576, 672, 768, 960, 1152, 1344, 1536, 1728, 1920},
}

type analyzer struct {
	codingType esms.CodingType
}

func init() {
	codec.Register(esms.CodingAC3, analyzer{esms.CodingAC3})
	codec.Register(esms.CodingEAC3, analyzer{esms.CodingEAC3})
	codec.Register(esms.CodingTrueHD, analyzer{esms.CodingTrueHD})
}

func frameSizeBytes(fscod int, frmsizecod int) int {
	if fscod < 0 || fscod > 2 || frmsizecod < 0 || frmsizecod > 37 {
		return 0
	}
	words := int(frameSizeWords[fscod][frmsizecod/2])
	if fscod == 1 && frmsizecod%2 == 1 {
		words++ // 44.1 kHz odd codes carry one extra word.
	}
	return words * 2
}

func (a analyzer) Analyze(settings *codec.ParsingSettings) (codec.Result, bool, error) {
	f, err := os.Open(settings.InputPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "ac3: open input")
	}
	defer f.Close()

	crc, n, err := prefixCRC(settings.InputPath, crcPrefixBytes)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "ac3: prefix CRC")
	}

	fi, err := f.Stat()
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "ac3: stat input")
	}

	var audioFmt esms.AudioFmtProperties
	var ext esms.AC3FmtExt
	var sampleRate uint32
	var descs []esms.PESDescriptor
	var firstPTS, lastPTS uint64
	havePicture := false
	pts := uint64(0)

	hdr := make([]byte, 8)
	off := int64(0)
	total := fi.Size()
	for off+8 <= total {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return codec.Result{}, false, errors.Wrap(err, "ac3: seek")
		}
		if _, err := io.ReadFull(f, hdr); err != nil {
			break
		}
		if hdr[0] != 0x0B || hdr[1] != 0x77 {
			off++
			continue
		}
		fscod := int(hdr[4] >> 6)
		frmsizecod := int(hdr[4] & 0x3F)
		size := frameSizeBytes(fscod, frmsizecod)
		if size <= 0 || off+int64(size) > total {
			off++
			continue
		}
		if sampleRate == 0 {
			sampleRate = sampleRates[fscod]
			bsid := hdr[5] >> 3
			bsmod := hdr[5] & 0x7
			acmod := (hdr[6] >> 5) & 0x7
			audioFmt.SampleRate = sampleRate
			audioFmt.BitDepth = 16
			audioFmt.Channels = acmodChannels[acmod]
			ext = esms.AC3FmtExt{
				BSID:         bsid,
				BitRateCode:  byte(frmsizecod),
				SurroundMode: acmod,
				BSMode:       bsmod,
				NumChannels:  acmodChannels[acmod],
			}
		}

		// AC-3/E-AC-3 frames are always 1536 samples/1536 audio samples
		// per channel at the stream's sample rate (ATSC A/52 §5.3).
		const samplesPerFrame = 1536
		frameDuration := uint64(27_000_000) * samplesPerFrame / uint64(sampleRates[fscod])

		d := esms.PESDescriptor{
			Kind:        esms.KindAudio,
			PTS:         pts,
			PayloadSize: uint32(size),
			Commands: []esms.Command{
				esms.CopyPayload(0, off, 0, size),
			},
		}
		if !havePicture {
			firstPTS = pts
		}
		lastPTS = pts
		havePicture = true
		descs = append(descs, d)
		pts += frameDuration
		off += int64(size)
	}

	audioFmt.AC3 = &ext

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

	script := &esms.Script{Properties: props, AudioFmt: &audioFmt, Descs: descs}
	out, err := os.Create(settings.ScriptPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "ac3: create script")
	}
	defer out.Close()
	if _, err := script.WriteTo(out); err != nil {
		return codec.Result{}, false, errors.Wrap(err, "ac3: write script")
	}

	return codec.Result{CodingType: a.codingType, Prepare: codec.NopPreparePESHeader}, false, nil
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
