/*
NAME
  lpcm.go

DESCRIPTION
  Package lpcm analyzes a PCM WAV elementary stream and emits an ESMS
  script of fixed-duration LPCM frames (BDAV muxes linear PCM at 200
  frames/sec), each built from a CopyPayload of the raw samples plus a
  byte-order-swap command, since the wire byte order and the source
  WAV's byte order disagree.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package lpcm

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

// framesPerSecond is the fixed LPCM PES cadence used by BDAV muxes.
const framesPerSecond = 200

const crcPrefixBytes = 65536

type analyzer struct{}

func init() { codec.Register(esms.CodingLPCM, analyzer{}) }

type waveFormat struct {
	channels   uint16
	sampleRate uint32
	bitDepth   uint16
	dataOffset int64
	dataSize   uint32
}

var errNoDataChunk = errors.New("lpcm: no data chunk found")
var errNotRIFF = errors.New("lpcm: not a RIFF/WAVE file")

// readWaveHeader walks a RIFF/WAVE container's chunks to find the fmt
// and data chunks, using the standard RIFF/WAVE field layout.
func readWaveHeader(f *os.File) (*waveFormat, error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, errors.Wrap(err, "lpcm: read RIFF header")
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errNotRIFF
	}

	wf := &waveFormat{}
	var sawFmt bool
	off := int64(12)
	for {
		var hdr [8]byte
		n, err := io.ReadFull(f, hdr[:])
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "lpcm: read chunk header")
		}
		off += 8
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, errors.Wrap(err, "lpcm: read fmt chunk")
			}
			if len(body) < 16 {
				return nil, errors.New("lpcm: fmt chunk too small")
			}
			wf.channels = binary.LittleEndian.Uint16(body[2:4])
			wf.sampleRate = binary.LittleEndian.Uint32(body[4:8])
			wf.bitDepth = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true
			off += int64(size)
		case "data":
			wf.dataOffset = off
			wf.dataSize = size
			off += int64(size)
			if !sawFmt {
				return nil, errors.New("lpcm: data chunk before fmt chunk")
			}
			return wf, nil
		default:
			off += int64(size)
			if _, err := f.Seek(off, io.SeekStart); err != nil {
				return nil, errors.Wrap(err, "lpcm: seek past chunk")
			}
		}
		if size%2 == 1 { // Chunks are word-aligned; skip the pad byte.
			off++
			if _, err := f.Seek(off, io.SeekStart); err != nil {
				return nil, errors.Wrap(err, "lpcm: seek past pad byte")
			}
		}
	}
	return nil, errNoDataChunk
}

func (analyzer) Analyze(settings *codec.ParsingSettings) (codec.Result, bool, error) {
	f, err := os.Open(settings.InputPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "lpcm: open input")
	}
	defer f.Close()

	wf, err := readWaveHeader(f)
	if err != nil {
		return codec.Result{}, false, err
	}

	crc, n, err := prefixCRC(settings.InputPath, crcPrefixBytes)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "lpcm: prefix CRC")
	}

	bytesPerSample := int(wf.bitDepth) / 8
	frameSamples := int(wf.sampleRate) / framesPerSecond
	frameBytes := frameSamples * int(wf.channels) * bytesPerSample
	if frameBytes <= 0 {
		return codec.Result{}, false, errors.New("lpcm: degenerate frame size")
	}

	frameDuration := uint64(27_000_000 / framesPerSecond)

	var descs []esms.PESDescriptor
	var firstPTS, lastPTS uint64
	pts := uint64(0)
	remaining := int64(wf.dataSize)
	srcOff := wf.dataOffset
	first := true
	for remaining > 0 {
		size := frameBytes
		if int64(size) > remaining {
			size = int(remaining)
		}
		d := esms.PESDescriptor{
			Kind:        esms.KindAudio,
			PTS:         pts,
			PayloadSize: uint32(size),
			Commands: []esms.Command{
				esms.CopyPayload(0, srcOff, 0, size),
			},
		}
		if bytesPerSample > 1 {
			d.Commands = append(d.Commands, esms.ByteSwap(bytesPerSample, 0, size-(size%bytesPerSample)))
		}
		if first {
			firstPTS = pts
			first = false
		}
		lastPTS = pts
		descs = append(descs, d)

		srcOff += int64(size)
		remaining -= int64(size)
		pts += frameDuration
	}

	props := esms.ESProperties{
		Kind:        esms.KindAudio,
		CodingType:  esms.CodingLPCM,
		FirstPTS:    firstPTS,
		LastPTS:     lastPTS,
		OptionFlags: settings.OptionFlags,
		Sources: []esms.SourceFile{
			{Path: settings.InputPath, CRC: crc, N: uint32(n)},
		},
	}
	audioFmt := &esms.AudioFmtProperties{
		SampleRate: wf.sampleRate,
		BitDepth:   byte(wf.bitDepth),
		Channels:   byte(wf.channels),
	}

	script := &esms.Script{Properties: props, AudioFmt: audioFmt, Descs: descs}
	out, err := os.Create(settings.ScriptPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "lpcm: create script")
	}
	defer out.Close()
	if _, err := script.WriteTo(out); err != nil {
		return codec.Result{}, false, errors.Wrap(err, "lpcm: write script")
	}

	return codec.Result{CodingType: esms.CodingLPCM, Prepare: codec.NopPreparePESHeader}, false, nil
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
