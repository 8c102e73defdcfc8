/*
NAME
  h262.go

DESCRIPTION
  Package h262 analyzes an H.262/MPEG-2 byte-stream-format video
  elementary stream and emits an ESMS script. It locates the sequence
  header to record picture dimensions and frame rate, then treats each
  picture start code as an access-unit boundary and emits one PES
  descriptor per access unit built from a single CopyPayload command.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package h262

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/codec/nal"
	"github.com/nautilusav/bdmux/esms"
)

const (
	codeSequenceHeader = 0xB3
	codePictureStart   = 0x00
)

// frameRateTable maps frame_rate_code (1..8) to a nominal rate in
// thousandths of a frame per second (ITU-T H.262 Table 6-4).
var frameRateTable = [9]uint32{
	0, 23976, 24000, 25000, 29970, 30000, 50000, 59940, 60000,
}

const crcPrefixBytes = 65536

type analyzer struct{}

func init() { codec.Register(esms.CodingH262, analyzer{}) }

func (analyzer) Analyze(settings *codec.ParsingSettings) (codec.Result, bool, error) {
	f, err := os.Open(settings.InputPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "h262: open input")
	}
	defer f.Close()

	crc, n, err := prefixCRC(settings.InputPath, crcPrefixBytes)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "h262: prefix CRC")
	}

	sc := nal.NewScanner(f)

	var videoFmt esms.VideoFmtProperties
	var firstPTS, lastPTS uint64
	var descs []esms.PESDescriptor

	var auStart int64 = -1
	frameDuration := uint64(0)
	pts := uint64(0)
	havePicture := false
	sawFirstPicture := false

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
			return codec.Result{}, false, errors.Wrap(err, "h262: scan")
		}
		if auStart < 0 {
			auStart = u.Offset - 4
		}
		switch {
		case u.Code == codeSequenceHeader:
			if len(u.Data) >= 4 {
				videoFmt.Width = uint16(u.Data[0])<<4 | uint16(u.Data[1])>>4
				videoFmt.Height = uint16(u.Data[1]&0xF)<<8 | uint16(u.Data[2])
				videoFmt.FrameRateCode = u.Data[3] & 0xF
				rate := frameRateTable[videoFmt.FrameRateCode%9]
				if rate == 0 {
					rate = 25000
				}
				// 27 MHz ticks per frame, rate given in thousandths of fps.
				frameDuration = uint64(27_000_000_000) / uint64(rate)
			}
		case u.Code == codePictureStart:
			// The sequence header and any leading extension data stay
			// attached to the first access unit; only subsequent picture
			// starts open a new one.
			if sawFirstPicture {
				flush(u.Offset - 4)
				auStart = u.Offset - 4
			}
			sawFirstPicture = true
		}
	}
	flush(sizeOf(settings.InputPath))

	if settings.HasFPS && settings.FPS > 0 {
		// Explicit FPS override recomputes inter-picture spacing, replacing
		// the rate taken from the sequence header's frame_rate_code.
		frameDuration = uint64(27_000_000 / settings.FPS)
		for i := range descs {
			descs[i].PTS = firstPTS + uint64(i)*frameDuration
		}
		if len(descs) > 0 {
			lastPTS = descs[len(descs)-1].PTS
		}
	}

	props := esms.ESProperties{
		Kind:        esms.KindVideo,
		CodingType:  esms.CodingH262,
		FirstPTS:    firstPTS,
		LastPTS:     lastPTS,
		OptionFlags: settings.OptionFlags,
		Sources: []esms.SourceFile{
			{Path: settings.InputPath, CRC: crc, N: uint32(n)},
		},
	}

	script := &esms.Script{Properties: props, VideoFmt: &videoFmt, Descs: descs}
	if err := writeScript(settings.ScriptPath, script); err != nil {
		return codec.Result{}, false, err
	}
	return codec.Result{CodingType: esms.CodingH262, Prepare: codec.NopPreparePESHeader}, false, nil
}

func writeScript(path string, s *esms.Script) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "h262: create script")
	}
	defer f.Close()
	_, err = s.WriteTo(f)
	return errors.Wrap(err, "h262: write script")
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
