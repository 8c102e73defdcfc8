/*
NAME
  pg.go

DESCRIPTION
  Package hdmv analyzes HDMV graphics elementary streams: Presentation
  Graphics (subtitle) and Interactive Graphics (menu) segment streams.
  Each segment (PCS/WDS/PDS/ODS/END for PG; ICS/PDS/ODS/END for IG)
  becomes one PES descriptor holding the raw segment bytes, reusing a
  shared segment scanner for both coding types.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package hdmv

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

const crcPrefixBytes = 65536

// segmentKinds are the one-byte segment type tags shared by PG and IG
// streams (the composition-object-relevant tags, PCS/ICS, differ by
// coding type but both terminate a display set with the same END tag).
const (
	segPalette    = 0x14
	segObject     = 0x15
	segPresentCmp = 0x16 // PCS for PG.
	segWindow     = 0x17
	segInteract   = 0x18 // ICS for IG.
	segEnd        = 0x80
)

type segment struct {
	kind byte
	off  int64
	size int
}

// scanSegments walks a well-formed HDMV graphics stream: each segment is
// a 1-byte type, a 4-byte PTS/DTS pair omitted here (the container
// wrapping is mux-format-specific; this scanner reads the raw
// segment-only layout used by BD authoring tools), and a 2-byte
// big-endian payload length.
func scanSegments(data []byte) ([]segment, error) {
	var segs []segment
	off := 0
	for off+3 <= len(data) {
		kind := data[off]
		size := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		start := int64(off)
		off += 3
		if off+size > len(data) {
			return nil, errors.New("hdmv: truncated segment")
		}
		segs = append(segs, segment{kind: kind, off: start, size: 3 + size})
		off += size
	}
	return segs, nil
}

type analyzer struct {
	codingType esms.CodingType
}

func init() {
	codec.Register(esms.CodingPG, analyzer{esms.CodingPG})
	codec.Register(esms.CodingIG, analyzer{esms.CodingIG})
}

func (a analyzer) Analyze(settings *codec.ParsingSettings) (codec.Result, bool, error) {
	data, err := os.ReadFile(settings.InputPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "hdmv: read input")
	}

	crc, n, err := prefixCRC(settings.InputPath, crcPrefixBytes)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "hdmv: prefix CRC")
	}

	segs, err := scanSegments(data)
	if err != nil {
		return codec.Result{}, false, err
	}
	if len(segs) == 0 {
		return codec.Result{}, false, errors.New("hdmv: no segments found")
	}

	// Each segment's PTS/DTS is frameDuration after the previous segment's
	// (a placeholder cadence; actual subtitle timing is carried by the
	// display set's own PTS in the source, which this raw segment scanner
	// does not model).
	const frameDuration = uint64(27_000_000) / 10

	var descs []esms.PESDescriptor
	var firstPTS, lastPTS uint64
	pts := uint64(0)
	for i, s := range segs {
		if settings.HDMVHasInitialTS && i == 0 {
			pts = settings.HDMVInitialTimestamp * 300
		}
		d := esms.PESDescriptor{
			Kind:        esms.KindHDMV,
			PTS:         pts,
			HasDTS:      true,
			DTS:         pts,
			PayloadSize: uint32(s.size),
			Commands: []esms.Command{
				esms.CopyPayload(0, s.off, 0, s.size),
			},
		}
		if i == 0 {
			firstPTS = pts
		}
		lastPTS = pts
		descs = append(descs, d)
		pts += frameDuration
	}

	props := esms.ESProperties{
		Kind:        esms.KindHDMV,
		CodingType:  a.codingType,
		FirstPTS:    firstPTS,
		LastPTS:     lastPTS,
		OptionFlags: settings.OptionFlags,
		Sources: []esms.SourceFile{
			{Path: settings.InputPath, CRC: crc, N: uint32(n)},
		},
	}

	script := &esms.Script{Properties: props, Descs: descs}
	out, err := os.Create(settings.ScriptPath)
	if err != nil {
		return codec.Result{}, false, errors.Wrap(err, "hdmv: create script")
	}
	defer out.Close()
	if _, err := script.WriteTo(out); err != nil {
		return codec.Result{}, false, errors.Wrap(err, "hdmv: write script")
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
