/*
NAME
  writer.go

DESCRIPTION
  Serialises an in-memory script (ES_PROPERTIES + optional FMT_PROPERTIES
  + data blocks + PES descriptors) to the ESMS binary layout.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package esms

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Script is the complete in-memory representation of an ESMS script, as
// produced by a codec parser's Analyze call and later consumed by the
// multiplexer.
type Script struct {
	Properties ESProperties
	VideoFmt   *VideoFmtProperties // Mutually exclusive with AudioFmt.
	AudioFmt   *AudioFmtProperties
	Blocks     []DataBlock
	Descs      []PESDescriptor
}

// WriteTo serialises s to w in the ESMS binary format.
func (s *Script) WriteTo(w io.Writer) (int64, error) {
	if len(s.Blocks) > maxDataBlocks {
		return 0, newScriptError(CauseMemory, errors.New("too many data blocks"))
	}

	var sections [][]byte
	var ids []byte

	esProps := encodeESProperties(&s.Properties)
	sections = append(sections, esProps)
	ids = append(ids, SectionESProperties)

	if s.VideoFmt != nil {
		sections = append(sections, encodeVideoFmt(s.VideoFmt))
		ids = append(ids, SectionESFmtProperties)
	} else if s.AudioFmt != nil {
		sections = append(sections, encodeAudioFmt(s.AudioFmt))
		ids = append(ids, SectionESFmtProperties)
	}

	sections = append(sections, encodeDataBlocks(s.Blocks))
	ids = append(ids, SectionESDataBlocks)

	pesCutting, err := encodePESCutting(s.Descs)
	if err != nil {
		return 0, err
	}
	sections = append(sections, pesCutting)
	ids = append(ids, SectionPESCutting)

	if len(ids) > maxDirectoryEntries {
		return 0, newScriptError(CauseMemory, errors.New("too many directory entries"))
	}

	// Header: magic(4) + version(2) + dirCount(1) + dirCount*(id(1)+offset(8)).
	headerLen := 4 + 2 + 1 + len(ids)*(1+8)

	var buf bytes.Buffer
	buf.Write(Magic[:])
	binary.Write(&buf, binary.BigEndian, FormatVersion)
	buf.WriteByte(byte(len(ids)))

	offset := int64(headerLen)
	offsets := make([]int64, len(sections))
	for i, sec := range sections {
		offsets[i] = offset
		offset += int64(len(sec))
	}
	for i, id := range ids {
		buf.WriteByte(id)
		binary.Write(&buf, binary.BigEndian, offsets[i])
	}
	for _, sec := range sections {
		buf.Write(sec)
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func encodeESProperties(p *ESProperties) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, magicESProperties)
	buf.WriteByte(byte(p.Kind))
	buf.WriteByte(byte(p.CodingType))
	binary.Write(&buf, binary.BigEndian, p.NominalBitrate)
	binary.Write(&buf, binary.BigEndian, p.FirstPTS)
	binary.Write(&buf, binary.BigEndian, p.LastPTS)
	binary.Write(&buf, binary.BigEndian, p.OptionFlags)
	buf.WriteByte(byte(len(p.Sources)))
	for _, s := range p.Sources {
		pathBytes := []byte(s.Path)
		binary.Write(&buf, binary.BigEndian, uint16(len(pathBytes)))
		buf.Write(pathBytes)
		binary.Write(&buf, binary.BigEndian, s.CRC)
		binary.Write(&buf, binary.BigEndian, s.N)
	}
	return buf.Bytes()
}

func encodeVideoFmt(v *VideoFmtProperties) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, magicVideoFmtProps)
	binary.Write(&buf, binary.BigEndian, v.Width)
	binary.Write(&buf, binary.BigEndian, v.Height)
	buf.WriteByte(v.FrameRateCode)
	if v.H264 != nil {
		buf.WriteByte(1)
		buf.WriteByte(v.H264.ProfileIDC)
		buf.WriteByte(v.H264.LevelIDC)
		buf.WriteByte(v.H264.ConstraintFlags)
		binary.Write(&buf, binary.BigEndian, v.H264.CPBSize)
		binary.Write(&buf, binary.BigEndian, v.H264.BitrateKbps)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func encodeAudioFmt(a *AudioFmtProperties) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, magicAudioFmtProps)
	binary.Write(&buf, binary.BigEndian, a.SampleRate)
	buf.WriteByte(a.BitDepth)
	buf.WriteByte(a.Channels)
	if a.AC3 != nil {
		buf.WriteByte(1)
		buf.WriteByte(a.AC3.BSID)
		buf.WriteByte(a.AC3.BitRateCode)
		buf.WriteByte(a.AC3.SurroundMode)
		buf.WriteByte(a.AC3.BSMode)
		buf.WriteByte(a.AC3.NumChannels)
		var fullSVC byte
		if a.AC3.FullSVC {
			fullSVC = 1
		}
		buf.WriteByte(fullSVC)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func encodeDataBlocks(blocks []DataBlock) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, magicDataBlocks)
	buf.WriteByte(byte(len(blocks)))
	for _, b := range blocks {
		binary.Write(&buf, binary.BigEndian, uint32(len(b)))
		buf.Write(b)
	}
	return buf.Bytes()
}

func encodePESCutting(descs []PESDescriptor) ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, magicPESCutting)
	for _, d := range descs {
		if len(d.Commands) > maxCommandsPerDescriptor {
			return nil, newScriptError(CauseMemory, errors.New("too many build commands in one PES descriptor"))
		}
		if err := encodePESDescriptor(&buf, &d); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(pesCuttingTerminator)
	return buf.Bytes(), nil
}

// Flag bits of a PES descriptor's flag byte.
const (
	flagPTS64    = 1 << 0
	flagHasDTS   = 1 << 1
	flagDTS64    = 1 << 2
	flagSize16   = 1 << 3
	flagHasExt   = 1 << 4
	flagExtFrame = 1 << 5
)

func encodePESDescriptor(buf *bytes.Buffer, d *PESDescriptor) error {
	kindByte := byte(d.Kind)
	if d.Extension {
		kindByte |= 0x80
	}
	buf.WriteByte(kindByte)

	var flags byte
	if d.HasPTS64 {
		flags |= flagPTS64
	}
	if d.HasDTS {
		flags |= flagHasDTS
	}
	if d.DTS64 {
		flags |= flagDTS64
	}
	if d.Size16 {
		flags |= flagSize16
	}
	if d.HasH264Ext {
		flags |= flagHasExt
	}
	buf.WriteByte(flags)

	if d.HasPTS64 {
		binary.Write(buf, binary.BigEndian, d.PTS)
	} else {
		binary.Write(buf, binary.BigEndian, uint32(d.PTS))
	}
	if d.HasDTS {
		if d.DTS64 {
			binary.Write(buf, binary.BigEndian, d.DTS)
		} else {
			binary.Write(buf, binary.BigEndian, uint32(d.DTS))
		}
	}
	if d.HasH264Ext {
		binary.Write(buf, binary.BigEndian, d.H264Ext.CPBRemovalTime)
		binary.Write(buf, binary.BigEndian, d.H264Ext.DPBOutputTime)
	}
	if d.Size16 {
		binary.Write(buf, binary.BigEndian, uint16(d.PayloadSize))
	} else {
		binary.Write(buf, binary.BigEndian, d.PayloadSize)
	}

	buf.WriteByte(byte(len(d.Commands)))
	for _, c := range d.Commands {
		if err := encodeCommand(buf, &c); err != nil {
			return err
		}
	}
	return nil
}

func encodeCommand(buf *bytes.Buffer, c *Command) error {
	buf.WriteByte(byte(c.Kind))
	switch c.Kind {
	case CmdAddBytes:
		binary.Write(buf, binary.BigEndian, uint32(c.Offset))
		buf.WriteByte(byte(c.Mode))
		binary.Write(buf, binary.BigEndian, uint32(len(c.Bytes)))
		buf.Write(c.Bytes)
	case CmdByteSwap:
		binary.Write(buf, binary.BigEndian, uint32(c.UnitSize))
		binary.Write(buf, binary.BigEndian, uint32(c.SwapOff))
		binary.Write(buf, binary.BigEndian, uint32(c.SwapLen))
	case CmdCopyPayload:
		binary.Write(buf, binary.BigEndian, uint32(c.SourceIndex))
		binary.Write(buf, binary.BigEndian, uint64(c.SourceOff))
		binary.Write(buf, binary.BigEndian, uint32(c.DestOff))
		binary.Write(buf, binary.BigEndian, uint32(c.CopyLen))
	case CmdAddPadding:
		binary.Write(buf, binary.BigEndian, uint32(c.PadOffset))
		buf.WriteByte(byte(c.PadMode))
		binary.Write(buf, binary.BigEndian, uint32(c.PadLen))
		buf.WriteByte(c.FillByte)
	case CmdAddDataBlock:
		binary.Write(buf, binary.BigEndian, uint32(c.BlockIndex))
		binary.Write(buf, binary.BigEndian, uint32(c.BlockOff))
		buf.WriteByte(byte(c.BlockMode))
	default:
		return errors.Errorf("esms: unknown command kind %d", c.Kind)
	}
	return nil
}
