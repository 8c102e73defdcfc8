/*
NAME
  reader.go

DESCRIPTION
  Parses the ESMS binary layout back into a Script, and validates a
  previously-built script against the source files it was built from
  before it is reused.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package esms

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

type directoryEntry struct {
	id     byte
	offset int64
}

// Reader parses an ESMS file and exposes its PES descriptors through a
// FIFO, without requiring the whole PES_CUTTING section to be decoded up
// front.
type Reader struct {
	data []byte
	dir  []directoryEntry

	Properties ESProperties
	VideoFmt   *VideoFmtProperties
	AudioFmt   *AudioFmtProperties
	Blocks     []DataBlock

	pesOff int // Cursor into data, positioned at the next PESDescriptor.
}

// NewReader parses the header and the ES_PROPERTIES, ES_FMT_PROPERTIES and
// ES_DATA_BLOCKS sections eagerly, and positions the reader at the start
// of PES_CUTTING so Next can deliver descriptors lazily.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < 7 {
		return nil, newScriptError(CauseIncomplete, errors.New("file shorter than header"))
	}
	if !bytes.Equal(data[0:4], Magic[:]) {
		return nil, newScriptError(CauseHeader, errors.New("bad magic"))
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != FormatVersion {
		return nil, newScriptError(CauseVersion, errors.Errorf("unsupported version %d", version))
	}
	dirCount := int(data[6])
	if dirCount > maxDirectoryEntries {
		return nil, newScriptError(CauseHeader, errors.New("directory too large"))
	}
	headerLen := 7 + dirCount*(1+8)
	if len(data) < headerLen {
		return nil, newScriptError(CauseIncomplete, errors.New("file shorter than directory"))
	}

	r := &Reader{data: data}
	off := 7
	for i := 0; i < dirCount; i++ {
		id := data[off]
		entryOff := int64(binary.BigEndian.Uint64(data[off+1 : off+9]))
		r.dir = append(r.dir, directoryEntry{id: id, offset: entryOff})
		off += 9
	}

	for _, e := range r.dir {
		if int(e.offset) < 0 || int(e.offset) > len(data) {
			return nil, newScriptError(CauseIncomplete, errors.New("directory entry offset out of range"))
		}
		switch e.id {
		case SectionESProperties:
			props, err := decodeESProperties(data[e.offset:])
			if err != nil {
				return nil, err
			}
			r.Properties = *props
		case SectionESFmtProperties:
			if err := r.decodeFmtProperties(data[e.offset:]); err != nil {
				return nil, err
			}
		case SectionESDataBlocks:
			blocks, err := decodeDataBlocks(data[e.offset:])
			if err != nil {
				return nil, err
			}
			r.Blocks = blocks
		case SectionPESCutting:
			if len(data) < int(e.offset)+4 || binary.BigEndian.Uint32(data[e.offset:e.offset+4]) != magicPESCutting {
				return nil, newScriptError(CauseHeader, errors.New("bad PES_CUTTING magic"))
			}
			r.pesOff = int(e.offset) + 4
		}
	}
	return r, nil
}

func decodeESProperties(b []byte) (*ESProperties, error) {
	if len(b) < 4+1+1+4+8+8+4+1 {
		return nil, newScriptError(CauseIncomplete, errors.New("truncated ES_PROPERTIES"))
	}
	if getU32(b[0:4]) != magicESProperties {
		return nil, newScriptError(CauseHeader, errors.New("bad ES_PROPERTIES magic"))
	}
	p := &ESProperties{}
	off := 4
	p.Kind = StreamKind(b[off])
	off++
	p.CodingType = CodingType(b[off])
	off++
	p.NominalBitrate = getU32(b[off : off+4])
	off += 4
	p.FirstPTS = getU64(b[off : off+8])
	off += 8
	p.LastPTS = getU64(b[off : off+8])
	off += 8
	p.OptionFlags = getU32(b[off : off+4])
	off += 4
	n := int(b[off])
	off++
	for i := 0; i < n; i++ {
		if len(b) < off+2 {
			return nil, newScriptError(CauseIncomplete, errors.New("truncated source file entry"))
		}
		pathLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if len(b) < off+pathLen+4+4 {
			return nil, newScriptError(CauseIncomplete, errors.New("truncated source file entry"))
		}
		path := string(b[off : off+pathLen])
		off += pathLen
		crc := getU32(b[off : off+4])
		off += 4
		num := getU32(b[off : off+4])
		off += 4
		p.Sources = append(p.Sources, SourceFile{Path: path, CRC: crc, N: num})
	}
	return p, nil
}

func (r *Reader) decodeFmtProperties(b []byte) error {
	if len(b) < 8 {
		return newScriptError(CauseIncomplete, errors.New("truncated ES_FMT_PROPERTIES"))
	}
	magic := getU64(b[0:8])
	switch magic {
	case magicVideoFmtProps:
		v := &VideoFmtProperties{}
		off := 8
		if len(b) < off+5 {
			return newScriptError(CauseIncomplete, errors.New("truncated video fmt properties"))
		}
		v.Width = binary.BigEndian.Uint16(b[off : off+2])
		off += 2
		v.Height = binary.BigEndian.Uint16(b[off : off+2])
		off += 2
		v.FrameRateCode = b[off]
		off++
		hasH264 := b[off]
		off++
		if hasH264 == 1 {
			if len(b) < off+11 {
				return newScriptError(CauseIncomplete, errors.New("truncated h264 fmt ext"))
			}
			ext := &H264FmtExt{ProfileIDC: b[off], LevelIDC: b[off+1], ConstraintFlags: b[off+2]}
			off += 3
			ext.CPBSize = getU32(b[off : off+4])
			off += 4
			ext.BitrateKbps = getU32(b[off : off+4])
			v.H264 = ext
		}
		r.VideoFmt = v
	case magicAudioFmtProps:
		a := &AudioFmtProperties{}
		off := 8
		if len(b) < off+6 {
			return newScriptError(CauseIncomplete, errors.New("truncated audio fmt properties"))
		}
		a.SampleRate = getU32(b[off : off+4])
		off += 4
		a.BitDepth = b[off]
		off++
		a.Channels = b[off]
		off++
		hasAC3 := b[off]
		off++
		if hasAC3 == 1 {
			if len(b) < off+6 {
				return newScriptError(CauseIncomplete, errors.New("truncated ac3 fmt ext"))
			}
			ext := &AC3FmtExt{
				BSID:         b[off],
				BitRateCode:  b[off+1],
				SurroundMode: b[off+2],
				BSMode:       b[off+3],
				NumChannels:  b[off+4],
				FullSVC:      b[off+5] == 1,
			}
			a.AC3 = ext
		}
		r.AudioFmt = a
	default:
		return newScriptError(CauseHeader, errors.New("bad ES_FMT_PROPERTIES magic"))
	}
	return nil
}

func decodeDataBlocks(b []byte) ([]DataBlock, error) {
	if len(b) < 5 {
		return nil, newScriptError(CauseIncomplete, errors.New("truncated ES_DATA_BLOCKS"))
	}
	if getU32(b[0:4]) != magicDataBlocks {
		return nil, newScriptError(CauseHeader, errors.New("bad ES_DATA_BLOCKS magic"))
	}
	n := int(b[4])
	off := 5
	blocks := make([]DataBlock, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < off+4 {
			return nil, newScriptError(CauseIncomplete, errors.New("truncated data block"))
		}
		l := int(getU32(b[off : off+4]))
		off += 4
		if len(b) < off+l {
			return nil, newScriptError(CauseIncomplete, errors.New("truncated data block payload"))
		}
		blocks = append(blocks, DataBlock(b[off:off+l]))
		off += l
	}
	return blocks, nil
}

// Next decodes and returns the next PESDescriptor from the PES_CUTTING
// FIFO, advancing the reader's cursor. It returns io.EOF once the
// section's terminator byte is reached.
func (r *Reader) Next() (*PESDescriptor, error) {
	if r.pesOff >= len(r.data) {
		return nil, newScriptError(CauseIncomplete, errors.New("PES_CUTTING section not terminated"))
	}
	if r.data[r.pesOff] == pesCuttingTerminator {
		return nil, io.EOF
	}
	d := &PESDescriptor{}
	off := r.pesOff

	kindByte := r.data[off]
	d.Kind = StreamKind(kindByte &^ 0x80)
	d.Extension = kindByte&0x80 != 0
	off++

	if off >= len(r.data) {
		return nil, newScriptError(CauseIncomplete, errors.New("truncated PES descriptor"))
	}
	flags := r.data[off]
	off++
	d.HasPTS64 = flags&flagPTS64 != 0
	d.HasDTS = flags&flagHasDTS != 0
	d.DTS64 = flags&flagDTS64 != 0
	d.Size16 = flags&flagSize16 != 0
	d.HasH264Ext = flags&flagHasExt != 0

	ptsWidth := 4
	if d.HasPTS64 {
		ptsWidth = 8
	}
	if len(r.data) < off+ptsWidth {
		return nil, newScriptError(CauseIncomplete, errors.New("truncated PES descriptor PTS"))
	}
	if d.HasPTS64 {
		d.PTS = getU64(r.data[off : off+8])
	} else {
		d.PTS = uint64(getU32(r.data[off : off+4]))
	}
	off += ptsWidth

	if d.HasDTS {
		dtsWidth := 4
		if d.DTS64 {
			dtsWidth = 8
		}
		if len(r.data) < off+dtsWidth {
			return nil, newScriptError(CauseIncomplete, errors.New("truncated PES descriptor DTS"))
		}
		if d.DTS64 {
			d.DTS = getU64(r.data[off : off+8])
		} else {
			d.DTS = uint64(getU32(r.data[off : off+4]))
		}
		off += dtsWidth
	}

	if d.HasH264Ext {
		if len(r.data) < off+8 {
			return nil, newScriptError(CauseIncomplete, errors.New("truncated PES descriptor h264 ext"))
		}
		d.H264Ext.CPBRemovalTime = getU32(r.data[off : off+4])
		off += 4
		d.H264Ext.DPBOutputTime = getU32(r.data[off : off+4])
		off += 4
	}

	sizeWidth := 4
	if d.Size16 {
		sizeWidth = 2
	}
	if len(r.data) < off+sizeWidth {
		return nil, newScriptError(CauseIncomplete, errors.New("truncated PES descriptor size"))
	}
	if d.Size16 {
		d.PayloadSize = uint32(binary.BigEndian.Uint16(r.data[off : off+2]))
	} else {
		d.PayloadSize = getU32(r.data[off : off+4])
	}
	off += sizeWidth

	if off >= len(r.data) {
		return nil, newScriptError(CauseIncomplete, errors.New("truncated PES descriptor command count"))
	}
	n := int(r.data[off])
	off++
	for i := 0; i < n; i++ {
		cmd, next, err := decodeCommand(r.data, off)
		if err != nil {
			return nil, err
		}
		d.Commands = append(d.Commands, cmd)
		off = next
	}

	r.pesOff = off
	return d, nil
}

func decodeCommand(b []byte, off int) (Command, int, error) {
	if off >= len(b) {
		return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated command"))
	}
	kind := CommandKind(b[off])
	off++
	switch kind {
	case CmdAddBytes:
		if len(b) < off+4+1+4 {
			return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated AddBytes command"))
		}
		offset := int(getU32(b[off : off+4]))
		off += 4
		mode := InsertMode(b[off])
		off++
		n := int(getU32(b[off : off+4]))
		off += 4
		if len(b) < off+n {
			return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated AddBytes payload"))
		}
		data := append([]byte(nil), b[off:off+n]...)
		off += n
		return AddBytes(data, offset, mode), off, nil
	case CmdByteSwap:
		if len(b) < off+12 {
			return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated ByteSwap command"))
		}
		unitSize := int(getU32(b[off : off+4]))
		swapOff := int(getU32(b[off+4 : off+8]))
		swapLen := int(getU32(b[off+8 : off+12]))
		return ByteSwap(unitSize, swapOff, swapLen), off + 12, nil
	case CmdCopyPayload:
		if len(b) < off+4+8+4+4 {
			return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated CopyPayload command"))
		}
		srcIdx := int(getU32(b[off : off+4]))
		off += 4
		srcOff := int64(getU64(b[off : off+8]))
		off += 8
		destOff := int(getU32(b[off : off+4]))
		off += 4
		length := int(getU32(b[off : off+4]))
		off += 4
		return CopyPayload(srcIdx, srcOff, destOff, length), off, nil
	case CmdAddPadding:
		if len(b) < off+4+1+4+1 {
			return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated AddPadding command"))
		}
		offset := int(getU32(b[off : off+4]))
		off += 4
		mode := InsertMode(b[off])
		off++
		length := int(getU32(b[off : off+4]))
		off += 4
		fill := b[off]
		off++
		return AddPadding(offset, mode, length, fill), off, nil
	case CmdAddDataBlock:
		if len(b) < off+4+4+1 {
			return Command{}, 0, newScriptError(CauseIncomplete, errors.New("truncated AddDataBlock command"))
		}
		blockIdx := int(getU32(b[off : off+4]))
		off += 4
		blockOff := int(getU32(b[off : off+4]))
		off += 4
		mode := InsertMode(b[off])
		off++
		return AddDataBlock(blockIdx, blockOff, mode), off, nil
	default:
		return Command{}, 0, newScriptError(CauseHeader, errors.Errorf("unknown command kind %d", kind))
	}
}

// Validate checks that script is still usable without rebuilding: the
// recorded option bitmask must be a superset of requiredFlags, and every
// source file it references must still exist with a matching CRC-32 over
// its first N bytes. Any mismatch means the caller should rebuild.
func (r *Reader) Validate(requiredFlags uint32) error {
	if r.Properties.OptionFlags&requiredFlags != requiredFlags {
		return newScriptError(CauseIncompatibleFlags, nil)
	}
	for _, s := range r.Properties.Sources {
		f, err := os.Open(s.Path)
		if err != nil {
			return newScriptError(CauseInvalidSource, err)
		}
		buf := make([]byte, s.N)
		n, err := io.ReadFull(f, buf)
		f.Close()
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return newScriptError(CauseInvalidSource, err)
		}
		if crc32.ChecksumIEEE(buf[:n]) != s.CRC {
			return newScriptError(CauseInvalidSource, errors.Errorf("CRC mismatch for %s", s.Path))
		}
	}
	return nil
}
