/*
NAME
  commands.go

DESCRIPTION
  Build commands and their deterministic
  application to a PES payload buffer.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package esms

import "github.com/pkg/errors"

// InsertMode selects whether a command's bytes overwrite in place or
// shift following bytes.
type InsertMode byte

// Insert modes.
const (
	ModeOverwrite InsertMode = iota
	ModeInsert
)

// CommandKind tags which build command variant a Command holds.
type CommandKind byte

// Command kinds.
const (
	CmdAddBytes CommandKind = iota
	CmdByteSwap
	CmdCopyPayload
	CmdAddPadding
	CmdAddDataBlock
)

// Command is a single tagged build-command variant. Only the fields
// relevant to Kind are meaningful; the rest are zero.
type Command struct {
	Kind CommandKind

	// CmdAddBytes.
	Bytes  []byte
	Offset int
	Mode   InsertMode

	// CmdByteSwap.
	UnitSize int
	SwapOff  int
	SwapLen  int

	// CmdCopyPayload.
	SourceIndex int
	SourceOff   int64
	DestOff     int
	CopyLen     int

	// CmdAddPadding.
	PadOffset int
	PadMode   InsertMode
	PadLen    int
	FillByte  byte

	// CmdAddDataBlock.
	BlockIndex int
	BlockOff   int
	BlockMode  InsertMode
}

// AddBytes returns a command that inserts or overwrites literal bytes at
// offset.
func AddBytes(b []byte, offset int, mode InsertMode) Command {
	return Command{Kind: CmdAddBytes, Bytes: b, Offset: offset, Mode: mode}
}

// ByteSwap returns a command that reverses byte order within each
// unitSize-byte unit of the region [offset, offset+length).
func ByteSwap(unitSize, offset, length int) Command {
	return Command{Kind: CmdByteSwap, UnitSize: unitSize, SwapOff: offset, SwapLen: length}
}

// CopyPayload returns a command that copies length bytes from source file
// sourceIndex at sourceOff into the payload at destOff.
func CopyPayload(sourceIndex int, sourceOff int64, destOff, length int) Command {
	return Command{Kind: CmdCopyPayload, SourceIndex: sourceIndex, SourceOff: sourceOff, DestOff: destOff, CopyLen: length}
}

// AddPadding returns a command that inserts or overwrites length bytes of
// fill at offset.
func AddPadding(offset int, mode InsertMode, length int, fill byte) Command {
	return Command{Kind: CmdAddPadding, PadOffset: offset, PadMode: mode, PadLen: length, FillByte: fill}
}

// AddDataBlock returns a command that splices data block blockIndex into
// the payload at offset.
func AddDataBlock(blockIndex, offset int, mode InsertMode) Command {
	return Command{Kind: CmdAddDataBlock, BlockIndex: blockIndex, BlockOff: offset, BlockMode: mode}
}

// SourceReader resolves a source-file index (as recorded in
// ESProperties.Sources) to bytes at a given offset and length, used by
// CmdCopyPayload.
type SourceReader interface {
	ReadAt(sourceIndex int, off int64, length int) ([]byte, error)
}

// Errors returned while applying commands.
var (
	ErrOffsetOutOfRange  = errors.New("esms: command offset out of range")
	ErrDataBlockIndex    = errors.New("esms: data block index out of range")
	ErrOddByteSwapRegion = errors.New("esms: byte-swap region not a multiple of unit size")
)

// Apply executes cmds in order against a payload buffer of the declared
// size, using blocks to resolve CmdAddDataBlock and src to resolve
// CmdCopyPayload, and returns the resulting payload.
func Apply(size int, cmds []Command, blocks []DataBlock, src SourceReader) ([]byte, error) {
	buf := make([]byte, size)
	for _, c := range cmds {
		var err error
		switch c.Kind {
		case CmdAddBytes:
			buf, err = place(buf, c.Offset, c.Bytes, c.Mode)
		case CmdByteSwap:
			err = byteSwap(buf, c.UnitSize, c.SwapOff, c.SwapLen)
		case CmdCopyPayload:
			if src == nil {
				err = errors.New("esms: CmdCopyPayload requires a SourceReader")
				break
			}
			var data []byte
			data, err = src.ReadAt(c.SourceIndex, c.SourceOff, c.CopyLen)
			if err == nil {
				buf, err = place(buf, c.DestOff, data, ModeOverwrite)
			}
		case CmdAddPadding:
			fill := make([]byte, c.PadLen)
			for i := range fill {
				fill[i] = c.FillByte
			}
			buf, err = place(buf, c.PadOffset, fill, c.PadMode)
		case CmdAddDataBlock:
			if c.BlockIndex < 0 || c.BlockIndex >= len(blocks) {
				err = ErrDataBlockIndex
				break
			}
			buf, err = place(buf, c.BlockOff, blocks[c.BlockIndex], c.BlockMode)
		}
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// place writes data into buf at offset, either overwriting in place or
// shifting bytes at and after offset to make room ("insert" mode).
func place(buf []byte, offset int, data []byte, mode InsertMode) ([]byte, error) {
	if offset < 0 || offset > len(buf) {
		return nil, ErrOffsetOutOfRange
	}
	switch mode {
	case ModeOverwrite:
		if offset+len(data) > len(buf) {
			return nil, ErrOffsetOutOfRange
		}
		copy(buf[offset:], data)
		return buf, nil
	case ModeInsert:
		out := make([]byte, len(buf)+len(data))
		copy(out, buf[:offset])
		copy(out[offset:], data)
		copy(out[offset+len(data):], buf[offset:])
		return out, nil
	default:
		return nil, errors.New("esms: unknown insert mode")
	}
}

// byteSwap reinterprets buf[offset:offset+length) as an array of
// unitSize-byte integers and reverses the bytes within each unit in
// place.
func byteSwap(buf []byte, unitSize, offset, length int) error {
	if length%unitSize != 0 {
		return ErrOddByteSwapRegion
	}
	if offset < 0 || offset+length > len(buf) {
		return ErrOffsetOutOfRange
	}
	region := buf[offset : offset+length]
	for i := 0; i < len(region); i += unitSize {
		unit := region[i : i+unitSize]
		for l, r := 0, len(unit)-1; l < r; l, r = l+1, r-1 {
			unit[l], unit[r] = unit[r], unit[l]
		}
	}
	return nil
}
