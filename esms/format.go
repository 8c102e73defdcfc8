/*
NAME
  format.go

DESCRIPTION
  Package esms implements the Elementary Stream Modification Script
  format: a compact binary file describing how to reconstruct PES
  packets from one or more source files without re-parsing them. A
  directory table indexes four sections (properties, format
  properties, data blocks, PES cutting) instead of the flat key/value
  blob a simpler length-prefixed format would use.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package esms implements the ESMS script format.
package esms

import "encoding/binary"

// Magic is the 4-byte file magic.
var Magic = [4]byte{'E', 'S', 'M', 'S'}

// FormatVersion is the current ESMS format version written by this
// package. Readers reject any version they were not built to understand.
const FormatVersion uint16 = 1

// Section identifiers used in the directory table.
const (
	SectionESProperties    byte = 1
	SectionESFmtProperties byte = 2
	SectionESDataBlocks    byte = 3
	SectionPESCutting      byte = 4
)

// Section magics.
var (
	magicESProperties    = uint32(0x45535052)
	magicVideoFmtProps   = uint64(0x4353504D5649444F)
	magicAudioFmtProps   = uint64(0x4353504D4155444F)
	magicDataBlocks      = uint32(0x4454424B)
	magicPESCutting      = uint32(0x50455343)
)

// maxDirectoryEntries bounds the directory table.
const maxDirectoryEntries = 10

// pesCuttingTerminator marks the end of the PES_CUTTING lazy sequence.
const pesCuttingTerminator = 0xFF

// StreamKind classifies an elementary stream at the ESMS level.
type StreamKind byte

// Stream kinds.
const (
	KindVideo StreamKind = iota
	KindAudio
	KindHDMV
)

// CodingType is the closed tag set of stream_coding_type values a track
// may declare.
type CodingType byte

// Coding types.
const (
	CodingMPEG1 CodingType = iota
	CodingH262
	CodingAVC
	CodingLPCM
	CodingAC3
	CodingEAC3
	CodingTrueHD
	CodingDTS
	CodingDTSHDHR
	CodingDTSHDMA
	CodingDTSExpress
	CodingPG
	CodingIG
)

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putU64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getU32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
func getU64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }
