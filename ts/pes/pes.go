/*
NAME
  pes.go

DESCRIPTION
  Package pes builds PES packets for a BDAV mux: the standard header,
  PTS and optional DTS, and the codec-specific extension data H.264
  video carries. Extends a PTS-only, single-stream-ID PES builder to
  also carry DTS and extension data, and to select
  stream_id/stream_id_extension for the AC-3/DTS "extended_stream_id"
  family.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package pes builds BDAV PES packets.
package pes

import gots "github.com/Comcast/gots/v2"

// MaxPesSize bounds the payload buffer a Packet is rendered into.
const MaxPesSize = 64 * 1 << 10

// Stream IDs.
const (
	SIDVideo           = 0xE0 // H.262/H.264/MPEG-4.
	SIDPrivateStream1  = 0xBD // LPCM, PG, IG.
	SIDExtendedStream  = 0xFD // AC-3/DTS family.
)

// Stream ID extensions carried in the first extension-data byte when
// StreamID is SIDExtendedStream.
const (
	StreamIDExtPrimary   = 0x71
	StreamIDExtSecondary = 0x72
)

// PDI (PTS/DTS indicator) values.
const (
	PDINone   = 0x0
	PDIPTS    = 0x2
	PDIPTSDTS = 0x3
)

// H264Extension carries the CPB removal time / DPB output time fields an
// H.264 PES descriptor's extension data holds.
type H264Extension struct {
	CPBRemovalTime uint32
	DPBOutputTime  uint32
}

// Packet is a single PES packet awaiting serialisation.
type Packet struct {
	StreamID         byte
	StreamIDExt      byte // Only written when StreamID == SIDExtendedStream.
	HasStreamIDExt   bool
	Priority         bool
	DAI              bool
	Copyright        bool
	Original         bool
	PDI              byte
	PTS              uint64
	DTS              uint64
	HasH264Ext       bool
	H264Ext          H264Extension
	Data             []byte
}

// h264ExtPrivateDataLen is the fixed 128-bit PES_private_data field width
// a PES_extension carries; an H.264 descriptor's CPB removal time and DPB
// output time are packed into its first 8 bytes, the rest left zero.
const h264ExtPrivateDataLen = 16

// headerLength computes the PES_header_data_length field: the number of
// bytes following it up to (but not including) Data.
func (p *Packet) headerLength() byte {
	var n byte
	switch p.PDI {
	case PDIPTS:
		n += 5
	case PDIPTSDTS:
		n += 10
	}
	if p.HasStreamIDExt {
		n += 1
	}
	if p.HasH264Ext {
		n += 1 + h264ExtPrivateDataLen
	}
	return n
}

// Bytes renders p into buf (reused when it has enough capacity) and
// returns the encoded PES packet.
func (p *Packet) Bytes(buf []byte) []byte {
	if cap(buf) < MaxPesSize {
		buf = make([]byte, 0, MaxPesSize)
	}
	buf = buf[:0]

	hdrLen := p.headerLength()
	pesLen := 3 + int(hdrLen) + len(p.Data) // flags(2)+hdrlen(1)+optional+data, after the length field itself.

	buf = append(buf, 0x00, 0x00, 0x01, p.StreamID)
	buf = append(buf, byte(pesLen>>8), byte(pesLen))
	buf = append(buf,
		0x80|boolByte(p.Priority)<<3|boolByte(p.DAI)<<2|boolByte(p.Copyright)<<1|boolByte(p.Original),
		p.PDI<<6,
		hdrLen,
	)

	switch p.PDI {
	case PDIPTS:
		idx := len(buf)
		buf = buf[:idx+5]
		gots.InsertPTS(buf[idx:], p.PTS)
	case PDIPTSDTS:
		idx := len(buf)
		buf = buf[:idx+10]
		insertPTSDTS(buf[idx:], p.PTS, p.DTS)
	}

	if p.HasStreamIDExt {
		buf = append(buf, p.StreamIDExt)
	}

	if p.HasH264Ext {
		buf = append(buf, 0x80) // PES_private_data_flag set, remaining extension flags clear.
		priv := make([]byte, h264ExtPrivateDataLen)
		priv[0] = byte(p.H264Ext.CPBRemovalTime >> 24)
		priv[1] = byte(p.H264Ext.CPBRemovalTime >> 16)
		priv[2] = byte(p.H264Ext.CPBRemovalTime >> 8)
		priv[3] = byte(p.H264Ext.CPBRemovalTime)
		priv[4] = byte(p.H264Ext.DPBOutputTime >> 24)
		priv[5] = byte(p.H264Ext.DPBOutputTime >> 16)
		priv[6] = byte(p.H264Ext.DPBOutputTime >> 8)
		priv[7] = byte(p.H264Ext.DPBOutputTime)
		buf = append(buf, priv...)
	}

	buf = append(buf, p.Data...)
	return buf
}

// insertPTSDTS packs both a 5-byte PTS field (prefix 0x3) and a 5-byte DTS
// field (prefix 0x1) into b, which must be at least 10 bytes.
func insertPTSDTS(b []byte, pts, dts uint64) {
	packTimestamp(b[:5], 0x3, pts)
	packTimestamp(b[5:10], 0x1, dts)
}

func packTimestamp(b []byte, prefix byte, v uint64) {
	b[0] = prefix<<4 | byte(v>>29)&0x0E | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte(v>>14)&0xFE | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte(v<<1)&0xFE | 0x01
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
