package pes

import "testing"

func TestPTSOnly(t *testing.T) {
	p := Packet{StreamID: SIDVideo, PDI: PDIPTS, PTS: 540_000_000, Data: []byte{1, 2, 3}}
	b := p.Bytes(nil)
	if b[0] != 0 || b[1] != 0 || b[2] != 1 {
		t.Fatalf("bad start code prefix: % x", b[:3])
	}
	if b[3] != SIDVideo {
		t.Fatalf("stream id = %#x, want %#x", b[3], SIDVideo)
	}
	if b[8] != 5 {
		t.Fatalf("header length = %d, want 5", b[8])
	}
	if b[9]>>4 != 0x2 {
		t.Fatalf("PTS prefix = %#x, want 0x2", b[9]>>4)
	}
}

func TestPTSDTS(t *testing.T) {
	p := Packet{StreamID: SIDVideo, PDI: PDIPTSDTS, PTS: 1000, DTS: 500, Data: []byte{9}}
	b := p.Bytes(nil)
	if b[8] != 10 {
		t.Fatalf("header length = %d, want 10", b[8])
	}
	if b[9]>>4 != 0x3 {
		t.Fatalf("PTS prefix = %#x, want 0x3", b[9]>>4)
	}
	if b[14]>>4 != 0x1 {
		t.Fatalf("DTS prefix = %#x, want 0x1", b[14]>>4)
	}
}

func TestH264Extension(t *testing.T) {
	p := Packet{
		StreamID: SIDVideo, PDI: PDIPTS, PTS: 1,
		HasH264Ext: true,
		H264Ext:    H264Extension{CPBRemovalTime: 0x01020304, DPBOutputTime: 0x05060708},
		Data:       []byte{0xFF},
	}
	b := p.Bytes(nil)
	// header: 9 bytes fixed + 5 (PTS) + 1 (ext flags) + 16 (private data) = 31, then data.
	wantHdrLen := byte(5 + 1 + h264ExtPrivateDataLen)
	if b[8] != wantHdrLen {
		t.Fatalf("header length = %d, want %d", b[8], wantHdrLen)
	}
	extOff := 9 + 5
	if b[extOff] != 0x80 {
		t.Fatalf("extension flags byte = %#x, want 0x80", b[extOff])
	}
	priv := b[extOff+1 : extOff+1+h264ExtPrivateDataLen]
	if priv[0] != 0x01 || priv[3] != 0x04 || priv[4] != 0x05 || priv[7] != 0x08 {
		t.Fatalf("private data = % x, want CPB/DPB times packed in first 8 bytes", priv)
	}
	if b[extOff+1+h264ExtPrivateDataLen] != 0xFF {
		t.Fatalf("data did not follow extension field")
	}
}

func TestExtendedStreamID(t *testing.T) {
	p := Packet{
		StreamID: SIDExtendedStream, HasStreamIDExt: true, StreamIDExt: StreamIDExtPrimary,
		PDI: PDIPTS, PTS: 1, Data: []byte{0xAA},
	}
	b := p.Bytes(nil)
	// header: 9 bytes fixed + 5 (PTS) + 1 (stream id ext) = 15, then data.
	if b[14] != StreamIDExtPrimary {
		t.Fatalf("stream id ext at offset 14 = %#x, want %#x", b[14], StreamIDExtPrimary)
	}
	if b[15] != 0xAA {
		t.Fatalf("data at offset 15 = %#x, want 0xAA", b[15])
	}
}
