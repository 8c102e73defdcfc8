package psi

import (
	"hash/crc32"
	"testing"
)

func TestPATCRC(t *testing.T) {
	sec := NewPAT(Program{Number: 1, PMTPID: 0x0100}, Program{Number: 2, PMTPID: 0x0200})
	b := sec.Bytes()
	wantLen := 1 + 3 + 5 + len(sec.Data.bytes()) + 4 // pointer field + table header + syntax + data + CRC.
	if len(b) != wantLen {
		t.Fatalf("len = %d, want %d", len(b), wantLen)
	}
	gotCRC := Checksum(b[1 : len(b)-4])
	haveCRC := uint32(b[len(b)-4])<<24 | uint32(b[len(b)-3])<<16 | uint32(b[len(b)-2])<<8 | uint32(b[len(b)-1])
	if gotCRC != haveCRC {
		t.Fatalf("crc mismatch: computed %#x, wire %#x", gotCRC, haveCRC)
	}
}

func TestPMTStreams(t *testing.T) {
	sec := NewPMT(0x1001, []Descriptor{ProgramRegistration(), DTCPDescriptor{}.Bytes()},
		Stream{StreamType: 0x1B, PID: 0x1011, Descriptors: []Descriptor{HDMVVideoRegistration(0x1B, 1, 3)}},
	)
	b := sec.Bytes()
	if b[1] != TableIDPmt {
		t.Fatalf("table id = %#x, want %#x", b[1], TableIDPmt)
	}
	// Only the table id is checked here; the CRC itself is checked in
	// TestPATCRC.
	_ = crc32.IEEE
}

func TestSITDescriptor(t *testing.T) {
	sec := NewSIT(PartialTSDescriptor{PeakRate: 48_000_000 / 400}.Bytes())
	b := sec.Bytes()
	if b[1] != TableIDSit {
		t.Fatalf("table id = %#x, want %#x", b[1], TableIDSit)
	}
}
