package ts

import (
	"testing"

	"github.com/nautilusav/bdmux/clock"
)

func TestPacketBytesAlignment(t *testing.T) {
	p := Packet{
		PUSI:    true,
		PID:     PIDPrimaryVideo,
		AFC:     afcAdaptationPayload,
		PCRF:    true,
		RAI:     true,
		PCR:     PackPCR(clock.FromStc(540_000_000 * clock.MasterPerSub)),
		Payload: []byte{1, 2, 3, 4},
	}
	b := p.Bytes(nil)
	if len(b) != PacketSize {
		t.Fatalf("got len %d, want %d", len(b), PacketSize)
	}
	if b[0] != 0x47 {
		t.Fatalf("sync byte = %#x, want 0x47", b[0])
	}
	pid, err := PID(b)
	if err != nil {
		t.Fatal(err)
	}
	if pid != PIDPrimaryVideo {
		t.Fatalf("PID = %#x, want %#x", pid, PIDPrimaryVideo)
	}
}

func TestPacketBytesExtraHeader(t *testing.T) {
	p := Packet{
		HasExtraHeader: true,
		ATS:            0x12345678 & 0x3FFFFFFF,
		PID:            PIDNull,
		AFC:            afcPayloadOnly,
		Payload:        make([]byte, PacketSize-headSize),
	}
	b := p.Bytes(nil)
	if len(b) != PacketSize+ExtraHeaderSize {
		t.Fatalf("got len %d, want %d", len(b), PacketSize+ExtraHeaderSize)
	}
	if b[4] != 0x47 {
		t.Fatalf("sync byte at offset 4 = %#x, want 0x47", b[4])
	}
}

func TestAllocatorPreferAndNext(t *testing.T) {
	a := NewAllocator()
	pid, err := a.Allocate(ClassPrimaryAudio, 0x1105)
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0x1105 {
		t.Fatalf("pid = %#x, want 0x1105", pid)
	}
	next, err := a.Allocate(ClassPrimaryAudio, 0)
	if err != nil {
		t.Fatal(err)
	}
	if next != PIDPrimaryAudio {
		t.Fatalf("next = %#x, want %#x", next, PIDPrimaryAudio)
	}
	if !InBand(ClassPrimaryAudio, next) {
		t.Fatalf("PID %#x not in band", next)
	}
}
