package muxmetrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPacketWrittenIncrementsCounters(t *testing.T) {
	m := New()
	m.PacketWritten(0x1011, 192)
	m.PacketWritten(0x1011, 192)
	m.PacketWritten(0x1100, 192)
	m.Overflow()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading metrics body: %v", err)
	}
	out := string(body)

	if !strings.Contains(out, "bdmux_packets_written_total 3") {
		t.Fatalf("expected bdmux_packets_written_total 3 in:\n%s", out)
	}
	if !strings.Contains(out, "bdmux_bytes_written_total 576") {
		t.Fatalf("expected bdmux_bytes_written_total 576 in:\n%s", out)
	}
	if !strings.Contains(out, `bdmux_pid_bytes_total{pid="4113"} 384`) {
		t.Fatalf("expected per-PID bytes for pid 4113 (0x1011) in:\n%s", out)
	}
	if !strings.Contains(out, "bdmux_buffer_overflows_total 1") {
		t.Fatalf("expected bdmux_buffer_overflows_total 1 in:\n%s", out)
	}
}
