package hdmv

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

func buildSegment(kind byte, payload []byte) []byte {
	b := make([]byte, 3+len(payload))
	b[0] = kind
	binary.BigEndian.PutUint16(b[1:3], uint16(len(payload)))
	copy(b[3:], payload)
	return b
}

func TestInitialTimestampOverride(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pgs")
	scriptPath := filepath.Join(dir, "out.esms")

	var stream []byte
	stream = append(stream, buildSegment(segPresentCmp, []byte{1, 2, 3})...)
	stream = append(stream, buildSegment(segWindow, []byte{4, 5})...)
	stream = append(stream, buildSegment(segEnd, nil)...)
	if err := os.WriteFile(inPath, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{esms.CodingPG}
	_, _, err := a.Analyze(&codec.ParsingSettings{
		InputPath:            inPath,
		ScriptPath:           scriptPath,
		HDMVHasInitialTS:     true,
		HDMVInitialTimestamp: 180000,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	r, err := esms.NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	wantDTS := uint64(180000) * 300
	if first.DTS != wantDTS {
		t.Fatalf("first DTS = %d, want %d", first.DTS, wantDTS)
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	gotDelta := second.DTS - first.DTS
	wantDelta := uint64(27_000_000) / 10
	if gotDelta != wantDelta {
		t.Fatalf("delta = %d, want %d", gotDelta, wantDelta)
	}
}
