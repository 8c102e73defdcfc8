package ac3

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

func buildSyncframe(fscod, frmsizecod, bsid, bsmod, acmod byte) []byte {
	size := frameSizeBytes(int(fscod), int(frmsizecod))
	b := make([]byte, size)
	b[0], b[1] = 0x0B, 0x77
	b[4] = fscod<<6 | frmsizecod
	b[5] = bsid<<3 | bsmod
	b[6] = acmod << 5
	return b
}

func TestSyncframeScan(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.ac3")
	scriptPath := filepath.Join(dir, "out.esms")

	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, buildSyncframe(0, 10, 8, 0, 1)...) // 48kHz, acmod=1 (mono)
	}
	if err := os.WriteFile(inPath, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{esms.CodingAC3}
	if _, _, err := a.Analyze(&codec.ParsingSettings{InputPath: inPath, ScriptPath: scriptPath}); err != nil {
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
	if r.AudioFmt == nil || r.AudioFmt.SampleRate != 48000 || r.AudioFmt.Channels != 1 {
		t.Fatalf("AudioFmt = %+v", r.AudioFmt)
	}
	if r.AudioFmt.AC3 == nil || r.AudioFmt.AC3.BSID != 8 {
		t.Fatalf("AC3 ext = %+v", r.AudioFmt.AC3)
	}

	var count int
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d descriptors, want 3", count)
	}
}
