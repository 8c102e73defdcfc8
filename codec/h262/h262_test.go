package h262

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

func TestSequenceHeaderDimensions(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.m2v")
	scriptPath := filepath.Join(dir, "out.esms")

	// 1920x1080, frame_rate_code=4 (29.970 table entry; used only as a
	// structural stand-in here), one picture start code follows.
	w, h := uint16(1920), uint16(1080)
	b0 := byte(w >> 4)
	b1 := byte((w&0xF)<<4) | byte((h>>8)&0xF)
	b2 := byte(h)
	b3 := byte(4) // aspect nibble (ignored) | frame_rate_code nibble.
	stream := []byte{
		0x00, 0x00, 0x01, codeSequenceHeader, b0, b1, b2, b3, 0x00, 0x00,
		0x00, 0x00, 0x01, codePictureStart, 0x88, 0x00, 0x00, 0x01, 0xB5, 0x11,
	}
	if err := os.WriteFile(inPath, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{}
	_, _, err := a.Analyze(&codec.ParsingSettings{InputPath: inPath, ScriptPath: scriptPath})
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
	if r.VideoFmt == nil || r.VideoFmt.Width != w || r.VideoFmt.Height != h {
		t.Fatalf("VideoFmt = %+v, want %dx%d", r.VideoFmt, w, h)
	}
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
}
