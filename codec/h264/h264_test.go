package h264

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

// buildStream returns an Annex-B byte stream containing one SPS NAL
// (profile_idc=66, level_idc=51) followed by one IDR slice NAL.
func buildStream() []byte {
	sps := []byte{
		0x00, 0x00, 0x01, 0x67, // start code + NAL header (type 7, SPS)
		0x42,       // profile_idc
		0x00,       // constraint flags
		0x33,       // level_idc = 51
		0xFB, 0xD0, // minimal RBSP: width/height-in-MBs = 0, frame_mbs_only=1
	}
	idr := []byte{
		0x00, 0x00, 0x01, 0x65, // start code + NAL header (type 5, IDR)
		0x88, 0x84, 0x00, // arbitrary slice payload
	}
	out := append([]byte{}, sps...)
	out = append(out, idr...)
	return out
}

func TestLevelOverride(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.h264")
	scriptPath := filepath.Join(dir, "out.esms")

	if err := os.WriteFile(inPath, buildStream(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{}
	settings := &codec.ParsingSettings{
		InputPath:  inPath,
		ScriptPath: scriptPath,
		Level:      "4.0",
	}
	if _, _, err := a.Analyze(settings); err != nil {
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
	if r.VideoFmt == nil || r.VideoFmt.Width != 16 || r.VideoFmt.Height != 16 {
		t.Fatalf("VideoFmt = %+v", r.VideoFmt)
	}

	d, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	var overwrites int
	const wantLevel = 0x28 // level_idc for 4.0
	for _, c := range d.Commands {
		if c.Kind != esms.CmdAddBytes {
			continue
		}
		if len(c.Bytes) == 1 && c.Bytes[0] == wantLevel && c.Mode == esms.ModeOverwrite {
			overwrites++
		}
	}
	if overwrites != 1 {
		t.Fatalf("got %d level-override commands, want exactly 1 (commands: %+v)", overwrites, d.Commands)
	}
}
