package scheduler

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/clock"
	"github.com/nautilusav/bdmux/esms"
)

func buildTestScript(t *testing.T, dir string, n int) *esms.Reader {
	t.Helper()
	srcPath := filepath.Join(dir, "track.bin")
	data := bytes.Repeat([]byte{0xAB}, 4096)
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var descs []esms.PESDescriptor
	pts := uint64(0)
	for i := 0; i < n; i++ {
		descs = append(descs, esms.PESDescriptor{
			Kind:        esms.KindVideo,
			PTS:         pts,
			PayloadSize: 256,
			Commands: []esms.Command{
				esms.CopyPayload(0, int64(i*256), 0, 256),
			},
		})
		pts += 3000
	}

	script := &esms.Script{
		Properties: esms.ESProperties{
			Kind:       esms.KindVideo,
			CodingType: esms.CodingAVC,
			Sources:    []esms.SourceFile{{Path: srcPath, CRC: 0, N: 0}},
		},
		VideoFmt: &esms.VideoFmtProperties{Width: 1920, Height: 1080},
		Descs:    descs,
	}
	buf := &bytes.Buffer{}
	if _, err := script.WriteTo(buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	r, err := esms.NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestRunProducesAlignedUnitMultiple(t *testing.T) {
	dir := t.TempDir()
	reader := buildTestScript(t, dir, 10)

	st, err := NewStream(0x1011, 0xE0, 0, false, reader, nil, nil)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer st.Close()

	out := &bytes.Buffer{}
	s := New(Config{MuxRate: 48_000_000, StartPCR: clock.Stc(54_000_000 * 300)}, out)
	if err := s.AddStream(st); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.PacketsWritten%32 != 0 {
		t.Fatalf("PacketsWritten = %d, not a multiple of 32", s.PacketsWritten)
	}
	if out.Len() != int(s.PacketsWritten)*(tsPacketSizeWithExtra()) {
		t.Fatalf("output length %d doesn't match packet count %d", out.Len(), s.PacketsWritten)
	}
}

func tsPacketSizeWithExtra() int { return 188 + 4 }
