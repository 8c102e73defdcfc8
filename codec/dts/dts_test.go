package dts

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

func buildCoreFrame(size int, sfreq byte) []byte {
	b := make([]byte, size)
	b[0], b[1], b[2], b[3] = coreSync[0], coreSync[1], coreSync[2], coreSync[3]
	b[8] = sfreq << 2
	return b
}

func TestPBRSizeDistribution(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.dts")
	statsPath := filepath.Join(dir, "pbr.stats")
	scriptPath := filepath.Join(dir, "out.esms")

	const nativeSize = 512
	var stream []byte
	targets := []int{600, 700, 650}
	for range targets {
		stream = append(stream, buildCoreFrame(nativeSize, 12)...) // sfreq=12 -> 48kHz
	}
	if err := os.WriteFile(inPath, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var stats string
	for _, v := range targets {
		stats += fmt.Sprintf("%d\n", v)
	}
	if err := os.WriteFile(statsPath, []byte(stats), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{esms.CodingDTS}
	if _, _, err := a.Analyze(&codec.ParsingSettings{
		InputPath:    inPath,
		ScriptPath:   scriptPath,
		PBRStatsPath: statsPath,
	}); err != nil {
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
	if r.AudioFmt == nil || r.AudioFmt.SampleRate != 48000 {
		t.Fatalf("AudioFmt = %+v", r.AudioFmt)
	}

	i := 0
	for {
		d, err := r.Next()
		if err != nil {
			break
		}
		want := targets[i]
		got := int(d.PayloadSize)
		tolerance := want * 2 / 100
		if diff := got - want; diff < -tolerance || diff > tolerance {
			t.Fatalf("frame %d: got size %d, want %d +/-2%%", i, got, want)
		}
		i++
	}
	if i != len(targets) {
		t.Fatalf("got %d descriptors, want %d", i, len(targets))
	}
}

func TestNoPBRPassesThroughNativeSize(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.dts")
	scriptPath := filepath.Join(dir, "out.esms")

	const nativeSize = 512
	stream := buildCoreFrame(nativeSize, 12)
	if err := os.WriteFile(inPath, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{esms.CodingDTS}
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
	d, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if int(d.PayloadSize) != nativeSize {
		t.Fatalf("PayloadSize = %d, want %d", d.PayloadSize, nativeSize)
	}
}
