package lpcm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
)

func buildWAV(channels, sampleRate, bitDepth int, samples []byte) []byte {
	buf := make([]byte, 0, 44+len(samples))
	buf = append(buf, "RIFF"...)
	buf = appendU32(buf, uint32(36+len(samples)))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = appendU32(buf, 16)
	buf = appendU16(buf, 1) // PCM
	buf = appendU16(buf, uint16(channels))
	buf = appendU32(buf, uint32(sampleRate))
	byteRate := sampleRate * channels * bitDepth / 8
	buf = appendU32(buf, uint32(byteRate))
	blockAlign := channels * bitDepth / 8
	buf = appendU16(buf, uint16(blockAlign))
	buf = appendU16(buf, uint16(bitDepth))
	buf = append(buf, "data"...)
	buf = appendU32(buf, uint32(len(samples)))
	buf = append(buf, samples...)
	return buf
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func TestByteOrderSwapCommand(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.wav")
	scriptPath := filepath.Join(dir, "out.esms")

	samples := make([]byte, 48000*2*2/200) // one 5ms frame, 2ch/16-bit/48kHz.
	for i := range samples {
		samples[i] = byte(i)
	}
	if err := os.WriteFile(inPath, buildWAV(2, 48000, 16, samples), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := analyzer{}
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
	if r.AudioFmt == nil || r.AudioFmt.SampleRate != 48000 || r.AudioFmt.Channels != 2 || r.AudioFmt.BitDepth != 16 {
		t.Fatalf("AudioFmt = %+v", r.AudioFmt)
	}

	d, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	var found bool
	for _, c := range d.Commands {
		if c.Kind == esms.CmdByteSwap && c.UnitSize == 2 && c.SwapOff == 0 && c.SwapLen == int(d.PayloadSize) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no byte-order-swap command covering the payload region: %+v", d.Commands)
	}
}
