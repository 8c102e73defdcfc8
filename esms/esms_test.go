package esms

import (
	"bytes"
	"io"
	"testing"
)

func TestScriptRoundTrip(t *testing.T) {
	s := &Script{
		Properties: ESProperties{
			Kind:           KindVideo,
			CodingType:     CodingAVC,
			NominalBitrate: 25_000_000,
			FirstPTS:       54000000,
			LastPTS:        540000000,
			OptionFlags:    0x3,
			Sources: []SourceFile{
				{Path: "video.h264", CRC: 0xDEADBEEF, N: 65536},
			},
		},
		VideoFmt: &VideoFmtProperties{
			Width: 1920, Height: 1080, FrameRateCode: 4,
			H264: &H264FmtExt{ConstraintFlags: 0x40, CPBSize: 30000000, BitrateKbps: 25000},
		},
		Blocks: []DataBlock{
			DataBlock{0xDE, 0xAD, 0xBE, 0xEF},
		},
		Descs: []PESDescriptor{
			{
				Kind: KindVideo, HasPTS64: false, PTS: 54000000,
				HasDTS: true, DTS: 53970000,
				PayloadSize: 4,
				Commands: []Command{
					AddDataBlock(0, 0, ModeOverwrite),
				},
			},
			{
				Kind: KindVideo, HasPTS64: false, PTS: 57600000,
				PayloadSize: 8,
				Commands: []Command{
					AddBytes([]byte{1, 2, 3, 4}, 0, ModeOverwrite),
					AddPadding(4, ModeOverwrite, 4, 0xFF),
				},
			},
		},
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	r, err := NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Properties.CodingType != CodingAVC {
		t.Errorf("CodingType = %v, want CodingAVC", r.Properties.CodingType)
	}
	if r.Properties.NominalBitrate != 25_000_000 {
		t.Errorf("NominalBitrate = %d", r.Properties.NominalBitrate)
	}
	if len(r.Properties.Sources) != 1 || r.Properties.Sources[0].Path != "video.h264" {
		t.Errorf("Sources = %+v", r.Properties.Sources)
	}
	if r.VideoFmt == nil || r.VideoFmt.Width != 1920 || r.VideoFmt.H264 == nil {
		t.Fatalf("VideoFmt = %+v", r.VideoFmt)
	}
	if r.VideoFmt.H264.BitrateKbps != 25000 {
		t.Errorf("H264.BitrateKbps = %d", r.VideoFmt.H264.BitrateKbps)
	}
	if len(r.Blocks) != 1 || !bytes.Equal(r.Blocks[0], []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("Blocks = %+v", r.Blocks)
	}

	var got []*PESDescriptor
	for {
		d, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, d)
	}
	if len(got) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(got))
	}
	if got[0].PTS != 54000000 || !got[0].HasDTS || got[0].DTS != 53970000 {
		t.Errorf("descriptor 0 = %+v", got[0])
	}
	if len(got[1].Commands) != 2 {
		t.Errorf("descriptor 1 commands = %+v", got[1].Commands)
	}

	payload, err := Apply(int(got[0].PayloadSize), got[0].Commands, s.Blocks, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("payload = %x", payload)
	}
}

func TestNextEOF(t *testing.T) {
	s := &Script{
		Properties: ESProperties{Kind: KindAudio, CodingType: CodingAC3},
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	r, err := NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next() = %v, want io.EOF", err)
	}
}
