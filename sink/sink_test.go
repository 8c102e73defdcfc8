package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestFileSinkCreatesParentDirAndWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.m2ts")

	w, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if _, err := w.Write([]byte("packet")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "packet" {
		t.Fatalf("file contents = %q, want %q", got, "packet")
	}
}

// fakeUploader drains the streamed body to completion, standing in for
// manager.Uploader without touching the network.
type fakeUploader struct {
	received bytes.Buffer
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if _, err := io.Copy(&f.received, input.Body); err != nil {
		return nil, err
	}
	return &manager.UploadOutput{}, f.err
}

func TestS3SinkStreamsToUploader(t *testing.T) {
	up := &fakeUploader{}
	s := newS3Sink(context.Background(), up, "bucket", "key")

	if _, err := s.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if up.received.String() != "hello world" {
		t.Fatalf("uploader received %q, want %q", up.received.String(), "hello world")
	}
}

func TestS3SinkPropagatesUploadError(t *testing.T) {
	up := &fakeUploader{err: io.ErrClosedPipe}
	s := newS3Sink(context.Background(), up, "bucket", "key")

	if _, err := s.Write([]byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err == nil {
		t.Fatal("Close() = nil error, want the uploader's error")
	}
}
