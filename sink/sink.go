/*
NAME
  sink.go

DESCRIPTION
  Package sink implements the output side of a mux run: local file and
  S3 (or S3-compatible) destinations, both exposed as a plain
  io.WriteCloser so the scheduler never needs to know which one it's
  writing to.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// NewFileSink opens path for writing the muxed transport stream,
// creating its parent directory and truncating any existing contents.
func NewFileSink(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "sink: creating directory for %q", path)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sink: creating %q", path)
	}
	return f, nil
}

// s3Uploader is the slice of *manager.Uploader's surface S3Sink needs,
// narrowed so tests can substitute a fake that never touches the
// network.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink streams muxed output into a multipart upload, so the
// scheduler can write packets as they're produced without ever holding
// the whole transport stream in memory.
type S3Sink struct {
	pw   *io.PipeWriter
	done chan error
}

// NewS3Sink loads the default AWS credential chain and starts a
// multipart upload of key into bucket, returning an io.WriteCloser the
// scheduler streams packets into. opts customize the S3 client (e.g. a
// custom BaseEndpoint for an S3-compatible service).
func NewS3Sink(ctx context.Context, bucket, key string, opts ...func(*s3.Options)) (*S3Sink, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "sink: loading AWS config")
	}
	client := s3.NewFromConfig(cfg, opts...)
	return newS3Sink(ctx, manager.NewUploader(client), bucket, key), nil
}

func newS3Sink(ctx context.Context, uploader s3Uploader, bucket, key string) *S3Sink {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		pr.CloseWithError(err)
		done <- err
	}()

	return &S3Sink{pw: pw, done: done}
}

// Write feeds p into the in-progress multipart upload.
func (s *S3Sink) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// Close signals end-of-stream to the upload and waits for it to
// complete (or fail).
func (s *S3Sink) Close() error {
	if err := s.pw.Close(); err != nil {
		return errors.Wrap(err, "sink: closing upload pipe")
	}
	if err := <-s.done; err != nil {
		return errors.Wrap(err, "sink: multipart upload")
	}
	return nil
}
