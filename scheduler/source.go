package scheduler

import (
	"os"

	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/esms"
)

// fileSourceReader resolves CmdCopyPayload's sourceIndex against a fixed
// list of open source files, matching the order ESProperties.Sources
// recorded them in.
type fileSourceReader struct {
	files []*os.File
}

// newFileSourceReader opens every path in sources, in order.
func newFileSourceReader(sources []esms.SourceFile) (*fileSourceReader, error) {
	r := &fileSourceReader{files: make([]*os.File, len(sources))}
	for i, src := range sources {
		f, err := os.Open(src.Path)
		if err != nil {
			r.Close()
			return nil, errors.Wrapf(err, "scheduler: opening source %q", src.Path)
		}
		r.files[i] = f
	}
	return r, nil
}

func (r *fileSourceReader) ReadAt(sourceIndex int, off int64, length int) ([]byte, error) {
	if sourceIndex < 0 || sourceIndex >= len(r.files) {
		return nil, errors.Errorf("scheduler: source index %d out of range", sourceIndex)
	}
	buf := make([]byte, length)
	if _, err := r.files[sourceIndex].ReadAt(buf, off); err != nil {
		return nil, errors.Wrap(err, "scheduler: reading source file")
	}
	return buf, nil
}

func (r *fileSourceReader) Close() error {
	var firstErr error
	for _, f := range r.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
