package logreader

import (
	"io"
	"os"
)

// Source is a log file opened for random access.
// Size is captured once when the source is opened so a run works on a
// consistent snapshot even if the file keeps growing.
type Source interface {
	io.ReaderAt
	Size() int64
}

// FileSource adapts an opened *os.File to Source
type FileSource struct {
	*os.File
	size int64
}

// NewFileSource stats f and snapshots its size
func NewFileSource(f *os.File) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &FileSource{File: f, size: info.Size()}, nil
}

// Size returns the size of the file when it was opened
func (s *FileSource) Size() int64 {
	return s.size
}
