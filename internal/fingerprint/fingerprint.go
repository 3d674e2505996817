package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/SteelMorgan/cutthelog/internal/domain"
)

// scanChunkSize is the window used when scanning a file backward for a line terminator
const scanChunkSize = 4096

// ErrNotAvailable is returned when no line ends at the requested offset:
// the offset is zero or lies beyond the end of the file.
var ErrNotAvailable = errors.New("no line ends at offset")

// Of computes the fingerprint of line, terminator included
func Of(line []byte) domain.Fingerprint {
	sum := sha256.Sum256(line)
	return domain.Fingerprint{
		Length: int64(len(line)),
		Hash:   hex.EncodeToString(sum[:]),
	}
}

// Hasher builds a fingerprint from a line written in pieces
type Hasher struct {
	h hash.Hash
	n int64
}

// NewHasher creates an empty Hasher
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write adds line bytes
func (h *Hasher) Write(p []byte) (int, error) {
	h.n += int64(len(p))
	return h.h.Write(p)
}

// Reset discards everything written so far
func (h *Hasher) Reset() {
	h.h.Reset()
	h.n = 0
}

// Sum returns the fingerprint of the bytes written since the last Reset
func (h *Hasher) Sum() domain.Fingerprint {
	return domain.Fingerprint{
		Length: h.n,
		Hash:   hex.EncodeToString(h.h.Sum(nil)),
	}
}

// LastLine fingerprints the line ending at offset in src, a file of the given size.
// The line spans from the byte after the previous '\n' (or start of file) up to
// offset exclusive, so a properly terminated line includes its own '\n'.
// Whether offset really sits right after a terminator is not checked here: an
// offset inside a line yields the fingerprint of a fragment, which never equals
// the fingerprint of a terminated line.
func LastLine(src io.ReaderAt, size, offset int64) (domain.Fingerprint, error) {
	if offset <= 0 || offset > size {
		return domain.Fingerprint{}, ErrNotAvailable
	}

	start, err := lineStart(src, offset-1)
	if err != nil {
		return domain.Fingerprint{}, err
	}

	h := NewHasher()
	if _, err := io.Copy(h, io.NewSectionReader(src, start, offset-start)); err != nil {
		return domain.Fingerprint{}, fmt.Errorf("failed to read line at %d: %w", start, err)
	}
	return h.Sum(), nil
}

// LastCompleteLineEnd returns the offset right after the last '\n' in src,
// or 0 when the file holds no complete line
func LastCompleteLineEnd(src io.ReaderAt, size int64) (int64, error) {
	if size <= 0 {
		return 0, nil
	}
	return lineStart(src, size)
}

// lineStart scans backward from before (exclusive) for the nearest '\n' and
// returns the position right after it, or 0 if the start of file is reached
func lineStart(src io.ReaderAt, before int64) (int64, error) {
	buf := make([]byte, scanChunkSize)
	end := before
	for end > 0 {
		step := int64(scanChunkSize)
		if end < step {
			step = end
		}
		pos := end - step
		chunk := buf[:step]
		n, err := src.ReadAt(chunk, pos)
		if int64(n) < step {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("failed to read at %d: %w", pos, err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return pos + int64(i) + 1, nil
		}
		end = pos
	}
	return 0, nil
}
