package domain

import (
	"fmt"
	"path/filepath"
)

// FileIdentity is the cache key of a log file: its absolute, cleaned path.
// Symlinks are not resolved, so two paths to the same file are two identities.
type FileIdentity string

// NewFileIdentity builds the identity of the file at path
func NewFileIdentity(path string) (FileIdentity, error) {
	if path == "" {
		return "", fmt.Errorf("empty file path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path of %s: %w", path, err)
	}
	return FileIdentity(filepath.Clean(abs)), nil
}

// String returns the path behind the identity
func (id FileIdentity) String() string {
	return string(id)
}

// Fingerprint identifies the content of one line: its byte length
// (terminator included) and the hex SHA256 of those bytes.
// The zero value means "no fingerprint".
type Fingerprint struct {
	Length int64
	Hash   string
}

// IsZero reports whether no line is fingerprinted
func (f Fingerprint) IsZero() bool {
	return f.Length == 0 && f.Hash == ""
}

// Equal compares two fingerprints
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Length == other.Length && f.Hash == other.Hash
}

// StateRecord is the persisted read position of a file.
// Offset is the byte right after the last line that was fully read and
// Fingerprint identifies that line. Offset 0 carries no fingerprint.
type StateRecord struct {
	Offset      int64
	Fingerprint Fingerprint
}

// Validate checks the record invariants
func (r StateRecord) Validate() error {
	if r.Offset < 0 {
		return fmt.Errorf("negative offset %d", r.Offset)
	}
	if r.Offset == 0 && !r.Fingerprint.IsZero() {
		return fmt.Errorf("fingerprint without offset")
	}
	if r.Offset > 0 && r.Fingerprint.IsZero() {
		return fmt.Errorf("offset %d without fingerprint", r.Offset)
	}
	if r.Fingerprint.Length < 0 {
		return fmt.Errorf("negative fingerprint length %d", r.Fingerprint.Length)
	}
	return nil
}
