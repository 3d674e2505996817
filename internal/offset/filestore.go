package offset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/SteelMorgan/cutthelog/internal/retry"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDelimiter separates the fields of a cache line
	DefaultDelimiter = "##"

	cacheHeader  = "# cutthelog cache v1"
	noHash       = "-"
	lockSuffix   = ".lock"
	lockInterval = 50 * time.Millisecond
)

// FileStore keeps every record in one human-readable text file:
//
//	<path><delim><offset><delim><line length><delim><line sha256 or ->
//
// The whole file is read on every access and rewritten on every change by
// writing a temporary file in the same directory and renaming it over the
// cache. Lines it cannot parse are carried over untouched.
type FileStore struct {
	path      string
	delimiter string
	retryCfg  retry.Config
	lock      *flock.Flock
}

// cacheLine is one line of the cache file. Lines that did not parse keep
// only their raw text.
type cacheLine struct {
	raw    string
	id     domain.FileIdentity
	record domain.StateRecord
	parsed bool
}

// NewFileStore creates a store backed by the file at path.
// The file does not need to exist yet.
func NewFileStore(path, delimiter string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache file path is required")
	}
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if strings.ContainsAny(delimiter, "\r\n") {
		return nil, fmt.Errorf("cache delimiter must not contain line breaks")
	}

	return &FileStore{
		path:      path,
		delimiter: delimiter,
		retryCfg:  retry.DefaultConfig(),
	}, nil
}

// Path returns the cache file location
func (s *FileStore) Path() string {
	return s.path
}

// Lock takes an advisory lock next to the cache file, waiting up to timeout
// for a concurrent run to release it. The lock is held until Close.
func (s *FileStore) Lock(ctx context.Context, timeout time.Duration) error {
	if s.lock != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	lock := flock.New(s.path + lockSuffix)
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := lock.TryLockContext(lockCtx, lockInterval)
	if err != nil {
		return fmt.Errorf("failed to lock cache %s: %w", s.path, err)
	}
	if !ok {
		return fmt.Errorf("cache %s is locked by another process", s.path)
	}

	log.Debug().Str("lock", lock.Path()).Msg("Cache lock acquired")
	s.lock = lock
	return nil
}

// Get retrieves the state for a given file
func (s *FileStore) Get(ctx context.Context, id domain.FileIdentity) (*domain.StateRecord, error) {
	lines, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnreadable, err)
	}

	prefix := string(id) + s.delimiter
	for i, line := range lines {
		if line.parsed {
			if line.id == id {
				record := line.record
				return &record, nil
			}
			continue
		}
		if strings.HasPrefix(line.raw, prefix) {
			return nil, fmt.Errorf("%w: malformed cache line #%d: %s", domain.ErrCacheUnreadable, i+1, line.raw)
		}
	}

	return nil, nil
}

// Set replaces the state for a given file. The updated record moves to the
// top of the file, all other lines keep their order.
func (s *FileStore) Set(ctx context.Context, id domain.FileIdentity, record domain.StateRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: invalid record for %s: %w", domain.ErrCacheUnwritable, id, err)
	}
	if strings.ContainsAny(string(id), "\r\n") {
		return fmt.Errorf("%w: path %q contains a line break", domain.ErrCacheUnwritable, id)
	}

	lines, err := s.load(ctx)
	if err != nil {
		// rewriting a cache we could not read would lose the other records
		return fmt.Errorf("%w: %w", domain.ErrCacheUnwritable, err)
	}

	updated := make([]string, 0, len(lines)+1)
	updated = append(updated, s.formatLine(id, record))
	updated = append(updated, s.without(lines, id)...)

	if err := s.write(ctx, updated); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCacheUnwritable, err)
	}

	log.Debug().
		Str("file_path", id.String()).
		Int64("offset", record.Offset).
		Str("cache", s.path).
		Msg("Offset updated")

	return nil
}

// Delete removes the state for a given file
func (s *FileStore) Delete(ctx context.Context, id domain.FileIdentity) error {
	lines, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCacheUnreadable, err)
	}

	kept := s.without(lines, id)
	if len(kept) == len(lines) {
		return nil
	}

	if err := s.write(ctx, kept); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCacheUnwritable, err)
	}
	return nil
}

// List returns all parsable stored states
func (s *FileStore) List(ctx context.Context) (map[domain.FileIdentity]domain.StateRecord, error) {
	lines, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnreadable, err)
	}

	result := make(map[domain.FileIdentity]domain.StateRecord)
	for _, line := range lines {
		if !line.parsed {
			continue
		}
		// first occurrence wins, as in Get
		if _, ok := result[line.id]; !ok {
			result[line.id] = line.record
		}
	}
	return result, nil
}

// Close releases the cache lock if one is held
func (s *FileStore) Close() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}

// load reads and parses the cache; a missing file is an empty cache
func (s *FileStore) load(ctx context.Context) ([]cacheLine, error) {
	data, err := retry.DoWithResult(ctx, s.retryCfg, func() ([]byte, error) {
		return os.ReadFile(s.path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var lines []cacheLine
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		raw := strings.TrimSuffix(scanner.Text(), "\r")
		if raw == "" || raw == cacheHeader {
			continue
		}
		line := cacheLine{raw: raw}
		if !strings.HasPrefix(raw, "#") {
			if id, record, err := parseLine(raw, s.delimiter); err == nil {
				line.id, line.record, line.parsed = id, record, true
			}
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse cache: %w", err)
	}

	return lines, nil
}

// without renders lines back to text, dropping every line that belongs to id
func (s *FileStore) without(lines []cacheLine, id domain.FileIdentity) []string {
	prefix := string(id) + s.delimiter
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.parsed && line.id == id {
			continue
		}
		if !line.parsed && strings.HasPrefix(line.raw, prefix) {
			continue
		}
		kept = append(kept, line.raw)
	}
	return kept
}

// write atomically replaces the cache with the given lines
func (s *FileStore) write(ctx context.Context, lines []string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	tempPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	w.WriteString(cacheHeader + "\n")
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}

	// Ensure data is on disk before it replaces the cache
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temporary cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary cache file: %w", err)
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set cache file mode: %w", err)
	}

	err = retry.Do(ctx, s.retryCfg, func() error {
		return os.Rename(tempPath, s.path)
	})
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	return nil
}

func (s *FileStore) formatLine(id domain.FileIdentity, record domain.StateRecord) string {
	hash := record.Fingerprint.Hash
	if hash == "" {
		hash = noHash
	}
	return strings.Join([]string{
		string(id),
		strconv.FormatInt(record.Offset, 10),
		strconv.FormatInt(record.Fingerprint.Length, 10),
		hash,
	}, s.delimiter)
}

// parseLine splits a cache line from the right so that paths containing the
// delimiter still parse
func parseLine(raw, delimiter string) (domain.FileIdentity, domain.StateRecord, error) {
	var fields [4]string
	rest := raw
	for i := len(fields) - 1; i > 0; i-- {
		idx := strings.LastIndex(rest, delimiter)
		if idx < 0 {
			return "", domain.StateRecord{}, fmt.Errorf("expected %d fields", len(fields))
		}
		fields[i] = rest[idx+len(delimiter):]
		rest = rest[:idx]
	}
	fields[0] = rest
	if fields[0] == "" {
		return "", domain.StateRecord{}, fmt.Errorf("empty path")
	}

	offset, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", domain.StateRecord{}, fmt.Errorf("bad offset %q", fields[1])
	}
	length, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", domain.StateRecord{}, fmt.Errorf("bad line length %q", fields[2])
	}
	hash := fields[3]
	if hash == noHash {
		hash = ""
	}

	record := domain.StateRecord{
		Offset:      offset,
		Fingerprint: domain.Fingerprint{Length: length, Hash: hash},
	}
	if err := record.Validate(); err != nil {
		return "", domain.StateRecord{}, err
	}
	return domain.FileIdentity(fields[0]), record, nil
}
