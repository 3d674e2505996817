package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	dir     string
	logPath string
	cache   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("HOME", dir)
	for _, key := range []string{
		"CUTTHELOG_CONFIG",
		"CUTTHELOG_CACHE_FILE",
		"CUTTHELOG_CACHE_BACKEND",
		"CUTTHELOG_CACHE_DELIMITER",
		"CUTTHELOG_LOCK_TIMEOUT",
		"CUTTHELOG_LOG_LEVEL",
		"CUTTHELOG_LOG_FILE",
		"CUTTHELOG_TRACING_ENABLED",
	} {
		t.Setenv(key, "")
	}

	return &env{
		dir:     dir,
		logPath: filepath.Join(dir, "app.log"),
		cache:   filepath.Join(dir, "cache"),
	}
}

func (e *env) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr, func(code int) {
		t.Fatalf("unexpected exit(%d)", code)
	})
	return code, stdout.String(), stderr.String()
}

func (e *env) write(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.logPath, []byte(content), 0644))
}

func TestCutDefaultCommand(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\ntwo\n")

	code, out, _ := e.run(t, "-c", e.cache, e.logPath)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "one\ntwo\n", out)

	code, out, _ = e.run(t, "-c", e.cache, e.logPath)
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, out)

	code, out, _ = e.run(t, "-c", e.cache, "cut", "--force", e.logPath)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "one\ntwo\n", out)
}

func TestCutUsesHomeCache(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	code, _, _ := e.run(t, e.logPath)
	require.Equal(t, ExitOK, code)

	data, err := os.ReadFile(filepath.Join(e.dir, ".cutthelog"))
	require.NoError(t, err)
	assert.Contains(t, string(data), e.logPath+"##4##4##")
}

func TestCutCustomDelimiter(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	code, _, _ := e.run(t, "-c", e.cache, "--cache-delimiter", "%%", e.logPath)
	require.Equal(t, ExitOK, code)

	data, err := os.ReadFile(e.cache)
	require.NoError(t, err)
	assert.Contains(t, string(data), e.logPath+"%%4%%4%%")
}

func TestCutNotFound(t *testing.T) {
	e := newEnv(t)

	code, out, stderr := e.run(t, "-c", e.cache, filepath.Join(e.dir, "missing.log"))
	assert.Equal(t, ExitNotFound, code)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "not found")
}

func TestCutManualPosition(t *testing.T) {
	e := newEnv(t)
	e.write(t, "Hello, world!\nBye, world\n")

	code, out, _ := e.run(t, "-c", e.cache, e.logPath, "--offset", "14", "--last-line", "Hello, world!")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "Bye, world\n", out)

	_, err := os.Stat(e.cache)
	assert.True(t, errors.Is(err, os.ErrNotExist), "manual position must not touch the cache")
}

func TestCutManualPositionIsLineEnd(t *testing.T) {
	e := newEnv(t)
	e.write(t, "Hello, world!\nBye, world\n")

	// 14 is where "Bye, world" starts, so the line ending there is
	// "Hello, world!" and the position does not match
	code, out, _ := e.run(t, "-c", e.cache, e.logPath, "--offset", "14", "--last-line", "Bye, world")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "Hello, world!\nBye, world\n", out)

	code, out, _ = e.run(t, "-c", e.cache, e.logPath, "--offset", "25", "--last-line", "Bye, world")
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, out)
}

func TestCutManualPositionNeedsBothFlags(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	code, out, _ := e.run(t, "-c", e.cache, e.logPath, "--offset", "4")
	assert.Equal(t, ExitUsage, code)
	assert.Empty(t, out)
}

func TestCutFromEnd(t *testing.T) {
	e := newEnv(t)
	e.write(t, "old\n")

	code, out, _ := e.run(t, "-c", e.cache, "cut", "--from-end", e.logPath)
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, out)

	f, err := os.OpenFile(e.logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("new\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, out, _ = e.run(t, "-c", e.cache, e.logPath)
	assert.Equal(t, "new\n", out)
}

func TestCutUnwritableCache(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")
	require.NoError(t, os.Mkdir(e.cache, 0755))

	code, out, _ := e.run(t, "-c", e.cache, e.logPath)
	assert.Equal(t, ExitCacheError, code)
	assert.Equal(t, "one\n", out)
}

func TestCutBoltBackend(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")
	db := filepath.Join(e.dir, "offsets.db")

	code, out, _ := e.run(t, "-c", db, "--backend", "bolt", e.logPath)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "one\n", out)

	code, out, _ = e.run(t, "-c", db, "--backend", "bolt", e.logPath)
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, out)
}

func TestCutDamagedBoltCacheStillDelivers(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\ntwo\n")
	db := filepath.Join(e.dir, "offsets.db")
	garbage := bytes.Repeat([]byte("garbage"), 4096)
	require.NoError(t, os.WriteFile(db, garbage, 0600))

	code, out, stderr := e.run(t, "-c", db, "--backend", "bolt", e.logPath)
	assert.Equal(t, ExitCacheError, code)
	assert.Equal(t, "one\ntwo\n", out)
	assert.Contains(t, stderr, "unwritable")

	data, err := os.ReadFile(db)
	require.NoError(t, err)
	assert.Equal(t, garbage, data)
}

type brokenStdout struct{}

func (brokenStdout) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestCutBrokenStdout(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-c", e.cache, e.logPath}, brokenStdout{}, &stderr, func(code int) {
		t.Fatalf("unexpected exit(%d)", code)
	})
	assert.Equal(t, ExitReadError, code)

	// nothing was delivered, so the next run shows the line
	_, out, _ := e.run(t, "-c", e.cache, e.logPath)
	assert.Equal(t, "one\n", out)
}

func TestCutInterrupted(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := Run(ctx, []string{"-c", e.cache, e.logPath}, &stdout, &stderr, func(code int) {
		t.Fatalf("unexpected exit(%d)", code)
	})
	assert.Equal(t, ExitInterrupted, code)
	assert.Empty(t, stdout.String())
}

func TestConfigFile(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	configPath := filepath.Join(e.dir, "cutthelog.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf("cache_file: %s\ncache_delimiter: '|'\n", e.cache)), 0644))

	code, _, _ := e.run(t, "--config", configPath, e.logPath)
	require.Equal(t, ExitOK, code)

	data, err := os.ReadFile(e.cache)
	require.NoError(t, err)
	assert.Contains(t, string(data), e.logPath+"|4|4|")
}

func TestListAndForget(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	code, out, _ := e.run(t, "-c", e.cache, "list")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "No cached positions")

	code, _, _ = e.run(t, "-c", e.cache, e.logPath)
	require.Equal(t, ExitOK, code)

	code, out, _ = e.run(t, "-c", e.cache, "list")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, e.logPath)
	assert.Contains(t, out, "Offset")

	code, out, _ = e.run(t, "-c", e.cache, "list", "--plain")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, e.logPath+"\t4\t4\t")

	code, _, _ = e.run(t, "-c", e.cache, "forget", e.logPath)
	assert.Equal(t, ExitOK, code)

	_, out, _ = e.run(t, "-c", e.cache, e.logPath)
	assert.Equal(t, "one\n", out)
}

func TestVersionCommand(t *testing.T) {
	e := newEnv(t)

	code, out, _ := e.run(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "cutthelog "+Version+"\n", out)
}

func TestUnknownBackend(t *testing.T) {
	e := newEnv(t)
	e.write(t, "one\n")

	code, _, _ := e.run(t, "--backend", "redis", e.logPath)
	assert.Equal(t, ExitUsage, code)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"not found", fmt.Errorf("%w: %w", domain.ErrTargetUnreadable, domain.ErrTargetNotFound), ExitNotFound},
		{"unreadable", fmt.Errorf("open: %w", domain.ErrTargetUnreadable), ExitReadError},
		{"cache unwritable", fmt.Errorf("save: %w", domain.ErrCacheUnwritable), ExitCacheError},
		{"cache unreadable", domain.ErrCacheUnreadable, ExitCacheError},
		{"cache locked", domain.ErrCacheLocked, ExitCacheError},
		{"output", fmt.Errorf("%w: flush: broken pipe", domain.ErrOutputFailed), ExitReadError},
		{"interrupted", fmt.Errorf("read cancelled at offset 10: %w", context.Canceled), ExitInterrupted},
		{"interrupted while locking", fmt.Errorf("%w: %w", domain.ErrCacheLocked, context.Canceled), ExitInterrupted},
		{"usage", fmt.Errorf("%w: bad flags", errUsage), ExitUsage},
		{"other", errors.New("boom"), ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
