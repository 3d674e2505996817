package fingerprint

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastLine(t *testing.T) {
	content := "Hello, world!\nBye, world\nHello again"
	src := strings.NewReader(content)
	size := int64(len(content))

	tests := []struct {
		name    string
		offset  int64
		want    string
		wantErr error
	}{
		{name: "zero offset", offset: 0, wantErr: ErrNotAvailable},
		{name: "negative offset", offset: -5, wantErr: ErrNotAvailable},
		{name: "beyond end of file", offset: size + 1, wantErr: ErrNotAvailable},
		{name: "first line", offset: 14, want: "Hello, world!\n"},
		{name: "second line", offset: 25, want: "Bye, world\n"},
		{name: "inside a line", offset: 18, want: "Bye,"},
		{name: "unterminated tail", offset: size, want: "Hello again"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LastLine(src, size, tt.offset)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Of([]byte(tt.want)), got)
		})
	}
}

func TestLastLineLongLines(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 3000; i++ {
		b.WriteString(strconv.Itoa(i))
	}
	longLine := b.String() + "\n"
	require.Greater(t, len(longLine), 2*scanChunkSize)

	content := longLine + longLine[1:]
	src := strings.NewReader(content)
	size := int64(len(content))

	got, err := LastLine(src, size, int64(len(longLine)))
	require.NoError(t, err)
	assert.Equal(t, Of([]byte(longLine)), got)

	got, err = LastLine(src, size, size)
	require.NoError(t, err)
	assert.Equal(t, Of([]byte(longLine[1:])), got)
}

func TestLastLineSameLengthDifferentContent(t *testing.T) {
	a := strings.NewReader("one\ntwo\n")
	b := strings.NewReader("one\nsix\n")

	fa, err := LastLine(a, a.Size(), 8)
	require.NoError(t, err)
	fb, err := LastLine(b, b.Size(), 8)
	require.NoError(t, err)

	assert.Equal(t, fa.Length, fb.Length)
	assert.False(t, fa.Equal(fb))
}

func TestLastLineOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\n"), 0644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := LastLine(f, 11, 11)
	require.NoError(t, err)
	assert.Equal(t, Of([]byte("beta\n")), got)
}

type failingReader struct{}

func (failingReader) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestLastLineReadError(t *testing.T) {
	_, err := LastLine(failingReader{}, 100, 50)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAvailable)
}

func TestLastLineShortRead(t *testing.T) {
	// the reported size is larger than what the reader holds
	src := strings.NewReader("abc")
	_, err := LastLine(src, 10, 10)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestLastCompleteLineEnd(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int64
	}{
		{name: "empty", content: "", want: 0},
		{name: "only partial line", content: "partial", want: 0},
		{name: "one line", content: "one\n", want: 4},
		{name: "partial tail", content: "one\ntwo\nthr", want: 8},
		{name: "terminated", content: "one\ntwo\n", want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := strings.NewReader(tt.content)
			got, err := LastCompleteLineEnd(src, src.Size())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasherMatchesOf(t *testing.T) {
	h := NewHasher()
	_, _ = h.Write([]byte("hello, "))
	_, _ = h.Write([]byte("world\n"))
	assert.Equal(t, Of([]byte("hello, world\n")), h.Sum())

	h.Reset()
	assert.Equal(t, Of(nil), h.Sum())
}
