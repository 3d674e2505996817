package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global logger with the specified level.
// Logs go to stderr because stdout carries the log file content.
// If logFile is not empty, JSON records are appended to that file as well.
// The returned function closes the log file and is safe to call when none
// was opened.
func InitLogger(level string, logFile string) func() error {
	writers := []io.Writer{consoleWriter(os.Stderr)}
	closeFile := func() error { return nil }

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			// Use fmt, the logger is not ready yet
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, using stderr only\n", logFile, err)
		} else {
			writers = append(writers, file)
			closeFile = file.Close
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLogLevel(level))

	log.Debug().
		Str("level", zerolog.GlobalLevel().String()).
		Str("file", logFile).
		Msg("Logger initialized")

	return func() error {
		// stop writing to the file before it goes away
		log.Logger = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
		return closeFile()
	}
}

// consoleWriter formats records for humans, with colours only on a terminal
func consoleWriter(out *os.File) zerolog.ConsoleWriter {
	fd := out.Fd()
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)),
	}
}

// ParseLogLevel parses a string log level to zerolog.Level.
// Unknown values fall back to warn, the quiet default of a filter tool.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.WarnLevel
	}
}
