package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/SteelMorgan/cutthelog/internal/fingerprint"
	"github.com/SteelMorgan/cutthelog/internal/service"
	"github.com/rs/zerolog/log"
)

// CutCmd prints the unseen lines of a log file
type CutCmd struct {
	Logfile  string `arg:"" help:"Log file to read"`
	Force    bool   `short:"f" help:"Ignore the cached position and print the whole file"`
	FromEnd  bool   `help:"Mark the current content as read without printing it"`
	Offset   int64  `placeholder:"N" help:"Byte position where unseen lines begin: the end of --last-line including its newline, not its start (requires --last-line, bypasses the cache)"`
	LastLine string `placeholder:"LINE" help:"Text of the last line already seen, without its newline; it must end exactly at --offset (requires --offset)"`
}

// Run executes the cut command
func (c *CutCmd) Run(ctx context.Context, globals *Globals) error {
	position, err := c.position(globals.FlagsSet)
	if err != nil {
		return err
	}

	svc, closeStore, err := globals.openService()
	if err != nil {
		return err
	}
	defer closeStore()

	out := bufio.NewWriter(globals.Stdout)
	progress, err := svc.Run(ctx, service.Request{
		Path:      c.Logfile,
		ForceFull: c.Force,
		FromEnd:   c.FromEnd,
		Position:  position,
	}, out)
	// content already produced is delivered even when saving the position failed
	if flushErr := out.Flush(); flushErr != nil && err == nil {
		err = fmt.Errorf("%w: flush: %w", domain.ErrOutputFailed, flushErr)
	}
	if err != nil {
		return err
	}

	log.Debug().
		Str("file", progress.Identity.String()).
		Str("run_id", progress.RunID).
		Int64("lines", progress.LinesEmitted).
		Msg("Done")
	return nil
}

// position builds the manual start position from --offset and --last-line.
// It returns nil when neither was given.
func (c *CutCmd) position(flagsSet map[string]bool) (*domain.StateRecord, error) {
	hasOffset, hasLine := flagsSet["offset"], flagsSet["last-line"]
	switch {
	case !hasOffset && !hasLine:
		return nil, nil
	case hasOffset != hasLine:
		return nil, fmt.Errorf("%w: --offset and --last-line must be used together", errUsage)
	case c.Offset < 0:
		return nil, fmt.Errorf("%w: --offset must not be negative", errUsage)
	case c.Offset == 0:
		return &domain.StateRecord{}, nil
	}

	line := strings.TrimSuffix(c.LastLine, "\n") + "\n"
	record := &domain.StateRecord{
		Offset:      c.Offset,
		Fingerprint: fingerprint.Of([]byte(line)),
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	return record, nil
}

// ForgetCmd drops the cached position of a log file
type ForgetCmd struct {
	Logfile string `arg:"" help:"Log file whose position is dropped"`
}

// Run executes the forget command
func (f *ForgetCmd) Run(ctx context.Context, globals *Globals) error {
	svc, closeStore, err := globals.openService()
	if err != nil {
		return err
	}
	defer closeStore()

	return svc.Forget(ctx, f.Logfile)
}
