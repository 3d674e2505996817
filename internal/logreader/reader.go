package logreader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/SteelMorgan/cutthelog/internal/fingerprint"
	"github.com/rs/zerolog/log"
)

const defaultBufferSize = 64 * 1024

// Options tune a single Process call
type Options struct {
	// ForceFull skips the resume check and reads from the start
	ForceFull bool
	// FromEnd emits nothing and records the current end of the last complete line
	FromEnd bool
}

// Reader reads the unseen tail of a log file
type Reader struct {
	bufferSize int
}

// NewReader creates a Reader; bufferSize <= 0 selects the default
func NewReader(bufferSize int) *Reader {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Reader{bufferSize: bufferSize}
}

// Decide chooses where reading must start given the prior state.
// Any doubt about the recorded position results in a full read.
func Decide(src Source, prior *domain.StateRecord, opts Options) (int64, string) {
	size := src.Size()

	switch {
	case opts.ForceFull:
		return 0, domain.ReasonForced
	case prior == nil || prior.Offset <= 0:
		return 0, domain.ReasonNoState
	case prior.Offset > size:
		return 0, domain.ReasonShrunk
	}

	current, err := fingerprint.LastLine(src, size, prior.Offset)
	if err != nil {
		log.Debug().
			Err(err).
			Int64("offset", prior.Offset).
			Msg("Failed to fingerprint line at cached offset")
		return 0, domain.ReasonFingerprintMismatch
	}
	if !current.Equal(prior.Fingerprint) {
		return 0, domain.ReasonFingerprintMismatch
	}
	return prior.Offset, domain.ReasonResumed
}

// Process writes every complete line of src past the resume point to sink and
// returns the state to persist for the next run. A trailing line without a
// terminator is neither written nor included in the new offset.
// On error nothing should be persisted.
func (r *Reader) Process(ctx context.Context, src Source, prior *domain.StateRecord, sink io.Writer, opts Options) (*domain.ReadProgress, domain.StateRecord, error) {
	progress := &domain.ReadProgress{
		Timestamp:     time.Now(),
		FileSizeBytes: src.Size(),
	}
	if prior != nil {
		progress.PriorOffset = prior.Offset
	}

	if opts.FromEnd {
		state, err := endState(src)
		if err != nil {
			return nil, domain.StateRecord{}, err
		}
		progress.StartOffset = state.Offset
		progress.EndOffset = state.Offset
		progress.Reason = domain.ReasonFromEnd
		return progress, state, nil
	}

	start, reason := Decide(src, prior, opts)
	progress.StartOffset = start
	progress.EndOffset = start
	progress.Reason = reason

	log.Debug().
		Int64("prior_offset", progress.PriorOffset).
		Int64("start_offset", start).
		Int64("file_size", progress.FileSizeBytes).
		Str("reason", reason).
		Msg("Resume point chosen")

	last, err := r.stream(ctx, src, start, sink, progress)
	if err != nil {
		return nil, domain.StateRecord{}, err
	}

	var state domain.StateRecord
	switch {
	case last != nil:
		state = domain.StateRecord{Offset: progress.EndOffset, Fingerprint: fingerprint.Of(last)}
	case start > 0:
		// nothing new since the validated resume point
		state = *prior
	}
	return progress, state, nil
}

// stream copies complete lines from [start, size) to sink, advancing progress,
// and returns the last line written
func (r *Reader) stream(ctx context.Context, src Source, start int64, sink io.Writer, progress *domain.ReadProgress) ([]byte, error) {
	size := src.Size()
	if start >= size {
		return nil, nil
	}

	br := bufio.NewReaderSize(io.NewSectionReader(src, start, size-start), r.bufferSize)
	var last []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read cancelled at offset %d: %w", progress.EndOffset, err)
		}

		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			if _, err := sink.Write(line); err != nil {
				return nil, fmt.Errorf("%w: line at offset %d: %w", domain.ErrOutputFailed, progress.EndOffset, err)
			}
			progress.EndOffset += int64(len(line))
			progress.LinesEmitted++
			progress.BytesEmitted += int64(len(line))
			last = line
		}

		if errors.Is(readErr, io.EOF) {
			if len(line) > 0 && line[len(line)-1] != '\n' {
				log.Debug().
					Int64("offset", progress.EndOffset).
					Int("bytes", len(line)).
					Msg("Skipping unterminated trailing line")
			}
			return last, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: read at offset %d: %w", domain.ErrTargetUnreadable, progress.EndOffset, readErr)
		}
	}
}

// endState returns the state pointing past the last complete line of src
func endState(src Source) (domain.StateRecord, error) {
	end, err := fingerprint.LastCompleteLineEnd(src, src.Size())
	if err != nil {
		return domain.StateRecord{}, fmt.Errorf("%w: %w", domain.ErrTargetUnreadable, err)
	}
	if end == 0 {
		return domain.StateRecord{}, nil
	}
	fp, err := fingerprint.LastLine(src, src.Size(), end)
	if err != nil {
		return domain.StateRecord{}, fmt.Errorf("%w: %w", domain.ErrTargetUnreadable, err)
	}
	return domain.StateRecord{Offset: end, Fingerprint: fp}, nil
}
