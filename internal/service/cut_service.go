package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/SteelMorgan/cutthelog/internal/logreader"
	"github.com/SteelMorgan/cutthelog/internal/offset"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Request describes one run against one log file
type Request struct {
	Path      string
	ForceFull bool
	FromEnd   bool

	// Position, when set, replaces the cached state and the cache is neither
	// read nor written
	Position *domain.StateRecord
}

type flusher interface {
	Flush() error
}

// CutService reads the unseen part of log files and keeps their state
type CutService struct {
	store       offset.OffsetStore
	reader      *logreader.Reader
	lockTimeout time.Duration
}

// NewCutService creates a new cut service.
// lockTimeout bounds the wait for the cache lock; 0 disables locking.
func NewCutService(store offset.OffsetStore, reader *logreader.Reader, lockTimeout time.Duration) (*CutService, error) {
	if store == nil {
		return nil, fmt.Errorf("offset store is required")
	}
	if reader == nil {
		reader = logreader.NewReader(0)
	}

	return &CutService{
		store:       store,
		reader:      reader,
		lockTimeout: lockTimeout,
	}, nil
}

// Run writes the lines of req.Path appended since the previous run to sink
// and records the new position.
// Errors wrapping domain.ErrCacheUnwritable come with a non-nil progress:
// the content was delivered but the next run may show it again.
func (s *CutService) Run(ctx context.Context, req Request, sink io.Writer) (*domain.ReadProgress, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("file", req.Path).Logger()

	ctx, span := startSpan(ctx, "cutthelog.run",
		attribute.String("run.id", runID),
		attribute.String("file.path", req.Path),
		attribute.Bool("run.force_full", req.ForceFull),
		attribute.Bool("run.from_end", req.FromEnd),
	)

	progress, err := s.run(ctx, runID, req, sink, logger)
	if progress != nil {
		span.SetAttributes(
			attribute.Int64("file.size", progress.FileSizeBytes),
			attribute.Int64("offset.prior", progress.PriorOffset),
			attribute.Int64("offset.start", progress.StartOffset),
			attribute.Int64("offset.end", progress.EndOffset),
			attribute.Int64("lines.emitted", progress.LinesEmitted),
			attribute.String("resume.reason", progress.Reason),
			attribute.Bool("state.saved", progress.Saved),
		)
	}
	if err != nil {
		endSpanWithError(span, err, "run failed")
		return progress, err
	}
	endSpanSuccess(span)

	logger.Debug().
		Int64("start_offset", progress.StartOffset).
		Int64("end_offset", progress.EndOffset).
		Int64("lines", progress.LinesEmitted).
		Int64("bytes", progress.BytesEmitted).
		Str("reason", progress.Reason).
		Bool("saved", progress.Saved).
		Msg("Log file processed")

	return progress, nil
}

func (s *CutService) run(ctx context.Context, runID string, req Request, sink io.Writer, logger zerolog.Logger) (*domain.ReadProgress, error) {
	id, err := domain.NewFileIdentity(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTargetUnreadable, err)
	}

	file, err := os.Open(id.String())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w: %w", domain.ErrTargetUnreadable, domain.ErrTargetNotFound, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTargetUnreadable, err)
	}
	defer file.Close()

	src, err := logreader.NewFileSource(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTargetUnreadable, err)
	}
	if info, err := file.Stat(); err == nil && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", domain.ErrTargetUnreadable, id)
	}

	useStore := req.Position == nil
	prior := req.Position
	if useStore {
		if err := s.lock(ctx); err != nil {
			return nil, err
		}
		prior = s.loadState(ctx, id, logger)
	}

	progress, state, err := s.reader.Process(ctx, src, prior, sink, logreader.Options{
		ForceFull: req.ForceFull,
		FromEnd:   req.FromEnd,
	})
	if err != nil {
		return nil, err
	}
	progress.RunID = runID
	progress.Identity = id

	// content must reach the sink before the position moves past it
	if f, ok := sink.(flusher); ok {
		if err := f.Flush(); err != nil {
			return nil, fmt.Errorf("%w: flush: %w", domain.ErrOutputFailed, err)
		}
	}

	if progress.Restarted() {
		logger.Info().
			Int64("prior_offset", progress.PriorOffset).
			Int64("file_size", progress.FileSizeBytes).
			Str("reason", progress.Reason).
			Msg("Log file was replaced or truncated, reading from the start")
	}

	if !useStore || (prior != nil && *prior == state) {
		return progress, nil
	}

	if err := s.store.Set(ctx, id, state); err != nil {
		logger.Error().Err(err).Msg("Failed to save offset")
		return progress, err
	}
	progress.Saved = true

	return progress, nil
}

// lock takes the store lock when the store supports one
func (s *CutService) lock(ctx context.Context) error {
	locker, ok := s.store.(offset.Locker)
	if !ok || s.lockTimeout <= 0 {
		return nil
	}
	if err := locker.Lock(ctx, s.lockTimeout); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCacheLocked, err)
	}
	return nil
}

// loadState returns the cached state of id; a broken cache only costs a full read
func (s *CutService) loadState(ctx context.Context, id domain.FileIdentity, logger zerolog.Logger) *domain.StateRecord {
	prior, err := s.store.Get(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load offset, reading from the start")
		return nil
	}
	return prior
}

// Forget drops the cached state of the file at path
func (s *CutService) Forget(ctx context.Context, path string) error {
	id, err := domain.NewFileIdentity(path)
	if err != nil {
		return err
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// Entries returns every cached state
func (s *CutService) Entries(ctx context.Context) (map[domain.FileIdentity]domain.StateRecord, error) {
	return s.store.List(ctx)
}
