package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/convoetl/internal/config"
	"github.com/roach88/convoetl/internal/metrics"
)

// Stage names.
const (
	StageInitialize = "initialize"
	StageLocate     = config.StageLocate
	StageFetch      = config.StageFetch
	StageValidate   = config.StageValidate
	StageLoad       = config.StageLoad
)

// StageError is the single terminating error of a failed run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Interceptor wraps stage execution with boundary logging and timing.
// Only stage boundaries are logged, each at its configured level; failures
// are always logged at error level.
type Interceptor struct {
	logger  *zap.Logger
	levels  config.StageLevels
	metrics *metrics.Recorder
}

// NewInterceptor returns an interceptor logging to logger. rec may be nil.
func NewInterceptor(logger *zap.Logger, levels config.StageLevels, rec *metrics.Recorder) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{logger: logger, levels: levels, metrics: rec}
}

// Do runs fn as stage. A failure is returned as a *StageError.
// fn reports extra completion fields through its return value.
func (i *Interceptor) Do(ctx context.Context, stage string, fn func(context.Context) ([]zap.Field, error)) error {
	level := i.level(stage)
	logger := i.logger.With(zap.String("stage", stage))

	if ce := logger.Check(level, "stage started"); ce != nil {
		ce.Write()
	}

	start := time.Now()
	fields, err := fn(ctx)
	elapsed := time.Since(start)
	i.metrics.ObserveStage(stage, elapsed)

	if err != nil {
		logger.Error("stage failed", zap.Duration("duration", elapsed), zap.Error(err))
		return &StageError{Stage: stage, Err: err}
	}

	if ce := logger.Check(level, "stage completed"); ce != nil {
		ce.Write(append(fields, zap.Duration("duration", elapsed))...)
	}
	return nil
}

func (i *Interceptor) level(stage string) zapcore.Level {
	level, err := zapcore.ParseLevel(i.levels.For(stage))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
