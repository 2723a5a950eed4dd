package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/blobstore"
	"github.com/roach88/convoetl/internal/config"
	"github.com/roach88/convoetl/internal/metrics"
	"github.com/roach88/convoetl/internal/snapshot"
	"github.com/roach88/convoetl/internal/store"
)

// Options configures a Pipeline.
type Options struct {
	Container blobstore.Container
	Prefix    string
	DBPath    string
	// Contract defaults to the built-in contract.
	Contract   *snapshot.Contract
	StagingDir string
	Replace    bool
	// FetchAttempts bounds fetch tries on transient faults; values below 1
	// mean a single try.
	FetchAttempts int

	Logger      *zap.Logger
	StageLevels config.StageLevels
	Metrics     *metrics.Recorder

	// NewBackOff builds the delay policy between fetch attempts.
	// Defaults to exponential backoff.
	NewBackOff func() backoff.BackOff
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result summarizes a successful run.
type Result struct {
	Snapshot      blobstore.ObjectInfo
	Loaded        store.LoadResult
	FetchAttempts int
	Duration      time.Duration
}

// Pipeline moves the newest snapshot from a container into the store.
type Pipeline struct {
	opts        Options
	interceptor *Interceptor
}

// New returns a pipeline for opts.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FetchAttempts < 1 {
		opts.FetchAttempts = 1
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		opts:        opts,
		interceptor: NewInterceptor(opts.Logger, opts.StageLevels, opts.Metrics),
	}
}

// Run executes one ingestion. On failure the returned error is a
// *StageError and the store is unchanged.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := p.opts.Now()
	res, err := p.run(ctx)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	p.opts.Metrics.RunFinished(outcome, p.opts.Now())

	if err != nil {
		return nil, err
	}
	res.Duration = p.opts.Now().Sub(start)
	p.opts.Logger.Info("ingestion completed",
		zap.String("snapshot", res.Snapshot.Name),
		zap.Int64("sessions", res.Loaded.SessionsInserted),
		zap.Int64("events", res.Loaded.EventsInserted),
		zap.Int64("event_parents", res.Loaded.EdgesInserted),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	res := &Result{}
	var db *store.Store

	defer func() {
		if db != nil {
			if err := db.Close(); err != nil {
				p.opts.Logger.Warn("failed to close store", zap.Error(err))
			}
		}
	}()

	err := p.interceptor.Do(ctx, StageInitialize, func(ctx context.Context) ([]zap.Field, error) {
		s, err := store.Open(p.opts.DBPath)
		if err != nil {
			return nil, err
		}
		db = s
		return []zap.Field{zap.String("path", p.opts.DBPath)}, db.Initialize(ctx)
	})
	if err != nil {
		return nil, err
	}

	err = p.interceptor.Do(ctx, StageLocate, func(ctx context.Context) ([]zap.Field, error) {
		obj, err := blobstore.FindLatest(ctx, p.opts.Container, p.opts.Prefix)
		if err != nil {
			return nil, err
		}
		res.Snapshot = obj
		return []zap.Field{zap.String("snapshot", obj.Name), zap.Time("created", obj.Created)}, nil
	})
	if err != nil {
		return nil, err
	}

	var staged *blobstore.StagedFile
	defer func() {
		if staged != nil {
			if err := staged.Release(); err != nil {
				p.opts.Logger.Warn("failed to release staging file", zap.String("path", staged.Path()), zap.Error(err))
			}
		}
	}()

	err = p.interceptor.Do(ctx, StageFetch, func(ctx context.Context) ([]zap.Field, error) {
		f, attempts, err := p.fetch(ctx, res.Snapshot.Name)
		res.FetchAttempts = attempts
		if err != nil {
			return nil, err
		}
		staged = f
		return []zap.Field{zap.Int64("bytes", f.Size()), zap.Int("attempts", attempts)}, nil
	})
	if err != nil {
		return nil, err
	}

	contract := p.opts.Contract
	var validated *snapshot.Validated
	err = p.interceptor.Do(ctx, StageValidate, func(ctx context.Context) ([]zap.Field, error) {
		if contract == nil {
			c, err := snapshot.DefaultContract()
			if err != nil {
				return nil, err
			}
			contract = c
		}
		v, err := snapshot.Validate(staged, contract)
		if err != nil {
			return nil, err
		}
		validated = v
		sessions, events, edges := v.Snapshot().Len()
		return []zap.Field{
			zap.String("contract", contract.Name()),
			zap.Int("sessions", sessions),
			zap.Int("events", events),
			zap.Int("event_parents", edges),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	err = p.interceptor.Do(ctx, StageLoad, func(ctx context.Context) ([]zap.Field, error) {
		loaded, err := db.Load(ctx, validated, store.LoadOptions{Replace: p.opts.Replace})
		if err != nil {
			return nil, err
		}
		res.Loaded = loaded
		return []zap.Field{zap.Bool("replace", p.opts.Replace)}, nil
	})
	if err != nil {
		return nil, err
	}

	p.opts.Metrics.RowsLoaded(snapshot.TableSessions, res.Loaded.SessionsInserted)
	p.opts.Metrics.RowsLoaded(snapshot.TableEvents, res.Loaded.EventsInserted)
	p.opts.Metrics.RowsLoaded(snapshot.TableEventParents, res.Loaded.EdgesInserted)
	return res, nil
}

// fetch downloads name, retrying while the failure is transient.
func (p *Pipeline) fetch(ctx context.Context, name string) (*blobstore.StagedFile, int, error) {
	attempts := 0
	op := func() (*blobstore.StagedFile, error) {
		attempts++
		f, err := blobstore.Fetch(ctx, p.opts.Container, name, p.opts.StagingDir)
		if err != nil && !blobstore.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return f, err
	}
	notify := func(err error, next time.Duration) {
		p.opts.Logger.Warn("fetch attempt failed, retrying",
			zap.String("snapshot", name),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	f, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.opts.NewBackOff()),
		backoff.WithMaxTries(uint(p.opts.FetchAttempts)),
		backoff.WithNotify(notify),
	)
	return f, attempts, err
}
