// Package reaper periodically deletes expired codes, sessions and tokens.
package reaper

import (
	"context"
	"sort"
	"time"

	"github.com/jrsteele09/skills-auth/store"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Recorder receives the number of rows deleted per table.
type Recorder interface {
	RecordReaped(table string, n int64)
}

type Reaper struct {
	sweepers  map[string]store.Sweeper
	retention time.Duration
	recorder  Recorder
	nowFunc   func() time.Time
	cron      *cron.Cron
}

type Option func(*Reaper)

// WithRetention keeps rows for d after they expire.
func WithRetention(d time.Duration) Option {
	return func(r *Reaper) {
		r.retention = d
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Reaper) {
		r.recorder = rec
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(r *Reaper) {
		r.nowFunc = now
	}
}

func New(sweepers map[string]store.Sweeper, options ...Option) (*Reaper, error) {
	if len(sweepers) == 0 {
		return nil, errors.New("[reaper.New] at least one sweeper is required")
	}
	r := &Reaper{
		sweepers: sweepers,
		nowFunc:  time.Now,
		cron:     cron.New(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Sweep deletes everything that expired before now minus the retention. It
// keeps going when one table fails and returns the first error.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.nowFunc().Add(-r.retention)

	names := make([]string, 0, len(r.sweepers))
	for name := range r.sweepers {
		names = append(names, name)
	}
	sort.Strings(names)

	var total int64
	var firstErr error
	for _, name := range names {
		n, err := r.sweepers[name].DeleteExpired(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Str("table", name).Msg("reaper sweep failed")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "Reaper.Sweep %s", name)
			}
			continue
		}
		if r.recorder != nil {
			r.recorder.RecordReaped(name, n)
		}
		total += n
	}
	log.Debug().Int64("deleted", total).Time("cutoff", cutoff).Msg("reaper sweep finished")
	return total, firstErr
}

// Run schedules Sweep on a cron spec and blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		_, _ = r.Sweep(ctx)
	})
	if err != nil {
		return errors.Wrapf(err, "Reaper.Run invalid schedule %q", schedule)
	}
	r.cron.Start()
	log.Info().Str("schedule", schedule).Msg("reaper started")

	<-ctx.Done()
	<-r.cron.Stop().Done()
	log.Info().Msg("reaper stopped")
	return nil
}
