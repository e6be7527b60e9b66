package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const DefaultSweepInterval = time.Minute

type Metrics interface {
	ObserveFired(source string, records int64)
}

type ReaperOptions struct {
	Namespace     string
	Database      int
	SweepInterval time.Duration
	Clock         clock.Clock
	Metrics       Metrics
}

// Reaper is the server side of disconnect obligations. It executes the
// obligations of sessions whose lease has expired.
type Reaper struct {
	client   redis.UniversalClient
	keys     Keys
	db       int
	interval time.Duration
	clock    clock.Clock
	metrics  Metrics
}

func NewReaper(client redis.UniversalClient, opt ReaperOptions) *Reaper {
	r := &Reaper{
		client:   client,
		keys:     Keys{Prefix: opt.Namespace},
		db:       opt.Database,
		interval: opt.SweepInterval,
		clock:    opt.Clock,
		metrics:  opt.Metrics,
	}

	if r.keys.Prefix == "" {
		r.keys.Prefix = DefaultNamespace
	}

	if r.interval <= 0 {
		r.interval = DefaultSweepInterval
	}

	if r.clock == nil {
		r.clock = clock.WallClock
	}

	return r
}

func (r *Reaper) channel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", r.db)
}

// Run listens for lease expirations until ctx ends. Obligations missed while
// no reaper was listening are picked up by the periodic sweep.
func (r *Reaper) Run(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	if err := r.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		zap.S().Warnw("reaper, could not enable keyspace notifications, relying on sweeps",
			"error", err,
		)
	}

	pubsub := r.client.PSubscribe(ctx, r.channel())

	go func() {
		defer close(done)
		defer pubsub.Close()

		ch := pubsub.Channel()

		r.sweep(ctx)

		tick := r.clock.After(r.interval)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				r.expired(ctx, msg.Payload)
			case <-tick:
				r.sweep(ctx)

				tick = r.clock.After(r.interval)
			}
		}
	}()

	zap.S().Infow("Reaper enabled",
		"channel", r.channel(),
		"sweep_interval", r.interval,
	)

	return done
}

func (r *Reaper) expired(ctx context.Context, key string) {
	session, ok := r.keys.LeaseSession(key)
	if !ok {
		return
	}

	n, err := r.Fire(ctx, session)
	if err != nil {
		zap.S().Errorw("reaper, failed to fire disconnect obligation",
			"session", session,
			"error", err,
		)

		return
	}

	if n > 0 {
		r.observe("expired", n)
		zap.S().Debugw("disconnect obligation fired", "session", session, "records", n)
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.Sweep(ctx)
	if err != nil {
		zap.S().Errorw("reaper, sweep failed",
			"error", err,
		)
	}

	if n > 0 {
		zap.S().Infow("reaper, swept orphaned obligations", "records", n)
	}
}

// Fire executes the obligations of session if its lease is gone.
func (r *Reaper) Fire(ctx context.Context, session string) (int64, error) {
	n, err := fire(ctx, r.client, r.keys, session, false)

	return n, errors.Annotatef(err, "fire session %s", session)
}

// Sweep fires every obligation whose lease no longer exists and returns the
// number of records written.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	var (
		total  int64
		result *multierror.Error
	)

	iter := r.client.Scan(ctx, 0, r.keys.ObligationPattern(), 100).Iterator()
	for iter.Next(ctx) {
		session, ok := r.keys.ObligationSession(iter.Val())
		if !ok {
			continue
		}

		n, err := r.Fire(ctx, session)
		if err != nil {
			result = multierror.Append(result, err)

			continue
		}

		total += n
	}

	if err := iter.Err(); err != nil {
		result = multierror.Append(result, err)
	}

	r.observe("sweep", total)

	return total, result.ErrorOrNil()
}

func (r *Reaper) observe(source string, n int64) {
	if r.metrics != nil && n > 0 {
		r.metrics.ObserveFired(source, n)
	}
}
