package realtime

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const signalBuffer = 64

var errLeaseLapsed = errors.New("presence lease lapsed")

type pinger interface {
	Ping(ctx context.Context) error
	Renew(ctx context.Context) (bool, error)
}

// reachable succeeds when the store answers and the session lease, if any, is held.
func reachable(ctx context.Context, p pinger) error {
	if err := p.Ping(ctx); err != nil {
		return err
	}

	alive, err := p.Renew(ctx)
	if err != nil {
		return err
	}

	if !alive {
		return errLeaseLapsed
	}

	return nil
}

// Connected implements presences.Primary
func (s *Store) Connected(ctx context.Context) <-chan bool {
	return watch(ctx, s, s.clock, s.interval)
}

// watch pings the store every interval and delivers the first
// observation followed by every change. A successful ping also renews the
// session lease, so the lease lapses once the connection is lost. A lease
// that lapsed anyway or cannot be renewed counts as a disconnect, so the
// next connect registers the obligation again.
func watch(ctx context.Context, p pinger, clk clock.Clock, interval time.Duration) <-chan bool {
	ch := make(chan bool, signalBuffer)

	go func() {
		defer close(ch)

		var (
			last bool
			seen bool
		)

		for {
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := reachable(pctx, p)
			up := err == nil
			cancel()

			if ctx.Err() != nil {
				return
			}

			if !seen || up != last {
				if !up {
					zap.S().Warnw("realtime store disconnected",
						"error", err,
					)
				}

				select {
				case ch <- up:
				case <-ctx.Done():
					return
				}

				seen, last = true, up
			}

			select {
			case <-ctx.Done():
				return
			case <-clk.After(interval):
			}
		}
	}()

	return ch
}
