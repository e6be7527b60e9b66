package presences

import (
	"context"

	"github.com/juju/errors"
)

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// run executes steps in order, each one only after the previous has been
// acknowledged. It stops at the first failure and returns the failing step's name.
func run(ctx context.Context, steps []step) (string, error) {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return s.name, errors.Trace(err)
		}

		if err := s.fn(ctx); err != nil {
			return s.name, errors.Annotatef(err, "presence step %q", s.name)
		}
	}

	return "", nil
}
