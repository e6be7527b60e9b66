package presences

import (
	"context"
)

// Start implements Mirror
func (p *inst) Start(ctx context.Context) <-chan struct{} {
	var (
		id Identity
		ok bool
	)

	if p.auth != nil {
		id, ok = p.auth.CurrentIdentity()
	}

	if !ok || id == "" {
		return p.noIdentity()
	}

	return p.observe(ctx, id)
}

// Observe implements Mirror
func (p *inst) Observe(ctx context.Context, id Identity) <-chan struct{} {
	if id == "" {
		return p.noIdentity()
	}

	return p.observe(ctx, id)
}

func (p *inst) noIdentity() <-chan struct{} {
	p.logger.Errorw("presence observer, no identity")

	done := make(chan struct{})
	close(done)

	return done
}

func (p *inst) observe(ctx context.Context, id Identity) <-chan struct{} {
	done := make(chan struct{})
	signal := p.primary.Connected(ctx)

	p.logger.Infow("observing presence", "identity", id)

	go func() {
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				return
			case connected, ok := <-signal:
				if !ok {
					p.logger.Warnw("presence connection signal closed", "identity", id)

					return
				}

				p.handle(ctx, id, connected)
			}
		}
	}()

	return done
}

// handle runs the writes for one connection signal value. The next value is
// not consumed until this returns.
func (p *inst) handle(ctx context.Context, id Identity, connected bool) {
	var steps []step

	if !connected {
		steps = p.documentSteps(id, Offline())
		steps = append(steps, p.eventSteps(id, Offline())...)
	} else {
		// The offline document write lands before anything is marked online.
		// Readers of the document store briefly see offline while the session is live.
		steps = append(steps, p.obligationStep(id, Offline()))
		steps = append(steps, p.documentSteps(id, Offline())...)
		steps = append(steps, p.eventSteps(id, Offline())...)
		steps = append(steps, p.writeStep(p.primary, id, Online()))
		steps = append(steps, p.documentSteps(id, Online())...)
		steps = append(steps, p.eventSteps(id, Online())...)
	}

	if name, err := run(ctx, steps); err != nil {
		p.metrics.ObservePipelineFailure(name)
		p.logger.Errorw("presence update aborted",
			"identity", id,
			"connected", connected,
			"step", name,
			"error", err,
		)

		return
	}

	p.logger.Debugw("presence updated", "identity", id, "connected", connected)
}

func (p *inst) obligationStep(id Identity, rec Record) step {
	return step{
		name: "register disconnect " + p.primary.Name(),
		fn: func(ctx context.Context) error {
			err := p.primary.OnDisconnect(ctx, id, rec)
			p.metrics.ObserveObligation(err)

			return err
		},
	}
}

func (p *inst) writeStep(s Sink, id Identity, rec Record) step {
	return step{
		name: "write " + string(rec.State) + " " + s.Name(),
		fn: func(ctx context.Context) error {
			err := s.Write(ctx, id, rec)
			p.metrics.ObserveWrite(s.Name(), rec.State, err)

			return err
		},
	}
}

func (p *inst) documentSteps(id Identity, rec Record) []step {
	steps := make([]step, len(p.documents))
	for i, s := range p.documents {
		steps[i] = p.writeStep(s, id, rec)
	}

	return steps
}

func (p *inst) eventSteps(id Identity, rec Record) []step {
	steps := make([]step, len(p.events))
	for i, s := range p.events {
		w := p.writeStep(s, id, rec)

		steps[i] = step{
			name: w.name,
			fn: func(ctx context.Context) error {
				if err := w.fn(ctx); err != nil {
					p.logger.Warnw("presence event not delivered",
						"identity", id,
						"step", w.name,
						"error", err,
					)
				}

				return nil
			},
		}
	}

	return steps
}
