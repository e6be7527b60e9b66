package events

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/nats-io/nats.go"
	"github.com/seventv/presence/internal/svc/presences"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultSubjectPrefix = "presence.status"

type Options struct {
	URL           string
	SubjectPrefix string
	Name          string
	Clock         clock.Clock
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// Publisher announces presence transitions on NATS, one subject per identity.
type Publisher struct {
	nc     *nats.Conn
	conn   conn
	prefix string
	clock  clock.Clock
}

type Payload struct {
	ID          presences.Identity `json:"id"`
	State       presences.State    `json:"state"`
	LastChanged int64              `json:"last_changed"`
}

func New(opt Options) (*Publisher, error) {
	nc, err := nats.Connect(opt.URL, nats.Name(opt.Name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Annotate(err, "nats connect")
	}

	p := newPublisher(nc, opt)
	p.nc = nc

	return p, nil
}

func newPublisher(c conn, opt Options) *Publisher {
	p := &Publisher{
		conn:   c,
		prefix: strings.TrimSuffix(opt.SubjectPrefix, "."),
		clock:  opt.Clock,
	}

	if p.prefix == "" {
		p.prefix = DefaultSubjectPrefix
	}

	if p.clock == nil {
		p.clock = clock.WallClock
	}

	return p
}

func (p *Publisher) Subject(id presences.Identity) string {
	return p.prefix + "." + string(id)
}

// Name implements presences.Sink
func (p *Publisher) Name() string {
	return "events"
}

// Write implements presences.Sink. NATS has no server clock to defer to, so
// the sentinel resolves to the publisher's time.
func (p *Publisher) Write(ctx context.Context, id presences.Identity, rec presences.Record) error {
	at := rec.LastChanged.Time
	if rec.LastChanged.Server {
		at = p.clock.Now()
	}

	b, err := json.Marshal(Payload{
		ID:          id,
		State:       rec.State,
		LastChanged: at.UnixMilli(),
	})
	if err != nil {
		return errors.Trace(err)
	}

	if err := p.conn.Publish(p.Subject(id), b); err != nil {
		return errors.Annotatef(err, "publish %s", p.Subject(id))
	}

	return errors.Trace(p.conn.FlushWithContext(ctx))
}

func (p *Publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}

	return p.nc.Drain()
}

var _ conn = (*nats.Conn)(nil)

var _ presences.Sink = (*Publisher)(nil)
