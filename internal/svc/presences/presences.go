package presences

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Identity string

type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Timestamp is either a concrete point in time or the server timestamp
// sentinel, which asks the store to substitute its own clock at commit.
type Timestamp struct {
	Time   time.Time
	Server bool
}

// ServerTimestamp is the sentinel resolved by each store on commit.
var ServerTimestamp = Timestamp{Server: true}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

type Record struct {
	State       State
	LastChanged Timestamp
}

func Online() Record {
	return Record{State: StateOnline, LastChanged: ServerTimestamp}
}

func Offline() Record {
	return Record{State: StateOffline, LastChanged: ServerTimestamp}
}

// Authenticator resolves the actor this process is observing presence for.
type Authenticator interface {
	CurrentIdentity() (Identity, bool)
}

type Sink interface {
	Name() string
	Write(ctx context.Context, id Identity, rec Record) error
}

// Primary is the realtime store. Besides plain writes it provides the
// connection signal and accepts disconnect obligations, writes the store
// performs on its own once this client's connection is lost.
type Primary interface {
	Sink
	// Connected delivers the connection state, one value per change, until ctx ends.
	Connected(ctx context.Context) <-chan bool
	// OnDisconnect returns once the store has accepted the obligation, not once it fired.
	OnDisconnect(ctx context.Context, id Identity, rec Record) error
}

type Metrics interface {
	ObserveWrite(store string, state State, err error)
	ObserveObligation(err error)
	ObservePipelineFailure(step string)
}

type Mirror interface {
	// Start observes the identity reported by the authenticator.
	Start(ctx context.Context) <-chan struct{}
	// Observe mirrors the presence of id until ctx ends or the connection signal closes.
	Observe(ctx context.Context, id Identity) <-chan struct{}
}

type Options struct {
	Auth      Authenticator
	Primary   Primary
	Documents []Sink
	// Events receive every document transition. A failed event write is
	// logged and does not abort the update.
	Events  []Sink
	Metrics Metrics
	Logger  *zap.SugaredLogger
}

type inst struct {
	auth      Authenticator
	primary   Primary
	documents []Sink
	events    []Sink
	metrics   Metrics
	logger    *zap.SugaredLogger
}

func New(opt Options) Mirror {
	p := &inst{
		auth:      opt.Auth,
		primary:   opt.Primary,
		documents: opt.Documents,
		events:    opt.Events,
		metrics:   opt.Metrics,
		logger:    opt.Logger,
	}

	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}

	if p.logger == nil {
		p.logger = zap.S()
	}

	return p
}

type noopMetrics struct{}

func (noopMetrics) ObserveWrite(string, State, error) {}
func (noopMetrics) ObserveObligation(error)           {}
func (noopMetrics) ObservePipelineFailure(string)     {}
