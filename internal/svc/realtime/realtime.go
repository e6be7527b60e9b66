package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/seventv/presence/internal/svc/presences"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ presences.Primary = (*Store)(nil)

const (
	DefaultLeaseTTL     = 30 * time.Second
	DefaultPingInterval = 10 * time.Second
)

type Options struct {
	Addresses  []string
	Username   string
	Password   string
	Database   int
	Sentinel   bool
	MasterName string
	Namespace  string

	// LeaseTTL is how long the server keeps the session alive without a renewal.
	LeaseTTL     time.Duration
	PingInterval time.Duration
	Clock        clock.Clock
}

// Store is the realtime presence store. Each Store is one client session:
// disconnect obligations it registers are bound to its session lease.
type Store struct {
	client   redis.UniversalClient
	keys     Keys
	session  string
	leaseTTL time.Duration
	interval time.Duration
	clock    clock.Clock

	// registered is set while the session lease is expected to exist
	registered atomic.Bool
}

// Dial builds a standalone or sentinel client. Several addresses without
// sentinel would make a cluster client, which the scripts do not support.
func Dial(opt Options) (redis.UniversalClient, error) {
	if !opt.Sentinel && len(opt.Addresses) > 1 {
		return nil, errors.NotValidf("%d redis addresses without sentinel", len(opt.Addresses))
	}

	uo := &redis.UniversalOptions{
		Addrs:    opt.Addresses,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.Database,
	}

	if opt.Sentinel {
		uo.MasterName = opt.MasterName
	}

	return redis.NewUniversalClient(uo), nil
}

func New(ctx context.Context, opt Options) (*Store, error) {
	client, err := Dial(opt)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, errors.Annotate(err, "redis ping")
	}

	return NewWithClient(client, opt), nil
}

func NewWithClient(client redis.UniversalClient, opt Options) *Store {
	s := &Store{
		client:   client,
		keys:     Keys{Prefix: opt.Namespace},
		session:  uuid.NewString(),
		leaseTTL: opt.LeaseTTL,
		interval: opt.PingInterval,
		clock:    opt.Clock,
	}

	if s.keys.Prefix == "" {
		s.keys.Prefix = DefaultNamespace
	}

	if s.leaseTTL <= 0 {
		s.leaseTTL = DefaultLeaseTTL
	}

	if s.interval <= 0 {
		s.interval = DefaultPingInterval
	}

	if s.clock == nil {
		s.clock = clock.WallClock
	}

	// two missed pings must not let the lease run out
	if s.leaseTTL <= 2*s.interval {
		zap.S().Warnw("presence lease too short for the ping interval, extending",
			"lease_ttl", s.leaseTTL,
			"ping_interval", s.interval,
		)

		s.leaseTTL = 3 * s.interval
	}

	return s
}

func (s *Store) Client() redis.UniversalClient {
	return s.client
}

func (s *Store) Keys() Keys {
	return s.keys
}

func (s *Store) Session() string {
	return s.session
}

// Name implements presences.Sink
func (s *Store) Name() string {
	return "realtime"
}

// Write implements presences.Sink
func (s *Store) Write(ctx context.Context, id presences.Identity, rec presences.Record) error {
	err := writeScript.Run(ctx, s.client, []string{s.keys.Status(id)}, string(rec.State), millis(rec.LastChanged)).Err()

	return errors.Annotatef(err, "write %s", s.keys.Status(id))
}

// OnDisconnect implements presences.Primary
func (s *Store) OnDisconnect(ctx context.Context, id presences.Identity, rec presences.Record) error {
	payload, err := encodeObligation(rec)
	if err != nil {
		return errors.Trace(err)
	}

	if err := registerScript.Run(ctx, s.client,
		[]string{s.keys.Obligation(s.session), s.keys.Lease(s.session)},
		s.keys.Status(id),
		payload,
		s.leaseTTL.Milliseconds(),
	).Err(); err != nil {
		return errors.Annotatef(err, "register disconnect for %s", s.keys.Status(id))
	}

	s.registered.Store(true)

	zap.S().Debugw("disconnect obligation registered",
		"identity", id,
		"session", s.session,
		"lease_ttl", s.leaseTTL,
	)

	return nil
}

// Renew extends the session lease and reports whether it is still held.
// Without a registered obligation there is nothing to hold and it reports true.
//
// A lease found missing was reaped, so its obligations have already been
// written. Renew reports false once and forgets the registration; the
// caller must register again.
func (s *Store) Renew(ctx context.Context) (bool, error) {
	if !s.registered.Load() {
		return true, nil
	}

	ok, err := s.client.PExpire(ctx, s.keys.Lease(s.session), s.leaseTTL).Result()
	if err != nil {
		return false, errors.Annotate(err, "renew lease")
	}

	if !ok {
		s.registered.Store(false)

		return false, nil
	}

	return true, nil
}

// Disconnect ends the session gracefully, executing its obligations now
// rather than after the lease runs out.
func (s *Store) Disconnect(ctx context.Context) (int64, error) {
	s.registered.Store(false)

	n, err := fire(ctx, s.client, s.keys, s.session, true)

	return n, errors.Trace(err)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// millis encodes a timestamp for the scripts; -1 asks for the server clock.
func millis(ts presences.Timestamp) int64 {
	if ts.Server {
		return -1
	}

	return ts.Time.UnixMilli()
}

type obligation struct {
	State       presences.State `json:"state"`
	LastChanged int64           `json:"last_changed"`
}

func encodeObligation(rec presences.Record) (string, error) {
	b, err := json.Marshal(obligation{
		State:       rec.State,
		LastChanged: millis(rec.LastChanged),
	})

	return string(b), err
}
