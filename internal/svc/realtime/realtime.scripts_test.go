package realtime

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/seventv/presence/internal/svc/presences"
	"github.com/seventv/presence/internal/testutil"
)

const testLease = 30 * time.Second

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, NewWithClient(client, Options{
		LeaseTTL:     testLease,
		PingInterval: 10 * time.Second,
	})
}

// serverMillis asserts last_changed holds a millisecond timestamp taken around now.
func serverMillis(t *testing.T, mr *miniredis.Miniredis, key string, before time.Time) {
	t.Helper()

	ms, err := strconv.ParseInt(mr.HGet(key, "last_changed"), 10, 64)
	testutil.IsNil(t, err, "last_changed is an integer")
	testutil.Assert(t, true, ms >= before.Add(-time.Second).UnixMilli(), "last_changed after start")
	testutil.Assert(t, true, ms <= time.Now().Add(time.Second).UnixMilli(), "last_changed before now")
}

type fakeReaperMetrics struct {
	mx    sync.Mutex
	fired map[string]int64
}

func (m *fakeReaperMetrics) ObserveFired(source string, records int64) {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.fired[source] += records
}

func TestStoreWrite(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()
	key := s.Keys().Status("u1")

	before := time.Now()
	testutil.IsNil(t, s.Write(ctx, "u1", presences.Online()), "write online")

	testutil.Assert(t, "online", mr.HGet(key, "state"), "state")
	serverMillis(t, mr, key, before)

	at := time.UnixMilli(1700000000123)
	testutil.IsNil(t, s.Write(ctx, "u1", presences.Record{
		State:       presences.StateOffline,
		LastChanged: presences.At(at),
	}), "write offline")

	testutil.Assert(t, "offline", mr.HGet(key, "state"), "state")
	testutil.Assert(t, "1700000000123", mr.HGet(key, "last_changed"), "fixed timestamp")
}

func TestOnDisconnectRegisters(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register")

	testutil.Assert(t, true, mr.Exists(s.Keys().Lease(s.Session())), "lease set")
	testutil.Assert(t, testLease, mr.TTL(s.Keys().Lease(s.Session())), "lease ttl")
	testutil.Assert(t, `{"state":"offline","last_changed":-1}`,
		mr.HGet(s.Keys().Obligation(s.Session()), s.Keys().Status("u1")), "obligation")
}

func TestObligationLifecycle(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()
	key := s.Keys().Status("u1")

	metrics := &fakeReaperMetrics{fired: map[string]int64{}}
	r := NewReaper(s.Client(), ReaperOptions{Metrics: metrics})

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register")
	testutil.IsNil(t, s.Write(ctx, "u1", presences.Online()), "write online")

	n, err := r.Sweep(ctx)
	testutil.IsNil(t, err, "sweep with live lease")
	testutil.Assert(t, int64(0), n, "nothing fired while the lease is held")
	testutil.Assert(t, "online", mr.HGet(key, "state"), "still online")

	mr.FastForward(testLease + time.Second)

	before := time.Now()
	n, err = r.Sweep(ctx)
	testutil.IsNil(t, err, "sweep after expiry")
	testutil.Assert(t, int64(1), n, "obligation fired")
	testutil.Assert(t, "offline", mr.HGet(key, "state"), "offline written")
	serverMillis(t, mr, key, before)
	testutil.Assert(t, false, mr.Exists(s.Keys().Obligation(s.Session())), "obligation removed")

	n, err = r.Sweep(ctx)
	testutil.IsNil(t, err, "second sweep")
	testutil.Assert(t, int64(0), n, "fired once")

	testutil.Assert(t, int64(1), metrics.fired["sweep"], "fired metric")
}

func TestExpiredLeaseFires(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()

	metrics := &fakeReaperMetrics{fired: map[string]int64{}}
	r := NewReaper(s.Client(), ReaperOptions{Metrics: metrics})

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register u1")
	testutil.IsNil(t, s.OnDisconnect(ctx, "u2", presences.Offline()), "register u2")

	// not a lease key
	r.expired(ctx, s.Keys().Status("u1"))
	testutil.Assert(t, true, mr.Exists(s.Keys().Obligation(s.Session())), "obligation kept")

	mr.FastForward(testLease + time.Second)
	r.expired(ctx, s.Keys().Lease(s.Session()))

	testutil.Assert(t, "offline", mr.HGet(s.Keys().Status("u1"), "state"), "u1 offline")
	testutil.Assert(t, "offline", mr.HGet(s.Keys().Status("u2"), "state"), "u2 offline")
	testutil.Assert(t, int64(2), metrics.fired["expired"], "fired metric")

	n, err := r.Fire(ctx, s.Session())
	testutil.IsNil(t, err, "fire again")
	testutil.Assert(t, int64(0), n, "fired once")
}

func TestDisconnectFiresImmediately(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()
	key := s.Keys().Status("u1")

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register")
	testutil.IsNil(t, s.Write(ctx, "u1", presences.Online()), "write online")

	n, err := s.Disconnect(ctx)
	testutil.IsNil(t, err, "disconnect")
	testutil.Assert(t, int64(1), n, "fired with a live lease")
	testutil.Assert(t, "offline", mr.HGet(key, "state"), "offline written")
	testutil.Assert(t, false, mr.Exists(s.Keys().Lease(s.Session())), "lease dropped")

	n, err = s.Disconnect(ctx)
	testutil.IsNil(t, err, "second disconnect")
	testutil.Assert(t, int64(0), n, "nothing left")
}

func TestRenewAfterReap(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()
	lease := s.Keys().Lease(s.Session())

	alive, err := s.Renew(ctx)
	testutil.IsNil(t, err, "renew before register")
	testutil.Assert(t, true, alive, "nothing to hold")

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register")

	mr.FastForward(10 * time.Second)
	alive, err = s.Renew(ctx)
	testutil.IsNil(t, err, "renew")
	testutil.Assert(t, true, alive, "lease held")
	testutil.Assert(t, testLease, mr.TTL(lease), "lease extended")

	mr.FastForward(testLease + time.Second)
	_, err = NewReaper(s.Client(), ReaperOptions{}).Sweep(ctx)
	testutil.IsNil(t, err, "sweep")

	alive, err = s.Renew(ctx)
	testutil.IsNil(t, err, "renew after reap")
	testutil.Assert(t, false, alive, "lease lapsed")

	alive, err = s.Renew(ctx)
	testutil.IsNil(t, err, "renew after lapse reported")
	testutil.Assert(t, true, alive, "registration forgotten")

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register again")
	testutil.Assert(t, true, mr.Exists(lease), "lease set again")
}

func TestReachableReportsLapsedLeaseOnce(t *testing.T) {
	t.Parallel()

	mr, s := newTestStore(t)
	ctx := context.Background()

	testutil.IsNil(t, reachable(ctx, s), "no obligation yet")

	testutil.IsNil(t, s.OnDisconnect(ctx, "u1", presences.Offline()), "register")
	testutil.IsNil(t, reachable(ctx, s), "lease held")

	mr.FastForward(testLease + time.Second)

	testutil.AssertErr(t, errLeaseLapsed, reachable(ctx, s), "lapsed lease reported")
	testutil.IsNil(t, reachable(ctx, s), "healthy once reported")
}
