package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bugsnag/panicwrap"
	"github.com/seventv/presence/internal/configure"
	"github.com/seventv/presence/internal/global"
	"github.com/seventv/presence/internal/health"
	"github.com/seventv/presence/internal/monitoring"
	"github.com/seventv/presence/internal/pprof"
	"github.com/seventv/presence/internal/svc/auth"
	"github.com/seventv/presence/internal/svc/documents"
	"github.com/seventv/presence/internal/svc/events"
	"github.com/seventv/presence/internal/svc/presences"
	"github.com/seventv/presence/internal/svc/prometheus"
	"github.com/seventv/presence/internal/svc/realtime"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	Version = "development"
	Unix    = ""
	Time    = "unknown"
	User    = "unknown"
)

func init() {
	if i, err := strconv.Atoi(Unix); err == nil {
		Time = time.Unix(int64(i), 0).Format(time.RFC3339)
	}
}

func main() {
	config := configure.New()

	exitStatus, err := panicwrap.BasicWrap(func(s string) {
		zap.S().Errorw("panic detected",
			"panic", s,
		)
	})
	if err != nil {
		zap.S().Errorw("failed to setup panic handler",
			"error", err,
		)
		os.Exit(2)
	}

	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	if !config.NoHeader {
		zap.S().Info("7TV Presence")
		zap.S().Infof("Version: %s", Version)
		zap.S().Infof("build.Time: %s", Time)
		zap.S().Infof("build.User: %s", User)
	}

	zap.S().Debugf("MaxProcs: %d", runtime.GOMAXPROCS(0))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	{
		gCtx.Inst().Prometheus = prometheus.New(prometheus.Options{
			Labels: config.Monitoring.Labels.ToPrometheus(),
		})
	}

	{
		ctx, cancel := context.WithTimeout(gCtx, time.Second*15)
		gCtx.Inst().Redis, err = realtime.New(ctx, realtime.Options{
			Addresses:    config.Redis.Addresses,
			Username:     config.Redis.Username,
			Password:     config.Redis.Password,
			Database:     config.Redis.Database,
			Sentinel:     config.Redis.Sentinel,
			MasterName:   config.Redis.MasterName,
			Namespace:    config.Redis.Namespace,
			LeaseTTL:     config.Presence.LeaseTTL,
			PingInterval: config.Presence.PingInterval,
		})
		cancel()
		if err != nil {
			zap.S().Fatalw("failed to connect to redis",
				"error", err,
			)
		}
	}

	{
		ctx, cancel := context.WithTimeout(gCtx, time.Second*15)
		gCtx.Inst().Mongo, err = documents.New(ctx, documents.Options{
			URI:        config.Mongo.URI,
			Username:   config.Mongo.Username,
			Password:   config.Mongo.Password,
			DB:         config.Mongo.DB,
			Collection: config.Mongo.Collection,
			Direct:     config.Mongo.Direct,
		})
		cancel()
		if err != nil {
			zap.S().Fatalw("failed to connect to mongo",
				"error", err,
			)
		}
	}

	var notifiers []presences.Sink

	if config.NATS.Enabled {
		gCtx.Inst().Events, err = events.New(events.Options{
			URL:           config.NATS.URL,
			SubjectPrefix: config.NATS.SubjectPrefix,
			Name:          "presenced",
		})
		if err != nil {
			zap.S().Fatalw("failed to connect to nats",
				"error", err,
			)
		}

		notifiers = append(notifiers, gCtx.Inst().Events)
	}

	{
		gCtx.Inst().Auth = auth.New(auth.Options{
			JWTSecret: config.Credentials.JWTSecret,
			Token:     config.Credentials.Token,
		})

		gCtx.Inst().Presences = presences.New(presences.Options{
			Auth:      gCtx.Inst().Auth,
			Primary:   gCtx.Inst().Redis,
			Documents: []presences.Sink{gCtx.Inst().Mongo},
			Events:    notifiers,
			Metrics:   gCtx.Inst().Prometheus,
		})
	}

	wg := sync.WaitGroup{}

	if config.Reaper.Enabled {
		gCtx.Inst().Reaper = realtime.NewReaper(gCtx.Inst().Redis.Client(), realtime.ReaperOptions{
			Namespace:     config.Redis.Namespace,
			Database:      config.Redis.Database,
			SweepInterval: config.Reaper.SweepInterval,
			Metrics:       gCtx.Inst().Prometheus,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gCtx.Inst().Reaper.Run(gCtx)
		}()
	}

	if config.Presence.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gCtx.Inst().Presences.Start(gCtx)
		}()
	}

	if config.Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-health.New(gCtx)
		}()
	}

	if config.Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-monitoring.New(gCtx)
		}()
	}

	if config.PProf.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-pprof.New(gCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		<-sig
		cancel()
		go func() {
			select {
			case <-time.After(time.Minute):
			case <-sig:
			}
			zap.S().Fatal("force shutdown")
		}()

		zap.S().Info("shutting down")

		wg.Wait()

		close(done)
	}()

	zap.S().Info("running")

	<-done

	if err := shutdown(gCtx); err != nil {
		zap.S().Errorw("unclean shutdown",
			"error", err,
		)
	}

	zap.S().Info("shutdown")
	os.Exit(0)
}

// shutdown fires this session's disconnect obligations right away and
// releases the store connections.
func shutdown(gCtx global.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	inst := gCtx.Inst()

	n, err := inst.Redis.Disconnect(ctx)
	if n > 0 {
		zap.S().Infow("fired disconnect obligations", "records", n)
	}

	if inst.Events != nil {
		err = multierr.Append(err, inst.Events.Close())
	}

	return multierr.Combine(
		err,
		inst.Mongo.Close(ctx),
		inst.Redis.Close(),
	)
}
