package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/seventv/presence/internal/global"
	"go.uber.org/zap"
)

func New(gCtx global.Context) <-chan struct{} {
	done := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              gCtx.Config().PProf.Bind,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 10,
	}

	go func() {
		defer close(done)
		zap.S().Infow("PProf enabled",
			"bind", srv.Addr,
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("pprof failed to listen",
				"error", err,
			)
		}
	}()

	go func() {
		<-gCtx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}()

	return done
}
