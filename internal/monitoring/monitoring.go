package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seventv/presence/internal/global"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const MetricsPath = "/metrics"

// Registry collects the runtime and presence metrics of this process.
func Registry(gCtx global.Context) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if gCtx.Inst().Prometheus != nil {
		gCtx.Inst().Prometheus.Register(r)
	}

	return r
}

// Handler exposes r on MetricsPath and answers 404 anywhere else.
func Handler(r *prometheus.Registry) fasthttp.RequestHandler {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(r, promhttp.HandlerOpts{
		Registry:          r,
		EnableOpenMetrics: true,
	}))

	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != MetricsPath {
			ctx.SetStatusCode(fasthttp.StatusNotFound)

			return
		}

		metrics(ctx)
	}
}

func New(gCtx global.Context) <-chan struct{} {
	bind := gCtx.Config().Monitoring.Bind

	server := fasthttp.Server{
		Handler:          Handler(Registry(gCtx)),
		GetOnly:          true,
		DisableKeepalive: true,
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		zap.S().Infow("Monitoring enabled",
			"bind", bind,
			"path", MetricsPath,
		)

		if err := server.ListenAndServe(bind); err != nil {
			zap.S().Fatalw("failed to start monitoring bind",
				"error", err,
			)
		}
	}()

	go func() {
		<-gCtx.Done()

		_ = server.Shutdown()
	}()

	return done
}
