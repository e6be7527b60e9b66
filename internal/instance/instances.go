package instance

import (
	"github.com/seventv/presence/internal/svc/documents"
	"github.com/seventv/presence/internal/svc/events"
	"github.com/seventv/presence/internal/svc/presences"
	"github.com/seventv/presence/internal/svc/prometheus"
	"github.com/seventv/presence/internal/svc/realtime"
)

type Instances struct {
	Redis      *realtime.Store
	Reaper     *realtime.Reaper
	Mongo      *documents.Store
	Events     *events.Publisher
	Auth       presences.Authenticator
	Presences  presences.Mirror
	Prometheus prometheus.Instance
}
