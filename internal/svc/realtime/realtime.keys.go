package realtime

import (
	"strings"

	"github.com/seventv/presence/internal/svc/presences"
)

const DefaultNamespace = "presence"

// Keys composes the redis keys used for presence state.
//
//	<prefix>:status:<identity>        hash {state, last_changed}
//	<prefix>:lease:<session>          session lease, expires when the client stops renewing
//	<prefix>:ondisconnect:<session>   hash {status key: encoded record}
type Keys struct {
	Prefix string
}

func (k Keys) compose(parts ...string) string {
	return strings.Join(append([]string{k.Prefix}, parts...), ":")
}

func (k Keys) Status(id presences.Identity) string {
	return k.compose("status", string(id))
}

func (k Keys) Lease(session string) string {
	return k.compose("lease", session)
}

func (k Keys) Obligation(session string) string {
	return k.compose("ondisconnect", session)
}

func (k Keys) ObligationPattern() string {
	return k.compose("ondisconnect", "*")
}

func (k Keys) LeaseSession(key string) (string, bool) {
	return cutSession(key, k.compose("lease")+":")
}

func (k Keys) ObligationSession(key string) (string, bool) {
	return cutSession(key, k.compose("ondisconnect")+":")
}

func cutSession(key, prefix string) (string, bool) {
	session, ok := strings.CutPrefix(key, prefix)
	if !ok || session == "" || strings.Contains(session, ":") {
		return "", false
	}

	return session, true
}
