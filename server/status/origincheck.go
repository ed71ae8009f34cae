package status

import (
	"net/http"
)

// originCheck pins each status path to the single Origin value it may be
// called with, and forbids framing, so a malicious page cannot pull the
// log out of the daemon.

type originCheck struct {
	handler http.Handler
	allowed map[string]string
}

const (
	originHeader      = "Origin"
	frameOriginHeader = "X-Frame-Options"
)

func (o *originCheck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if o.allowed[r.URL.Path] != r.Header.Get(originHeader) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set(frameOriginHeader, "DENY")
	o.handler.ServeHTTP(w, r)
}

func OriginCheck(allowed map[string]string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return &originCheck{
			allowed: allowed,
			handler: h,
		}
	}
}
