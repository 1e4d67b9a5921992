package httpmiddleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Origins is the set of browser origins allowed to call the API with credentials.
// Pages served from the API's own host are always allowed.
type Origins struct {
	allowed map[string]bool
}

// NewOrigins builds the allow-list. Entries are compared without a trailing slash.
func NewOrigins(list []string) Origins {
	o := Origins{allowed: make(map[string]bool, len(list))}
	for _, v := range list {
		o.allowed[strings.TrimRight(strings.TrimSpace(v), "/")] = true
	}
	return o
}

// Allow reports whether origin is on the list. Used for CORS, which admits
// same-host requests on its own.
func (o Origins) Allow(origin string) bool {
	return o.allowed[strings.TrimRight(origin, "/")]
}

// CheckRequest admits requests without an Origin header, same-host pages and listed
// origins. It fits websocket.Upgrader.CheckOrigin.
func (o Origins) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || o.Allow(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
