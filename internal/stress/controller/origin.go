package controller

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"stressjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// OriginHosts returns the host:port values a browser on the server's own
// address sends as Origin. A wildcard or loopback address also admits
// localhost and 127.0.0.1 on the same port.
func OriginHosts(addr string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	switch host {
	case "", "0.0.0.0", "::", "localhost", "127.0.0.1":
		return []string{net.JoinHostPort("localhost", port), net.JoinHostPort("127.0.0.1", port)}
	default:
		return []string{net.JoinHostPort(host, port)}
	}
}

// normalizeOrigins accepts bare host:port entries as well as full origins.
func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if strings.Contains(o, "://") {
			u, err := url.Parse(o)
			if err != nil {
				continue
			}
			o = u.Host
		}
		if o != "" {
			out = append(out, strings.ToLower(o))
		}
	}
	return out
}

// originAllowed reports whether a request may act on runs. Requests without
// an Origin header do not come from a browser page and are allowed. With no
// configured hosts only same-host origins pass.
func (h *RunController) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if len(h.allowedHosts) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, host := range h.allowedHosts {
		if strings.EqualFold(u.Host, host) {
			return true
		}
	}
	return false
}

// requireOrigin rejects cross-site requests before they reach a run handler.
func (h *RunController) requireOrigin(c *gin.Context) {
	if !h.originAllowed(c.Request) {
		response.Forbidden(c, "Origin not allowed")
		c.Abort()
		return
	}
	c.Next()
}
