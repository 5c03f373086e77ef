package api

import (
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
)

// adminRouteAccess IP-allowlists the operational debug surface
// (pprof). Its client-IP function is separate from request logging's
// resolver so pprof access can be pinned to an allowlist even when the
// ingress trusts a broader set of proxies for ordinary logging.
type adminRouteAccess struct {
	allowList []*net.IPNet
	clientIP  func(*http.Request) string
}

func newAdminRouteAccess(cidrs []string, clientIP func(*http.Request) string) adminRouteAccess {
	if clientIP == nil {
		resolver := newClientIPResolver(nil)
		clientIP = resolver.remoteHost
	}
	return adminRouteAccess{
		allowList: parseCIDRAllowlist(cidrs),
		clientIP:  clientIP,
	}
}

func (a adminRouteAccess) wrap(next http.Handler) http.Handler {
	if next == nil {
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allows(r) {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a adminRouteAccess) allows(r *http.Request) bool {
	if len(a.allowList) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(a.clientIP(r)))
	if ip == nil {
		return false
	}
	for _, block := range a.allowList {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) registerPprofRoutes() {
	guard := s.adminRouteAccess.wrap
	s.mux.Handle("GET /debug/pprof/", guard(http.HandlerFunc(pprof.Index)))
	s.mux.Handle("GET /debug/pprof/cmdline", guard(http.HandlerFunc(pprof.Cmdline)))
	s.mux.Handle("GET /debug/pprof/profile", guard(http.HandlerFunc(pprof.Profile)))
	s.mux.Handle("GET /debug/pprof/symbol", guard(http.HandlerFunc(pprof.Symbol)))
	s.mux.Handle("POST /debug/pprof/symbol", guard(http.HandlerFunc(pprof.Symbol)))
	s.mux.Handle("GET /debug/pprof/trace", guard(http.HandlerFunc(pprof.Trace)))
	s.mux.Handle("GET /debug/pprof/{profile}", guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile := strings.TrimSpace(r.PathValue("profile"))
		if profile == "" {
			http.NotFound(w, r)
			return
		}
		pprof.Handler(profile).ServeHTTP(w, r)
	})))
}
