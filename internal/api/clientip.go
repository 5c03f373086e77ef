package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// defaultTrustedProxyCIDRs mirrors the teacher's admin-route allowlist
// default: only the loopback adapter is trusted to supply a
// X-Forwarded-For header until the operator configures real proxies.
var defaultTrustedProxyCIDRs = []string{
	"127.0.0.1/32",
	"::1/128",
}

// clientIPResolver extracts the real client address from a request,
// trusting X-Forwarded-For only when the immediate peer (RemoteAddr) is
// itself a configured trusted proxy. An empty/nil proxy list falls back
// to trusting loopback only, so a freshly deployed instance never blindly
// believes a spoofable header.
type clientIPResolver struct {
	trusted []*net.IPNet
}

func newClientIPResolver(trustedProxyCIDRs []string) clientIPResolver {
	cidrs := trustedProxyCIDRs
	if len(cidrs) == 0 {
		cidrs = defaultTrustedProxyCIDRs
	}
	return clientIPResolver{trusted: parseCIDRAllowlist(cidrs)}
}

func parseCIDRAllowlist(cidrs []string) []*net.IPNet {
	result := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if ip := net.ParseIP(value); ip != nil {
			bits := 128
			if v4 := ip.To4(); v4 != nil {
				ip = v4
				bits = 32
			}
			result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, block, err := net.ParseCIDR(value)
		if err != nil {
			slog.Warn("invalid trusted-proxy CIDR entry; ignoring", "cidr", value, "error", err)
			continue
		}
		result = append(result, block)
	}
	return result
}

func (c clientIPResolver) remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// trustXForwardedFor reports whether the immediate peer is a trusted proxy.
func (c clientIPResolver) trustXForwardedFor(r *http.Request) bool {
	ip := net.ParseIP(c.remoteHost(r))
	if ip == nil {
		return false
	}
	for _, block := range c.trusted {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIPFromRequest returns the left-most X-Forwarded-For entry when the
// peer is trusted, otherwise RemoteAddr's host.
func (c clientIPResolver) clientIPFromRequest(r *http.Request) string {
	if c.trustXForwardedFor(r) {
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			if idx := strings.Index(forwarded, ","); idx >= 0 {
				forwarded = strings.TrimSpace(forwarded[:idx])
			}
			if forwarded != "" {
				return forwarded
			}
		}
	}
	return c.remoteHost(r)
}
