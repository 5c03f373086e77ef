package api

import (
	"context"
	"net/http"
	"net/textproto"
	"strings"
)

const defaultTenantHeader = "X-Gitlake-Tenant-ID"

type tenantContextKey struct{}

type tenantContextOptions struct {
	enabled         bool
	headerName      string
	defaultTenantID string
}

func newTenantContextOptions(enabled bool, headerName, defaultTenantID string) tenantContextOptions {
	name := strings.TrimSpace(headerName)
	if name == "" {
		name = defaultTenantHeader
	}
	return tenantContextOptions{
		enabled:         enabled,
		headerName:      textproto.CanonicalMIMEHeaderKey(name),
		defaultTenantID: strings.TrimSpace(defaultTenantID),
	}
}

// tenantContextMiddleware stamps a tenant ID onto the request context so
// downstream logging/metrics can attribute requests to a caller-supplied
// tenant. There is no per-tenant data partitioning here — the projected
// branch-metadata table and blob-store prefixes are already scoped per
// repository, which is a finer grain than tenancy — so this exists purely
// as a request-attribution tag for multi-tenant deployments that front
// several customers behind one instance.
func tenantContextMiddleware(opts tenantContextOptions, ipResolver clientIPResolver, next http.Handler) http.Handler {
	if !opts.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := opts.defaultTenantID
		if ipResolver.trustXForwardedFor(r) {
			if headerTenantID := firstHeaderToken(r.Header.Values(opts.headerName)); headerTenantID != "" {
				tenantID = headerTenantID
			}
		}

		if tenantID == "" {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantContextKey{}, tenantID)))
	})
}

func tenantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantContextKey{}).(string)
	return id
}

func firstHeaderToken(values []string) string {
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return ""
}
