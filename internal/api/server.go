package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitlake/gitlake/internal/auth"
	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/config"
	"github.com/gitlake/gitlake/internal/engine"
	"github.com/gitlake/gitlake/internal/metastore"
)

// defaultTokenDuration is used when config.Auth.TokenDuration is empty or
// fails to parse.
const defaultTokenDuration = 24 * time.Hour

// Server is the HTTP surface: the browsing/auth REST API and the git
// smart-HTTP protocol endpoints, sharing one engine and metadata store.
type Server struct {
	mux *http.ServeMux

	cfg     *config.Config
	metaDB  metastore.DB
	authSvc *auth.Service
	eng     *engine.Engine
	backend blobstore.Backend

	adminRouteAccess adminRouteAccess
	ipResolver       clientIPResolver
	metrics          *httpMetrics
	rateLimiter      *requestRateLimiter
	tenancy          tenantContextOptions
}

// NewServer wires the metadata store, engine, and blob backend into a
// routed http.Handler with the full ambient middleware stack: structured
// logging, CORS, rate limiting, body-size limiting, tracing, metrics, and
// tenant tagging.
func NewServer(cfg *config.Config, metaDB metastore.DB, eng *engine.Engine, backend blobstore.Backend) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		metaDB:  metaDB,
		authSvc: auth.NewService(cfg.Auth.JWTSecret, parseTokenDuration(cfg.Auth.TokenDuration)),
		eng:     eng,
		backend: backend,

		ipResolver:  newClientIPResolver(cfg.Server.TrustedProxies),
		metrics:     newHTTPMetrics(prometheus.DefaultRegisterer),
		rateLimiter: newRequestRateLimiter(),
		tenancy:     newTenantContextOptions(cfg.Tenancy.Enabled, cfg.Tenancy.Header, cfg.Tenancy.DefaultTenantID),
	}
	s.adminRouteAccess = newAdminRouteAccess(cfg.Server.TrustedProxies, s.ipResolver.remoteHost)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", metricsHandler(prometheus.DefaultGatherer))

	s.mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/v1/auth/me", s.handleMe)

	s.mux.HandleFunc("POST /api/v1/repos", s.handleCreateRepo)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}", s.handleGetRepo)
	s.mux.HandleFunc("DELETE /api/v1/repos/{owner}/{repo}", s.handleDeleteRepo)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/page", s.handleGetPageData)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/branches", s.handleListBranches)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/commits", s.handleListCommits)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/commits/{oid}", s.handleGetCommit)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/tree/{path...}", s.handleGetTree)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/tree-history/{path...}", s.handleTreeCommits)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/blob/{path...}", s.handleGetBlob)
	s.mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/debug/refs", s.handleDebugRefs)
	s.mux.HandleFunc("GET /api/v1/users/{owner}/repos", s.handleListUserRepos)

	s.mux.HandleFunc("GET /{owner}/{repo}/info/refs", s.handleInfoRefs)
	s.mux.HandleFunc("POST /{owner}/{repo}/git-upload-pack", s.handleUploadPack)
	s.mux.HandleFunc("POST /{owner}/{repo}/git-receive-pack", s.handleReceivePack)

	s.registerPprofRoutes()
}

// ServeHTTP applies the ambient middleware stack around the routed mux,
// outermost first: tracing wraps everything so spans cover rate-limit
// rejections, then metrics, then the request log, then CORS, tenant
// tagging, body-size limiting, rate limiting, and finally JWT auth.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var h http.Handler = s.mux
	h = auth.Middleware(s.authSvc)(h)
	h = requestRateLimitMiddleware(s.rateLimiter, s.ipResolver, h)
	h = requestBodyLimitMiddleware(h)
	h = tenantContextMiddleware(s.tenancy, s.ipResolver, h)
	h = corsMiddleware(s.cfg.Server.CORSAllowedOrigins, h)
	h = requestLoggingMiddleware(s.ipResolver, h)
	h = requestMetricsMiddleware(s.metrics, h)
	h = requestTracingMiddleware(h)
	h.ServeHTTP(w, r)
}

func parseTokenDuration(raw string) time.Duration {
	if raw == "" {
		return defaultTokenDuration
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultTokenDuration
	}
	return d
}
