package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"Swapper-Chain/internal/auth"
	"Swapper-Chain/internal/job"
	"Swapper-Chain/internal/observability/metrics"
	"Swapper-Chain/pkg/logger"
)

// ChainCatalog 提供链客户端及其名称列表。
type ChainCatalog interface {
	job.ChainResolver
	Chains() []string
	DefaultChain() string
}

// Options 控制 HTTP 服务的监听与限流参数。
type Options struct {
	Address string
	// RateLimit 为每个 IP 在 RateWindow 内允许的请求数，0 表示不限流。
	RateLimit  int
	RateWindow time.Duration
	// MetricsPath 为空时不暴露指标。
	MetricsPath string
}

// Server 负责暴露 REST 接口，供外部提交和查询 swap。
type Server struct {
	opts   Options
	jobs   *job.Service
	chains ChainCatalog
	auth   *auth.Service
	router chi.Router
}

// NewServer 构造 API 服务实例。authSvc 为 nil 时不做鉴权。
func NewServer(opts Options, jobs *job.Service, chains ChainCatalog, authSvc *auth.Service) *Server {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	s := &Server{opts: opts, jobs: jobs, chains: chains, auth: authSvc}
	s.router = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer)
	r.Use(observe)
	if s.opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, s.opts.RateWindow))
	}

	r.Get("/healthz", s.handleHealth)
	if s.opts.MetricsPath != "" {
		r.Handle(s.opts.MetricsPath, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/swaps", func(r chi.Router) {
			r.Use(s.auth.Middleware(auth.MiddlewareConfig{
				RequiredPermissions: map[string][]string{
					http.MethodPost: {auth.PermissionSwapsWrite},
					"*":             {auth.PermissionSwapsRead},
				},
				AuditEvent: "swaps",
			}))
			r.Post("/", s.handleSubmitSwap)
			r.Get("/", s.handleListSwaps)
			r.Get("/stats", s.handleSwapStats)
			r.Get("/{id}", s.handleGetSwap)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware(auth.MiddlewareConfig{
				RequiredPermissions: map[string][]string{"*": {auth.PermissionQuotesRead}},
				AuditEvent:          "chain_read",
			}))
			r.Get("/chains", s.handleChains)
			r.Post("/quotes", s.handleQuote)
			r.Get("/balances", s.handleBalance)
			r.Get("/tokens/{address}", s.handleToken)
		})
		r.With(s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{"*": {auth.PermissionSwapsWrite}},
			AuditEvent:          "approvals",
		})).Post("/approvals", s.handleApprove)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", "address", s.opts.Address)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// observe 记录每个请求的指标，handler 标签使用路由模板以避免 ID 造成高基数。
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, status, time.Since(start))
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.L().Error("请求处理 panic", "panic", rvr, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: http.StatusText(http.StatusInternalServerError)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
