package server

import (
	"RankRouter/internal/biz"
	"RankRouter/internal/conf"
	"RankRouter/internal/server/middleware"
	"RankRouter/internal/service"
	pkglog "RankRouter/pkg/log"

	"errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, routerService *service.RouterService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Auth(logHelper),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, routerService)

	return srv
}

// registerRoutes wires the routing and admin endpoints.
func registerRoutes(srv *http.Server, svc *service.RouterService) {
	r := srv.Route("/")

	r.GET("/healthz", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{"status": "ok"})
	})

	r.GET("/v1/route/select", func(ctx http.Context) error {
		reply, err := svc.SelectProvider(ctx, ctx.Query().Get("query_type"))
		if err != nil {
			return mapRouteError(err)
		}
		return ctx.Result(200, reply)
	})

	r.GET("/v1/route/rankings", func(ctx http.Context) error {
		reply, err := svc.Rankings(ctx, ctx.Query().Get("query_type"))
		if err != nil {
			return mapRouteError(err)
		}
		return ctx.Result(200, reply)
	})

	r.GET("/v1/breakers/{key}", func(ctx http.Context) error {
		reply, err := svc.BreakerStatus(ctx, ctx.Vars().Get("key"))
		if err != nil {
			return kerrors.InternalServer("BREAKER_STATUS_FAILED", err.Error())
		}
		return ctx.Result(200, reply)
	})

	r.POST("/v1/breakers/{key}/reset", func(ctx http.Context) error {
		reply, err := svc.ResetBreaker(ctx, ctx.Vars().Get("key"))
		if err != nil {
			return kerrors.InternalServer("BREAKER_RESET_FAILED", err.Error())
		}
		return ctx.Result(200, reply)
	})

	r.GET("/v1/quotas", func(ctx http.Context) error {
		reply, err := svc.QuotaSummaries(ctx)
		if err != nil {
			return kerrors.InternalServer("QUOTA_SUMMARY_FAILED", err.Error())
		}
		return ctx.Result(200, reply)
	})

	r.GET("/v1/quotas/{provider}", func(ctx http.Context) error {
		reply, err := svc.QuotaSummary(ctx, ctx.Vars().Get("provider"))
		if err != nil {
			return kerrors.NotFound("PROVIDER_NOT_FOUND", err.Error())
		}
		return ctx.Result(200, reply)
	})
}

// mapRouteError maps selection errors to transportable Kratos errors.
func mapRouteError(err error) error {
	var noProvider *biz.NoAvailableProviderError
	if errors.As(err, &noProvider) {
		return kerrors.ServiceUnavailable("NO_AVAILABLE_PROVIDER", err.Error())
	}
	return kerrors.InternalServer("ROUTE_FAILED", err.Error())
}
