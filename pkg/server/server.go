package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/inkmirror/inkmirror/pkg/binder"
	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/content"
	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/ledger"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/inkmirror/inkmirror/pkg/syncqueue"
	"github.com/inkmirror/inkmirror/pkg/targets"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

// Services are the shared service instances the HTTP surface is wired with.
// The dispatcher constructs its own copies of these; both sides converge on
// the same database rows.
type Services struct {
	Content  *content.Service
	Quota    *quota.Service
	Registry *targets.Registry
	Scanner  targets.CatchUpScanner
}

func New(cfg *config.Config, db *bun.DB, svcs Services) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	registerAccountRoutes(e, db, cfg, svcs)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

// registerAccountRoutes mounts every per-account API surface. Authentication
// is handled by the reverse proxy in front of this service.
func registerAccountRoutes(e *echo.Echo, db *bun.DB, cfg *config.Config, svcs Services) {
	account := e.Group("/accounts/:account_id")

	targets.RegisterRoutesWithGroup(account.Group("/targets"), db, svcs.Registry, svcs.Scanner)
	quota.RegisterRoutesWithGroup(account.Group("/quota"), db, cfg)
	ledger.RegisterRoutesWithGroup(account.Group("/deliveries"), db)
	syncqueue.RegisterRoutesWithGroup(account.Group("/queue"), db, cfg)
	content.RegisterRoutesWithGroup(account.Group("/content"), svcs.Content, svcs.Quota)
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
