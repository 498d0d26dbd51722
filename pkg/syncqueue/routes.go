package syncqueue

import (
	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers queue inspection routes on a
// pre-configured group (expected to carry :account_id).
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, cfg *config.Config) {
	queueService := NewService(db, cfg)

	h := &handler{
		queueService: queueService,
	}

	g.GET("", h.stats)
	g.GET("/tickets", h.listTickets)
}
