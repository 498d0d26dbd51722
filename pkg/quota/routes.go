package quota

import (
	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers quota routes on a pre-configured group
// (expected to carry :account_id).
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, cfg *config.Config) {
	quotaService := NewService(db, cfg)

	h := &handler{
		quotaService: quotaService,
	}

	g.GET("", h.status)
	g.POST("/check", h.check)
}
