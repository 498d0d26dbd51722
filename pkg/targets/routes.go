package targets

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers target management routes on a
// pre-configured group (expected to carry :account_id).
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, registry *Registry, scanner CatchUpScanner) {
	targetService := NewService(db)

	h := &handler{
		targetService: targetService,
		registry:      registry,
		scanner:       scanner,
	}

	g.GET("", h.list)
	g.PUT("/:target_name", h.update)
	g.POST("/:target_name/test", h.test)
	g.POST("/:target_name/scan", h.scan)
}
