package ledger

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers delivery status routes on a
// pre-configured group (expected to carry :account_id).
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	ledgerService := NewService(db)

	h := &handler{
		ledgerService: ledgerService,
	}

	g.GET("", h.list)
}
