package content

import (
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers content intake routes on a
// pre-configured group (expected to carry :account_id).
func RegisterRoutesWithGroup(g *echo.Group, contentService *Service, quotaService *quota.Service) {
	h := &handler{
		contentService: contentService,
		quotaService:   quotaService,
	}

	g.GET("/notebooks", h.listNotebooks)
	g.POST("/notebooks", h.upsertNotebook)
	g.GET("/notebooks/:notebook_id", h.retrieveNotebook)

	g.POST("/pages", h.registerPage)
	g.POST("/pages/complete", h.completePage)
	g.POST("/pages/release", h.releaseDeferred)

	g.POST("/todos", h.createTodo)
	g.PATCH("/todos/:todo_id", h.updateTodo)

	g.POST("/highlights", h.createHighlight)
}
