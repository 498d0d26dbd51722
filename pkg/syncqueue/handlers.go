package syncqueue

import (
	"net/http"
	"strconv"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	queueService *Service
}

func (h *handler) stats(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	stats, err := h.queueService.QueueStats(ctx, &accountID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, stats))
}

func (h *handler) listTickets(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := ListTicketsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	tickets, err := h.queueService.ListTickets(ctx, ListTicketsOptions{
		Limit:     &params.Limit,
		Offset:    &params.Offset,
		AccountID: &accountID,
		Statuses:  params.Statuses,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Tickets interface{} `json:"tickets"`
	}{tickets}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
