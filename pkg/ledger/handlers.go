package ledger

import (
	"net/http"
	"strconv"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	ledgerService *Service
}

// list is the status query surface for delivery outcomes. Delivery errors
// are never surfaced synchronously; this is where pending and failed states
// become visible.
func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := ListRecordsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	records, total, err := h.ledgerService.ListRecordsWithTotal(ctx, ListRecordsOptions{
		Limit:      &params.Limit,
		Offset:     &params.Offset,
		AccountID:  &accountID,
		TargetName: params.TargetName,
		ItemType:   params.ItemType,
		Statuses:   params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Deliveries []*models.DeliveryRecord `json:"deliveries"`
		Total      int                      `json:"total"`
	}{records, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
