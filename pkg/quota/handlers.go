package quota

import (
	"net/http"
	"strconv"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	quotaService *Service
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := StatusQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	usage, err := h.quotaService.Status(ctx, accountID, params.QuotaType)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		QuotaType string      `json:"quota_type"`
		Used      int         `json:"used"`
		Limit     int         `json:"limit"`
		Remaining int         `json:"remaining"`
		ResetAt   interface{} `json:"reset_at"`
	}{params.QuotaType, usage.Used, usage.Limit, usage.Remaining(), usage.ResetAt}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

// check is the synchronous gate consulted by the external OCR pipeline
// before it transcribes a page. A denial is returned as a 402 with the
// machine-readable quota details.
func (h *handler) check(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := CheckPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	decision, err := h.quotaService.Check(ctx, accountID, params.QuotaType, params.Amount)
	if err != nil {
		return errors.WithStack(err)
	}

	if !decision.Allowed {
		return errcodes.QuotaExhausted(params.QuotaType, decision.Used, decision.Limit, decision.ResetAt)
	}

	return errors.WithStack(c.JSON(http.StatusOK, decision))
}
