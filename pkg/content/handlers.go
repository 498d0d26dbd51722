package content

import (
	"net/http"
	"strconv"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	contentService *Service
	quotaService   *quota.Service
}

func (h *handler) listNotebooks(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	notebooks, err := h.contentService.ListNotebooks(ctx, accountID)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Notebooks []*models.Notebook `json:"notebooks"`
	}{notebooks}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieveNotebook(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}
	notebookID, err := strconv.Atoi(c.Param("notebook_id"))
	if err != nil {
		return errcodes.NotFound("Notebook")
	}

	notebook, err := h.contentService.RetrieveNotebook(ctx, accountID, notebookID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, notebook))
}

func (h *handler) upsertNotebook(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := UpsertNotebookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	notebook, err := h.contentService.UpsertNotebook(ctx, UpsertNotebookOptions{
		AccountID:    accountID,
		DeviceID:     params.DeviceID,
		Title:        params.Title,
		Path:         params.Path,
		PageCount:    params.PageCount,
		LastOpenedAt: params.LastOpenedAt,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, notebook))
}

// registerPage is called by the OCR pipeline before it transcribes a page.
// The response's ocr_status tells the pipeline whether to proceed (pending)
// or hold the page until quota resets (deferred).
func (h *handler) registerPage(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := RegisterPagePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	page, err := h.contentService.RegisterPage(ctx, RegisterPageOptions{
		AccountID:  accountID,
		NotebookID: params.NotebookID,
		PageNumber: params.PageNumber,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, page))
}

// completePage receives an OCR result. A quota race is reported as the
// quota-exhausted error payload; the result is not lost, the page is parked
// deferred and released after the reset.
func (h *handler) completePage(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := CompletePagePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	page, err := h.contentService.CompletePageOCR(ctx, CompletePageOCROptions{
		AccountID:  accountID,
		NotebookID: params.NotebookID,
		PageNumber: params.PageNumber,
		Text:       params.Text,
	})
	if errors.Is(err, quota.ErrExceedsLimit) {
		usage, statusErr := h.quotaService.Status(ctx, accountID, models.QuotaTypeOCRPages)
		if statusErr != nil {
			return errors.WithStack(statusErr)
		}
		return errcodes.QuotaExhausted(models.QuotaTypeOCRPages, usage.Used, usage.Limit, usage.ResetAt)
	}
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, page))
}

func (h *handler) releaseDeferred(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	released, err := h.contentService.ReleaseDeferred(ctx, accountID)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Released int `json:"released"`
	}{released}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) createTodo(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := CreateTodoPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	todo, err := h.contentService.CreateTodo(ctx, CreateTodoOptions{
		AccountID:  accountID,
		NotebookID: params.NotebookID,
		PageNumber: params.PageNumber,
		Text:       params.Text,
		Checked:    params.Checked,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, todo))
}

func (h *handler) updateTodo(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}
	todoID, err := strconv.Atoi(c.Param("todo_id"))
	if err != nil {
		return errcodes.NotFound("Todo")
	}

	params := UpdateTodoPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	todo, err := h.contentService.UpdateTodo(ctx, accountID, todoID, params.Text, params.Checked)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, todo))
}

func (h *handler) createHighlight(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	params := CreateHighlightPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	highlight, err := h.contentService.CreateHighlight(ctx, CreateHighlightOptions{
		AccountID:  accountID,
		NotebookID: params.NotebookID,
		PageNumber: params.PageNumber,
		Text:       params.Text,
		Color:      params.Color,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, highlight))
}
