package targets

import (
	"context"
	"net/http"
	"strconv"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// CatchUpScanner re-enqueues all content without a successful delivery for
// one (account, target). Implemented by the sync package; kept as an
// interface here so routes only depend on what they call.
type CatchUpScanner interface {
	ScanAndRequeue(ctx context.Context, accountID int, targetName string) (int, error)
}

type handler struct {
	targetService *Service
	registry      *Registry
	scanner       CatchUpScanner
}

type targetView struct {
	TargetName string `json:"target_name"`
	Enabled    bool   `json:"enabled"`
	Configured bool   `json:"configured"`
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}

	configured, err := h.targetService.ListTargets(ctx, ListTargetsOptions{AccountID: &accountID})
	if err != nil {
		return errors.WithStack(err)
	}

	byName := map[string]*models.AccountTarget{}
	for _, target := range configured {
		byName[target.TargetName] = target
	}

	// Every registered adapter shows up, configured or not.
	views := []targetView{}
	for _, name := range h.registry.Names() {
		view := targetView{TargetName: name}
		if target, ok := byName[name]; ok {
			view.Enabled = target.Enabled
			view.Configured = true
		}
		views = append(views, view)
	}

	resp := struct {
		Targets []targetView `json:"targets"`
	}{views}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}
	targetName := c.Param("target_name")

	adapter, ok := h.registry.Lookup(targetName)
	if !ok {
		return errcodes.NotFound("Target")
	}

	params := UpdateTargetPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	target, err := h.targetService.RetrieveTarget(ctx, accountID, targetName)
	if err != nil {
		if !errors.Is(err, errcodes.NotFound("Target")) {
			return errors.WithStack(err)
		}
		target = &models.AccountTarget{
			AccountID:  accountID,
			TargetName: targetName,
		}
	}
	wasEnabled := target.Enabled

	if params.Credentials != nil {
		target.CredentialsParsed = params.Credentials
	}
	if params.Enabled != nil {
		target.Enabled = *params.Enabled
	}

	if target.Enabled {
		valid, err := adapter.ValidateCredentials(ctx, Credentials(target.CredentialsParsed))
		if err != nil {
			return errors.WithStack(err)
		}
		if !valid {
			return errcodes.ValidationError("Credentials for this target are invalid.")
		}
	}

	if err := h.targetService.UpsertTarget(ctx, target); err != nil {
		return errors.WithStack(err)
	}

	// Re-enabling after downtime is the moment to reconcile: anything that
	// changed while the target was off has no successful ledger row yet.
	if target.Enabled && !wasEnabled {
		enqueued, err := h.scanner.ScanAndRequeue(ctx, accountID, targetName)
		if err != nil {
			return errors.WithStack(err)
		}
		logger.FromContext(ctx).Info("catch-up scan enqueued", logger.Data{
			"account_id":  accountID,
			"target_name": targetName,
			"enqueued":    enqueued,
		})
	}

	return errors.WithStack(c.JSON(http.StatusOK, targetView{
		TargetName: target.TargetName,
		Enabled:    target.Enabled,
		Configured: true,
	}))
}

func (h *handler) test(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}
	targetName := c.Param("target_name")

	adapter, ok := h.registry.Lookup(targetName)
	if !ok {
		return errcodes.NotFound("Target")
	}

	target, err := h.targetService.RetrieveTarget(ctx, accountID, targetName)
	if err != nil {
		return errors.WithStack(err)
	}

	valid, err := adapter.ValidateCredentials(ctx, Credentials(target.CredentialsParsed))
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Valid bool `json:"valid"`
	}{valid}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) scan(c echo.Context) error {
	ctx := c.Request().Context()
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil {
		return errcodes.NotFound("Account")
	}
	targetName := c.Param("target_name")

	if _, ok := h.registry.Lookup(targetName); !ok {
		return errcodes.NotFound("Target")
	}

	enqueued, err := h.scanner.ScanAndRequeue(ctx, accountID, targetName)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Enqueued int `json:"enqueued"`
	}{enqueued}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
