package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"tallysync/internal/common"
	"tallysync/internal/config"
	"tallysync/internal/jobs"
	"tallysync/internal/jobs/background"
	"tallysync/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// SyncTrigger is the scheduler surface used by the sync endpoints
type SyncTrigger interface {
	Trigger(ctx context.Context, req models.SyncRequest) (models.SyncRun, error)
	Status() models.SchedulerStatus
	History(limit int) []models.SyncRun
}

// TallyHandlers handles the sync trigger and status endpoints
type TallyHandlers struct {
	scheduler SyncTrigger
	logger    logrus.FieldLogger
}

// VoucherSyncRequest is the body of POST /tally/sync/vouchers
type VoucherSyncRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

// RequestValidator plugs validator/v10 into echo's c.Validate
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewTallyHandlers(scheduler SyncTrigger, logger logrus.FieldLogger) *TallyHandlers {
	return &TallyHandlers{scheduler: scheduler, logger: logger}
}

// TriggerFullSync handles POST /tally/sync/full
func (h *TallyHandlers) TriggerFullSync(c echo.Context) error {
	return h.trigger(c, models.SyncRequest{Kind: models.SyncFull}, "Full sync started")
}

// TriggerManualSync handles POST /tally/sync/manual
func (h *TallyHandlers) TriggerManualSync(c echo.Context) error {
	return h.trigger(c, models.SyncRequest{Kind: models.SyncManual}, "Manual sync started")
}

// TriggerRelationships handles POST /tally/sync/relationships
func (h *TallyHandlers) TriggerRelationships(c echo.Context) error {
	return h.trigger(c, models.SyncRequest{Kind: models.SyncRelationships}, "Relationship build started")
}

// TriggerVoucherSync handles POST /tally/sync/vouchers
func (h *TallyHandlers) TriggerVoucherSync(c echo.Context) error {
	var req VoucherSyncRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return common.SendValidationError(c, verrs[0].Field(), "must be a date in YYYY-MM-DD format")
		}
		return common.SendClientError(c, err.Error())
	}
	return h.trigger(c, models.SyncRequest{
		Kind:     models.SyncVouchers,
		FromDate: req.From,
		ToDate:   req.To,
	}, "Voucher sync started")
}

// TriggerEntitySync handles POST /tally/sync/entities/:entity
func (h *TallyHandlers) TriggerEntitySync(c echo.Context) error {
	entity, err := models.ParseEntityType(c.Param("entity"))
	if err != nil {
		return common.SendValidationError(c, "entity", err.Error())
	}
	return h.trigger(c, models.SyncRequest{
		Kind:     models.SyncEntity,
		Entity:   entity,
		FromDate: c.QueryParam("from"),
		ToDate:   c.QueryParam("to"),
	}, "Entity sync started")
}

// trigger starts a run. Any tenant may start one and it syncs every configured
// connection, since Tally companies share one scheduler and one guard per class.
func (h *TallyHandlers) trigger(c echo.Context, req models.SyncRequest, message string) error {
	ctx := c.Request().Context()
	req.Trigger = models.TriggerManual

	run, err := h.scheduler.Trigger(ctx, req)
	switch {
	case errors.Is(err, background.ErrSyncAlreadyRunning):
		return common.SendConflictError(c, err.Error())
	case errors.Is(err, jobs.ErrInvalidRequest):
		return common.SendClientError(c, err.Error())
	case err != nil:
		config.LogError(h.logger, "handlers", "trigger", logrus.Fields{"kind": req.Kind}, err)
		return common.SendServerError(c, "Failed to start sync")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": message,
		"job_id":  run.ID,
		"kind":    run.Kind,
	})
}

// GetSyncStatus handles GET /tally/sync/status. Guards are process-wide; the
// last run only carries the caller's connections.
func (h *TallyHandlers) GetSyncStatus(c echo.Context) error {
	status := h.scheduler.Status()
	if status.LastRun != nil {
		last := scopeRun(*status.LastRun, tenantOf(c))
		status.LastRun = &last
	}
	return c.JSON(http.StatusOK, status)
}

// GetSyncHistory handles GET /tally/sync/history
func (h *TallyHandlers) GetSyncHistory(c echo.Context) error {
	limit := 0
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		l, err := strconv.Atoi(limitParam)
		if err != nil || l < 0 {
			return common.SendValidationError(c, "limit", "must be a non-negative integer")
		}
		limit = l
	}

	tenantID := tenantOf(c)
	runs := h.scheduler.History(limit)
	for i := range runs {
		runs[i] = scopeRun(runs[i], tenantID)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func tenantOf(c echo.Context) uuid.UUID {
	tenantID, _ := common.GetTenantIDFromContext(c.Request().Context())
	return tenantID
}

// scopeRun keeps only the connection results that belong to tenantID. Runs
// themselves cover every configured connection.
func scopeRun(run models.SyncRun, tenantID uuid.UUID) models.SyncRun {
	conns := make([]models.ConnectionResult, 0, len(run.Connections))
	for _, conn := range run.Connections {
		if conn.TenantID == tenantID {
			conns = append(conns, conn)
		}
	}
	run.Connections = conns
	return run
}
