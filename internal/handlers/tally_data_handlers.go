package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tallysync/internal/common"
	"tallysync/internal/config"
	"tallysync/internal/middleware"
	"tallysync/internal/models"
	"tallysync/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// DocumentReader is the read side of the Tally repository
type DocumentReader interface {
	List(ctx context.Context, entity models.EntityType, filter repositories.ListFilter) ([]*models.Document, int, error)
	GetByID(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID) (*models.Document, error)
}

// queryFilters maps query parameters to document fields per entity
var queryFilters = map[models.EntityType]map[string]string{
	models.EntityGroups:      {"parent": "parent", "nature": "nature", "group_type": "groupType"},
	models.EntityCostCentres: {"parent": "parent", "category": "category"},
	models.EntityCurrencies:  {"symbol": "symbol"},
	models.EntityLedgers:     {"parent": "parent", "gstin": "gstin", "state": "state"},
	models.EntityVouchers:    {"voucher_type": "voucherType", "party": "party", "party_ledger_name": "partyLedgerName"},
	models.EntityStockItems:  {"parent": "parent", "category": "category", "base_units": "baseUnits"},
}

// TallyDataHandlers serves the synced documents
type TallyDataHandlers struct {
	repo   DocumentReader
	logger logrus.FieldLogger
}

func NewTallyDataHandlers(repo DocumentReader, logger logrus.FieldLogger) *TallyDataHandlers {
	return &TallyDataHandlers{repo: repo, logger: logger}
}

// ListCompanies handles GET /tally/companies
func (h *TallyDataHandlers) ListCompanies(c echo.Context) error {
	return h.list(c, models.EntityCompany)
}

// ListGroups handles GET /tally/groups
func (h *TallyDataHandlers) ListGroups(c echo.Context) error {
	return h.list(c, models.EntityGroups)
}

// ListCostCentres handles GET /tally/cost-centres
func (h *TallyDataHandlers) ListCostCentres(c echo.Context) error {
	return h.list(c, models.EntityCostCentres)
}

// ListCurrencies handles GET /tally/currencies
func (h *TallyDataHandlers) ListCurrencies(c echo.Context) error {
	return h.list(c, models.EntityCurrencies)
}

// ListLedgers handles GET /tally/ledgers
func (h *TallyDataHandlers) ListLedgers(c echo.Context) error {
	return h.list(c, models.EntityLedgers)
}

// ListVouchers handles GET /tally/vouchers
func (h *TallyDataHandlers) ListVouchers(c echo.Context) error {
	return h.list(c, models.EntityVouchers)
}

// ListStockItems handles GET /tally/stock-items
func (h *TallyDataHandlers) ListStockItems(c echo.Context) error {
	return h.list(c, models.EntityStockItems)
}

func (h *TallyDataHandlers) list(c echo.Context, entity models.EntityType) error {
	ctx := c.Request().Context()

	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	filter, err := h.parseFilter(c, entity)
	if err != nil {
		return err
	}
	filter.TenantID = tenantID

	docs, total, err := h.repo.List(ctx, entity, filter)
	if err != nil {
		config.LogError(h.logger, "handlers", "list", logrus.Fields{"entity": entity, "tenant_id": tenantID}, err)
		return common.SendServerError(c, "Failed to list "+string(entity))
	}
	if entity == models.EntityStockItems {
		for _, doc := range docs {
			if err := withStockStatus(doc); err != nil {
				return common.SendServerError(c, "Failed to decode stock item")
			}
		}
	}
	if docs == nil {
		docs = []*models.Document{}
	}

	page := filter.Offset/filter.Limit + 1
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":    docs,
		"total":   total,
		"page":    page,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
		"company": filter.Company,
	})
}

// parseFilter reads paging, scope and entity filters. Validation failures are
// written to the response and returned as the handler's error.
func (h *TallyDataHandlers) parseFilter(c echo.Context, entity models.EntityType) (repositories.ListFilter, error) {
	var filter repositories.ListFilter
	fail := func(field, message string) (repositories.ListFilter, error) {
		return filter, echo.NewHTTPError(http.StatusBadRequest, common.CreateErrorResponse("VALIDATION_ERROR", "Validation failed", map[string]string{field: message}))
	}

	limit, err := intParam(c, "limit")
	if err != nil {
		return fail("limit", "must be an integer")
	}
	offset, err := intParam(c, "offset")
	if err != nil {
		return fail("offset", "must be an integer")
	}
	page, err := intParam(c, "page")
	if err != nil {
		return fail("page", "must be an integer")
	}
	limit, offset, err = common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return fail("offset", err.Error())
	}
	if page > 1 {
		offset = (page - 1) * limit
	}
	filter.Limit, filter.Offset = limit, offset

	year, err := intParam(c, "year")
	if err != nil || year < 0 {
		return fail("year", "must be a calendar year")
	}
	filter.Year = year

	filter.Company = strings.TrimSpace(c.QueryParam("company"))
	if filter.Company == "" {
		filter.Company = middleware.DefaultCompany(c)
	}
	filter.Search = common.SanitizeSearchQuery(c.QueryParam("search"))

	for param, field := range queryFilters[entity] {
		if v := strings.TrimSpace(c.QueryParam(param)); v != "" {
			if filter.Fields == nil {
				filter.Fields = map[string]string{}
			}
			filter.Fields[field] = v
		}
	}

	if entity == models.EntityVouchers {
		from, to := c.QueryParam("from"), c.QueryParam("to")
		if err := common.ValidateDateFormat(from, "from"); err != nil {
			return fail("from", err.Error())
		}
		if err := common.ValidateDateFormat(to, "to"); err != nil {
			return fail("to", err.Error())
		}
		if from != "" && to != "" {
			f, _ := time.Parse(common.DateLayout, from)
			t, _ := time.Parse(common.DateLayout, to)
			if err := common.ValidateDateRange(f, t); err != nil {
				return fail("to", err.Error())
			}
		}
		filter.DateFrom, filter.DateTo = from, to
	}
	return filter, nil
}

// GetDocument handles GET /tally/:entity/:id
func (h *TallyDataHandlers) GetDocument(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}

	entity, err := models.ParseEntityType(c.Param("entity"))
	if err != nil {
		return common.SendNotFoundError(c, "Entity")
	}
	id, err := common.ValidateUUID(c.Param("id"), "id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	doc, err := h.repo.GetByID(ctx, entity, tenantID, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return common.SendNotFoundError(c, "Document")
	}
	if err != nil {
		config.LogError(h.logger, "handlers", "GetDocument", logrus.Fields{"entity": entity, "id": id}, err)
		return common.SendServerError(c, "Failed to fetch document")
	}
	if entity == models.EntityStockItems {
		if err := withStockStatus(doc); err != nil {
			return common.SendServerError(c, "Failed to decode stock item")
		}
	}
	return c.JSON(http.StatusOK, doc)
}

// withStockStatus adds the derived stockStatus to a stock item document
func withStockStatus(doc *models.Document) error {
	var item models.StockItem
	if err := doc.Decode(&item); err != nil {
		return err
	}
	data := map[string]any{}
	if err := doc.Decode(&data); err != nil {
		return err
	}
	data["stockStatus"] = models.StockStatusFor(item.ClosingQuantity)
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	doc.Data = raw
	return nil
}

func intParam(c echo.Context, name string) (int, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
