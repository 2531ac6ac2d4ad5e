package handlers

import (
	"github.com/labstack/echo/v4"
)

// RegisterTallyRoutes mounts the sync and read endpoints under g. The
// triggerLimit middleware applies only to the sync trigger endpoints.
func RegisterTallyRoutes(g *echo.Group, sync *TallyHandlers, data *TallyDataHandlers, triggerLimit ...echo.MiddlewareFunc) {
	tally := g.Group("/tally")

	triggers := tally.Group("/sync", triggerLimit...)
	triggers.POST("/full", sync.TriggerFullSync)
	triggers.POST("/manual", sync.TriggerManualSync)
	triggers.POST("/relationships", sync.TriggerRelationships)
	triggers.POST("/vouchers", sync.TriggerVoucherSync)
	triggers.POST("/entities/:entity", sync.TriggerEntitySync)

	tally.GET("/sync/status", sync.GetSyncStatus)
	tally.GET("/sync/history", sync.GetSyncHistory)

	tally.GET("/companies", data.ListCompanies)
	tally.GET("/groups", data.ListGroups)
	tally.GET("/cost-centres", data.ListCostCentres)
	tally.GET("/currencies", data.ListCurrencies)
	tally.GET("/ledgers", data.ListLedgers)
	tally.GET("/vouchers", data.ListVouchers)
	tally.GET("/stock-items", data.ListStockItems)
	tally.GET("/:entity/:id", data.GetDocument)
}
