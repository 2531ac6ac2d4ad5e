package middleware

import (
	"net/http"
	"strings"

	"tallysync/internal/common"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	TenantHeader      = "X-Tenant-ID"
	DefaultCompanyKey = "default_company"
)

// TenantDirectory resolves the Tally company a tenant reads from by default
type TenantDirectory interface {
	DefaultCompany(tenantID uuid.UUID) (string, error)
}

// TenantMiddleware scopes the request to the tenant named in the X-Tenant-ID
// header. Tenants without a configured connection are rejected.
func TenantMiddleware(directory TenantDirectory) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := strings.TrimSpace(c.Request().Header.Get(TenantHeader))
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing tenant")
			}

			tenantID, err := uuid.Parse(header)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid tenant_id format")
			}

			company, err := directory.DefaultCompany(tenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
			}
			c.Set(DefaultCompanyKey, company)

			c.SetRequest(c.Request().WithContext(common.WithTenantID(c.Request().Context(), tenantID)))

			return next(c)
		}
	}
}

// DefaultCompany returns the company stored by TenantMiddleware
func DefaultCompany(c echo.Context) string {
	company, _ := c.Get(DefaultCompanyKey).(string)
	return company
}
