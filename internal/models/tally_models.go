package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownEntity is returned when an entity name does not map to a Tally collection
var ErrUnknownEntity = errors.New("unknown tally entity")

// EntityType identifies a Tally collection and the table it is stored in
type EntityType string

const (
	EntityCompany     EntityType = "company"
	EntityGroups      EntityType = "groups"
	EntityCostCentres EntityType = "cost_centres"
	EntityCurrencies  EntityType = "currencies"
	EntityLedgers     EntityType = "ledgers"
	EntityVouchers    EntityType = "vouchers"
	EntityStockItems  EntityType = "stock_items"
)

// MasterEntities is the order in which a full sync pulls master data
var MasterEntities = []EntityType{
	EntityCompany,
	EntityGroups,
	EntityCostCentres,
	EntityCurrencies,
	EntityLedgers,
	EntityStockItems,
}

// AllEntities lists every entity that can be synced on its own
var AllEntities = append(append([]EntityType{}, MasterEntities...), EntityVouchers)

// ParseEntityType accepts both snake_case and kebab-case names
func ParseEntityType(s string) (EntityType, error) {
	name := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_")))
	switch name {
	case "companies":
		name = string(EntityCompany)
	case "stockitems", "stock":
		name = string(EntityStockItems)
	case "costcentres", "cost_centers":
		name = string(EntityCostCentres)
	}
	for _, e := range AllEntities {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
}

// Table returns the document table backing the entity
func (e EntityType) Table() string {
	if e == EntityCompany {
		return "tally_companies"
	}
	return "tally_" + string(e)
}

// Scope partitions stored documents by tenant, company and calendar year
type Scope struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Company  string    `json:"company"`
	Year     int       `json:"year"`
}

// ScopeAt stamps the scope with the calendar year of t
func ScopeAt(tenantID uuid.UUID, company string, t time.Time) Scope {
	return Scope{TenantID: tenantID, Company: company, Year: t.Year()}
}

// Company holds the company master plus aggregate counts refreshed after each sync
type Company struct {
	Name              string     `json:"name"`
	GUID              string     `json:"guid,omitempty"`
	FormalName        string     `json:"formalName,omitempty"`
	Address           []string   `json:"address,omitempty"`
	State             string     `json:"state,omitempty"`
	Pincode           string     `json:"pincode,omitempty"`
	Country           string     `json:"country,omitempty"`
	Email             string     `json:"email,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	GSTIN             string     `json:"gstin,omitempty"`
	CurrencySymbol    string     `json:"currencySymbol,omitempty"`
	CurrencyName      string     `json:"currencyName,omitempty"`
	BooksFrom         string     `json:"booksFrom,omitempty"`
	FinancialYearFrom string     `json:"financialYearFrom,omitempty"`
	FinancialYearTo   string     `json:"financialYearTo,omitempty"`
	TotalLedgers      *int       `json:"totalLedgers,omitempty"`
	TotalVouchers     *int       `json:"totalVouchers,omitempty"`
	TotalGroups       *int       `json:"totalGroups,omitempty"`
	TotalStockItems   *int       `json:"totalStockItems,omitempty"`
	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty"`
}

// Group is an account group in the chart of accounts
type Group struct {
	Name             string `json:"name"`
	GUID             string `json:"guid,omitempty"`
	Parent           string `json:"parent,omitempty"`
	Nature           string `json:"nature,omitempty"`
	GroupType        string `json:"groupType,omitempty"`
	AffectsStock     bool   `json:"affectsStock"`
	IsRevenue        bool   `json:"isRevenue"`
	IsDeemedPositive bool   `json:"isDeemedPositive"`
	IsSubledger      bool   `json:"isSubledger"`
}

type CostCentre struct {
	Name            string          `json:"name"`
	GUID            string          `json:"guid,omitempty"`
	Parent          string          `json:"parent,omitempty"`
	Category        string          `json:"category,omitempty"`
	ForPayroll      bool            `json:"forPayroll"`
	ForJobCosting   bool            `json:"forJobCosting"`
	IsEmployeeGroup bool            `json:"isEmployeeGroup"`
	OpeningBalance  decimal.Decimal `json:"openingBalance"`
	ClosingBalance  decimal.Decimal `json:"closingBalance"`
}

type Currency struct {
	Name           string          `json:"name"`
	GUID           string          `json:"guid,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	FormalName     string          `json:"formalName,omitempty"`
	DecimalPlaces  int64           `json:"decimalPlaces"`
	ExchangeRate   decimal.Decimal `json:"exchangeRate"`
	IsBaseCurrency bool            `json:"isBaseCurrency"`
}

// BankDetails is only set when the ledger carries at least one bank field
type BankDetails struct {
	AccountNumber string `json:"accountNumber,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	BankName      string `json:"bankName,omitempty"`
	Branch        string `json:"branch,omitempty"`
}

type BillAllocation struct {
	Name     string          `json:"name"`
	BillDate string          `json:"billDate,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	BillType string          `json:"billType,omitempty"`
}

// VoucherSummary is derived by the relationship builder, never by a sync
type VoucherSummary struct {
	Count         int             `json:"count"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	LatestVoucher *VoucherRef     `json:"latestVoucher,omitempty"`
	VoucherTypes  []string        `json:"voucherTypes"`
}

type VoucherRef struct {
	Date          string          `json:"date"`
	VoucherNumber string          `json:"voucherNumber"`
	VoucherType   string          `json:"voucherType"`
	Amount        decimal.Decimal `json:"amount"`
	Party         string          `json:"party,omitempty"`
}

// Ledger is an account. A Dr or Cr suffix on a balance sets its sign, Dr
// positive and Cr negative. Unsuffixed balances keep Tally's raw sign, where
// debits are exported as negative numbers.
type Ledger struct {
	Name                string           `json:"name"`
	Alias               string           `json:"alias,omitempty"`
	GUID                string           `json:"guid,omitempty"`
	Parent              string           `json:"parent,omitempty"`
	OpeningBalance      decimal.Decimal  `json:"openingBalance"`
	ClosingBalance      decimal.Decimal  `json:"closingBalance"`
	BankDetails         *BankDetails     `json:"bankDetails,omitempty"`
	Email               string           `json:"email,omitempty"`
	Phone               string           `json:"phone,omitempty"`
	Mobile              string           `json:"mobile,omitempty"`
	ContactPerson       string           `json:"contactPerson,omitempty"`
	GSTIN               string           `json:"gstin,omitempty"`
	PAN                 string           `json:"pan,omitempty"`
	GSTRegistrationType string           `json:"gstRegistrationType,omitempty"`
	Addresses           []string         `json:"addresses,omitempty"`
	State               string           `json:"state,omitempty"`
	Pincode             string           `json:"pincode,omitempty"`
	Country             string           `json:"country,omitempty"`
	CreditLimit         decimal.Decimal  `json:"creditLimit"`
	CreditPeriod        string           `json:"creditPeriod,omitempty"`
	InterestRate        decimal.Decimal  `json:"interestRate"`
	IsBillWiseOn        bool             `json:"isBillWiseOn"`
	BillAllocations     []BillAllocation `json:"billAllocations,omitempty"`
	VoucherSummary      *VoucherSummary  `json:"voucherSummary,omitempty"`
	HasRelatedVouchers  *bool            `json:"hasRelatedVouchers,omitempty"`
}

type CostCentreAllocation struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type LedgerEntry struct {
	LedgerName            string                 `json:"ledgerName"`
	Amount                decimal.Decimal        `json:"amount"`
	IsDebit               bool                   `json:"isDebit"`
	CostCentreAllocations []CostCentreAllocation `json:"costCentreAllocations,omitempty"`
}

type InventoryEntry struct {
	StockItemName string          `json:"stockItemName"`
	Quantity      decimal.Decimal `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
}

// Voucher is a transaction. Party links to a ledger by name only.
type Voucher struct {
	GUID             string           `json:"guid,omitempty"`
	Date             string           `json:"date"`
	VoucherNumber    string           `json:"voucherNumber,omitempty"`
	VoucherType      string           `json:"voucherType"`
	Party            string           `json:"party,omitempty"`
	PartyLedgerName  string           `json:"partyLedgerName,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	Narration        string           `json:"narration,omitempty"`
	Reference        string           `json:"reference,omitempty"`
	IsCancelled      bool             `json:"isCancelled"`
	IsOptional       bool             `json:"isOptional"`
	LedgerEntries    []LedgerEntry    `json:"ledgerEntries,omitempty"`
	InventoryEntries []InventoryEntry `json:"inventoryEntries,omitempty"`
}

// NaturalName identifies a voucher when Tally does not send a GUID
func (v Voucher) NaturalName() string {
	return fmt.Sprintf("%s/%s/%s", v.VoucherType, v.VoucherNumber, v.Date)
}

type StockItem struct {
	Name            string          `json:"name"`
	GUID            string          `json:"guid,omitempty"`
	Parent          string          `json:"parent,omitempty"`
	Category        string          `json:"category,omitempty"`
	BaseUnits       string          `json:"baseUnits,omitempty"`
	HSNCode         string          `json:"hsnCode,omitempty"`
	OpeningQuantity decimal.Decimal `json:"openingQuantity"`
	OpeningValue    decimal.Decimal `json:"openingValue"`
	OpeningRate     decimal.Decimal `json:"openingRate"`
	ClosingQuantity decimal.Decimal `json:"closingQuantity"`
	ClosingValue    decimal.Decimal `json:"closingValue"`
	ClosingRate     decimal.Decimal `json:"closingRate"`
}

const LowStockThreshold = 10

// StockStatusFor derives the display status from a closing quantity
func StockStatusFor(quantity decimal.Decimal) string {
	switch {
	case quantity.LessThanOrEqual(decimal.Zero):
		return "out_of_stock"
	case quantity.LessThan(decimal.NewFromInt(LowStockThreshold)):
		return "low_stock"
	default:
		return "in_stock"
	}
}

// Document is a stored record as returned by the read endpoints
type Document struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	Company      string          `json:"company"`
	Year         int             `json:"year"`
	GUID         string          `json:"guid,omitempty"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
	LastUpdated  time.Time       `json:"last_updated"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
}

// Decode unmarshals the stored JSON document into v
func (d *Document) Decode(v any) error {
	if len(d.Data) == 0 {
		return nil
	}
	return json.Unmarshal(d.Data, v)
}
