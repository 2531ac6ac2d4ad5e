package tally

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"tallysync/internal/models"
)

// RequestOptions narrows a collection export. Dates and voucher types only
// apply to vouchers.
type RequestOptions struct {
	Company      string
	From         time.Time
	To           time.Time
	VoucherTypes []string
}

type collectionSpec struct {
	id     string
	typ    string
	tag    string
	fields []string
}

var collections = map[models.EntityType]collectionSpec{
	models.EntityCompany: {
		id:  "TallySyncCompanies",
		typ: "Company",
		tag: "COMPANY",
		fields: []string{
			"Name", "GUID", "BasicCompanyFormalName", "Address", "StateName", "Pincode",
			"CountryName", "Email", "PhoneNumber", "GSTRegistrationNumber",
			"BaseCurrencySymbol", "CurrencyName", "BooksFrom", "StartingFrom", "EndingAt",
		},
	},
	models.EntityGroups: {
		id:  "TallySyncGroups",
		typ: "Group",
		tag: "GROUP",
		fields: []string{
			"Name", "GUID", "Parent", "Nature", "IsRevenue", "IsDeemedPositive",
			"AffectsGrossProfit", "AffectsStock", "IsSubledger",
		},
	},
	models.EntityCostCentres: {
		id:  "TallySyncCostCentres",
		typ: "CostCentre",
		tag: "COSTCENTRE",
		fields: []string{
			"Name", "GUID", "Parent", "Category", "ForPayroll", "ForJobCosting",
			"IsEmployeeGroup", "OpeningBalance", "ClosingBalance",
		},
	},
	models.EntityCurrencies: {
		id:  "TallySyncCurrencies",
		typ: "Currency",
		tag: "CURRENCY",
		fields: []string{
			"Name", "GUID", "OriginalSymbol", "MailingName", "ExpandedSymbol",
			"DecimalPlaces", "ExchangeRate",
		},
	},
	models.EntityLedgers: {
		id:  "TallySyncLedgers",
		typ: "Ledger",
		tag: "LEDGER",
		fields: []string{
			"Name", "GUID", "Parent", "OpeningBalance", "ClosingBalance", "LanguageName",
			"Address", "LedStateName", "Pincode", "CountryName", "Email", "LedgerPhone",
			"LedgerMobile", "LedgerContact", "PartyGSTIN", "IncomeTaxNumber",
			"GSTRegistrationType", "BankDetails", "IFSCode", "BankingConfigBank", "BranchName",
			"CreditLimit", "BillCreditPeriod", "IsBillWiseOn", "BillAllocations",
		},
	},
	models.EntityVouchers: {
		id:  "TallySyncVouchers",
		typ: "Voucher",
		tag: "VOUCHER",
		fields: []string{
			"GUID", "Date", "VoucherNumber", "VoucherTypeName", "PartyLedgerName", "PartyName",
			"Amount", "Narration", "Reference", "IsCancelled", "IsOptional",
			"AllLedgerEntries", "AllInventoryEntries",
		},
	},
	models.EntityStockItems: {
		id:  "TallySyncStockItems",
		typ: "StockItem",
		tag: "STOCKITEM",
		fields: []string{
			"Name", "GUID", "Parent", "Category", "BaseUnits", "GSTDetails",
			"OpeningBalance", "OpeningValue", "OpeningRate",
			"ClosingBalance", "ClosingValue", "ClosingRate",
		},
	},
}

// CollectionTag is the XML element each record of entity is returned under
func CollectionTag(entity models.EntityType) (string, error) {
	spec, ok := collections[entity]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnknownEntity, entity)
	}
	return spec.tag, nil
}

type envelope struct {
	XMLName xml.Name `xml:"ENVELOPE"`
	Header  header   `xml:"HEADER"`
	Body    body     `xml:"BODY"`
}

type header struct {
	Version      string `xml:"VERSION"`
	TallyRequest string `xml:"TALLYREQUEST"`
	Type         string `xml:"TYPE"`
	ID           string `xml:"ID"`
}

type body struct {
	Desc desc `xml:"DESC"`
}

type desc struct {
	StaticVariables staticVariables `xml:"STATICVARIABLES"`
	TDL             tdl             `xml:"TDL"`
}

type staticVariables struct {
	ExportFormat   string `xml:"SVEXPORTFORMAT"`
	CurrentCompany string `xml:"SVCURRENTCOMPANY,omitempty"`
	FromDate       string `xml:"SVFROMDATE,omitempty"`
	ToDate         string `xml:"SVTODATE,omitempty"`
}

type tdl struct {
	Message tdlMessage `xml:"TDLMESSAGE"`
}

type tdlMessage struct {
	Collection collection `xml:"COLLECTION"`
	Systems    []system   `xml:"SYSTEM,omitempty"`
}

type collection struct {
	Name         string `xml:"NAME,attr"`
	IsModify     string `xml:"ISMODIFY,attr"`
	Type         string `xml:"TYPE"`
	NativeMethod string `xml:"NATIVEMETHOD"`
	Filter       string `xml:"FILTER,omitempty"`
}

type system struct {
	Type  string `xml:"TYPE,attr"`
	Name  string `xml:"NAME,attr"`
	Value string `xml:",chardata"`
}

const (
	tallyDateLayout   = "20060102"
	voucherTypeFilter = "TallySyncVoucherTypeFilter"
)

// BuildRequest renders the export envelope for one entity
func BuildRequest(entity models.EntityType, opts RequestOptions) ([]byte, error) {
	spec, ok := collections[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownEntity, entity)
	}
	env := envelope{
		Header: header{Version: "1", TallyRequest: "Export", Type: "Collection", ID: spec.id},
		Body: body{Desc: desc{
			StaticVariables: staticVariables{
				ExportFormat:   "$$SysName:XML",
				CurrentCompany: opts.Company,
			},
			TDL: tdl{Message: tdlMessage{Collection: collection{
				Name:         spec.id,
				IsModify:     "No",
				Type:         spec.typ,
				NativeMethod: strings.Join(spec.fields, ", "),
			}}},
		}},
	}

	if entity == models.EntityVouchers {
		if !opts.From.IsZero() {
			env.Body.Desc.StaticVariables.FromDate = opts.From.Format(tallyDateLayout)
		}
		if !opts.To.IsZero() {
			env.Body.Desc.StaticVariables.ToDate = opts.To.Format(tallyDateLayout)
		}
		if formula := voucherTypeFormula(opts.VoucherTypes); formula != "" {
			env.Body.Desc.TDL.Message.Collection.Filter = voucherTypeFilter
			env.Body.Desc.TDL.Message.Systems = []system{{Type: "Formulae", Name: voucherTypeFilter, Value: formula}}
		}
	}

	out, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tally request: %w", err)
	}
	return out, nil
}

func voucherTypeFormula(types []string) string {
	var parts []string
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("$VoucherTypeName = %q", t))
	}
	return strings.Join(parts, " OR ")
}
