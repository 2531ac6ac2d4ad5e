package normalizer

import (
	"tallysync/internal/models"

	"github.com/sirupsen/logrus"
)

func Company(r Raw) (models.Company, error) {
	name := r.Name()
	if name == "" {
		return models.Company{}, ErrMissingName
	}
	c := models.Company{
		Name:              name,
		GUID:              r.Text("GUID"),
		FormalName:        r.Text("BASICCOMPANYFORMALNAME", "FORMALNAME", "MAILINGNAME"),
		Address:           r.Texts("ADDRESS.LIST/ADDRESS"),
		State:             r.Text("STATENAME", "STATE"),
		Pincode:           r.Text("PINCODE"),
		Country:           r.Text("COUNTRYNAME"),
		Email:             r.Text("EMAIL"),
		Phone:             r.Text("PHONENUMBER", "PHONE"),
		GSTIN:             r.Text("GSTREGISTRATIONNUMBER", "GSTIN"),
		CurrencySymbol:    r.Text("BASECURRENCYSYMBOL", "CURRENCYSYMBOL"),
		CurrencyName:      r.Text("CURRENCYNAME", "BASECURRENCYNAME"),
		BooksFrom:         FormatDate(r.Text("BOOKSFROM")),
		FinancialYearFrom: FormatDate(r.Text("STARTINGFROM", "FINANCIALYEARFROM")),
		FinancialYearTo:   FormatDate(r.Text("ENDINGAT", "FINANCIALYEARTO")),
	}
	return c, nil
}

// Group normalizes one GROUP record. Nature and group type are derived from the
// revenue and sign flags unless Tally sends NATURE explicitly.
func Group(r Raw) (models.Group, error) {
	name := r.Name()
	if name == "" {
		return models.Group{}, ErrMissingName
	}
	g := models.Group{
		Name:             name,
		GUID:             r.Text("GUID"),
		Parent:           r.Text("PARENT"),
		AffectsStock:     r.Bool("AFFECTSSTOCK"),
		IsRevenue:        r.Bool("ISREVENUE"),
		IsDeemedPositive: r.Bool("ISDEEMEDPOSITIVE"),
		IsSubledger:      r.Bool("ISSUBLEDGER"),
	}
	affectsGross := r.Bool("AFFECTSGROSSPROFIT")

	switch {
	case g.IsRevenue && affectsGross:
		g.GroupType = "Trading"
	case g.IsRevenue:
		g.GroupType = "P&L"
	default:
		g.GroupType = "Balance Sheet"
	}

	switch {
	case g.IsRevenue && g.IsDeemedPositive:
		g.Nature = "Expenses"
	case g.IsRevenue:
		g.Nature = "Income"
	case g.IsDeemedPositive:
		g.Nature = "Assets"
	default:
		g.Nature = "Liabilities"
	}
	if explicit := r.Text("NATURE", "NATUREOFGROUP"); explicit != "" {
		g.Nature = explicit
	}
	return g, nil
}

func CostCentre(r Raw) (models.CostCentre, error) {
	name := r.Name()
	if name == "" {
		return models.CostCentre{}, ErrMissingName
	}
	return models.CostCentre{
		Name:            name,
		GUID:            r.Text("GUID"),
		Parent:          r.Text("PARENT"),
		Category:        r.Text("CATEGORY"),
		ForPayroll:      r.Bool("FORPAYROLL"),
		ForJobCosting:   r.Bool("FORJOBCOSTING"),
		IsEmployeeGroup: r.Bool("ISEMPLOYEEGROUP"),
		OpeningBalance:  r.Number(openingBalanceKeys...),
		ClosingBalance:  r.Number(closingBalanceKeys...),
	}, nil
}

func Currency(r Raw) (models.Currency, error) {
	name := r.Text("-NAME", "NAME", "ORIGINALNAME")
	if name == "" {
		return models.Currency{}, ErrMissingName
	}
	return models.Currency{
		Name:          name,
		GUID:          r.Text("GUID"),
		Symbol:        r.Text("ORIGINALSYMBOL", "SYMBOL", "-NAME"),
		FormalName:    r.Text("MAILINGNAME", "FORMALNAME", "EXPANDEDSYMBOL"),
		DecimalPlaces: r.Int("DECIMALPLACES"),
		ExchangeRate:  r.Number("EXCHANGERATE", "STANDARDRATE", "SELLINGRATE"),
	}, nil
}

func StockItem(r Raw) (models.StockItem, error) {
	name := r.Name()
	if name == "" {
		return models.StockItem{}, ErrMissingName
	}
	return models.StockItem{
		Name:            name,
		GUID:            r.Text("GUID"),
		Parent:          r.Text("PARENT"),
		Category:        r.Text("CATEGORY"),
		BaseUnits:       r.Text("BASEUNITS"),
		HSNCode:         r.Text("GSTDETAILS.LIST/HSNCODE", "HSNCODE", "HSNDETAILS.LIST/HSNCODE"),
		OpeningQuantity: r.Number("OPENINGBALANCE"),
		OpeningValue:    r.Number("OPENINGVALUE"),
		OpeningRate:     r.Number("OPENINGRATE"),
		ClosingQuantity: r.Number("CLOSINGBALANCE"),
		ClosingValue:    r.Number("CLOSINGVALUE"),
		ClosingRate:     r.Number("CLOSINGRATE"),
	}, nil
}

func Companies(raws []Raw, logger logrus.FieldLogger) Batch[models.Company] {
	return Normalize("company", raws, Company, logger)
}

func Groups(raws []Raw, logger logrus.FieldLogger) Batch[models.Group] {
	return Normalize("groups", raws, Group, logger)
}

func CostCentres(raws []Raw, logger logrus.FieldLogger) Batch[models.CostCentre] {
	return Normalize("cost_centres", raws, CostCentre, logger)
}

func Currencies(raws []Raw, logger logrus.FieldLogger) Batch[models.Currency] {
	return Normalize("currencies", raws, Currency, logger)
}

func StockItems(raws []Raw, logger logrus.FieldLogger) Batch[models.StockItem] {
	return Normalize("stock_items", raws, StockItem, logger)
}
