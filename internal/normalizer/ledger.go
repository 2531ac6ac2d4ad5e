package normalizer

import (
	"tallysync/internal/models"

	"github.com/sirupsen/logrus"
)

// Synonymous balance fields seen across Tally exports. Usually only one of them
// is populated, so the first non-zero value wins.
var (
	closingBalanceKeys = []string{
		"CLOSINGBALANCE",
		"LEDGERCLOSINGBALANCE",
		"BALANCE",
		"CURRENTBALANCE",
		"ENDINGBALANCE",
		"CLOSINGBAL",
	}
	openingBalanceKeys = []string{
		"OPENINGBALANCE",
		"LEDGEROPENINGBALANCE",
		"OPBALANCE",
		"OPENINGBAL",
	}
)

// nameListKeys are the places Tally lists a master's names, primary name first
var nameListKeys = []string{"LANGUAGENAME.LIST/NAME.LIST/NAME", "NAME.LIST/NAME"}

// Name reads the master name from LANGUAGENAME.LIST, the NAME attribute or
// element, or a bare NAME.LIST
func (r Raw) Name() string {
	return r.Text(nameListKeys[0], "-NAME", "NAME", nameListKeys[1])
}

// Alias is the first listed name that differs from the primary name, or an
// explicit ALIAS field
func (r Raw) Alias() string {
	name := r.Name()
	for _, key := range nameListKeys {
		for _, n := range MaybeArray(r.Get(key)) {
			if alias := ExtractText(n); alias != "" && alias != name {
				return alias
			}
		}
	}
	return r.Text("ALIAS", "ALIASNAME")
}

// Ledger normalizes one LEDGER record
func Ledger(r Raw) (models.Ledger, error) {
	name := r.Name()
	if name == "" {
		return models.Ledger{}, ErrMissingName
	}
	l := models.Ledger{
		Name:                name,
		Alias:               r.Alias(),
		GUID:                r.Text("GUID"),
		Parent:              r.Text("PARENT"),
		OpeningBalance:      r.Number(openingBalanceKeys...),
		ClosingBalance:      r.Number(closingBalanceKeys...),
		Email:               r.Text("EMAIL", "LEDGEREMAIL"),
		Phone:               r.Text("LEDGERPHONE", "PHONE", "PHONENUMBER"),
		Mobile:              r.Text("LEDGERMOBILE", "MOBILE"),
		ContactPerson:       r.Text("LEDGERCONTACT", "CONTACTPERSON"),
		GSTIN:               r.Text("PARTYGSTIN", "GSTIN", "GSTREGISTRATIONNUMBER"),
		PAN:                 r.Text("INCOMETAXNUMBER", "PAN", "PANNUMBER"),
		GSTRegistrationType: r.Text("GSTREGISTRATIONTYPE"),
		Addresses:           r.Texts("ADDRESS.LIST/ADDRESS"),
		State:               r.Text("LEDSTATENAME", "STATENAME", "STATE"),
		Pincode:             r.Text("PINCODE"),
		Country:             r.Text("COUNTRYNAME", "COUNTRYOFRESIDENCE"),
		CreditLimit:         r.Number("CREDITLIMIT").Abs(),
		CreditPeriod:        r.Text("BILLCREDITPERIOD", "CREDITPERIOD"),
		InterestRate:        r.Number("INTERESTRATE", "RATEOFINTEREST"),
		IsBillWiseOn:        r.Bool("ISBILLWISEON"),
	}
	if len(l.Addresses) == 0 {
		l.Addresses = r.Texts("ADDRESS")
	}
	if bank := bankDetails(r); bank != nil {
		l.BankDetails = bank
	}
	for _, b := range r.List("BILLALLOCATIONS.LIST", "LEDGERBILLALLOCATIONS.LIST") {
		billName := b.Text("NAME", "-NAME")
		if billName == "" {
			continue
		}
		l.BillAllocations = append(l.BillAllocations, models.BillAllocation{
			Name:     billName,
			BillDate: FormatDate(b.Text("BILLDATE")),
			Amount:   b.Number("AMOUNT", "OPENINGBALANCE"),
			BillType: b.Text("BILLTYPE"),
		})
	}
	return l, nil
}

func bankDetails(r Raw) *models.BankDetails {
	bank := models.BankDetails{
		AccountNumber: r.Text("BANKDETAILS", "BANKACCOUNTNUMBER", "ACCOUNTNUMBER"),
		IFSC:          r.Text("IFSCODE", "IFSCCODE"),
		BankName:      r.Text("BANKNAME", "BANKINGCONFIGBANK"),
		Branch:        r.Text("BRANCHNAME", "BANKBRANCHNAME"),
	}
	if bank == (models.BankDetails{}) {
		return nil
	}
	return &bank
}

// Ledgers normalizes a LEDGER collection
func Ledgers(raws []Raw, logger logrus.FieldLogger) Batch[models.Ledger] {
	return Normalize("ledgers", raws, Ledger, logger)
}
