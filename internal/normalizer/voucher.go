package normalizer

import (
	"strings"

	"tallysync/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Voucher normalizes one VOUCHER record. Ledger entries with a negative amount
// are debits, following Tally's export sign convention.
func Voucher(r Raw) (models.Voucher, error) {
	v := models.Voucher{
		GUID:            r.Text("GUID"),
		Date:            FormatDate(r.Text("DATE", "EFFECTIVEDATE")),
		VoucherNumber:   r.Text("VOUCHERNUMBER"),
		VoucherType:     r.Text("VOUCHERTYPENAME", "-VCHTYPE", "VCHTYPE"),
		PartyLedgerName: r.Text("PARTYLEDGERNAME"),
		Narration:       r.Text("NARRATION"),
		Reference:       r.Text("REFERENCE"),
		IsCancelled:     r.Bool("ISCANCELLED"),
		IsOptional:      r.Bool("ISOPTIONAL"),
	}
	if v.GUID == "" && v.VoucherNumber == "" {
		return models.Voucher{}, ErrMissingIdentity
	}

	for _, e := range r.List("ALLLEDGERENTRIES.LIST", "LEDGERENTRIES.LIST") {
		amount := e.Number("AMOUNT")
		entry := models.LedgerEntry{
			LedgerName: e.Text("LEDGERNAME"),
			Amount:     amount,
			IsDebit:    amount.IsNegative(),
		}
		entry.CostCentreAllocations = costCentreAllocations(e)
		v.LedgerEntries = append(v.LedgerEntries, entry)
	}
	for _, e := range r.List("ALLINVENTORYENTRIES.LIST", "INVENTORYENTRIES.LIST") {
		v.InventoryEntries = append(v.InventoryEntries, models.InventoryEntry{
			StockItemName: e.Text("STOCKITEMNAME"),
			Quantity:      e.Number("ACTUALQTY", "BILLEDQTY"),
			Rate:          e.Number("RATE"),
			Amount:        e.Number("AMOUNT"),
		})
	}

	v.Party = r.Text("PARTYLEDGERNAME", "PARTYNAME", "BASICBUYERNAME")
	if v.Party == "" && len(v.LedgerEntries) > 0 {
		v.Party = v.LedgerEntries[0].LedgerName
	}
	v.Amount = voucherAmount(r, v)
	return v, nil
}

// voucherAmount prefers an explicit AMOUNT, then the party's own entry, then
// the sum of positive entries
func voucherAmount(r Raw, v models.Voucher) decimal.Decimal {
	if amount := r.Number("AMOUNT"); !amount.IsZero() {
		return amount
	}
	for _, e := range v.LedgerEntries {
		if v.Party != "" && strings.EqualFold(e.LedgerName, v.Party) && !e.Amount.IsZero() {
			return e.Amount
		}
	}
	total := decimal.Zero
	for _, e := range v.LedgerEntries {
		if e.Amount.IsPositive() {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func costCentreAllocations(entry Raw) []models.CostCentreAllocation {
	var out []models.CostCentreAllocation
	add := func(list []Raw) {
		for _, c := range list {
			name := c.Text("NAME", "COSTCENTRENAME")
			if name == "" {
				continue
			}
			out = append(out, models.CostCentreAllocation{Name: name, Amount: c.Number("AMOUNT")})
		}
	}
	add(entry.List("COSTCENTREALLOCATIONS.LIST"))
	for _, category := range entry.List("CATEGORYALLOCATIONS.LIST") {
		add(category.List("COSTCENTREALLOCATIONS.LIST"))
	}
	return out
}

// Vouchers normalizes a VOUCHER collection
func Vouchers(raws []Raw, logger logrus.FieldLogger) Batch[models.Voucher] {
	return Normalize("vouchers", raws, Voucher, logger)
}
