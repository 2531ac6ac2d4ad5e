package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"tallysync/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RelationshipBuilderTestSuite struct {
	suite.Suite
	repo    *memRepo
	builder *RelationshipBuilder
	scope   models.Scope
	now     time.Time
}

func (suite *RelationshipBuilderTestSuite) SetupTest() {
	suite.repo = newMemRepo()
	suite.now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	logger, _ := test.NewNullLogger()
	suite.builder = NewRelationshipBuilder(suite.repo, logger, func() time.Time { return suite.now })
	suite.scope = models.Scope{TenantID: uuid.New(), Company: "Acme Traders", Year: 2024}
}

func TestRelationshipBuilderTestSuite(t *testing.T) {
	suite.Run(t, new(RelationshipBuilderTestSuite))
}

func (suite *RelationshipBuilderTestSuite) seedVoucher(number, party string, amount int64, date, voucherType string) {
	v := models.Voucher{
		VoucherNumber: number,
		Party:         party,
		Amount:        decimal.NewFromInt(amount),
		Date:          date,
		VoucherType:   voucherType,
	}
	suite.repo.seed(models.EntityVouchers, suite.scope, "", v.NaturalName(), v)
}

func (suite *RelationshipBuilderTestSuite) summary(name string) (map[string]any, bool) {
	data := suite.repo.data(models.EntityLedgers, name)
	suite.Require().NotNil(data)
	summary, _ := data["voucherSummary"].(map[string]any)
	has, _ := data["hasRelatedVouchers"].(bool)
	return summary, has
}

func (suite *RelationshipBuilderTestSuite) TestBuild_TwoLedgersThreeVouchers() {
	suite.repo.seed(models.EntityLedgers, suite.scope, "G1", "Acme Corp", models.Ledger{GUID: "G1", Name: "Acme Corp"})
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Beta Traders", models.Ledger{Name: "Beta Traders"})
	suite.seedVoucher("1", "Acme Corp", 100, "2024-01-05", "Sales")
	suite.seedVoucher("2", "ACME CORP LTD", 200, "2024-01-06", "Sales")
	suite.seedVoucher("3", "Beta Traders Pvt", -300, "2024-01-07", "Purchase")

	result, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().NoError(err)
	suite.Equal(2, result.LedgersScanned)
	suite.Equal(3, result.VouchersScanned)
	suite.Equal(2, result.LedgersUpdated)
	suite.Equal(2, result.LedgersWithVouchers)

	acme, has := suite.summary("Acme Corp")
	suite.True(has)
	suite.Equal(1.0, acme["count"])
	suite.Equal("100", acme["totalAmount"])

	beta, has := suite.summary("Beta Traders")
	suite.True(has)
	suite.Equal(1.0, beta["count"])
	suite.Equal("300", beta["totalAmount"])

	data := suite.repo.data(models.EntityLedgers, "Acme Corp")
	suite.Equal("2024-06-01T10:00:00Z", data["voucherSummaryUpdatedAt"])
}

func (suite *RelationshipBuilderTestSuite) TestBuild_AliasWidensAnchoredMatch() {
	suite.repo.seed(models.EntityLedgers, suite.scope, "G1", "Acme Corp", models.Ledger{GUID: "G1", Name: "Acme Corp", Alias: "Acme Corp Ltd"})
	suite.seedVoucher("1", "Acme Corp", 100, "2024-01-05", "Sales")
	suite.seedVoucher("2", "ACME CORP LTD", 200, "2024-01-06", "Receipt")

	_, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().NoError(err)

	acme, _ := suite.summary("Acme Corp")
	suite.Equal(2.0, acme["count"])
	suite.Equal([]any{"Receipt", "Sales"}, acme["voucherTypes"])
	latest := acme["latestVoucher"].(map[string]any)
	suite.Equal("2", latest["voucherNumber"])
}

func (suite *RelationshipBuilderTestSuite) TestBuild_RegexSpecialCharacters() {
	name := `O'Brien & Co. (Pvt) [1]*+?`
	suite.repo.seed(models.EntityLedgers, suite.scope, "", name, models.Ledger{Name: name})
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Co", models.Ledger{Name: "Co"})
	suite.seedVoucher("1", `o'brien & co. (pvt) [1]*+?`, 10, "2024-01-05", "Sales")
	suite.seedVoucher("2", "OXBrien & Co", 10, "2024-01-05", "Sales")

	_, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().NoError(err)

	summary, _ := suite.summary(name)
	suite.Equal(1.0, summary["count"])
}

func (suite *RelationshipBuilderTestSuite) TestBuild_VoucherCountsForEveryMatchingLedger() {
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Beta", models.Ledger{Name: "Beta"})
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Traders", models.Ledger{Name: "Traders"})
	suite.seedVoucher("1", "Beta Traders", 10, "2024-01-05", "Sales")

	result, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().NoError(err)
	suite.Equal(2, result.LedgersWithVouchers)
}

func (suite *RelationshipBuilderTestSuite) TestBuild_MatchesPartyLedgerName() {
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Cash", models.Ledger{Name: "Cash"})
	v := models.Voucher{VoucherNumber: "9", PartyLedgerName: "cash", Date: "2024-02-01", VoucherType: "Payment"}
	suite.repo.seed(models.EntityVouchers, suite.scope, "", v.NaturalName(), v)

	_, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().NoError(err)
	summary, has := suite.summary("Cash")
	suite.True(has)
	suite.Equal(1.0, summary["count"])
}

func (suite *RelationshipBuilderTestSuite) TestBuild_LedgerWithoutVouchers() {
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Dormant", models.Ledger{Name: "Dormant"})

	result, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().NoError(err)
	suite.Equal(1, result.LedgersUpdated)
	suite.Equal(0, result.LedgersWithVouchers)

	summary, has := suite.summary("Dormant")
	suite.False(has)
	suite.Equal(0.0, summary["count"])
	suite.Equal([]any{}, summary["voucherTypes"])
}

func (suite *RelationshipBuilderTestSuite) TestBuild_PatchFailureIsReported() {
	suite.repo.seed(models.EntityLedgers, suite.scope, "", "Cash", models.Ledger{Name: "Cash"})
	suite.repo.patchErr = errors.New("connection reset")

	result, err := suite.builder.Build(context.Background(), suite.scope)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "connection reset")
	suite.Equal(0, result.LedgersUpdated)
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]models.Voucher{
		{VoucherNumber: "1", Date: "2024-01-01", VoucherType: "Sales", Amount: decimal.NewFromInt(-100)},
		{VoucherNumber: "2", Date: "2024-03-01", VoucherType: "Receipt", Amount: decimal.NewFromInt(50), Party: "Acme"},
		{VoucherNumber: "3", Date: "2024-02-01", VoucherType: "Sales", Amount: decimal.NewFromInt(25)},
	})

	assert.Equal(t, 3, summary.Count)
	assert.True(t, decimal.NewFromInt(175).Equal(summary.TotalAmount))
	assert.Equal(t, []string{"Receipt", "Sales"}, summary.VoucherTypes)
	require.NotNil(t, summary.LatestVoucher)
	assert.Equal(t, "2", summary.LatestVoucher.VoucherNumber)
	assert.Equal(t, "Acme", summary.LatestVoucher.Party)
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)
	assert.Equal(t, 0, summary.Count)
	assert.True(t, summary.TotalAmount.IsZero())
	assert.Nil(t, summary.LatestVoucher)
	assert.Empty(t, summary.VoucherTypes)
}
