package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"tallysync/internal/models"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type TallyRepoTestSuite struct {
	suite.Suite
	mock     pgxmock.PgxPoolIface
	repo     TallyRepository
	tenantID uuid.UUID
	scope    models.Scope
	context  context.Context
}

func (suite *TallyRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewTallyRepositoryWithChunkSize(mock, 2)
	suite.tenantID = uuid.New()
	suite.scope = models.Scope{TenantID: suite.tenantID, Company: "Acme Traders", Year: 2024}
	suite.context = context.Background()
}

func (suite *TallyRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestTallyRepoTestSuite(t *testing.T) {
	suite.Run(t, new(TallyRepoTestSuite))
}

func documentRows(extra ...string) *pgxmock.Rows {
	return pgxmock.NewRows(append([]string{"id", "tenant_id", "company", "year", "guid", "name", "data",
		"created_at", "last_updated", "last_synced_at"}, extra...))
}

func (suite *TallyRepoTestSuite) TestUpsert_ChunksAndMergesDuplicates() {
	records := []Record{
		{GUID: "G1", Name: "Acme Corp", Data: map[string]any{"name": "Acme Corp", "email": "a@acme.test"}},
		{Name: "Beta Traders", Data: map[string]any{"name": "Beta Traders"}},
		{GUID: "G1", Name: "Acme Corp", Data: map[string]any{"name": "Acme Corp", "phone": "123"}},
		{Name: "Cash", Data: map[string]any{"name": "Cash"}},
	}

	suite.mock.ExpectExec(`INSERT INTO tally_ledgers \(tenant_id, company, year, match_key, guid, name, data, created_at, last_updated, last_synced_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7::jsonb, NOW\(\), NOW\(\), NOW\(\)\), \(\$8, .+ ON CONFLICT \(tenant_id, company, year, match_key\) DO UPDATE SET\s+guid = EXCLUDED.guid,\s+name = EXCLUDED.name,\s+data = tally_ledgers.data \|\| EXCLUDED.data`).
		WithArgs(
			suite.tenantID, "Acme Traders", 2024, "guid:G1", "G1", "Acme Corp", `{"email":"a@acme.test","name":"Acme Corp","phone":"123"}`,
			suite.tenantID, "Acme Traders", 2024, "name:Beta Traders", "", "Beta Traders", `{"name":"Beta Traders"}`,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	suite.mock.ExpectExec(`INSERT INTO tally_ledgers`).
		WithArgs(suite.tenantID, "Acme Traders", 2024, "name:Cash", "", "Cash", `{"name":"Cash"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := suite.repo.Upsert(suite.context, models.EntityLedgers, suite.scope, records)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, result.Written)
	assert.Equal(suite.T(), 2, result.Chunks)
	assert.Empty(suite.T(), result.Errors)
}

func (suite *TallyRepoTestSuite) TestUpsert_FailedChunkDoesNotStopOthers() {
	records := []Record{
		{Name: "A", Data: map[string]any{"name": "A"}},
		{Name: "B", Data: map[string]any{"name": "B"}},
		{Name: "C", Data: map[string]any{"name": "C"}},
	}

	suite.mock.ExpectExec(`INSERT INTO tally_groups`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("deadlock detected"))
	suite.mock.ExpectExec(`INSERT INTO tally_groups`).
		WithArgs(suite.tenantID, "Acme Traders", 2024, "name:C", "", "C", `{"name":"C"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := suite.repo.Upsert(suite.context, models.EntityGroups, suite.scope, records)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, result.Written)
	assert.Equal(suite.T(), 2, result.Chunks)
	require.Len(suite.T(), result.Errors, 1)
	assert.Contains(suite.T(), result.Errors[0], "deadlock detected")
}

func (suite *TallyRepoTestSuite) TestUpsert_SkipsKeylessRecords() {
	result, err := suite.repo.Upsert(suite.context, models.EntityLedgers, suite.scope, []Record{{Data: map[string]any{}}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, result.Written)
	assert.Equal(suite.T(), 1, result.Skipped)
	assert.Equal(suite.T(), 0, result.Chunks)
}

func (suite *TallyRepoTestSuite) TestUpsert_UnknownEntity() {
	_, err := suite.repo.Upsert(suite.context, models.EntityType("payroll"), suite.scope, nil)
	assert.True(suite.T(), errors.Is(err, models.ErrUnknownEntity))
}

func (suite *TallyRepoTestSuite) TestList_WithFiltersAndTotal() {
	now := time.Now()
	id := uuid.New()
	rows := documentRows("count").
		AddRow(id, suite.tenantID, "Acme Traders", 2024, "V1", "Sales/1/2024-01-05", []byte(`{"voucherType":"Sales"}`), now, now, now, 7)

	suite.mock.ExpectQuery(`SELECT id, tenant_id, company, year, guid, name, data, created_at, last_updated, last_synced_at, COUNT\(\*\) OVER\(\) FROM tally_vouchers WHERE tenant_id = \$1 AND company = \$2 AND year = \$3 AND name ILIKE \$4 ESCAPE '\\' AND data->>'voucherType' ILIKE \$5 ESCAPE '\\' AND data->>'date' >= \$6 AND data->>'date' <= \$7 ORDER BY data->>'date' DESC, name ASC LIMIT \$8 OFFSET \$9`).
		WithArgs(suite.tenantID, "Acme Traders", 2024, "%Sales%", "Sales", "2024-01-01", "2024-01-31", 10, 20).
		WillReturnRows(rows)

	docs, total, err := suite.repo.List(suite.context, models.EntityVouchers, ListFilter{
		TenantID: suite.tenantID,
		Company:  "Acme Traders",
		Year:     2024,
		Search:   " Sales ",
		Fields:   map[string]string{"voucherType": "Sales"},
		DateFrom: "2024-01-01",
		DateTo:   "2024-01-31",
		Limit:    10,
		Offset:   20,
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 7, total)
	require.Len(suite.T(), docs, 1)
	assert.Equal(suite.T(), id, docs[0].ID)
	assert.JSONEq(suite.T(), `{"voucherType":"Sales"}`, string(docs[0].Data))
}

func (suite *TallyRepoTestSuite) TestList_FieldValuesMatchLiterally() {
	rows := documentRows("count")

	suite.mock.ExpectQuery(`FROM tally_vouchers WHERE tenant_id = \$1 AND data->>'party' ILIKE \$2 ESCAPE '\\' AND data->>'voucherType' ILIKE \$3 ESCAPE '\\'`).
		WithArgs(suite.tenantID, `ACME\_CORP`, `Sales\_Return 100\%`, 50, 0).
		WillReturnRows(rows)

	docs, total, err := suite.repo.List(suite.context, models.EntityVouchers, ListFilter{
		TenantID: suite.tenantID,
		Fields:   map[string]string{"voucherType": "Sales_Return 100%", "party": "ACME_CORP"},
		Limit:    50,
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, total)
	assert.Empty(suite.T(), docs)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `Sales\_Return`, escapeLike("Sales_Return"))
	assert.Equal(t, `50\% off`, escapeLike("50% off"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func (suite *TallyRepoTestSuite) TestList_RejectsUnknownField() {
	_, _, err := suite.repo.List(suite.context, models.EntityLedgers, ListFilter{
		TenantID: suite.tenantID,
		Fields:   map[string]string{"password": "x"},
	})
	assert.Error(suite.T(), err)
}

func (suite *TallyRepoTestSuite) TestListAll() {
	now := time.Now()
	rows := documentRows().
		AddRow(uuid.New(), suite.tenantID, "Acme Traders", 2024, "G1", "Acme Corp", []byte(`{"name":"Acme Corp"}`), now, now, now).
		AddRow(uuid.New(), suite.tenantID, "Acme Traders", 2024, "", "Cash", []byte(`{"name":"Cash"}`), now, now, now)

	suite.mock.ExpectQuery(`SELECT (.+) FROM tally_ledgers WHERE tenant_id = \$1 AND company = \$2 AND year = \$3 ORDER BY name ASC`).
		WithArgs(suite.tenantID, "Acme Traders", 2024).
		WillReturnRows(rows)

	docs, err := suite.repo.ListAll(suite.context, models.EntityLedgers, suite.scope)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), docs, 2)

	var ledger models.Ledger
	require.NoError(suite.T(), docs[0].Decode(&ledger))
	assert.Equal(suite.T(), "Acme Corp", ledger.Name)
}

func (suite *TallyRepoTestSuite) TestGetByID_NotFound() {
	id := uuid.New()
	suite.mock.ExpectQuery(`SELECT (.+) FROM tally_stock_items WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(suite.tenantID, id).
		WillReturnError(pgx.ErrNoRows)

	doc, err := suite.repo.GetByID(suite.context, models.EntityStockItems, suite.tenantID, id)
	assert.Nil(suite.T(), doc)
	assert.True(suite.T(), errors.Is(err, ErrNotFound))
}

func (suite *TallyRepoTestSuite) TestCount() {
	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tally_companies WHERE tenant_id = \$1 AND company = \$2 AND year = \$3`).
		WithArgs(suite.tenantID, "Acme Traders", 2024).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	count, err := suite.repo.Count(suite.context, models.EntityCompany, suite.scope)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, count)
}

func (suite *TallyRepoTestSuite) TestPatchDocument() {
	id := uuid.New()
	suite.mock.ExpectExec(`UPDATE tally_ledgers SET data = data \|\| \$1::jsonb, last_updated = NOW\(\) WHERE tenant_id = \$2 AND id = \$3`).
		WithArgs(`{"hasRelatedVouchers":true}`, suite.tenantID, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.PatchDocument(suite.context, models.EntityLedgers, suite.tenantID, id, map[string]any{"hasRelatedVouchers": true})
	assert.NoError(suite.T(), err)
}

func (suite *TallyRepoTestSuite) TestPatchDocument_NotFound() {
	id := uuid.New()
	suite.mock.ExpectExec(`UPDATE tally_ledgers`).
		WithArgs(pgxmock.AnyArg(), suite.tenantID, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := suite.repo.PatchDocument(suite.context, models.EntityLedgers, suite.tenantID, id, map[string]any{"x": 1})
	assert.True(suite.T(), errors.Is(err, ErrNotFound))
}

func (suite *TallyRepoTestSuite) TestPatchByKey_UsesGUIDFirst() {
	suite.mock.ExpectExec(`UPDATE tally_currencies SET data = data \|\| \$1::jsonb, last_updated = NOW\(\)\s+WHERE tenant_id = \$2 AND company = \$3 AND year = \$4 AND match_key = \$5`).
		WithArgs(`{"isBaseCurrency":true}`, suite.tenantID, "Acme Traders", 2024, "guid:C1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.PatchByKey(suite.context, models.EntityCurrencies, suite.scope, "C1", "INR", map[string]any{"isBaseCurrency": true})
	assert.NoError(suite.T(), err)
}

func TestMergeRecords(t *testing.T) {
	merged, keyless := MergeRecords([]Record{
		{Name: "Cash", Data: map[string]any{"a": 1, "b": 1}},
		{Data: map[string]any{"a": 1}},
		{Name: "Cash", Data: map[string]any{"b": 2}},
		{GUID: "G", Name: "Cash", Data: map[string]any{"c": 3}},
	})
	require.Len(t, merged, 2)
	require.Len(t, keyless, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, merged[0].Data)
	assert.Equal(t, "G", merged[1].GUID)
}

func TestUpsertKey(t *testing.T) {
	assert.Equal(t, "guid:G1", UpsertKey(" G1 ", "Cash"))
	assert.Equal(t, "name:Cash", UpsertKey("", " Cash"))
	assert.Equal(t, "", UpsertKey(" ", ""))
}

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("G1", "Acme", models.Group{Name: "Acme", Parent: "Primary"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.Data["name"])
	assert.Equal(t, "Primary", rec.Data["parent"])
	assert.Equal(t, false, rec.Data["affectsStock"])
}
