package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tallysync/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a document does not exist for the tenant
var ErrNotFound = errors.New("record not found")

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultChunkSize keeps a multi-row upsert well below the 65535 bind
// parameter limit
const DefaultChunkSize = 500

const upsertColumns = 7

// UpsertResult reports one bulk write. A failed chunk is recorded and the
// remaining chunks still run.
type UpsertResult struct {
	Written int      `json:"written"`
	Chunks  int      `json:"chunks"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ListFilter narrows a read. Zero values disable a filter.
type ListFilter struct {
	TenantID uuid.UUID
	Company  string
	Year     int
	Search   string
	Fields   map[string]string
	DateFrom string
	DateTo   string
	Limit    int
	Offset   int
}

// filterable lists the document fields each entity can be filtered on
var filterable = map[models.EntityType]map[string]bool{
	models.EntityGroups:      {"parent": true, "nature": true, "groupType": true},
	models.EntityCostCentres: {"parent": true, "category": true},
	models.EntityCurrencies:  {"symbol": true},
	models.EntityLedgers:     {"parent": true, "gstin": true, "state": true},
	models.EntityVouchers:    {"voucherType": true, "party": true, "partyLedgerName": true},
	models.EntityStockItems:  {"parent": true, "category": true, "baseUnits": true},
}

type TallyRepository interface {
	Upsert(ctx context.Context, entity models.EntityType, scope models.Scope, records []Record) (*UpsertResult, error)
	List(ctx context.Context, entity models.EntityType, filter ListFilter) ([]*models.Document, int, error)
	ListAll(ctx context.Context, entity models.EntityType, scope models.Scope) ([]*models.Document, error)
	GetByID(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID) (*models.Document, error)
	Count(ctx context.Context, entity models.EntityType, scope models.Scope) (int, error)
	PatchDocument(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID, patch map[string]any) error
	PatchByKey(ctx context.Context, entity models.EntityType, scope models.Scope, guid, name string, patch map[string]any) error
}

type tallyRepo struct {
	db        DBTX
	chunkSize int
}

func NewTallyRepository(db DBTX) TallyRepository {
	return &tallyRepo{db: db, chunkSize: DefaultChunkSize}
}

// NewTallyRepositoryWithChunkSize is used where smaller statements are wanted
func NewTallyRepositoryWithChunkSize(db DBTX, chunkSize int) TallyRepository {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &tallyRepo{db: db, chunkSize: chunkSize}
}

func tableFor(entity models.EntityType) (string, error) {
	for _, e := range models.AllEntities {
		if e == entity {
			return entity.Table(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", models.ErrUnknownEntity, entity)
}

// Upsert writes records keyed by GUID, else name, within the scope. Existing
// documents are merged with jsonb || so fields omitted by this sync survive.
func (r *tallyRepo) Upsert(ctx context.Context, entity models.EntityType, scope models.Scope, records []Record) (*UpsertResult, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	merged, keyless := MergeRecords(records)
	result := &UpsertResult{Skipped: len(keyless)}
	for range keyless {
		result.Errors = append(result.Errors, "record without guid or name skipped")
	}

	for start := 0; start < len(merged); start += r.chunkSize {
		end := min(start+r.chunkSize, len(merged))
		chunk := merged[start:end]
		result.Chunks++

		query, args, err := buildUpsert(table, scope, chunk)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		tag, err := r.db.Exec(ctx, query, args...)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %d-%d: %v", start, end-1, err))
			continue
		}
		result.Written += int(tag.RowsAffected())
	}
	return result, nil
}

func buildUpsert(table string, scope models.Scope, chunk []Record) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (tenant_id, company, year, match_key, guid, name, data, created_at, last_updated, last_synced_at) VALUES ", table)
	args := make([]any, 0, len(chunk)*upsertColumns)
	for i, rec := range chunk {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal %q: %w", rec.Name, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * upsertColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, NOW(), NOW(), NOW())", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, scope.TenantID, scope.Company, scope.Year, UpsertKey(rec.GUID, rec.Name), rec.GUID, rec.Name, string(data))
	}
	fmt.Fprintf(&b, ` ON CONFLICT (tenant_id, company, year, match_key) DO UPDATE SET
		guid = EXCLUDED.guid,
		name = EXCLUDED.name,
		data = %s.data || EXCLUDED.data,
		last_updated = NOW(),
		last_synced_at = NOW()`, table)
	return b.String(), args, nil
}

const documentColumns = "id, tenant_id, company, year, guid, name, data, created_at, last_updated, last_synced_at"

func scanDocument(row pgx.Row, extra ...any) (*models.Document, error) {
	doc := &models.Document{}
	var data []byte
	dest := []any{&doc.ID, &doc.TenantID, &doc.Company, &doc.Year, &doc.GUID, &doc.Name, &data,
		&doc.CreatedAt, &doc.LastUpdated, &doc.LastSyncedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

// List returns one page of documents plus the total matching count
func (r *tallyRepo) List(ctx context.Context, entity models.EntityType, filter ListFilter) ([]*models.Document, int, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, 0, err
	}
	where, args, err := buildWhere(entity, filter)
	if err != nil {
		return nil, 0, err
	}
	order := "name ASC"
	if entity == models.EntityVouchers {
		order = "data->>'date' DESC, name ASC"
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		documentColumns, table, where, order, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []*models.Document
	total := 0
	for rows.Next() {
		doc, err := scanDocument(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func buildWhere(entity models.EntityType, filter ListFilter) (string, []any, error) {
	clauses := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Company != "" {
		add("company = $%d", filter.Company)
	}
	if filter.Year > 0 {
		add("year = $%d", filter.Year)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		add("name ILIKE $%d ESCAPE '\\'", "%"+escapeLike(s)+"%")
	}
	fields := make([]string, 0, len(filter.Fields))
	for f := range filter.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !filterable[entity][f] {
			return "", nil, fmt.Errorf("cannot filter %s by %q", entity, f)
		}
		add("data->>'"+f+"' ILIKE $%d ESCAPE '\\'", escapeLike(filter.Fields[f]))
	}
	if entity == models.EntityVouchers {
		if filter.DateFrom != "" {
			add("data->>'date' >= $%d", filter.DateFrom)
		}
		if filter.DateTo != "" {
			add("data->>'date' <= $%d", filter.DateTo)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// ListAll loads every document in the scope
func (r *tallyRepo) ListAll(ctx context.Context, entity models.EntityType, scope models.Scope) ([]*models.Document, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND company = $2 AND year = $3 ORDER BY name ASC`,
		documentColumns, table)
	rows, err := r.db.Query(ctx, query, scope.TenantID, scope.Company, scope.Year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *tallyRepo) GetByID(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID) (*models.Document, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND id = $2`, documentColumns, table)
	doc, err := scanDocument(r.db.QueryRow(ctx, query, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (r *tallyRepo) Count(ctx context.Context, entity models.EntityType, scope models.Scope) (int, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = $1 AND company = $2 AND year = $3`, table)
	err = r.db.QueryRow(ctx, query, scope.TenantID, scope.Company, scope.Year).Scan(&count)
	return count, err
}

// PatchDocument merges patch into one stored document
func (r *tallyRepo) PatchDocument(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID, patch map[string]any) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET data = data || $1::jsonb, last_updated = NOW() WHERE tenant_id = $2 AND id = $3`, table)
	tag, err := r.db.Exec(ctx, query, string(data), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PatchByKey merges patch into the document matching the upsert key
func (r *tallyRepo) PatchByKey(ctx context.Context, entity models.EntityType, scope models.Scope, guid, name string, patch map[string]any) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	key := UpsertKey(guid, name)
	if key == "" {
		return ErrNotFound
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET data = data || $1::jsonb, last_updated = NOW()
		WHERE tenant_id = $2 AND company = $3 AND year = $4 AND match_key = $5`, table)
	tag, err := r.db.Exec(ctx, query, string(data), scope.TenantID, scope.Company, scope.Year, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
