package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"tallysync/internal/models"
	"tallysync/internal/repositories"

	"github.com/google/uuid"
)

// memRepo is an in-memory TallyRepository with the same merge semantics as
// the Postgres implementation
type memRepo struct {
	mu        sync.Mutex
	docs      map[models.EntityType][]*models.Document
	keys      map[uuid.UUID]string
	upsertErr map[models.EntityType]error
	patchErr  error
	upserts   map[models.EntityType]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		docs:      map[models.EntityType][]*models.Document{},
		keys:      map[uuid.UUID]string{},
		upsertErr: map[models.EntityType]error{},
		upserts:   map[models.EntityType]int{},
	}
}

func inScope(d *models.Document, scope models.Scope) bool {
	return d.TenantID == scope.TenantID && d.Company == scope.Company && d.Year == scope.Year
}

func (r *memRepo) seed(entity models.EntityType, scope models.Scope, guid, name string, v any) *models.Document {
	rec, err := repositories.NewRecord(guid, name, v)
	if err != nil {
		panic(err)
	}
	if _, err := r.Upsert(context.Background(), entity, scope, []repositories.Record{rec}); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs[entity] {
		if inScope(d, scope) && r.keys[d.ID] == repositories.UpsertKey(guid, name) {
			return d
		}
	}
	return nil
}

func (r *memRepo) data(entity models.EntityType, name string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs[entity] {
		if d.Name == name {
			var m map[string]any
			_ = json.Unmarshal(d.Data, &m)
			return m
		}
	}
	return nil
}

func (r *memRepo) Upsert(ctx context.Context, entity models.EntityType, scope models.Scope, records []repositories.Record) (*repositories.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts[entity]++
	if err := r.upsertErr[entity]; err != nil {
		return nil, err
	}
	merged, keyless := repositories.MergeRecords(records)
	result := &repositories.UpsertResult{Chunks: 1, Skipped: len(keyless)}
	now := time.Now()
	for _, rec := range merged {
		key := repositories.UpsertKey(rec.GUID, rec.Name)
		var existing *models.Document
		for _, d := range r.docs[entity] {
			if inScope(d, scope) && r.keys[d.ID] == key {
				existing = d
				break
			}
		}
		if existing == nil {
			existing = &models.Document{ID: uuid.New(), TenantID: scope.TenantID, Company: scope.Company, Year: scope.Year, CreatedAt: now}
			r.docs[entity] = append(r.docs[entity], existing)
			r.keys[existing.ID] = key
		}
		var base map[string]any
		_ = json.Unmarshal(existing.Data, &base)
		data, _ := json.Marshal(repositories.MergeData(base, rec.Data))
		existing.Data = data
		existing.GUID = rec.GUID
		existing.Name = rec.Name
		existing.LastUpdated = now
		existing.LastSyncedAt = now
		result.Written++
	}
	return result, nil
}

func (r *memRepo) List(ctx context.Context, entity models.EntityType, filter repositories.ListFilter) ([]*models.Document, int, error) {
	docs, _ := r.ListAll(ctx, entity, models.Scope{TenantID: filter.TenantID, Company: filter.Company, Year: filter.Year})
	return docs, len(docs), nil
}

func (r *memRepo) ListAll(ctx context.Context, entity models.EntityType, scope models.Scope) ([]*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Document
	for _, d := range r.docs[entity] {
		if inScope(d, scope) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) GetByID(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs[entity] {
		if d.TenantID == tenantID && d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memRepo) Count(ctx context.Context, entity models.EntityType, scope models.Scope) (int, error) {
	docs, _ := r.ListAll(ctx, entity, scope)
	return len(docs), nil
}

func (r *memRepo) PatchDocument(ctx context.Context, entity models.EntityType, tenantID, id uuid.UUID, patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.patchErr != nil {
		return r.patchErr
	}
	for _, d := range r.docs[entity] {
		if d.TenantID == tenantID && d.ID == id {
			var base map[string]any
			_ = json.Unmarshal(d.Data, &base)
			raw, err := json.Marshal(patch)
			if err != nil {
				return err
			}
			var p map[string]any
			_ = json.Unmarshal(raw, &p)
			d.Data, _ = json.Marshal(repositories.MergeData(base, p))
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r *memRepo) PatchByKey(ctx context.Context, entity models.EntityType, scope models.Scope, guid, name string, patch map[string]any) error {
	r.mu.Lock()
	var id uuid.UUID
	for _, d := range r.docs[entity] {
		if inScope(d, scope) && r.keys[d.ID] == repositories.UpsertKey(guid, name) {
			id = d.ID
		}
	}
	r.mu.Unlock()
	if id == uuid.Nil {
		return repositories.ErrNotFound
	}
	return r.PatchDocument(ctx, entity, scope.TenantID, id, patch)
}
