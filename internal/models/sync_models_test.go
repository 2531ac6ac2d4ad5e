package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRunFinish(t *testing.T) {
	now := time.Date(2024, 4, 1, 2, 0, 0, 0, time.UTC)
	conn := func(entities ...EntityResult) ConnectionResult {
		return ConnectionResult{Company: "Acme Traders", Entities: entities}
	}

	tests := []struct {
		name string
		run  SyncRun
		want SyncStatus
	}{
		{
			name: "clean run",
			run:  SyncRun{Connections: []ConnectionResult{conn(EntityResult{Entity: EntityLedgers, Saved: 10})}},
			want: SyncStatusSuccess,
		},
		{
			name: "empty collection",
			run:  SyncRun{Connections: []ConnectionResult{conn(EntityResult{Entity: EntityCostCentres})}},
			want: SyncStatusSuccess,
		},
		{
			name: "chunk error after saved rows",
			run: SyncRun{Connections: []ConnectionResult{conn(
				EntityResult{Entity: EntityVouchers, Saved: 500, Errors: []string{"chunk 500-999: boom"}},
			)}},
			want: SyncStatusPartial,
		},
		{
			name: "dropped records",
			run: SyncRun{Connections: []ConnectionResult{conn(
				EntityResult{Entity: EntityLedgers, Fetched: 3, Saved: 2, Dropped: 1},
			)}},
			want: SyncStatusPartial,
		},
		{
			name: "one entity failed outright",
			run: SyncRun{Connections: []ConnectionResult{conn(
				EntityResult{Entity: EntityLedgers, Saved: 4},
				EntityResult{Entity: EntityStockItems, Errors: []string{"timeout"}},
			)}},
			want: SyncStatusPartial,
		},
		{
			name: "run level error",
			run: SyncRun{
				Connections: []ConnectionResult{conn(EntityResult{Entity: EntityLedgers, Saved: 4})},
				Errors:      []string{"archive unavailable"},
			},
			want: SyncStatusPartial,
		},
		{
			name: "every entity failed",
			run: SyncRun{Connections: []ConnectionResult{conn(
				EntityResult{Entity: EntityLedgers, Errors: []string{"connection refused"}},
			)}},
			want: SyncStatusFailed,
		},
		{
			name: "connection error only",
			run:  SyncRun{Connections: []ConnectionResult{{Company: "Acme Traders", Errors: []string{"ping failed"}}}},
			want: SyncStatusFailed,
		},
		{
			name: "no connections",
			run:  SyncRun{Errors: []string{"no tally connections configured"}},
			want: SyncStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := tt.run
			run.Finish(now)
			require.NotNil(t, run.FinishedAt)
			assert.Equal(t, now, *run.FinishedAt)
			assert.Equal(t, tt.want, run.Status)
		})
	}
}

func TestEntityResultDegraded(t *testing.T) {
	assert.False(t, EntityResult{Saved: 3}.Degraded())
	assert.True(t, EntityResult{Saved: 3, Dropped: 1}.Degraded())
	assert.True(t, EntityResult{Saved: 3, Errors: []string{"boom"}}.Degraded())
	assert.False(t, EntityResult{Saved: 3, Errors: []string{"boom"}}.Failed())
}
