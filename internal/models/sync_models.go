package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncKind string

const (
	SyncFull          SyncKind = "full"
	SyncManual        SyncKind = "manual"
	SyncVouchers      SyncKind = "vouchers"
	SyncEntity        SyncKind = "entity"
	SyncRelationships SyncKind = "relationships"
)

// IsFull reports whether the kind runs under the full-sync guard
func (k SyncKind) IsFull() bool {
	return k == SyncFull
}

type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCatchUp  = "catch_up"
)

// SyncRequest describes one requested run
type SyncRequest struct {
	Kind     SyncKind   `json:"kind"`
	Trigger  string     `json:"trigger"`
	Entity   EntityType `json:"entity,omitempty"`
	FromDate string     `json:"from_date,omitempty"`
	ToDate   string     `json:"to_date,omitempty"`
}

// EntityResult counts what happened to one entity within one connection
type EntityResult struct {
	Entity     EntityType `json:"entity"`
	Fetched    int        `json:"fetched"`
	Normalized int        `json:"normalized"`
	Saved      int        `json:"saved"`
	Dropped    int        `json:"dropped"`
	Errors     []string   `json:"errors,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// Failed reports an entity whose fetch or write failed outright
func (r EntityResult) Failed() bool {
	return len(r.Errors) > 0 && r.Saved == 0
}

// Degraded reports an entity that recorded any error or dropped any record
func (r EntityResult) Degraded() bool {
	return len(r.Errors) > 0 || r.Dropped > 0
}

type RelationshipResult struct {
	LedgersScanned      int `json:"ledgers_scanned"`
	VouchersScanned     int `json:"vouchers_scanned"`
	LedgersUpdated      int `json:"ledgers_updated"`
	LedgersWithVouchers int `json:"ledgers_with_vouchers"`
}

type ConnectionResult struct {
	TenantID      uuid.UUID           `json:"tenant_id"`
	Company       string              `json:"company"`
	Entities      []EntityResult      `json:"entities,omitempty"`
	Relationships *RelationshipResult `json:"relationships,omitempty"`
	Errors        []string            `json:"errors,omitempty"`
}

// SyncRun is one entry of the scheduler history
type SyncRun struct {
	ID          string             `json:"id"`
	Kind        SyncKind           `json:"kind"`
	Trigger     string             `json:"trigger"`
	Entity      EntityType         `json:"entity,omitempty"`
	FromDate    string             `json:"from_date,omitempty"`
	ToDate      string             `json:"to_date,omitempty"`
	Status      SyncStatus         `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Connections []ConnectionResult `json:"connections,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

// Finish stamps the run and derives its status. A run is a success only when
// nothing was recorded against it; it fails when every entity and connection
// check failed outright.
func (r *SyncRun) Finish(now time.Time) {
	r.FinishedAt = &now
	total, failed, degraded := 0, 0, 0
	for _, conn := range r.Connections {
		for _, e := range conn.Entities {
			total++
			if e.Failed() {
				failed++
			}
			if e.Degraded() {
				degraded++
			}
		}
		if len(conn.Errors) > 0 {
			total++
			failed++
		}
	}
	switch {
	case len(r.Errors) == 0 && failed == 0 && degraded == 0:
		r.Status = SyncStatusSuccess
	case total > 0 && failed < total:
		r.Status = SyncStatusPartial
	default:
		r.Status = SyncStatusFailed
	}
}

type GuardState string

const (
	GuardIdle    GuardState = "idle"
	GuardRunning GuardState = "running"
)

// SchedulerStatus is the snapshot returned by the status endpoint
type SchedulerStatus struct {
	Full        GuardState `json:"full"`
	Partial     GuardState `json:"partial"`
	Enabled     bool       `json:"enabled"`
	DailyAt     string     `json:"daily_at"`
	Timezone    string     `json:"timezone"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *SyncRun   `json:"last_run,omitempty"`
	HistorySize int        `json:"history_size"`
}
