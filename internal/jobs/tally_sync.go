package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tallysync/internal/config"
	"tallysync/internal/models"
	"tallysync/internal/normalizer"
	"tallysync/internal/observability"
	"tallysync/internal/repositories"
	"tallysync/internal/tally"

	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// ErrInvalidRequest marks a sync request that can never run
var ErrInvalidRequest = errors.New("invalid sync request")

// Fetcher exports one entity collection from a Tally server
type Fetcher interface {
	Fetch(ctx context.Context, entity models.EntityType, opts tally.RequestOptions) (tally.Tree, error)
}

// ClientFactory returns the fetcher for one configured connection
type ClientFactory func(conn config.Connection) Fetcher

type SyncService struct {
	repo          repositories.TallyRepository
	clients       ClientFactory
	connections   []config.Connection
	relationships *RelationshipBuilder
	metrics       *observability.Metrics
	logger        logrus.FieldLogger
	voucherTypes  []string
	voucherWindow int
	now           func() time.Time
}

type SyncServiceOptions struct {
	VoucherTypes      []string
	VoucherWindowDays int
	Metrics           *observability.Metrics
	Logger            logrus.FieldLogger
	Now               func() time.Time
}

func NewSyncService(repo repositories.TallyRepository, clients ClientFactory, connections []config.Connection, opts SyncServiceOptions) *SyncService {
	s := &SyncService{
		repo:          repo,
		clients:       clients,
		connections:   connections,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		voucherTypes:  opts.VoucherTypes,
		voucherWindow: opts.VoucherWindowDays,
		now:           opts.Now,
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.voucherWindow <= 0 {
		s.voucherWindow = 7
	}
	s.relationships = NewRelationshipBuilder(repo, s.logger, s.now)
	return s
}

func (s *SyncService) Connections() []config.Connection {
	return s.connections
}

// ValidateRequest rejects requests that are malformed regardless of state
func ValidateRequest(req models.SyncRequest) error {
	switch req.Kind {
	case models.SyncFull, models.SyncManual, models.SyncRelationships:
		return nil
	case models.SyncEntity:
		if _, err := models.ParseEntityType(string(req.Entity)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if req.Entity == models.EntityVouchers && (req.FromDate != "" || req.ToDate != "") {
			_, _, err := parseRange(req.FromDate, req.ToDate)
			return err
		}
		return nil
	case models.SyncVouchers:
		_, _, err := parseRange(req.FromDate, req.ToDate)
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from date %q must be YYYY-MM-DD", ErrInvalidRequest, from)
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to date %q must be YYYY-MM-DD", ErrInvalidRequest, to)
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to date is before from date", ErrInvalidRequest)
	}
	return f, t, nil
}

// Execute performs the run over every connection in turn. Failures are
// recorded on the run and never abort the remaining work.
func (s *SyncService) Execute(ctx context.Context, run *models.SyncRun) {
	req := models.SyncRequest{Kind: run.Kind, Entity: run.Entity, FromDate: run.FromDate, ToDate: run.ToDate}
	if err := ValidateRequest(req); err != nil {
		run.Errors = append(run.Errors, err.Error())
		return
	}
	if len(s.connections) == 0 {
		run.Errors = append(run.Errors, "no tally connections configured")
		return
	}
	for _, conn := range s.connections {
		run.Connections = append(run.Connections, s.syncConnection(ctx, run, conn))
	}
}

func (s *SyncService) syncConnection(ctx context.Context, run *models.SyncRun, conn config.Connection) models.ConnectionResult {
	now := s.now()
	scope := models.ScopeAt(conn.TenantID, conn.Company, now)
	result := models.ConnectionResult{TenantID: conn.TenantID, Company: conn.Company}
	logger := s.logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"tenant_id": conn.TenantID,
		"company":   conn.Company,
	})

	if run.Kind == models.SyncRelationships {
		rel, err := s.relationships.Build(ctx, scope)
		result.Relationships = rel
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		return result
	}

	client := s.clients(conn)
	base := tally.RequestOptions{Company: conn.Company}
	refresh := false

	switch run.Kind {
	case models.SyncFull, models.SyncManual:
		for _, entity := range models.MasterEntities {
			result.Entities = append(result.Entities, s.syncEntity(ctx, client, scope, entity, base, logger))
		}
		if run.Kind == models.SyncManual {
			opts := s.voucherOptions(base, now.AddDate(0, 0, -s.voucherWindow), now)
			result.Entities = append(result.Entities, s.syncEntity(ctx, client, scope, models.EntityVouchers, opts, logger))
		}
		refresh = true
	case models.SyncVouchers:
		from, to, _ := parseRange(run.FromDate, run.ToDate)
		result.Entities = append(result.Entities, s.syncEntity(ctx, client, scope, models.EntityVouchers, s.voucherOptions(base, from, to), logger))
	case models.SyncEntity:
		entity, _ := models.ParseEntityType(string(run.Entity))
		opts := base
		if entity == models.EntityVouchers {
			from, to := now.AddDate(0, 0, -s.voucherWindow), now
			if run.FromDate != "" {
				from, to, _ = parseRange(run.FromDate, run.ToDate)
			}
			opts = s.voucherOptions(base, from, to)
		}
		result.Entities = append(result.Entities, s.syncEntity(ctx, client, scope, entity, opts, logger))
		refresh = entity == models.EntityCompany || entity == models.EntityCurrencies
	}

	if refresh {
		if err := s.refreshCompany(ctx, scope); err != nil {
			logger.WithError(err).Warn("failed to refresh company aggregates")
			result.Errors = append(result.Errors, err.Error())
		}
	}
	return result
}

func (s *SyncService) voucherOptions(base tally.RequestOptions, from, to time.Time) tally.RequestOptions {
	base.From = from
	base.To = to
	base.VoucherTypes = s.voucherTypes
	return base
}

func (s *SyncService) syncEntity(ctx context.Context, client Fetcher, scope models.Scope, entity models.EntityType, opts tally.RequestOptions, logger logrus.FieldLogger) (result models.EntityResult) {
	start := s.now()
	result.Entity = entity
	logger = logger.WithField("entity", entity)
	defer func() {
		result.DurationMS = s.now().Sub(start).Milliseconds()
		s.metrics.AddEntityResult(result)
		logger.WithFields(logrus.Fields{
			"fetched": result.Fetched,
			"saved":   result.Saved,
			"dropped": result.Dropped,
			"errors":  len(result.Errors),
		}).Info("entity sync finished")
	}()

	tree, err := client.Fetch(ctx, entity, opts)
	if err != nil {
		config.LogError(logger, "jobs", "syncEntity", nil, err)
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	tag, err := tally.CollectionTag(entity)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	raws, ok := normalizer.Collection(map[string]any(tree), tag)
	if !ok {
		logger.Warnf("no %s data in response", tag)
		return result
	}
	result.Fetched = len(raws)

	records, dropped := normalizeRecords(entity, raws, logger)
	result.Normalized = len(records)
	result.Dropped = dropped
	if len(records) == 0 {
		return result
	}

	written, err := s.repo.Upsert(ctx, entity, scope, records)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Saved = written.Written
	result.Errors = append(result.Errors, written.Errors...)
	return result
}

func normalizeRecords(entity models.EntityType, raws []normalizer.Raw, logger logrus.FieldLogger) ([]repositories.Record, int) {
	switch entity {
	case models.EntityCompany:
		return toRecords(normalizer.Companies(raws, logger), logger, func(c models.Company) (string, string) { return c.GUID, c.Name })
	case models.EntityGroups:
		return toRecords(normalizer.Groups(raws, logger), logger, func(g models.Group) (string, string) { return g.GUID, g.Name })
	case models.EntityCostCentres:
		return toRecords(normalizer.CostCentres(raws, logger), logger, func(c models.CostCentre) (string, string) { return c.GUID, c.Name })
	case models.EntityCurrencies:
		return toRecords(normalizer.Currencies(raws, logger), logger, func(c models.Currency) (string, string) { return c.GUID, c.Name })
	case models.EntityLedgers:
		return toRecords(normalizer.Ledgers(raws, logger), logger, func(l models.Ledger) (string, string) { return l.GUID, l.Name })
	case models.EntityVouchers:
		return toRecords(normalizer.Vouchers(raws, logger), logger, func(v models.Voucher) (string, string) { return v.GUID, v.NaturalName() })
	case models.EntityStockItems:
		return toRecords(normalizer.StockItems(raws, logger), logger, func(i models.StockItem) (string, string) { return i.GUID, i.Name })
	}
	return nil, len(raws)
}

func toRecords[T any](batch normalizer.Batch[T], logger logrus.FieldLogger, key func(T) (string, string)) ([]repositories.Record, int) {
	dropped := len(batch.Failed)
	records := make([]repositories.Record, 0, len(batch.Succeeded))
	for _, item := range batch.Succeeded {
		guid, name := key(item)
		rec, err := repositories.NewRecord(guid, name, item)
		if err != nil {
			logger.Warnf("dropping record: %v", err)
			dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, dropped
}

// refreshCompany stamps aggregate counts on the connection's company document
// and marks the currency whose symbol matches the company's as base
func (s *SyncService) refreshCompany(ctx context.Context, scope models.Scope) error {
	docs, err := s.repo.ListAll(ctx, models.EntityCompany, scope)
	if err != nil {
		return fmt.Errorf("failed to load company: %w", err)
	}
	var doc *models.Document
	for _, d := range docs {
		if strings.EqualFold(d.Name, scope.Company) {
			doc = d
			break
		}
	}
	if doc == nil {
		return nil
	}

	patch := map[string]any{"lastSyncedAt": s.now().UTC()}
	counts := []struct {
		field  string
		entity models.EntityType
	}{
		{"totalLedgers", models.EntityLedgers},
		{"totalVouchers", models.EntityVouchers},
		{"totalGroups", models.EntityGroups},
		{"totalStockItems", models.EntityStockItems},
	}
	for _, c := range counts {
		n, err := s.repo.Count(ctx, c.entity, scope)
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", c.entity, err)
		}
		patch[c.field] = n
	}
	if err := s.repo.PatchDocument(ctx, models.EntityCompany, scope.TenantID, doc.ID, patch); err != nil {
		return fmt.Errorf("failed to patch company: %w", err)
	}

	var company models.Company
	if err := doc.Decode(&company); err != nil {
		return fmt.Errorf("failed to decode company: %w", err)
	}
	return s.markBaseCurrency(ctx, scope, company)
}

func (s *SyncService) markBaseCurrency(ctx context.Context, scope models.Scope, company models.Company) error {
	symbol := strings.TrimSpace(company.CurrencySymbol)
	if symbol == "" && company.CurrencyName == "" {
		return nil
	}
	currencies, err := s.repo.ListAll(ctx, models.EntityCurrencies, scope)
	if err != nil {
		return fmt.Errorf("failed to load currencies: %w", err)
	}
	for _, doc := range currencies {
		var cur models.Currency
		if err := doc.Decode(&cur); err != nil {
			continue
		}
		isBase := (symbol != "" && strings.TrimSpace(cur.Symbol) == symbol) ||
			(company.CurrencyName != "" && strings.EqualFold(cur.Name, company.CurrencyName))
		if isBase == cur.IsBaseCurrency {
			continue
		}
		if err := s.repo.PatchDocument(ctx, models.EntityCurrencies, scope.TenantID, doc.ID, map[string]any{"isBaseCurrency": isBase}); err != nil {
			return fmt.Errorf("failed to patch currency %s: %w", cur.Name, err)
		}
	}
	return nil
}
