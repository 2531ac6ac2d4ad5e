package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"tallysync/internal/models"
	"tallysync/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RelationshipBuilder attaches a voucher summary to every ledger by matching
// voucher parties against ledger names and aliases
type RelationshipBuilder struct {
	repo   repositories.TallyRepository
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewRelationshipBuilder(repo repositories.TallyRepository, logger logrus.FieldLogger, now func() time.Time) *RelationshipBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &RelationshipBuilder{repo: repo, logger: logger, now: now}
}

// ledgerMatcher holds both patterns for one ledger. Anchored matches are
// preferred; the substring pattern applies only when nothing matched exactly.
type ledgerMatcher struct {
	anchored  *regexp.Regexp
	substring *regexp.Regexp
}

func newLedgerMatcher(terms ...string) (*ledgerMatcher, bool) {
	var quoted []string
	seen := map[string]bool{}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		quoted = append(quoted, regexp.QuoteMeta(t))
	}
	if len(quoted) == 0 {
		return nil, false
	}
	alt := strings.Join(quoted, "|")
	return &ledgerMatcher{
		anchored:  regexp.MustCompile(`(?i)^\s*(?:` + alt + `)\s*$`),
		substring: regexp.MustCompile(`(?i)(?:` + alt + `)`),
	}, true
}

func matchesParty(re *regexp.Regexp, v models.Voucher) bool {
	return (v.Party != "" && re.MatchString(v.Party)) ||
		(v.PartyLedgerName != "" && re.MatchString(v.PartyLedgerName))
}

func (m *ledgerMatcher) match(vouchers []models.Voucher) []models.Voucher {
	var matched []models.Voucher
	for _, v := range vouchers {
		if matchesParty(m.anchored, v) {
			matched = append(matched, v)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	for _, v := range vouchers {
		if matchesParty(m.substring, v) {
			matched = append(matched, v)
		}
	}
	return matched
}

// Summarize aggregates the matched vouchers. Amounts are summed by absolute
// value.
func Summarize(vouchers []models.Voucher) models.VoucherSummary {
	summary := models.VoucherSummary{TotalAmount: decimal.Zero, VoucherTypes: []string{}}
	types := map[string]bool{}
	var latest *models.Voucher
	for i := range vouchers {
		v := vouchers[i]
		summary.Count++
		summary.TotalAmount = summary.TotalAmount.Add(v.Amount.Abs())
		if v.VoucherType != "" && !types[v.VoucherType] {
			types[v.VoucherType] = true
			summary.VoucherTypes = append(summary.VoucherTypes, v.VoucherType)
		}
		if latest == nil || v.Date > latest.Date {
			latest = &vouchers[i]
		}
	}
	sort.Strings(summary.VoucherTypes)
	if latest != nil {
		summary.LatestVoucher = &models.VoucherRef{
			Date:          latest.Date,
			VoucherNumber: latest.VoucherNumber,
			VoucherType:   latest.VoucherType,
			Amount:        latest.Amount,
			Party:         latest.Party,
		}
	}
	return summary
}

// Build recomputes the summary of every ledger in the scope. A voucher counts
// toward every ledger it matches. Patch failures are collected and returned
// alongside the partial result.
func (b *RelationshipBuilder) Build(ctx context.Context, scope models.Scope) (*models.RelationshipResult, error) {
	logger := b.logger.WithFields(logrus.Fields{"tenant_id": scope.TenantID, "company": scope.Company})

	ledgers, err := b.repo.ListAll(ctx, models.EntityLedgers, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledgers: %w", err)
	}
	voucherDocs, err := b.repo.ListAll(ctx, models.EntityVouchers, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load vouchers: %w", err)
	}

	vouchers := make([]models.Voucher, 0, len(voucherDocs))
	for _, doc := range voucherDocs {
		var v models.Voucher
		if err := doc.Decode(&v); err != nil {
			logger.WithField("voucher_id", doc.ID).Warnf("skipping unreadable voucher: %v", err)
			continue
		}
		vouchers = append(vouchers, v)
	}

	result := &models.RelationshipResult{LedgersScanned: len(ledgers), VouchersScanned: len(vouchers)}
	updatedAt := b.now().UTC()
	var errs []error
	for _, doc := range ledgers {
		var ledger models.Ledger
		if err := doc.Decode(&ledger); err != nil {
			logger.WithField("ledger_id", doc.ID).Warnf("skipping unreadable ledger: %v", err)
			continue
		}
		matcher, ok := newLedgerMatcher(ledger.Name, ledger.Alias, doc.Name)
		if !ok {
			continue
		}
		summary := Summarize(matcher.match(vouchers))
		hasVouchers := summary.Count > 0
		patch := map[string]any{
			"voucherSummary":          summary,
			"hasRelatedVouchers":      hasVouchers,
			"voucherSummaryUpdatedAt": updatedAt,
		}
		if err := b.repo.PatchDocument(ctx, models.EntityLedgers, scope.TenantID, doc.ID, patch); err != nil {
			errs = append(errs, fmt.Errorf("ledger %s: %w", doc.Name, err))
			continue
		}
		result.LedgersUpdated++
		if hasVouchers {
			result.LedgersWithVouchers++
		}
	}

	logger.WithFields(logrus.Fields{
		"ledgers":  result.LedgersScanned,
		"vouchers": result.VouchersScanned,
		"updated":  result.LedgersUpdated,
		"linked":   result.LedgersWithVouchers,
	}).Info("relationship build finished")
	return result, errors.Join(errs...)
}
