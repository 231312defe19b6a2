// Package audit cross-checks the ledger against the marketplace escrow.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/marketplace"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
)

// LedgerAuditor runs the ledger's own balance and mint checks.
type LedgerAuditor interface {
	Audit(ctx context.Context) (*ledger.AuditReport, error)
}

// Report combines the ledger audit with the credit supply equation
// held + escrowed + retired = minted.
type Report struct {
	CheckedAt          time.Time `json:"checked_at"`
	AccountsChecked    int       `json:"accounts_checked"`
	CreditTokensMinted int64     `json:"credit_tokens_minted"`
	CreditTokensHeld   int64     `json:"credit_tokens_held"`
	CreditsEscrowed    int64     `json:"credits_escrowed"`
	CreditsRetired     int64     `json:"credits_retired"`
	Violations         []string  `json:"violations"`
}

func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

type Auditor struct {
	db     *gorm.DB
	ledger LedgerAuditor
	repo   ledger.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditor(db *gorm.DB, ledgerAuditor LedgerAuditor, repo ledger.Repository, logger *zap.Logger) *Auditor {
	return &Auditor{
		db:     db,
		ledger: ledgerAuditor,
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run performs a full audit. Violations are reported, not returned as
// errors; an error means the audit itself could not run.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	ledgerReport, err := a.ledger.Audit(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger audit: %w", err)
	}

	report := &Report{
		CheckedAt:       a.now(),
		AccountsChecked: ledgerReport.AccountsChecked,
		Violations:      append([]string{}, ledgerReport.Violations...),
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		totals, err := a.repo.WithTx(tx).Totals(ctx)
		if err != nil {
			return err
		}
		report.CreditTokensMinted = totals.CreditTokensMinted
		report.CreditTokensHeld = totals.CreditTokens
		report.CreditsRetired = totals.CreditsRetired

		err = tx.Model(&marketplace.CreditListing{}).
			Select("COALESCE(SUM(credit_tokens), 0)").
			Where("status = ?", marketplace.StatusAvailable).
			Scan(&report.CreditsEscrowed).Error
		if err != nil {
			return err
		}

		supply := report.CreditTokensHeld + report.CreditsEscrowed + report.CreditsRetired
		if supply != report.CreditTokensMinted {
			report.Violations = append(report.Violations, fmt.Sprintf(
				"credit supply %d (held %d, escrowed %d, retired %d) does not match minted %d",
				supply, report.CreditTokensHeld, report.CreditsEscrowed, report.CreditsRetired, report.CreditTokensMinted))
		}

		mismatched, err := mismatchedEscrows(tx)
		if err != nil {
			return err
		}
		for _, id := range mismatched {
			report.Violations = append(report.Violations,
				fmt.Sprintf("listing %s escrow postings do not match its status", id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("escrow audit: %w", err)
	}

	if !report.OK() {
		metrics.InvariantViolationsTotal.WithLabelValues("audit").Add(float64(len(report.Violations)))
		a.logger.Error("Audit found violations",
			zap.Int("count", len(report.Violations)),
			zap.Strings("violations", report.Violations))
	} else {
		a.logger.Info("Audit passed",
			zap.Int("accounts", report.AccountsChecked),
			zap.Int64("credit_tokens_minted", report.CreditTokensMinted))
	}
	return report, nil
}

// mismatchedEscrows returns listings whose credit postings do not net to
// minus the escrow while available, or to zero once sold or cancelled.
func mismatchedEscrows(tx *gorm.DB) ([]string, error) {
	var ids []string
	err := tx.Raw(`
		SELECT l.id
		FROM credit_listings l
		LEFT JOIN (
			SELECT ref_id, SUM(delta) AS total
			FROM ledger_entries
			WHERE kind = ?
			GROUP BY ref_id
		) e ON e.ref_id = l.id
		WHERE COALESCE(e.total, 0) <> CASE WHEN l.status = ? THEN -l.credit_tokens ELSE 0 END
		ORDER BY l.id`, ledger.KindCredit, marketplace.StatusAvailable).
		Scan(&ids).Error
	return ids, err
}
