package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
)

const maxBeneficiaryLength = 200

// Service is the token ledger. All balance changes run inside a database
// transaction whose journal postings are checked before commit.
type Service struct {
	db          *gorm.DB
	repo        Repository
	submissions submissions.Repository
	policy      *calculation.Policy
	publisher   events.Publisher
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(db *gorm.DB, repo Repository, subs submissions.Repository, policy *calculation.Policy, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		db:          db,
		repo:        repo,
		submissions: subs,
		policy:      policy,
		publisher:   publisher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Repository exposes the ledger repository for services that post to the
// ledger inside their own transactions.
func (s *Service) Repository() Repository {
	return s.repo
}

// EnsureAccount opens an empty account if none exists.
func (s *Service) EnsureAccount(ctx context.Context, accountID uuid.UUID) error {
	return s.repo.EnsureAccount(ctx, accountID)
}

// Mint converts an approved submission into credit tokens for its producer.
// A submission is minted at most once: the status compare-and-set and the
// unique mint record both reject a second attempt.
func (s *Service) Mint(ctx context.Context, submissionID uuid.UUID) (*MintRecord, error) {
	var record *MintRecord
	err := s.inTx(ctx, "mint", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subs := s.submissions.WithTx(tx)

		sub, err := subs.GetByID(ctx, submissionID)
		if err != nil {
			return err
		}

		existing, err := repo.FindMintRecord(ctx, submissionID)
		if err != nil {
			return err
		}
		if existing != nil || sub.Status == submissions.StatusMinted {
			return apperrors.New(apperrors.CodeDoubleMintAttempt, "submission %s is already minted", submissionID)
		}
		if sub.Status != submissions.StatusApproved {
			return apperrors.InvalidStateTransition("submission %s is %s, only approved submissions can be minted", submissionID, sub.Status)
		}

		won, err := subs.CompareAndSetStatus(ctx, submissionID, submissions.StatusApproved, submissions.StatusMinted, nil)
		if err != nil {
			return err
		}
		if !won {
			return apperrors.New(apperrors.CodeDoubleMintAttempt, "submission %s was minted concurrently", submissionID)
		}

		credits := s.policy.CreditTokens(sub.CO2KgComputed)
		energy := s.policy.EnergyTokens(sub.KWhReported)
		rec := &MintRecord{
			SubmissionID:         submissionID,
			ProducerID:           sub.ProducerID,
			CreditTokensMinted:   credits,
			EnergyTokensCredited: energy,
			CO2Kg:                sub.CO2KgComputed,
			MintedAt:             s.now(),
		}
		if err := repo.CreateMintRecord(ctx, rec); err != nil {
			return err
		}

		if credits > 0 {
			if err := repo.Credit(ctx, sub.ProducerID, KindCredit, credits, ReasonMint, &submissionID); err != nil {
				return err
			}
		} else if err := repo.EnsureAccount(ctx, sub.ProducerID); err != nil {
			return err
		}
		if energy > 0 {
			if err := repo.Credit(ctx, sub.ProducerID, KindEnergy, energy, ReasonEnergyIssuance, &submissionID); err != nil {
				return err
			}
		}

		if err := VerifyPostings(ctx, repo, submissionID, map[TokenKind]int64{
			KindCredit: credits,
			KindEnergy: energy,
		}); err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		if apperrors.IsConcurrencyLoss(err) {
			metrics.LostRacesTotal.WithLabelValues("mint").Inc()
			s.logger.Debug("Mint rejected", zap.String("submission_id", submissionID.String()), zap.Error(err))
		}
		return nil, err
	}

	metrics.MintsTotal.Inc()
	metrics.CreditTokensMinted.Add(float64(record.CreditTokensMinted))
	s.logger.Info("Submission minted",
		zap.String("submission_id", submissionID.String()),
		zap.String("producer_id", record.ProducerID.String()),
		zap.Int64("credit_tokens", record.CreditTokensMinted),
		zap.Int64("energy_tokens", record.EnergyTokensCredited))

	s.publisher.Publish(ctx, events.New(events.TypeMintRecorded, submissionID, map[string]interface{}{
		"mint_record_id": record.ID.String(),
		"producer_id":    record.ProducerID.String(),
		"credit_tokens":  record.CreditTokensMinted,
		"energy_tokens":  record.EnergyTokensCredited,
		"co2_kg":         record.CO2Kg.String(),
	}))
	return record, nil
}

// CreditEnergyTokens issues energy tokens outside the minting flow.
func (s *Service) CreditEnergyTokens(ctx context.Context, producerID uuid.UUID, amount int64) (*Balance, error) {
	if producerID == uuid.Nil {
		return nil, apperrors.Validation("producer_id is required")
	}
	if amount <= 0 {
		return nil, apperrors.Validation("amount must be positive")
	}
	ref, err := NewID()
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, "credit_energy", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Credit(ctx, producerID, KindEnergy, amount, ReasonEnergyIssuance, &ref); err != nil {
			return err
		}
		return VerifyPostings(ctx, repo, ref, map[TokenKind]int64{KindEnergy: amount})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Energy tokens credited",
		zap.String("producer_id", producerID.String()),
		zap.Int64("amount", amount))
	return s.BalanceOf(ctx, producerID)
}

// Transfer moves tokens between accounts atomically.
func (s *Service) Transfer(ctx context.Context, from, to uuid.UUID, amount int64, kind TokenKind) (*Transfer, error) {
	if _, err := kind.column(); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, apperrors.Validation("amount must be positive")
	}
	if from == uuid.Nil || to == uuid.Nil {
		return nil, apperrors.Validation("both accounts are required")
	}
	if from == to {
		return nil, apperrors.Validation("cannot transfer to the same account")
	}
	ref, err := NewID()
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, "transfer", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockAccounts(ctx, from, to); err != nil {
			return err
		}
		if err := repo.Debit(ctx, from, kind, amount, ReasonTransferOut, &ref); err != nil {
			return err
		}
		if err := repo.Credit(ctx, to, kind, amount, ReasonTransferIn, &ref); err != nil {
			return err
		}
		return VerifyPostings(ctx, repo, ref, map[TokenKind]int64{kind: 0})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Tokens transferred",
		zap.String("transfer_id", ref.String()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("kind", string(kind)),
		zap.Int64("amount", amount))
	return &Transfer{
		ID:            ref,
		FromAccountID: from,
		ToAccountID:   to,
		Kind:          kind,
		Amount:        amount,
		TransferredAt: s.now(),
	}, nil
}

// BalanceOf returns all balances of an account.
func (s *Service) BalanceOf(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.balance(account), nil
}

// Deposit funds an account's payment balance from an external wallet top-up.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*Balance, error) {
	if accountID == uuid.Nil {
		return nil, apperrors.Validation("account_id is required")
	}
	units, err := s.policy.PaymentUnits(amount)
	if err != nil {
		return nil, err
	}
	ref, err := NewID()
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, "deposit", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Credit(ctx, accountID, KindPayment, units, ReasonDeposit, &ref); err != nil {
			return err
		}
		return VerifyPostings(ctx, repo, ref, map[TokenKind]int64{KindPayment: units})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment deposited",
		zap.String("account_id", accountID.String()),
		zap.Int64("payment_units", units))
	return s.BalanceOf(ctx, accountID)
}

// Retire burns credit tokens permanently on behalf of a beneficiary.
func (s *Service) Retire(ctx context.Context, accountID uuid.UUID, tokens int64, beneficiary string) (*Retirement, error) {
	beneficiary = strings.TrimSpace(beneficiary)
	if tokens <= 0 {
		return nil, apperrors.Validation("credit_tokens must be positive")
	}
	if beneficiary == "" {
		return nil, apperrors.Validation("beneficiary is required")
	}
	if len(beneficiary) > maxBeneficiaryLength {
		return nil, apperrors.Validation("beneficiary must be at most %d characters", maxBeneficiaryLength)
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	retirement := &Retirement{
		ID:           id,
		AccountID:    accountID,
		CreditTokens: tokens,
		Beneficiary:  beneficiary,
		RetiredAt:    s.now(),
	}
	err = s.inTx(ctx, "retire", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Debit(ctx, accountID, KindCredit, tokens, ReasonRetire, &id); err != nil {
			return err
		}
		if err := repo.CreateRetirement(ctx, retirement); err != nil {
			return err
		}
		return VerifyPostings(ctx, repo, id, map[TokenKind]int64{KindCredit: -tokens})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credits retired",
		zap.String("retirement_id", id.String()),
		zap.String("account_id", accountID.String()),
		zap.Int64("credit_tokens", tokens))
	s.publisher.Publish(ctx, events.New(events.TypeCreditsRetired, id, map[string]interface{}{
		"account_id":    accountID.String(),
		"credit_tokens": tokens,
		"beneficiary":   beneficiary,
	}))
	return retirement, nil
}

// GetRetirement returns one retirement.
func (s *Service) GetRetirement(ctx context.Context, id uuid.UUID) (*Retirement, error) {
	return s.repo.GetRetirement(ctx, id)
}

// ListMintRecords returns mint records in mint order.
func (s *Service) ListMintRecords(ctx context.Context, limit int) ([]MintRecord, error) {
	return s.repo.ListMintRecords(ctx, limit)
}

// AuditReport is the outcome of a ledger consistency check.
type AuditReport struct {
	CheckedAt          time.Time `json:"checked_at"`
	AccountsChecked    int       `json:"accounts_checked"`
	CreditTokensMinted int64     `json:"credit_tokens_minted"`
	CreditTokensHeld   int64     `json:"credit_tokens_held"`
	CreditsRetired     int64     `json:"credits_retired"`
	Violations         []string  `json:"violations"`
}

func (r *AuditReport) OK() bool {
	return len(r.Violations) == 0
}

// Audit checks that every balance equals its journal, that minted credit
// tokens equal mint-journal credits, and that minted status and mint
// records agree.
func (s *Service) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{CheckedAt: s.now(), Violations: []string{}}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		accounts, err := repo.ListAccounts(ctx)
		if err != nil {
			return err
		}
		journal, err := repo.JournalTotals(ctx)
		if err != nil {
			return err
		}
		report.AccountsChecked = len(accounts)

		for i := range accounts {
			account := &accounts[i]
			for _, kind := range []TokenKind{KindEnergy, KindCredit, KindPayment} {
				if got, want := account.Of(kind), journal[account.ID][kind]; got != want {
					report.Violations = append(report.Violations,
						fmt.Sprintf("account %s %s balance %d does not match journal %d", account.ID, kind, got, want))
				}
			}
			delete(journal, account.ID)
		}
		for accountID := range journal {
			report.Violations = append(report.Violations,
				fmt.Sprintf("journal entries reference unknown account %s", accountID))
		}

		totals, err := repo.Totals(ctx)
		if err != nil {
			return err
		}
		report.CreditTokensMinted = totals.CreditTokensMinted
		report.CreditTokensHeld = totals.CreditTokens
		report.CreditsRetired = totals.CreditsRetired

		var mintJournal int64
		err = tx.Model(&Entry{}).
			Select("COALESCE(SUM(delta), 0)").
			Where("reason = ? AND kind = ?", ReasonMint, KindCredit).
			Scan(&mintJournal).Error
		if err != nil {
			return err
		}
		if mintJournal != totals.CreditTokensMinted {
			report.Violations = append(report.Violations,
				fmt.Sprintf("mint records total %d credit tokens but mint journal credits %d", totals.CreditTokensMinted, mintJournal))
		}

		mismatches, err := repo.CountMintMismatches(ctx)
		if err != nil {
			return err
		}
		if mismatches > 0 {
			report.Violations = append(report.Violations,
				fmt.Sprintf("%d submissions disagree with their mint records", mismatches))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.OK() {
		s.logger.Error("Ledger audit failed", zap.Strings("violations", report.Violations))
	}
	return report, nil
}

// VerifyPostings checks that the journal entries tagged with ref sum to the
// expected delta for each kind. It runs inside the posting transaction so a
// mismatch rolls the whole operation back.
func VerifyPostings(ctx context.Context, repo Repository, ref uuid.UUID, expected map[TokenKind]int64) error {
	for kind, want := range expected {
		got, err := repo.SumEntries(ctx, ref, kind)
		if err != nil {
			return err
		}
		if got != want {
			return apperrors.InvariantViolation("postings for %s sum to %d %s, expected %d", ref, got, kind, want)
		}
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil && errors.Is(err, apperrors.ErrInvariantViolation) {
		metrics.InvariantViolationsTotal.WithLabelValues(op).Inc()
		s.logger.Error("Ledger invariant violated, transaction rolled back",
			zap.String("operation", op),
			zap.Error(err))
	}
	return err
}

func (s *Service) balance(account *Account) *Balance {
	return &Balance{
		AccountID:    account.ID,
		EnergyTokens: account.EnergyTokens,
		CreditTokens: account.CreditTokens,
		PaymentUnits: account.PaymentUnits,
		Payment:      s.policy.PriceFromUnits(account.PaymentUnits),
	}
}
