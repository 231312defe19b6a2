package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
)

// Repository is the persistence layer of the ledger. Every balance change
// writes a journal entry through the same handle, so callers that need
// atomicity bind it to a transaction with WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	EnsureAccount(ctx context.Context, accountID uuid.UUID) error
	GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error)
	// LockAccounts takes row locks on the existing accounts in ascending id
	// order. Callers that touch more than one account lock them all first so
	// concurrent transactions queue instead of deadlocking.
	LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) error

	// Credit adds amount to a balance, opening the account if needed.
	Credit(ctx context.Context, accountID uuid.UUID, kind TokenKind, amount int64, reason EntryReason, ref *uuid.UUID) error
	// Debit subtracts amount only if the balance covers it.
	Debit(ctx context.Context, accountID uuid.UUID, kind TokenKind, amount int64, reason EntryReason, ref *uuid.UUID) error
	SumEntries(ctx context.Context, ref uuid.UUID, kind TokenKind) (int64, error)

	FindMintRecord(ctx context.Context, submissionID uuid.UUID) (*MintRecord, error)
	CreateMintRecord(ctx context.Context, record *MintRecord) error
	ListMintRecords(ctx context.Context, limit int) ([]MintRecord, error)

	CreateRetirement(ctx context.Context, r *Retirement) error
	GetRetirement(ctx context.Context, id uuid.UUID) (*Retirement, error)

	Totals(ctx context.Context) (*Totals, error)
	JournalTotals(ctx context.Context) (map[uuid.UUID]map[TokenKind]int64, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	CountMintMismatches(ctx context.Context) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) EnsureAccount(ctx context.Context, accountID uuid.UUID) error {
	if accountID == uuid.Nil {
		return apperrors.Validation("account id is required")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Account{ID: accountID}).Error
}

func (r *gormRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	var account Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("account", accountID)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	var locked []uuid.UUID
	return r.db.WithContext(ctx).
		Model(&Account{}).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id IN ?", accountIDs).
		Order("id").
		Pluck("id", &locked).Error
}

func (r *gormRepository) Credit(ctx context.Context, accountID uuid.UUID, kind TokenKind, amount int64, reason EntryReason, ref *uuid.UUID) error {
	col, err := kind.column()
	if err != nil {
		return err
	}
	if amount <= 0 {
		return apperrors.Validation("credit amount must be positive")
	}
	if err := r.EnsureAccount(ctx, accountID); err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			col:          gorm.Expr(col+" + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return apperrors.InvariantViolation("credit of account %s touched %d rows", accountID, result.RowsAffected)
	}
	return r.journal(ctx, accountID, kind, amount, reason, ref)
}

func (r *gormRepository) Debit(ctx context.Context, accountID uuid.UUID, kind TokenKind, amount int64, reason EntryReason, ref *uuid.UUID) error {
	col, err := kind.column()
	if err != nil {
		return err
	}
	if amount <= 0 {
		return apperrors.Validation("debit amount must be positive")
	}

	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ? AND "+col+" >= ?", accountID, amount).
		Updates(map[string]interface{}{
			col:          gorm.Expr(col+" - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperrors.NotFound("account", accountID)
		}
		return apperrors.New(apperrors.CodeInsufficientBalance, "account %s has insufficient %s balance for %d", accountID, kind, amount)
	}
	return r.journal(ctx, accountID, kind, -amount, reason, ref)
}

func (r *gormRepository) journal(ctx context.Context, accountID uuid.UUID, kind TokenKind, delta int64, reason EntryReason, ref *uuid.UUID) error {
	entry := &Entry{
		AccountID: accountID,
		Kind:      kind,
		Delta:     delta,
		Reason:    reason,
		RefID:     ref,
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) SumEntries(ctx context.Context, ref uuid.UUID, kind TokenKind) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("ref_id = ? AND kind = ?", ref, kind).
		Scan(&total).Error
	return total, err
}

func (r *gormRepository) FindMintRecord(ctx context.Context, submissionID uuid.UUID) (*MintRecord, error) {
	var record MintRecord
	err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *gormRepository) CreateMintRecord(ctx context.Context, record *MintRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.New(apperrors.CodeDoubleMintAttempt, "submission %s already has a mint record", record.SubmissionID)
	}
	return err
}

func (r *gormRepository) ListMintRecords(ctx context.Context, limit int) ([]MintRecord, error) {
	query := r.db.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []MintRecord
	err := query.Find(&records).Error
	return records, err
}

func (r *gormRepository) CreateRetirement(ctx context.Context, ret *Retirement) error {
	return r.db.WithContext(ctx).Create(ret).Error
}

func (r *gormRepository) GetRetirement(ctx context.Context, id uuid.UUID) (*Retirement, error) {
	var ret Retirement
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("retirement", id)
	}
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *gormRepository) Totals(ctx context.Context) (*Totals, error) {
	var totals Totals
	db := r.db.WithContext(ctx)

	err := db.Model(&Account{}).
		Select("COALESCE(SUM(energy_tokens), 0), COALESCE(SUM(credit_tokens), 0), COALESCE(SUM(payment_units), 0)").
		Row().Scan(&totals.EnergyTokens, &totals.CreditTokens, &totals.PaymentUnits)
	if err != nil {
		return nil, err
	}

	err = db.Model(&MintRecord{}).
		Select("COALESCE(SUM(credit_tokens_minted), 0), COALESCE(SUM(energy_tokens_credited), 0)").
		Row().Scan(&totals.CreditTokensMinted, &totals.EnergyTokensMinted)
	if err != nil {
		return nil, err
	}

	err = db.Model(&Retirement{}).
		Select("COALESCE(SUM(credit_tokens), 0)").
		Row().Scan(&totals.CreditsRetired)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

func (r *gormRepository) JournalTotals(ctx context.Context) (map[uuid.UUID]map[TokenKind]int64, error) {
	var rows []struct {
		AccountID uuid.UUID
		Kind      TokenKind
		Total     int64
	}
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Select("account_id, kind, COALESCE(SUM(delta), 0) AS total").
		Group("account_id, kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[uuid.UUID]map[TokenKind]int64)
	for _, row := range rows {
		if totals[row.AccountID] == nil {
			totals[row.AccountID] = make(map[TokenKind]int64)
		}
		totals[row.AccountID][row.Kind] = row.Total
	}
	return totals, nil
}

func (r *gormRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}

// CountMintMismatches counts minted submissions without a mint record plus
// mint records whose submission is not minted.
func (r *gormRepository) CountMintMismatches(ctx context.Context) (int64, error) {
	db := r.db.WithContext(ctx)

	var orphanedSubmissions int64
	err := db.Model(&submissions.Submission{}).
		Where("status = ?", submissions.StatusMinted).
		Where("NOT EXISTS (SELECT 1 FROM mint_records mr WHERE mr.submission_id = energy_submissions.id)").
		Count(&orphanedSubmissions).Error
	if err != nil {
		return 0, err
	}

	var orphanedRecords int64
	err = db.Model(&MintRecord{}).
		Where("NOT EXISTS (SELECT 1 FROM energy_submissions s WHERE s.id = mint_records.submission_id AND s.status = ?)", submissions.StatusMinted).
		Count(&orphanedRecords).Error
	if err != nil {
		return 0, err
	}
	return orphanedSubmissions + orphanedRecords, nil
}
