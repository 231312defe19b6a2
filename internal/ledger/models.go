package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
)

// TokenKind selects one of the balances held by an account
type TokenKind string

const (
	KindEnergy  TokenKind = "energy"
	KindCredit  TokenKind = "credit"
	KindPayment TokenKind = "payment"
)

// ParseTokenKind validates a kind received from a client.
func ParseTokenKind(s string) (TokenKind, error) {
	k := TokenKind(s)
	if _, err := k.column(); err != nil {
		return "", err
	}
	return k, nil
}

func (k TokenKind) column() (string, error) {
	switch k {
	case KindEnergy:
		return "energy_tokens", nil
	case KindCredit:
		return "credit_tokens", nil
	case KindPayment:
		return "payment_units", nil
	default:
		return "", apperrors.Validation("unknown token kind %q", k)
	}
}

// EntryReason explains a journal entry.
type EntryReason string

const (
	ReasonMint           EntryReason = "mint"
	ReasonEnergyIssuance EntryReason = "energy_issuance"
	ReasonTransferOut    EntryReason = "transfer_out"
	ReasonTransferIn     EntryReason = "transfer_in"
	ReasonDeposit        EntryReason = "deposit"
	ReasonRetire         EntryReason = "retire"
	ReasonListingEscrow  EntryReason = "listing_escrow"
	ReasonListingRefund  EntryReason = "listing_refund"
	ReasonTradePayment   EntryReason = "trade_payment"
	ReasonTradeProceeds  EntryReason = "trade_proceeds"
	ReasonTradeDelivery  EntryReason = "trade_delivery"
)

// Account holds the balances of one participant. Balances never go negative.
type Account struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	EnergyTokens int64     `json:"energy_tokens" gorm:"not null;default:0;check:chk_ledger_accounts_energy,energy_tokens >= 0"`
	CreditTokens int64     `json:"credit_tokens" gorm:"not null;default:0;check:chk_ledger_accounts_credit,credit_tokens >= 0"`
	PaymentUnits int64     `json:"payment_units" gorm:"not null;default:0;check:chk_ledger_accounts_payment,payment_units >= 0"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Account) TableName() string {
	return "ledger_accounts"
}

// Of returns the balance of one kind.
func (a *Account) Of(kind TokenKind) int64 {
	switch kind {
	case KindEnergy:
		return a.EnergyTokens
	case KindCredit:
		return a.CreditTokens
	case KindPayment:
		return a.PaymentUnits
	default:
		return 0
	}
}

// Balance is the read model returned to clients.
type Balance struct {
	AccountID    uuid.UUID       `json:"account_id"`
	EnergyTokens int64           `json:"energy_tokens"`
	CreditTokens int64           `json:"credit_tokens"`
	PaymentUnits int64           `json:"payment_units"`
	Payment      decimal.Decimal `json:"payment"`
}

// MintRecord proves a submission was minted. The unique submission_id is the
// double-mint guard.
type MintRecord struct {
	ID                   uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	SubmissionID         uuid.UUID       `json:"submission_id" gorm:"type:uuid;not null;uniqueIndex"`
	ProducerID           uuid.UUID       `json:"producer_id" gorm:"type:uuid;not null;index"`
	CreditTokensMinted   int64           `json:"credit_tokens_minted" gorm:"not null"`
	EnergyTokensCredited int64           `json:"energy_tokens_credited" gorm:"not null"`
	CO2Kg                decimal.Decimal `json:"co2_kg" gorm:"type:numeric(30,10);not null"`
	MintedAt             time.Time       `json:"minted_at" gorm:"not null"`
}

func (MintRecord) TableName() string {
	return "mint_records"
}

func (m *MintRecord) BeforeCreate(tx *gorm.DB) error {
	return assignID(&m.ID)
}

// Entry is one line of the append-only balance journal.
type Entry struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID   `json:"account_id" gorm:"type:uuid;not null;index"`
	Kind      TokenKind   `json:"kind" gorm:"type:varchar(16);not null"`
	Delta     int64       `json:"delta" gorm:"not null"`
	Reason    EntryReason `json:"reason" gorm:"type:varchar(32);not null;index"`
	RefID     *uuid.UUID  `json:"ref_id,omitempty" gorm:"type:uuid;index"`
	CreatedAt time.Time   `json:"created_at" gorm:"autoCreateTime"`
}

func (Entry) TableName() string {
	return "ledger_entries"
}

func (e *Entry) BeforeCreate(tx *gorm.DB) error {
	return assignID(&e.ID)
}

// Retirement records credit tokens burned on behalf of a beneficiary.
type Retirement struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID    uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index"`
	CreditTokens int64     `json:"credit_tokens" gorm:"not null"`
	Beneficiary  string    `json:"beneficiary" gorm:"type:varchar(200);not null"`
	RetiredAt    time.Time `json:"retired_at" gorm:"not null"`
}

func (Retirement) TableName() string {
	return "credit_retirements"
}

func (r *Retirement) BeforeCreate(tx *gorm.DB) error {
	return assignID(&r.ID)
}

// Transfer is the receipt of a completed transfer.
type Transfer struct {
	ID            uuid.UUID `json:"id"`
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Kind          TokenKind `json:"kind"`
	Amount        int64     `json:"amount"`
	TransferredAt time.Time `json:"transferred_at"`
}

// Totals are ledger-wide sums used by audits and stats.
type Totals struct {
	EnergyTokens       int64
	CreditTokens       int64
	PaymentUnits       int64
	CreditTokensMinted int64
	EnergyTokensMinted int64
	CreditsRetired     int64
}

// Migrate creates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &MintRecord{}, &Entry{}, &Retirement{})
}

// NewID returns a time-ordered id.
func NewID() (uuid.UUID, error) {
	return uuid.NewV7()
}

func assignID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v, err := NewID()
	if err != nil {
		return err
	}
	*id = v
	return nil
}
