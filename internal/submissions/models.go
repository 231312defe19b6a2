package submissions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a submission
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusMinted   Status = "minted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusMinted:
		return true
	default:
		return false
	}
}

// Submission is a producer's claim of renewable energy produced for a project.
// CO2KgComputed is fixed at creation and never recomputed.
type Submission struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	ProducerID    uuid.UUID       `json:"producer_id" gorm:"type:uuid;not null;index"`
	ProjectID     uuid.UUID       `json:"project_id" gorm:"type:uuid;not null;index"`
	KWhReported   decimal.Decimal `json:"kwh_reported" gorm:"type:numeric(24,4);not null"`
	CO2KgComputed decimal.Decimal `json:"co2_kg_computed" gorm:"type:numeric(30,10);not null"`
	Status        Status          `json:"status" gorm:"type:varchar(16);not null;index"`
	VerifierID    *uuid.UUID      `json:"verifier_id,omitempty" gorm:"type:uuid"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Submission) TableName() string {
	return "energy_submissions"
}

// BeforeCreate assigns a time-ordered id so listing by id follows creation order.
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = id
	}
	return nil
}

// Filter narrows a submission listing. After is an exclusive id cursor.
type Filter struct {
	Status     *Status
	ProducerID *uuid.UUID
	After      *uuid.UUID
	Limit      int
}

// Page is one page of submissions in id order.
type Page struct {
	Items      []Submission `json:"items"`
	NextCursor *uuid.UUID   `json:"next_cursor,omitempty"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Migrate creates the submissions table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Submission{})
}
