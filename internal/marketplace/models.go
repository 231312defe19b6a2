package marketplace

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ListingStatus is the lifecycle state of a listing
type ListingStatus string

const (
	StatusAvailable ListingStatus = "available"
	StatusSold      ListingStatus = "sold"
	StatusCancelled ListingStatus = "cancelled"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusCancelled:
		return true
	default:
		return false
	}
}

// EnergyType is the generation source behind a listing
type EnergyType string

const (
	EnergySolar      EnergyType = "solar"
	EnergyWind       EnergyType = "wind"
	EnergyHydro      EnergyType = "hydro"
	EnergyGeothermal EnergyType = "geothermal"
	EnergyBiomass    EnergyType = "biomass"
)

func (e EnergyType) Valid() bool {
	switch e {
	case EnergySolar, EnergyWind, EnergyHydro, EnergyGeothermal, EnergyBiomass:
		return true
	default:
		return false
	}
}

// CreditListing offers escrowed credit tokens for sale. CreditTokens were
// debited from the seller when the listing was created.
type CreditListing struct {
	ID                   uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	SellerID             uuid.UUID         `json:"seller_id" gorm:"type:uuid;not null;index"`
	ProjectID            uuid.UUID         `json:"project_id" gorm:"type:uuid;not null;index"`
	Name                 string            `json:"name" gorm:"type:varchar(200);not null"`
	Location             string            `json:"location" gorm:"type:varchar(200)"`
	CO2OffsetTons        decimal.Decimal   `json:"co2_offset_tons" gorm:"type:numeric(20,6);not null"`
	CreditTokens         int64             `json:"credit_tokens" gorm:"not null"`
	Price                decimal.Decimal   `json:"price" gorm:"type:numeric(30,12);not null"`
	PriceUnits           int64             `json:"price_units" gorm:"not null"`
	VerificationStandard string            `json:"verification_standard" gorm:"type:varchar(64);not null"`
	EnergyType           EnergyType        `json:"energy_type" gorm:"type:varchar(16);not null;index"`
	Status               ListingStatus     `json:"status" gorm:"type:varchar(16);not null;index"`
	BuyerID              *uuid.UUID        `json:"buyer_id,omitempty" gorm:"type:uuid"`
	SoldAt               *time.Time        `json:"sold_at,omitempty"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

func (CreditListing) TableName() string {
	return "credit_listings"
}

func (l *CreditListing) BeforeCreate(tx *gorm.DB) error {
	return assignID(&l.ID)
}

// Trade is the settlement record of a sold listing. One per listing.
type Trade struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	ListingID     uuid.UUID       `json:"listing_id" gorm:"type:uuid;not null;uniqueIndex"`
	BuyerID       uuid.UUID       `json:"buyer_id" gorm:"type:uuid;not null;index"`
	SellerID      uuid.UUID       `json:"seller_id" gorm:"type:uuid;not null;index"`
	PriceUnits    int64           `json:"price_units" gorm:"not null"`
	CreditTokens  int64           `json:"credit_tokens" gorm:"not null"`
	CO2OffsetTons decimal.Decimal `json:"co2_offset_tons" gorm:"type:numeric(20,6);not null"`
	SettledAt     time.Time       `json:"settled_at" gorm:"not null"`
}

func (Trade) TableName() string {
	return "credit_trades"
}

func (t *Trade) BeforeCreate(tx *gorm.DB) error {
	return assignID(&t.ID)
}

// ListRequest describes a new listing.
type ListRequest struct {
	SellerID             uuid.UUID
	ProjectID            uuid.UUID
	Name                 string
	Location             string
	CO2OffsetTons        decimal.Decimal
	Price                decimal.Decimal
	VerificationStandard string
	EnergyType           EnergyType
	Metadata             map[string]interface{}
}

// Filter narrows a browse. A nil Status means available listings only.
type Filter struct {
	EnergyType *EnergyType
	Status     *ListingStatus
	SellerID   *uuid.UUID
	After      *uuid.UUID
	Limit      int
}

// Migrate creates the marketplace tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CreditListing{}, &Trade{})
}

func assignID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = v
	return nil
}
