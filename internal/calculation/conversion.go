// Package calculation converts reported energy into avoided emissions and
// token amounts. Every conversion is deterministic and uses exact decimals.
package calculation

import (
	"math"

	"github.com/shopspring/decimal"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/config"
)

const (
	// MaxKWhPlaces is the number of fractional digits accepted for kWh readings.
	MaxKWhPlaces = 4
	// MaxTonsPlaces matches the scale of the numeric(20,6) offset columns.
	MaxTonsPlaces = 6
	kgPerTon      = 1000
)

var (
	// MaxKWh bounds a single reading so derived token counts fit in int64.
	MaxKWh = decimal.New(1, 12)
	// MaxListingTons bounds a listing offset well inside the numeric(20,6)
	// column range.
	MaxListingTons = decimal.New(1, 8)

	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// EmissionFunc converts reported kWh into avoided CO2 in kilograms. It must be
// strictly increasing in kwh.
type EmissionFunc func(kwh decimal.Decimal) decimal.Decimal

// LinearEmission multiplies kWh by a grid emission factor in kg/kWh.
func LinearEmission(factorKgPerKWh decimal.Decimal) EmissionFunc {
	return func(kwh decimal.Decimal) decimal.Decimal {
		return kwh.Mul(factorKgPerKWh)
	}
}

// Policy holds the conversion parameters shared by the registry, the ledger
// and the marketplace.
type Policy struct {
	Emission           EmissionFunc
	KgPerCreditToken   decimal.Decimal
	EnergyTokensPerKWh decimal.Decimal
	PriceScale         int32
	PriceSymbol        string
}

// NewPolicy builds the policy from configuration using a linear emission factor.
func NewPolicy(cfg config.ConversionConfig) *Policy {
	return &Policy{
		Emission:           LinearEmission(cfg.EmissionFactorKgPerKWh),
		KgPerCreditToken:   cfg.KgPerCreditToken,
		EnergyTokensPerKWh: cfg.EnergyTokensPerKWh,
		PriceScale:         cfg.PriceScale,
		PriceSymbol:        cfg.PriceSymbol,
	}
}

// DefaultPolicy returns the policy for the default configuration.
func DefaultPolicy() *Policy {
	return NewPolicy(config.Default().Conversion)
}

// ValidateKWh checks a reported production figure.
func (p *Policy) ValidateKWh(kwh decimal.Decimal) error {
	if !kwh.IsPositive() {
		return apperrors.Validation("kwh_reported must be greater than zero")
	}
	if !kwh.Equal(kwh.Truncate(MaxKWhPlaces)) {
		return apperrors.Validation("kwh_reported supports at most %d decimal places", MaxKWhPlaces)
	}
	if kwh.GreaterThan(MaxKWh) {
		return apperrors.Validation("kwh_reported exceeds %s", MaxKWh.String())
	}
	return nil
}

// CO2Kg returns the avoided emissions for a reading.
func (p *Policy) CO2Kg(kwh decimal.Decimal) decimal.Decimal {
	return p.Emission(kwh)
}

// CreditTokens returns floor(co2Kg / KgPerCreditToken).
func (p *Policy) CreditTokens(co2Kg decimal.Decimal) int64 {
	if !co2Kg.IsPositive() {
		return 0
	}
	return co2Kg.Div(p.KgPerCreditToken).Floor().IntPart()
}

// EnergyTokens returns floor(kwh * EnergyTokensPerKWh).
func (p *Policy) EnergyTokens(kwh decimal.Decimal) int64 {
	if !kwh.IsPositive() {
		return 0
	}
	return kwh.Mul(p.EnergyTokensPerKWh).Floor().IntPart()
}

// ValidateListingTons checks the offset a seller wants to list.
func (p *Policy) ValidateListingTons(tons decimal.Decimal) error {
	if !tons.IsPositive() {
		return apperrors.Validation("co2_offset_tons must be positive")
	}
	if !tons.Equal(tons.Truncate(MaxTonsPlaces)) {
		return apperrors.Validation("co2_offset_tons supports at most %d decimal places", MaxTonsPlaces)
	}
	if tons.GreaterThan(MaxListingTons) {
		return apperrors.Validation("co2_offset_tons exceeds %s", MaxListingTons.String())
	}
	return nil
}

// ListingTokens returns the credit tokens that back an offset of the given
// tons, rounding up so a listing is never under-collateralised. It fails
// rather than truncate a count that does not fit in int64.
func (p *Policy) ListingTokens(tons decimal.Decimal) (int64, error) {
	if !tons.IsPositive() {
		return 0, nil
	}
	tokens := tons.Mul(decimal.NewFromInt(kgPerTon)).Div(p.KgPerCreditToken).Ceil()
	if tokens.GreaterThan(maxInt64) {
		return 0, apperrors.Validation("co2_offset_tons %s needs more credit tokens than a balance can hold", tons.String())
	}
	return tokens.IntPart(), nil
}

// TonsForTokens is the inverse of CreditTokens expressed in tons.
func (p *Policy) TonsForTokens(tokens int64) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(p.KgPerCreditToken).Div(decimal.NewFromInt(kgPerTon))
}

// PaymentUnits converts a price into integral base units.
func (p *Policy) PaymentUnits(price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, apperrors.Validation("price must be greater than zero")
	}
	units := price.Shift(p.PriceScale)
	if !units.IsInteger() {
		return 0, apperrors.Validation("price supports at most %d decimal places", p.PriceScale)
	}
	if units.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, apperrors.Validation("price is too large")
	}
	return units.IntPart(), nil
}

// PriceFromUnits converts base units back into a price.
func (p *Policy) PriceFromUnits(units int64) decimal.Decimal {
	return decimal.NewFromInt(units).Shift(-p.PriceScale)
}
