package calculation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCO2Kg_MatchesReferenceReadings(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, "543.1615", p.CO2Kg(d("1247.5")).String())
	assert.Equal(t, "543.2", p.CO2Kg(d("1247.5")).Round(1).String())
	assert.True(t, p.CO2Kg(d("1000")).Equal(d("435.4")))
}

func TestCO2Kg_StrictlyIncreasing(t *testing.T) {
	p := DefaultPolicy()
	prev := p.CO2Kg(d("0.0001"))
	for _, kwh := range []string{"0.0002", "1", "1.0001", "10", "1247.5", "1000000"} {
		next := p.CO2Kg(d(kwh))
		assert.True(t, next.GreaterThan(prev), "co2 for %s should exceed previous", kwh)
		prev = next
	}
}

func TestCreditTokens(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		co2  string
		want int64
	}{
		{"0", 0},
		{"9.9999", 0},
		{"10", 1},
		{"543.1615", 54},
		{"435.4", 43},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.CreditTokens(d(tt.co2)), tt.co2)
	}
}

func TestEnergyTokens(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, int64(1247), p.EnergyTokens(d("1247.5")))
	assert.Equal(t, int64(0), p.EnergyTokens(d("0.5")))

	p.EnergyTokensPerKWh = d("2")
	assert.Equal(t, int64(2495), p.EnergyTokens(d("1247.5")))
}

func TestListingTokens(t *testing.T) {
	p := DefaultPolicy()
	for tons, want := range map[string]int64{"0.05": 5, "2.5": 250, "0.001": 1, "0": 0, "100000000": 10_000_000_000} {
		tokens, err := p.ListingTokens(d(tons))
		require.NoError(t, err)
		assert.Equal(t, want, tokens, tons)
	}
	assert.True(t, p.TonsForTokens(5).Equal(d("0.05")))
}

func TestListingTokens_RejectsOverflow(t *testing.T) {
	p := DefaultPolicy()

	_, err := p.ListingTokens(d("184467440737095516.17"))
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = p.ListingTokens(d("92233720368547758.08"))
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestValidateListingTons(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.ValidateListingTons(d("0.000001")))
	assert.NoError(t, p.ValidateListingTons(MaxListingTons))

	for _, tons := range []string{"0", "-1", "0.0000001", "100000000.000001", "184467440737095516.17"} {
		err := p.ValidateListingTons(d(tons))
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err), tons)
	}
}

func TestPaymentUnits(t *testing.T) {
	p := DefaultPolicy()

	units, err := p.PaymentUnits(d("0.05"))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), units)
	assert.True(t, p.PriceFromUnits(units).Equal(d("0.05")))

	_, err = p.PaymentUnits(d("0.0000001"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = p.PaymentUnits(d("0"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestValidateKWh(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.ValidateKWh(d("1247.5")))
	assert.NoError(t, p.ValidateKWh(d("0.0001")))
	assert.ErrorIs(t, p.ValidateKWh(d("0")), apperrors.ErrValidation)
	assert.ErrorIs(t, p.ValidateKWh(d("-3")), apperrors.ErrValidation)
	assert.ErrorIs(t, p.ValidateKWh(d("1.00001")), apperrors.ErrValidation)
	assert.ErrorIs(t, p.ValidateKWh(d("1000000000001")), apperrors.ErrValidation)
}

func TestCustomEmissionFunc(t *testing.T) {
	p := DefaultPolicy()
	p.Emission = LinearEmission(d("0.5"))
	assert.True(t, p.CO2Kg(d("100")).Equal(d("50")))
}
