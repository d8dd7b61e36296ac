// Package commission resolves commission rates, records turnover and settles
// market sessions.
package commission

import (
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/models"
)

var hundred = decimal.NewFromInt(100)

// EffectiveRate returns the grower override when set, else the session
// default. Resolution depends only on whether the override is nil.
func EffectiveRate(g *models.Grower, s *models.Session) decimal.Decimal {
	if g != nil && g.CommissionRate != nil {
		return *g.CommissionRate
	}
	return s.CommissionRate
}

// IsCustomRate reports whether the grower override exists and differs from
// the session default. It is informational only.
func IsCustomRate(g *models.Grower, s *models.Session) bool {
	return g != nil && g.CommissionRate != nil && !g.CommissionRate.Equal(s.CommissionRate)
}

// Amount is turnover × rate / 100, rounded half away from zero to cents.
func Amount(turnover, rate decimal.Decimal) decimal.Decimal {
	return turnover.Mul(rate).Div(hundred).Round(2)
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && !rate.GreaterThan(hundred)
}
