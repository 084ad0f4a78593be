// Package money holds rupee/paise helpers. The domain keeps rupees as float64
// rounded to paise; gateways receive integer paise.
package money

import (
	"fmt"
	"math"
)

// Round rounds a rupee amount to paise precision.
func Round(rupees float64) float64 {
	return math.Round(rupees*100) / 100
}

// ToPaise converts rupees to the smallest currency unit.
func ToPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

// FromPaise converts paise back to rupees.
func FromPaise(paise int64) float64 {
	return float64(paise) / 100
}

// Percent returns pct percent of amount, rounded to paise.
func Percent(amount, pct float64) float64 {
	return Round(amount * pct / 100)
}

// Format renders an amount with two decimals, e.g. "8550.00".
func Format(rupees float64) string {
	return fmt.Sprintf("%.2f", Round(rupees))
}
