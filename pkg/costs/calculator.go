// Package costs turns unit counts into dollar amounts using the pricing
// table.
//
// Two entry points cover the two halves of a request's life: Estimate
// before the provider call (from estimated unit counts) and Calculate
// after it (from the provider's actual usage). Both apply the same
// graduated tier logic, so an estimate and the actual for identical unit
// counts always agree.
package costs

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"tollgate-ai/tollgate/pkg/pricing"
)

// Cost is a priced breakdown for one request.
type Cost struct {
	// InputCost is the USD cost of the input units.
	InputCost float64

	// OutputCost is the USD cost of the output units.
	OutputCost float64

	// Total is InputCost + OutputCost.
	Total float64

	// Provider and Model identify the pricing entry used.
	Provider string
	Model    string

	// Priced is false when no pricing entry covered the pair; the costs
	// are zero in that case and the request proceeds regardless.
	Priced bool
}

// Calculator prices requests against a pricing table.
type Calculator struct {
	table  *pricing.Table
	now    func() time.Time
	logger *slog.Logger
}

// NewCalculator creates a calculator over the given table.
func NewCalculator(table *pricing.Table) *Calculator {
	return &Calculator{
		table:  table,
		now:    time.Now,
		logger: slog.Default().With("component", "costs"),
	}
}

// Estimate prices a request before execution from estimated unit counts.
//
// Missing pricing fails open: the cost is zero, Priced is false, and a
// warning is logged. Admission must not be blocked by an incomplete price
// table.
func (c *Calculator) Estimate(provider, model string, inputUnits, outputUnits int64) Cost {
	return c.price(provider, model, inputUnits, outputUnits)
}

// Calculate prices a request after execution from actual unit counts.
func (c *Calculator) Calculate(provider, model string, inputUnits, outputUnits int64) Cost {
	return c.price(provider, model, inputUnits, outputUnits)
}

func (c *Calculator) price(provider, model string, inputUnits, outputUnits int64) Cost {
	cost := Cost{Provider: provider, Model: model}

	entry, err := c.table.Active(provider, model, c.now())
	if err != nil {
		if errors.Is(err, pricing.ErrPricingUnavailable) {
			c.logger.Warn("no pricing entry, reporting zero cost",
				"provider", provider,
				"model", model,
			)
		} else {
			c.logger.Error("pricing lookup failed", "provider", provider, "model", model, "error", err)
		}
		return cost
	}

	cost.InputCost = entry.InputCost(inputUnits)
	cost.OutputCost = entry.OutputCost(outputUnits)
	cost.Total = cost.InputCost + cost.OutputCost
	cost.Priced = true
	return cost
}

// MicroUSD converts a dollar amount to integer micro-USD, rounding up so
// that reservations never under-hold against a cost quota.
func MicroUSD(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(math.Ceil(usd * 1e6))
}

// USD converts micro-USD back to dollars for reporting.
func USD(micro int64) float64 {
	return float64(micro) / 1e6
}
