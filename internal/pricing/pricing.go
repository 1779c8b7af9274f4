// Package pricing turns a bill's resolved items into its payable total.
package pricing

import (
	"context"
	"math"

	"go.uber.org/zap"

	"billingcore/internal/domain"
	"billingcore/internal/loyalty"
	"billingcore/internal/money"
	"billingcore/internal/offers"
)

// LedgerSource rebuilds a customer's point balance when the stored one looks
// too low to pay for the credit offer.
type LedgerSource interface {
	Reconcile(ctx context.Context, phone string, program domain.CreditPointProgram) (*domain.Customer, domain.LedgerSnapshot, error)
}

type Aggregator struct {
	ledger LedgerSource
	logger *zap.Logger
}

func NewAggregator(ledger LedgerSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{ledger: ledger, logger: logger.Named("pricing")}
}

// Subtotals sets every item's subtotal and returns the gross amount.
func Subtotals(items []domain.BillItem) float64 {
	subtotals := make([]float64, len(items))
	for i := range items {
		items[i].Subtotal = money.Mul(items[i].Quantity, items[i].EffectiveUnitPrice)
		subtotals[i] = items[i].Subtotal
	}
	return money.Sum(subtotals...)
}

// Apply prices bill in place. Bill-level discounts only exist on completed
// bills; customer may be nil for walk-in bills.
func (a *Aggregator) Apply(ctx context.Context, bill *domain.Bill, customer *domain.Customer, s domain.CustomerRewardSettings) {
	bill.GrossAmount = Subtotals(bill.Items)

	if bill.Status != domain.StatusCompleted {
		bill.CustomerOfferApplied = false
		bill.CustomerOfferDiscount = 0
		bill.TotalPercentageOfferApplied = false
		bill.TotalPercentageOfferDiscount = 0
		bill.TotalAmount = bill.GrossAmount
		return
	}

	credit := a.creditDiscount(ctx, bill, customer, s.CreditPoints)
	afterCredit := math.Max(0, money.Sub(bill.GrossAmount, credit))
	percentage := a.percentageDiscount(bill, customer, s.TotalPercentageOffer, afterCredit)

	bill.TotalAmount = math.Max(0, money.Sub(afterCredit, percentage))
}

func (a *Aggregator) creditDiscount(ctx context.Context, bill *domain.Bill, customer *domain.Customer, program domain.CreditPointProgram) float64 {
	if bill.CustomerOfferApplied {
		// re-saved before or after processing: keep what was granted
		return bill.CustomerOfferDiscount
	}
	bill.CustomerOfferDiscount = 0
	if !bill.CustomerOfferRequested || bill.CustomerRewardProcessed || bill.CustomerPhone == "" || customer == nil {
		return 0
	}
	if !program.Enabled || program.PointsNeededForOffer <= 0 {
		return 0
	}

	points := customer.RewardPoints
	if points < program.PointsNeededForOffer && a.ledger != nil {
		reconciled, snapshot, err := a.ledger.Reconcile(ctx, bill.CustomerPhone, program)
		if err != nil {
			a.logger.Warn("ledger reconciliation failed",
				zap.String("bill_id", bill.ID),
				zap.String("customer_phone", bill.CustomerPhone),
				zap.Error(err),
			)
		} else {
			points = snapshot.RewardPoints
			*customer = *reconciled
		}
	}
	if !loyalty.OfferEligible(points, program) {
		return 0
	}

	bill.CustomerOfferApplied = true
	bill.CustomerOfferDiscount = math.Min(money.Round2(program.OfferAmount), bill.GrossAmount)
	return bill.CustomerOfferDiscount
}

func (a *Aggregator) percentageDiscount(bill *domain.Bill, customer *domain.Customer, offer domain.TotalPercentageOffer, amount float64) float64 {
	if bill.OfferCountersProcessed {
		// usage is counted; the gate would now see this bill's own usage
		return bill.TotalPercentageOfferDiscount
	}
	bill.TotalPercentageOfferApplied = false
	bill.TotalPercentageOfferDiscount = 0

	if !offer.Enabled || offer.Percentage <= 0 || amount <= 0 || amount < offer.MinimumAmount {
		return 0
	}
	cid := ""
	if customer != nil {
		cid = customer.ID
	}
	if !offers.Eligible(offer.OfferCounters, cid) {
		return 0
	}

	discount := math.Min(amount, money.Percent(amount, offer.Percentage))
	if discount <= 0 {
		return 0
	}
	bill.TotalPercentageOfferApplied = true
	bill.TotalPercentageOfferDiscount = discount
	return discount
}
