package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"billingcore/internal/domain"
)

type fakeLedger struct {
	calls    int
	customer domain.Customer
	err      error
}

func (f *fakeLedger) Reconcile(_ context.Context, phone string, _ domain.CreditPointProgram) (*domain.Customer, domain.LedgerSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, domain.LedgerSnapshot{}, f.err
	}
	c := f.customer
	return &c, domain.LedgerSnapshot{Phone: phone, RewardPoints: c.RewardPoints}, nil
}

func creditSettings() domain.CustomerRewardSettings {
	return domain.CustomerRewardSettings{CreditPoints: domain.CreditPointProgram{
		Enabled: true, SpendAmountPerStep: 100, PointsPerStep: 10, PointsNeededForOffer: 50, OfferAmount: 50, ResetOnRedeem: true,
	}}
}

func line(qty, price float64) domain.BillItem {
	return domain.BillItem{Quantity: qty, UnitPrice: price, EffectiveUnitPrice: price, Status: domain.StatusDelivered}
}

func TestSubtotalsRoundEachLine(t *testing.T) {
	items := []domain.BillItem{line(3, 0.335), line(1.5, 2.225), line(2, 0)}
	gross := Subtotals(items)

	assert.Equal(t, 1.01, items[0].Subtotal)
	assert.Equal(t, 3.34, items[1].Subtotal)
	assert.Zero(t, items[2].Subtotal)
	assert.Equal(t, 4.35, gross)
}

func TestCreditOfferScenario(t *testing.T) {
	a := NewAggregator(&fakeLedger{}, zap.NewNop())
	bill := &domain.Bill{
		ID: "b1", CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true,
		Items: []domain.BillItem{line(4, 50)},
	}
	customer := &domain.Customer{ID: "c1", Phone: "0811", RewardPoints: 60}

	a.Apply(context.Background(), bill, customer, creditSettings())

	assert.Equal(t, 200.0, bill.GrossAmount)
	assert.True(t, bill.CustomerOfferApplied)
	assert.Equal(t, 50.0, bill.CustomerOfferDiscount)
	assert.Equal(t, 150.0, bill.TotalAmount)
}

func TestCreditOfferCappedByGross(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	bill := &domain.Bill{CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true, Items: []domain.BillItem{line(1, 30)}}

	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 80}, creditSettings())

	assert.Equal(t, 30.0, bill.CustomerOfferDiscount)
	assert.Zero(t, bill.TotalAmount)
}

func TestCreditOfferReconcilesStaleLedger(t *testing.T) {
	ledger := &fakeLedger{customer: domain.Customer{ID: "c1", Phone: "0811", RewardPoints: 70}}
	a := NewAggregator(ledger, zap.NewNop())
	bill := &domain.Bill{CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true, Items: []domain.BillItem{line(1, 120)}}
	customer := &domain.Customer{ID: "c1", Phone: "0811", RewardPoints: 10}

	a.Apply(context.Background(), bill, customer, creditSettings())

	assert.Equal(t, 1, ledger.calls)
	assert.True(t, bill.CustomerOfferApplied)
	assert.Equal(t, 70.0, customer.RewardPoints)
	assert.Equal(t, 70.0, bill.TotalAmount)
}

func TestCreditOfferDeniedWhenReconcileFailsOrStillShort(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("boom")}
	a := NewAggregator(ledger, zap.NewNop())
	bill := &domain.Bill{CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true, Items: []domain.BillItem{line(1, 120)}}

	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 10}, creditSettings())
	assert.False(t, bill.CustomerOfferApplied)
	assert.Equal(t, 120.0, bill.TotalAmount)

	ledger.err = nil
	ledger.customer = domain.Customer{ID: "c1", RewardPoints: 20}
	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 10}, creditSettings())
	assert.False(t, bill.CustomerOfferApplied)
}

func TestCreditOfferReappliedOnResave(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	bill := &domain.Bill{
		CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true,
		CustomerOfferApplied: true, CustomerOfferDiscount: 50, CustomerRewardProcessed: true,
		Items: []domain.BillItem{line(2, 100)},
	}

	// points are already spent; the granted discount must survive
	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 0}, creditSettings())

	assert.True(t, bill.CustomerOfferApplied)
	assert.Equal(t, 150.0, bill.TotalAmount)
}

func TestCreditOfferNotRequested(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	bill := &domain.Bill{CustomerPhone: "0811", Status: domain.StatusCompleted, Items: []domain.BillItem{line(2, 100)}}

	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 500}, creditSettings())
	assert.False(t, bill.CustomerOfferApplied)
	assert.Equal(t, 200.0, bill.TotalAmount)
}

func TestPercentageOfferOnAmountAfterCredit(t *testing.T) {
	s := creditSettings()
	s.TotalPercentageOffer = domain.TotalPercentageOffer{Enabled: true, Percentage: 12.5, MinimumAmount: 100}
	a := NewAggregator(nil, zap.NewNop())
	bill := &domain.Bill{CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true, Items: []domain.BillItem{line(1, 200.99)}}

	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 60}, s)

	assert.Equal(t, 50.0, bill.CustomerOfferDiscount)
	assert.True(t, bill.TotalPercentageOfferApplied)
	assert.Equal(t, 18.87, bill.TotalPercentageOfferDiscount)
	assert.Equal(t, 132.12, bill.TotalAmount)
	assert.InDelta(t, bill.GrossAmount-bill.CustomerOfferDiscount-bill.TotalPercentageOfferDiscount, bill.TotalAmount, 1e-9)
}

func TestPercentageOfferGates(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	s := domain.CustomerRewardSettings{TotalPercentageOffer: domain.TotalPercentageOffer{
		Enabled: true, Percentage: 10, MinimumAmount: 50,
		OfferCounters: domain.OfferCounters{MaxCustomerCount: 1, OfferCustomerCount: 1, OfferCustomers: []string{"c1"}},
	}}

	small := &domain.Bill{Status: domain.StatusCompleted, Items: []domain.BillItem{line(1, 40)}}
	a.Apply(context.Background(), small, &domain.Customer{ID: "c1"}, s)
	assert.False(t, small.TotalPercentageOfferApplied)

	returning := &domain.Bill{Status: domain.StatusCompleted, Items: []domain.BillItem{line(1, 80)}}
	a.Apply(context.Background(), returning, &domain.Customer{ID: "c1"}, s)
	assert.Equal(t, 8.0, returning.TotalPercentageOfferDiscount)

	stranger := &domain.Bill{Status: domain.StatusCompleted, Items: []domain.BillItem{line(1, 80)}}
	a.Apply(context.Background(), stranger, &domain.Customer{ID: "c2"}, s)
	assert.False(t, stranger.TotalPercentageOfferApplied)

	walkIn := &domain.Bill{Status: domain.StatusCompleted, Items: []domain.BillItem{line(1, 80)}}
	a.Apply(context.Background(), walkIn, nil, s)
	assert.False(t, walkIn.TotalPercentageOfferApplied)
}

func TestOpenBillsCarryNoBillLevelDiscounts(t *testing.T) {
	s := creditSettings()
	s.TotalPercentageOffer = domain.TotalPercentageOffer{Enabled: true, Percentage: 50}
	a := NewAggregator(nil, zap.NewNop())
	bill := &domain.Bill{
		CustomerPhone: "0811", Status: domain.StatusDelivered, CustomerOfferRequested: true,
		CustomerOfferApplied: true, CustomerOfferDiscount: 50,
		Items: []domain.BillItem{line(2, 100)},
	}

	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 60}, s)

	assert.False(t, bill.CustomerOfferApplied)
	assert.False(t, bill.TotalPercentageOfferApplied)
	assert.Equal(t, 200.0, bill.TotalAmount)
}

func TestTotalNeverNegative(t *testing.T) {
	s := creditSettings()
	s.TotalPercentageOffer = domain.TotalPercentageOffer{Enabled: true, Percentage: 100}
	a := NewAggregator(nil, zap.NewNop())
	bill := &domain.Bill{CustomerPhone: "0811", Status: domain.StatusCompleted, CustomerOfferRequested: true, Items: []domain.BillItem{line(1, 60)}}

	a.Apply(context.Background(), bill, &domain.Customer{ID: "c1", RewardPoints: 60}, s)

	require.GreaterOrEqual(t, bill.TotalAmount, 0.0)
	assert.Zero(t, bill.TotalAmount)
	assert.Equal(t, 10.0, bill.TotalPercentageOfferDiscount)
}
