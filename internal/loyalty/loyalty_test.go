package loyalty

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"billingcore/internal/domain"
	"billingcore/internal/store/memory"
)

var program = domain.CreditPointProgram{
	Enabled:              true,
	SpendAmountPerStep:   100,
	PointsPerStep:        10,
	PointsNeededForOffer: 50,
	OfferAmount:          50,
	ResetOnRedeem:        true,
}

func TestAccrueCarriesRemainder(t *testing.T) {
	points, progress := Accrue(40, 170, program)
	assert.Equal(t, 20.0, points)
	assert.Equal(t, 10.0, progress)

	points, progress = Accrue(0, 99.99, program)
	assert.Zero(t, points)
	assert.Equal(t, 99.99, progress)

	points, progress = Accrue(5, 10, domain.CreditPointProgram{})
	assert.Zero(t, points)
	assert.Equal(t, 15.0, progress)
}

func TestApplyBillRedemption(t *testing.T) {
	start := Balance{Points: 60, Progress: 30}
	redeemed := domain.Bill{GrossAmount: 200, CustomerOfferApplied: true}

	b, earned := ApplyBill(start, redeemed, program)
	assert.Zero(t, earned)
	assert.Equal(t, Balance{OffersRedeemed: 1}, b)

	noReset := program
	noReset.ResetOnRedeem = false
	b, earned = ApplyBill(start, redeemed, noReset)
	assert.Equal(t, 20.0, earned)
	assert.Equal(t, 80.0, b.Points)
	assert.Equal(t, 30.0, b.Progress)
	assert.Equal(t, 1, b.OffersRedeemed)
}

func TestOfferEligible(t *testing.T) {
	assert.True(t, OfferEligible(50, program))
	assert.False(t, OfferEligible(49.99, program))
	assert.False(t, OfferEligible(500, domain.CreditPointProgram{Enabled: true}))
}

func seedCompleted(t *testing.T, st *memory.Store, phone string, gross float64, at time.Time, processed bool, redeemed bool) {
	t.Helper()
	_, err := st.CreateBill(context.Background(), domain.Bill{
		BranchID:                "b1",
		CustomerPhone:           phone,
		Status:                  domain.StatusCompleted,
		GrossAmount:             gross,
		CustomerOfferApplied:    redeemed,
		CustomerRewardProcessed: processed,
		CompletedAt:             &at,
	})
	require.NoError(t, err)
}

func TestReconcileReplaysHistoryAcrossPages(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	phone := "0811"
	_, err := st.CreateCustomer(ctx, domain.Customer{Phone: phone, RewardPoints: 999})
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	seedCompleted(t, st, phone, 250, base, true, false)                   // 20 pts, 50 left
	seedCompleted(t, st, phone, 80, base.Add(time.Hour), true, false)     // 10 pts, 30 left
	seedCompleted(t, st, phone, 500, base.Add(2*time.Hour), false, false) // not yet processed
	seedCompleted(t, st, phone, 300, base.Add(3*time.Hour), true, true)   // redeemed, reset
	seedCompleted(t, st, phone, 120, base.Add(4*time.Hour), true, false)  // 10 pts, 20 left
	seedCompleted(t, st, "0999", 1000, base, true, false)

	r := NewReconciler(st, 2, zap.NewNop())
	customer, snapshot, err := r.Reconcile(ctx, phone, program)
	require.NoError(t, err)

	assert.Equal(t, 4, snapshot.BillsReplayed)
	assert.Equal(t, 10.0, snapshot.RewardPoints)
	assert.Equal(t, 20.0, snapshot.RewardProgressAmount)
	assert.Equal(t, 1, snapshot.TotalOffersRedeemed)
	assert.Equal(t, 10.0, customer.RewardPoints)
	assert.Len(t, customer.RewardedBillIDs, 4)
	assert.False(t, customer.IsOfferEligible)
}

func TestReplayWithoutResetKeepsPoints(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	phone := "0822"
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	seedCompleted(t, st, phone, 600, base, true, false)               // 60 pts
	seedCompleted(t, st, phone, 200, base.Add(time.Hour), true, true) // redeemed, 20 pts

	noReset := program
	noReset.ResetOnRedeem = false
	snapshot, billIDs, err := NewReconciler(st, 10, zap.NewNop()).Replay(ctx, phone, noReset)
	require.NoError(t, err)

	assert.Equal(t, 80.0, snapshot.RewardPoints)
	assert.Zero(t, snapshot.RewardProgressAmount)
	assert.Equal(t, 1, snapshot.TotalOffersRedeemed)
	assert.Len(t, billIDs, 2)
}
