// Package loyalty implements credit point accrual and the replay of a
// customer's completed bills that rebuilds their point balance.
package loyalty

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"billingcore/internal/domain"
	"billingcore/internal/money"
)

// Balance is the running state of one customer's ledger.
type Balance struct {
	Points         float64
	Progress       float64
	OffersRedeemed int
}

// Accrue converts spend into points: every full step of progress+amount
// earns pointsPerStep, and what is left of the last step carries over.
func Accrue(progress float64, amount float64, program domain.CreditPointProgram) (float64, float64) {
	total := money.Sum(math.Max(0, progress), math.Max(0, amount))
	if program.SpendAmountPerStep <= 0 {
		return 0, total
	}
	steps, remainder := money.Steps(total, program.SpendAmountPerStep)
	return money.Mul(steps, program.PointsPerStep), remainder
}

// ApplyBill folds one completed bill into b and returns the points it
// earned. A bill that redeemed the credit offer resets the balance when the
// program says so; otherwise it accrues like any other bill.
func ApplyBill(b Balance, bill domain.Bill, program domain.CreditPointProgram) (Balance, float64) {
	if bill.CustomerOfferApplied {
		b.OffersRedeemed++
		if program.ResetOnRedeem {
			b.Points = 0
			b.Progress = 0
			return b, 0
		}
	}
	earned, progress := Accrue(b.Progress, bill.GrossAmount, program)
	b.Points = money.Sum(b.Points, earned)
	b.Progress = progress
	return b, earned
}

// OfferEligible reports whether a balance can pay for the credit offer.
func OfferEligible(points float64, program domain.CreditPointProgram) bool {
	return program.Enabled && program.PointsNeededForOffer > 0 && points >= program.PointsNeededForOffer
}

type Store interface {
	ListCompletedBillsByCustomer(ctx context.Context, phone string, cursor string, limit int) ([]domain.Bill, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
}

// Reconciler rebuilds stored customer ledgers from bill history.
type Reconciler struct {
	store    Store
	pageSize int
	logger   *zap.Logger
}

func NewReconciler(st Store, pageSize int, logger *zap.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: st, pageSize: pageSize, logger: logger.Named("loyalty")}
}

// Replay walks the customer's completed bills oldest first, one page at a
// time. Bills whose reward was not yet processed are left out: the
// post-completion processor will still accrue them onto the stored ledger.
func (r *Reconciler) Replay(ctx context.Context, phone string, program domain.CreditPointProgram) (domain.LedgerSnapshot, []string, error) {
	var (
		balance Balance
		billIDs []string
		cursor  string
	)
	for {
		page, err := r.store.ListCompletedBillsByCustomer(ctx, phone, cursor, r.pageSize)
		if err != nil {
			return domain.LedgerSnapshot{}, nil, fmt.Errorf("bill history for %s: %w", phone, err)
		}
		for _, bill := range page {
			if !bill.CustomerRewardProcessed {
				continue
			}
			balance, _ = ApplyBill(balance, bill, program)
			billIDs = append(billIDs, bill.ID)
		}
		if len(page) < r.pageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}

	return domain.LedgerSnapshot{
		Phone:                phone,
		RewardPoints:         balance.Points,
		RewardProgressAmount: balance.Progress,
		TotalOffersRedeemed:  balance.OffersRedeemed,
		BillsReplayed:        len(billIDs),
	}, billIDs, nil
}

// Reconcile replays the history and overwrites the stored ledger with the
// result.
func (r *Reconciler) Reconcile(ctx context.Context, phone string, program domain.CreditPointProgram) (*domain.Customer, domain.LedgerSnapshot, error) {
	customer, err := r.store.GetCustomerByPhone(ctx, phone)
	if err != nil {
		return nil, domain.LedgerSnapshot{}, err
	}
	snapshot, billIDs, err := r.Replay(ctx, phone, program)
	if err != nil {
		return nil, domain.LedgerSnapshot{}, err
	}

	if customer.RewardPoints != snapshot.RewardPoints || customer.RewardProgressAmount != snapshot.RewardProgressAmount {
		r.logger.Info("customer ledger drift corrected",
			zap.String("customer_phone", phone),
			zap.Float64("stored_points", customer.RewardPoints),
			zap.Float64("replayed_points", snapshot.RewardPoints),
		)
	}
	customer.RewardPoints = snapshot.RewardPoints
	customer.RewardProgressAmount = snapshot.RewardProgressAmount
	customer.TotalOffersRedeemed = snapshot.TotalOffersRedeemed
	customer.RewardedBillIDs = billIDs
	customer.IsOfferEligible = OfferEligible(snapshot.RewardPoints, program)

	updated, err := r.store.UpdateCustomer(ctx, *customer)
	if err != nil {
		return nil, domain.LedgerSnapshot{}, fmt.Errorf("persist reconciled ledger: %w", err)
	}
	return updated, snapshot, nil
}

