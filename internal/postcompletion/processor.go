// Package postcompletion applies the effects of a completed bill on shared
// state: the customer ledger and the offer usage counters. Every step is
// guarded so that running it again for the same bill changes nothing.
package postcompletion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"

	"billingcore/internal/domain"
	"billingcore/internal/loyalty"
	"billingcore/internal/offers"
	"billingcore/internal/settings"
	"billingcore/internal/store"
)

type Store interface {
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	ListBillsPendingPostCompletion(ctx context.Context, limit int) ([]domain.Bill, error)
	MarkOfferCountersProcessed(ctx context.Context, billID string) (bool, error)
	MarkCustomerRewardProcessed(ctx context.Context, billID string, points float64) (bool, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
}

type SettingsRepository interface {
	Load(ctx context.Context) (domain.CustomerRewardSettings, error)
	Mutate(ctx context.Context, usageKey string, fn func(*domain.CustomerRewardSettings) error) (domain.CustomerRewardSettings, error)
}

type Processor struct {
	store    Store
	settings SettingsRepository
	logger   *zap.Logger
	pick     func(n int) int
}

func NewProcessor(st Store, repo SettingsRepository, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    st,
		settings: repo,
		logger:   logger.Named("postcompletion"),
		pick:     rand.IntN,
	}
}

// Process runs every step for the bill. Step failures are logged and
// reported; the bill's flags stay false for them so a later repair can retry.
// The returned error is only set when the bill or settings cannot be read.
func (p *Processor) Process(ctx context.Context, billID string) (domain.PostCompletionReport, error) {
	report := domain.PostCompletionReport{BillID: billID}

	bill, err := p.store.GetBill(ctx, billID)
	if err != nil {
		return report, err
	}
	if bill.Status != domain.StatusCompleted {
		return report, nil
	}
	report.OfferCountersProcessed = bill.OfferCountersProcessed
	report.RewardProcessed = bill.CustomerRewardProcessed
	report.PointsEarned = bill.CustomerRewardPointsEarned
	if bill.OfferCountersProcessed && bill.CustomerRewardProcessed {
		return report, nil
	}

	s, err := p.settings.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load settings: %w", err)
	}

	log := p.logger.With(zap.String("bill_id", bill.ID), zap.String("customer_phone", bill.CustomerPhone))
	fail := func(step string, err error) {
		log.Warn("post-completion step failed", zap.String("step", step), zap.Error(err))
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", step, err))
	}

	var customer *domain.Customer
	if bill.CustomerPhone != "" {
		customer, err = p.syncCustomer(ctx, bill, s)
		if err != nil {
			fail("customer sync", err)
		} else {
			report.CustomerSynced = true
		}
	}

	if customer != nil {
		redeemed, err := p.redeemRandomOffer(ctx, bill, customer)
		if err != nil {
			fail("random offer redemption", err)
		}
		report.RandomOfferRedeemed = redeemed
	}

	if !bill.OfferCountersProcessed {
		applied, err := p.applyCounters(ctx, bill, s, customer)
		if err != nil {
			fail("offer counters", err)
		} else {
			report.OfferCountersApplied = applied
			report.OfferCountersProcessed = true
		}
	}

	if !bill.CustomerRewardProcessed {
		points, err := p.accrueReward(ctx, bill, s.CreditPoints, customer)
		if err != nil {
			fail("reward accrual", err)
		} else {
			report.RewardProcessed = true
			report.PointsEarned = points
		}
	}

	return report, nil
}

// ProcessPending repairs completed bills whose flags are still false.
func (p *Processor) ProcessPending(ctx context.Context, limit int) ([]domain.PostCompletionReport, error) {
	bills, err := p.store.ListBillsPendingPostCompletion(ctx, limit)
	if err != nil {
		return nil, err
	}
	reports := make([]domain.PostCompletionReport, 0, len(bills))
	for _, bill := range bills {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := p.Process(ctx, bill.ID)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (p *Processor) syncCustomer(ctx context.Context, bill *domain.Bill, s domain.CustomerRewardSettings) (*domain.Customer, error) {
	customer, err := p.store.GetCustomerByPhone(ctx, bill.CustomerPhone)
	switch {
	case errors.Is(err, store.ErrNotFound):
		customer, err = p.store.CreateCustomer(ctx, domain.Customer{
			Phone:   bill.CustomerPhone,
			Name:    bill.CustomerName,
			BillIDs: []string{bill.ID},
		})
		if errors.Is(err, store.ErrWriteConflict) {
			// created concurrently by another bill of the same customer
			customer, err = p.store.GetCustomerByPhone(ctx, bill.CustomerPhone)
		}
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	changed := false
	if !slices.Contains(customer.BillIDs, bill.ID) {
		customer.BillIDs = append(customer.BillIDs, bill.ID)
		changed = true
	}
	if bill.CustomerName != "" && customer.Name != bill.CustomerName {
		customer.Name = bill.CustomerName
		changed = true
	}
	// assignment belongs to the bill's first pass only
	if !bill.CustomerRewardProcessed && p.assignRandomOffer(ctx, customer, s) {
		changed = true
	}
	if !changed {
		return customer, nil
	}
	return p.store.UpdateCustomer(ctx, *customer)
}

// assignRandomOffer gives the customer one product from the active campaign
// if they have none from it yet.
func (p *Processor) assignRandomOffer(ctx context.Context, customer *domain.Customer, s domain.CustomerRewardSettings) bool {
	offer := s.RandomCustomerOffer
	if !offer.Enabled || offer.CampaignCode == "" {
		return false
	}
	if customer.RandomCustomerOfferAssigned && customer.RandomCustomerOfferCampaignCode == offer.CampaignCode {
		return false
	}
	candidates := make([]domain.RandomCustomerOfferProductRule, 0, len(offer.Rules))
	for _, rule := range offer.Rules {
		if rule.Enabled {
			candidates = append(candidates, rule)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	rule := candidates[p.pick(len(candidates))]

	usageKey := fmt.Sprintf("assign:%s:%s", offer.CampaignCode, customer.Phone)
	_, err := p.settings.Mutate(ctx, usageKey, func(current *domain.CustomerRewardSettings) error {
		if !settings.IncrementRandomAssigned(current, rule.ID) {
			return settings.ErrNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyApplied) {
		p.logger.Warn("random offer assignment count failed",
			zap.String("customer_phone", customer.Phone),
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
	}

	customer.RandomCustomerOfferAssigned = true
	customer.RandomCustomerOfferRedeemed = false
	customer.RandomCustomerOfferProduct = rule.ProductID
	customer.RandomCustomerOfferCampaignCode = offer.CampaignCode
	customer.RandomCustomerOfferRedeemedBillID = ""
	return true
}

func (p *Processor) redeemRandomOffer(ctx context.Context, bill *domain.Bill, customer *domain.Customer) (bool, error) {
	idx := slices.IndexFunc(bill.Items, func(item domain.BillItem) bool {
		return item.IsRandomCustomerOfferItem && item.Status != domain.StatusCancelled
	})
	if idx < 0 {
		return false, nil
	}
	row := bill.Items[idx]
	if customer.RandomCustomerOfferRedeemed {
		return customer.RandomCustomerOfferRedeemedBillID == bill.ID, nil
	}
	if !customer.RandomCustomerOfferAssigned || row.RandomOfferCampaignCode == "" || row.RandomOfferCampaignCode != customer.RandomCustomerOfferCampaignCode {
		return false, nil
	}

	_, err := p.settings.Mutate(ctx, "redeem:"+bill.ID, func(current *domain.CustomerRewardSettings) error {
		if !settings.IncrementRandomRedeemed(current, row.RandomOfferCampaignCode, row.ProductID) {
			return settings.ErrNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyApplied) {
		return false, err
	}

	customer.RandomCustomerOfferRedeemed = true
	customer.RandomCustomerOfferRedeemedBillID = bill.ID
	updated, err := p.store.UpdateCustomer(ctx, *customer)
	if err != nil {
		return false, err
	}
	*customer = *updated
	return true, nil
}

// applyCounters merges the bill's usage into the settings counters and then
// flags the bill. It reports whether this call added the usage.
func (p *Processor) applyCounters(ctx context.Context, bill *domain.Bill, s domain.CustomerRewardSettings, customer *domain.Customer) (bool, error) {
	customerID := ""
	if customer != nil {
		customerID = customer.ID
	}
	usage := Tally(*bill, s, customerID)

	applied := false
	if !usage.Empty() {
		_, err := p.settings.Mutate(ctx, "bill:"+bill.ID, func(current *domain.CustomerRewardSettings) error {
			settings.ApplyUsage(current, usage)
			return nil
		})
		switch {
		case err == nil:
			applied = true
		case errors.Is(err, store.ErrAlreadyApplied):
		default:
			return false, err
		}
	}

	if _, err := p.store.MarkOfferCountersProcessed(ctx, bill.ID); err != nil {
		return applied, fmt.Errorf("mark offer counters processed: %w", err)
	}
	return applied, nil
}

func (p *Processor) accrueReward(ctx context.Context, bill *domain.Bill, program domain.CreditPointProgram, customer *domain.Customer) (float64, error) {
	if !program.Enabled || bill.CustomerPhone == "" {
		if _, err := p.store.MarkCustomerRewardProcessed(ctx, bill.ID, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if customer == nil {
		return 0, errors.New("customer ledger unavailable")
	}

	points := bill.CustomerRewardPointsEarned
	if !slices.Contains(customer.RewardedBillIDs, bill.ID) {
		balance := loyalty.Balance{
			Points:         customer.RewardPoints,
			Progress:       customer.RewardProgressAmount,
			OffersRedeemed: customer.TotalOffersRedeemed,
		}
		balance, points = loyalty.ApplyBill(balance, *bill, program)
		customer.RewardPoints = balance.Points
		customer.RewardProgressAmount = balance.Progress
		customer.TotalOffersRedeemed = balance.OffersRedeemed
		customer.RewardedBillIDs = append(customer.RewardedBillIDs, bill.ID)
		customer.IsOfferEligible = loyalty.OfferEligible(balance.Points, program)

		updated, err := p.store.UpdateCustomer(ctx, *customer)
		if err != nil {
			return 0, err
		}
		*customer = *updated
	}

	if _, err := p.store.MarkCustomerRewardProcessed(ctx, bill.ID, points); err != nil {
		return points, fmt.Errorf("mark reward processed: %w", err)
	}
	return points, nil
}

// Tally computes what a bill consumed from each counted rule: a free-item
// row counts max(1, floor(quantity / freeQuantity)), a discounted row counts
// its quantity, and the total-percentage offer counts once.
func Tally(bill domain.Bill, s domain.CustomerRewardSettings, customerID string) settings.Usage {
	usage := settings.Usage{
		CustomerID:      customerID,
		FreeRules:       map[string]float64{},
		PriceRules:      map[string]float64{},
		TotalPercentage: bill.TotalPercentageOfferApplied,
	}

	freeByKey := make(map[string]domain.ProductToProductOfferRule, len(s.ProductToProductOffers))
	for _, rule := range s.ProductToProductOffers {
		freeByKey[offers.FreeRuleKey(rule)] = rule
	}

	for _, item := range bill.Items {
		switch {
		case item.IsOfferFreeItem:
			rule, ok := freeByKey[item.OfferRuleKey]
			if !ok {
				continue
			}
			inc := 1.0
			if rule.FreeQuantity > 0 {
				inc = math.Max(1, math.Floor(item.Quantity/rule.FreeQuantity))
			}
			usage.FreeRules[rule.ID] += inc
		case item.IsPriceOfferApplied && item.PriceOfferRuleKey != "":
			usage.PriceRules[item.PriceOfferRuleKey] += item.Quantity
		}
	}

	for id, v := range usage.FreeRules {
		if v <= 0 {
			delete(usage.FreeRules, id)
		}
	}
	for id, v := range usage.PriceRules {
		if v <= 0 {
			delete(usage.PriceRules, id)
		}
	}
	return usage
}
