package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"billingcore/internal/domain"
	"billingcore/internal/loyalty"
	"billingcore/internal/money"
	"billingcore/internal/offers"
	"billingcore/internal/postcompletion"
	"billingcore/internal/pricing"
	"billingcore/internal/sequence"
	"billingcore/internal/settings"
	"billingcore/internal/status"
	"billingcore/internal/store"
	"billingcore/internal/xid"
)

// numberAttempts bounds how often a save retries after losing an invoice or
// KOT number to a concurrent bill.
const numberAttempts = 3

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	rewards   *settings.Repository
	ledger    *loyalty.Reconciler
	sequence  *sequence.Generator
	pricing   *pricing.Aggregator
	processor *postcompletion.Processor
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo store.Repository, rewards *settings.Repository, ledger *loyalty.Reconciler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		rewards:   rewards,
		ledger:    ledger,
		sequence:  sequence.New(repo),
		pricing:   pricing.NewAggregator(ledger, logger),
		processor: postcompletion.NewProcessor(repo, rewards, logger),
		logger:    logger.Named("service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.Bill, error) {
	branchID := strings.TrimSpace(req.BranchID)
	if branchID == "" {
		if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleCashier {
			branchID = actor.BranchID
		}
	}
	if branchID == "" {
		return domain.Bill{}, domain.Invalid(domain.ErrInvalidInput, "branch_id is required")
	}
	actor, err := authorize(ctx, branchID)
	if err != nil {
		return domain.Bill{}, err
	}
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return domain.Bill{}, fmt.Errorf("branch %s: %w", branchID, err)
	}

	billStatus := strings.TrimSpace(req.Status)
	if billStatus == "" {
		billStatus = domain.StatusOrdered
	}
	if !status.ValidBillStatus(billStatus) {
		return domain.Bill{}, domain.Invalid(domain.ErrInvalidStatus, "unknown bill status %q", billStatus)
	}
	if len(req.Items) == 0 {
		return domain.Bill{}, domain.Invalid(domain.ErrInvalidInput, "at least one item is required")
	}

	catalog, err := s.repo.GetProductsByIDs(ctx, inputProductIDs(req.Items))
	if err != nil {
		return domain.Bill{}, err
	}
	items := make([]domain.BillItem, 0, len(req.Items))
	for _, in := range req.Items {
		if in.ID != "" {
			return domain.Bill{}, domain.Invalid(domain.ErrInvalidInput, "new items cannot carry an id")
		}
		item, err := newItem(in, catalog)
		if err != nil {
			return domain.Bill{}, err
		}
		items = append(items, item)
	}

	now := s.now()
	bill := domain.Bill{
		ID:                     xid.New("bill"),
		BranchID:               branchID,
		CustomerPhone:          strings.TrimSpace(req.CustomerPhone),
		CustomerName:           strings.TrimSpace(req.CustomerName),
		Status:                 billStatus,
		Items:                  items,
		CustomerOfferRequested: req.RequestCustomerOffer,
		CreatedBy:              actor.Username,
		CreatedAt:              now,
	}
	if billStatus == domain.StatusCompleted {
		bill.CompletedAt = &now
	}

	saved, err := s.save(ctx, bill, "", func(b domain.Bill) (*domain.Bill, error) {
		return s.repo.CreateBill(ctx, b)
	})
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, branchID, "bill_create", "bill", saved.ID,
		fmt.Sprintf("status=%s,items=%d,total=%s", saved.Status, len(saved.Items), money.Format(saved.TotalAmount)))
	return s.afterSave(ctx, saved, ""), nil
}

func (s *Service) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	bill, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return domain.Bill{}, err
	}
	if _, err := authorize(ctx, bill.BranchID); err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

// UpdateBill applies a partial update. Item inputs replace the manual rows:
// rows referenced by id are edited, rows without id are added and manual
// rows left out are removed. Offer rows are always recomputed.
func (s *Service) UpdateBill(ctx context.Context, id string, req domain.BillUpdateRequest) (domain.Bill, error) {
	current, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return domain.Bill{}, err
	}
	if _, err := authorize(ctx, current.BranchID); err != nil {
		return domain.Bill{}, err
	}
	if req.Version != 0 && req.Version != current.Version {
		return domain.Bill{}, fmt.Errorf("bill %s is at version %d: %w", id, current.Version, store.ErrWriteConflict)
	}

	previous := current.Status
	terminal := isTerminal(previous)
	next := *current
	next.Items = slices.Clone(current.Items)

	if req.Status != nil {
		target := strings.TrimSpace(*req.Status)
		if err := status.ValidateBillTransition(previous, target); err != nil {
			return domain.Bill{}, err
		}
		next.Status = target
	}
	if req.CustomerPhone != nil {
		phone := strings.TrimSpace(*req.CustomerPhone)
		if terminal && phone != current.CustomerPhone {
			return domain.Bill{}, domain.Invalid(domain.ErrInvalidInput, "customer of a %s bill cannot change", previous)
		}
		next.CustomerPhone = phone
	}
	if req.CustomerName != nil {
		next.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.RequestCustomerOffer != nil {
		next.CustomerOfferRequested = *req.RequestCustomerOffer
	}
	if req.Items != nil {
		if terminal {
			return domain.Bill{}, domain.Invalid(domain.ErrInvalidInput, "items of a %s bill cannot change", previous)
		}
		items, err := s.mergeItems(ctx, current.Items, *req.Items)
		if err != nil {
			return domain.Bill{}, err
		}
		next.Items = items
	}
	if next.Status == domain.StatusCompleted && previous != domain.StatusCompleted {
		now := s.now()
		next.CompletedAt = &now
	}

	saved, err := s.save(ctx, next, previous, func(b domain.Bill) (*domain.Bill, error) {
		return s.repo.UpdateBill(ctx, b)
	})
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, saved.BranchID, "bill_update", "bill", saved.ID,
		fmt.Sprintf("status=%s->%s,total=%s", previous, saved.Status, money.Format(saved.TotalAmount)))
	return s.afterSave(ctx, saved, previous), nil
}

func (s *Service) UpdateItemStatus(ctx context.Context, billID string, itemID string, req domain.ItemStatusRequest) (domain.Bill, error) {
	current, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	if _, err := authorize(ctx, current.BranchID); err != nil {
		return domain.Bill{}, err
	}
	if isTerminal(current.Status) {
		return domain.Bill{}, domain.Invalid(domain.ErrInvalidStatus, "items of a %s bill cannot change", current.Status)
	}

	idx := slices.IndexFunc(current.Items, func(item domain.BillItem) bool { return item.ID == itemID })
	if idx < 0 {
		return domain.Bill{}, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
	}
	target := strings.TrimSpace(req.Status)
	from := current.Items[idx].Status
	if err := status.ValidateItemTransition(from, target); err != nil {
		return domain.Bill{}, err
	}

	next := *current
	next.Items = slices.Clone(current.Items)
	next.Items[idx].Status = target

	saved, err := s.save(ctx, next, current.Status, func(b domain.Bill) (*domain.Bill, error) {
		return s.repo.UpdateBill(ctx, b)
	})
	if err != nil {
		return domain.Bill{}, err
	}
	s.logAudit(ctx, saved.BranchID, "item_status", "bill_item", itemID, fmt.Sprintf("bill=%s,status=%s->%s", billID, from, target))
	return *saved, nil
}

// RepairPostCompletion re-runs the post-completion steps of one bill. Steps
// already applied are detected and skipped.
func (s *Service) RepairPostCompletion(ctx context.Context, billID string) (domain.PostCompletionReport, error) {
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.PostCompletionReport{}, err
	}
	if _, err := authorize(ctx, bill.BranchID); err != nil {
		return domain.PostCompletionReport{}, err
	}
	if bill.Status != domain.StatusCompleted {
		return domain.PostCompletionReport{}, domain.Invalid(domain.ErrInvalidStatus, "bill %s is %s, not completed", billID, bill.Status)
	}

	report, err := s.processor.Process(ctx, billID)
	if err != nil {
		return report, err
	}
	s.logAudit(ctx, bill.BranchID, "post_completion_repair", "bill", billID, fmt.Sprintf("errors=%d", len(report.Errors)))
	return report, nil
}

func (s *Service) RepairPendingPostCompletion(ctx context.Context, limit int) (domain.RepairResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.RepairResponse{}, err
	}
	if limit <= 0 {
		limit = 50
	}
	reports, err := s.processor.ProcessPending(ctx, limit)
	if err != nil {
		return domain.RepairResponse{Reports: reports}, err
	}
	s.logAudit(ctx, "", "post_completion_sweep", "bill", "", fmt.Sprintf("bills=%d", len(reports)))
	return domain.RepairResponse{Reports: reports}, nil
}

// ReconcileCustomerLedger rebuilds the customer's points from their bill
// history and stores the result.
func (s *Service) ReconcileCustomerLedger(ctx context.Context, phone string) (domain.LedgerSnapshot, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.LedgerSnapshot{}, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.LedgerSnapshot{}, domain.Invalid(domain.ErrInvalidInput, "phone is required")
	}
	rewards, err := s.rewards.Load(ctx)
	if err != nil {
		return domain.LedgerSnapshot{}, err
	}
	_, snapshot, err := s.ledger.Reconcile(ctx, phone, rewards.CreditPoints)
	if err != nil {
		return domain.LedgerSnapshot{}, err
	}
	s.logAudit(ctx, "", "ledger_reconcile", "customer", phone,
		fmt.Sprintf("points=%s,bills=%d", money.Format(snapshot.RewardPoints), snapshot.BillsReplayed))
	return snapshot, nil
}

func (s *Service) GetRewardSettings(ctx context.Context) (domain.CustomerRewardSettings, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.CustomerRewardSettings{}, ErrForbidden
	}
	return s.rewards.Load(ctx)
}

func (s *Service) ReplaceRewardSettings(ctx context.Context, incoming domain.CustomerRewardSettings) (domain.CustomerRewardSettings, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CustomerRewardSettings{}, err
	}
	saved, err := s.rewards.Replace(ctx, incoming)
	if err != nil {
		return domain.CustomerRewardSettings{}, err
	}
	s.logAudit(ctx, "", "reward_settings_replace", "settings", "rewards",
		fmt.Sprintf("free_rules=%d,price_rules=%d,campaign=%s", len(saved.ProductToProductOffers), len(saved.ProductPriceOffers), saved.RandomCustomerOffer.CampaignCode))
	return saved, nil
}

// save prices the bill, assigns its numbers and writes it. Losing a number
// to a concurrent bill only repeats the number assignment.
func (s *Service) save(ctx context.Context, bill domain.Bill, previousStatus string, write func(domain.Bill) (*domain.Bill, error)) (*domain.Bill, error) {
	if err := s.price(ctx, &bill); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		candidate := bill
		if err := s.sequence.Assign(ctx, &candidate, previousStatus); err != nil {
			return nil, fmt.Errorf("assign bill number: %w", err)
		}
		saved, err := write(candidate)
		if errors.Is(err, store.ErrDuplicateNumber) && attempt < numberAttempts {
			s.logger.Debug("bill number taken, retrying",
				zap.String("bill_id", bill.ID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		return saved, err
	}
}

func (s *Service) price(ctx context.Context, bill *domain.Bill) error {
	rewards, err := s.rewards.Load(ctx)
	if err != nil {
		return err
	}
	customer, err := s.customer(ctx, bill.CustomerPhone)
	if err != nil {
		return err
	}
	catalog, err := s.repo.GetProductsByIDs(ctx, pricedProductIDs(bill.Items, rewards))
	if err != nil {
		return err
	}

	if !bill.OfferCountersProcessed {
		for i := range bill.Items {
			if bill.Items[i].IsAuto() {
				continue
			}
			if product, ok := catalog[bill.Items[i].ProductID]; ok {
				bill.Items[i].ProductName = product.Name
				bill.Items[i].UnitPrice = product.Price
			}
		}
	}

	bill.Items = offers.Resolve(offers.Input{
		Items:             bill.Items,
		Status:            bill.Status,
		Customer:          customer,
		Settings:          rewards,
		Products:          catalog,
		BillID:            bill.ID,
		CountersProcessed: bill.OfferCountersProcessed,
	})
	for _, item := range bill.Items {
		if item.Quantity <= 0 {
			return domain.Invalid(domain.ErrInvalidQuantity, "item %s", item.ID)
		}
	}

	s.pricing.Apply(ctx, bill, customer, rewards)
	return nil
}

// afterSave runs the post-completion steps when the save moved the bill into
// completed and returns the bill as stored afterwards.
func (s *Service) afterSave(ctx context.Context, saved *domain.Bill, previousStatus string) domain.Bill {
	if saved.Status != domain.StatusCompleted || previousStatus == domain.StatusCompleted {
		return *saved
	}

	log := s.logger.With(zap.String("bill_id", saved.ID))
	report, err := s.processor.Process(ctx, saved.ID)
	switch {
	case err != nil:
		log.Warn("post-completion processing failed", zap.Error(err))
	case len(report.Errors) > 0:
		log.Warn("post-completion processing incomplete", zap.Strings("errors", report.Errors))
	}

	fresh, err := s.repo.GetBill(ctx, saved.ID)
	if err != nil {
		log.Warn("re-reading completed bill failed", zap.Error(err))
		return *saved
	}
	return *fresh
}

func (s *Service) customer(ctx context.Context, phone string) (*domain.Customer, error) {
	if phone == "" {
		return nil, nil
	}
	customer, err := s.repo.GetCustomerByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return customer, err
}

func (s *Service) mergeItems(ctx context.Context, existing []domain.BillItem, inputs []domain.BillItemInput) ([]domain.BillItem, error) {
	byID := make(map[string]domain.BillItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}
	catalog, err := s.repo.GetProductsByIDs(ctx, inputProductIDs(inputs))
	if err != nil {
		return nil, err
	}

	out := make([]domain.BillItem, 0, len(inputs)+len(existing))
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.ID == "" {
			item, err := newItem(in, catalog)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
			continue
		}

		item, ok := byID[in.ID]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", in.ID, store.ErrNotFound)
		}
		if item.IsAuto() {
			return nil, domain.Invalid(domain.ErrInvalidInput, "item %s is generated by an offer", in.ID)
		}
		if _, dup := seen[in.ID]; dup {
			return nil, domain.Invalid(domain.ErrInvalidInput, "item %s listed twice", in.ID)
		}
		seen[in.ID] = struct{}{}
		if in.ProductID != "" && in.ProductID != item.ProductID {
			return nil, domain.Invalid(domain.ErrInvalidInput, "item %s cannot change product", in.ID)
		}
		if in.Quantity <= 0 {
			return nil, domain.Invalid(domain.ErrInvalidQuantity, "item %s", in.ID)
		}
		item.Quantity = in.Quantity
		if in.Status != "" {
			if err := status.ValidateItemTransition(item.Status, in.Status); err != nil {
				return nil, err
			}
			item.Status = in.Status
		}
		item.Notes = strings.TrimSpace(in.Notes)
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, domain.Invalid(domain.ErrInvalidInput, "at least one item is required")
	}

	// offer rows go back in so their ids survive the recompute
	for _, item := range existing {
		if item.IsAuto() {
			out = append(out, item)
		}
	}
	return out, nil
}

func newItem(in domain.BillItemInput, catalog map[string]domain.Product) (domain.BillItem, error) {
	productID := strings.TrimSpace(in.ProductID)
	if productID == "" {
		return domain.BillItem{}, domain.Invalid(domain.ErrInvalidInput, "product_id is required")
	}
	product, ok := catalog[productID]
	if !ok || !product.Active {
		return domain.BillItem{}, domain.Invalid(domain.ErrInvalidInput, "unknown product %s", productID)
	}
	if in.Quantity <= 0 {
		return domain.BillItem{}, domain.Invalid(domain.ErrInvalidQuantity, "product %s", productID)
	}
	itemStatus := strings.TrimSpace(in.Status)
	if itemStatus == "" {
		itemStatus = domain.StatusOrdered
	}
	if !status.ValidItemStatus(itemStatus) {
		return domain.BillItem{}, domain.Invalid(domain.ErrInvalidStatus, "unknown item status %q", itemStatus)
	}
	return domain.BillItem{
		ID:                 xid.New("item"),
		ProductID:          product.ID,
		ProductName:        product.Name,
		Quantity:           money.Round2(in.Quantity),
		UnitPrice:          product.Price,
		EffectiveUnitPrice: product.Price,
		Status:             itemStatus,
		Notes:              strings.TrimSpace(in.Notes),
	}, nil
}

func inputProductIDs(inputs []domain.BillItemInput) []string {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if id := strings.TrimSpace(in.ProductID); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// pricedProductIDs lists every product a save may need: the bill's rows and
// everything the offer rules can add.
func pricedProductIDs(items []domain.BillItem, rewards domain.CustomerRewardSettings) []string {
	ids := make([]string, 0, len(items)+2*len(rewards.ProductToProductOffers)+len(rewards.RandomCustomerOffer.Rules))
	add := func(id string) {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, item := range items {
		add(item.ProductID)
	}
	for _, rule := range rewards.ProductToProductOffers {
		add(rule.BuyProductID)
		add(rule.FreeProductID)
	}
	for _, rule := range rewards.RandomCustomerOffer.Rules {
		add(rule.ProductID)
	}
	return ids
}

func isTerminal(billStatus string) bool {
	return billStatus == domain.StatusCompleted || billStatus == domain.StatusCancelled
}

// authorize lets admins act on every branch and cashiers on their own.
func authorize(ctx context.Context, branchID string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no actor", ErrForbidden)
	}
	switch actor.Role {
	case domain.RoleAdmin:
		return actor, nil
	case domain.RoleCashier:
		if actor.BranchID != "" && actor.BranchID == branchID {
			return actor, nil
		}
	}
	return actor, fmt.Errorf("%w: %s cannot act on branch %s", ErrForbidden, actor.Username, branchID)
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return actor, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	if branchID == "" {
		branchID = actor.BranchID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}
