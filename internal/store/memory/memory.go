package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"billingcore/internal/domain"
	"billingcore/internal/store"
	"billingcore/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	branches        map[string]domain.Branch
	products        map[string]domain.Product
	billsByID       map[string]*domain.Bill
	customers       map[string]domain.Customer
	settings        domain.SettingsDocument
	usageKeys       map[string]struct{}
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. The PostgreSQL store is used whenever DATABASE_URL is set.
func seedUsers(logger *zap.Logger) (map[string]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"cashier", cashierPwd, domain.RoleCashier, "branch-main"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultSettings is the demo reward configuration: a buy-2-get-1 coffee
// rule, a croissant price cut and a credit program.
const defaultSettings = `{
  "creditPoints": {"enabled": true, "spendAmountPerStep": 100, "pointsPerStep": 10, "pointsNeededForOffer": 100, "offerAmount": 50, "resetOnRedeem": true},
  "productToProductOffers": [
    {"id": "coffee-b2g1", "enabled": true, "buyProductId": "prod-coffee", "buyQuantity": 2, "freeProductId": "prod-cookie", "freeQuantity": 1, "maxOfferCount": 0, "maxCustomerCount": 0}
  ],
  "productPriceOffers": [
    {"id": "croissant-cut", "enabled": true, "productId": "prod-croissant", "discountAmount": 5, "maxOfferCount": 0, "maxCustomerCount": 0}
  ],
  "randomCustomerOffer": {"enabled": false, "campaignCode": "", "rules": []},
  "totalPercentageOffer": {"enabled": false, "percentage": 0, "minimumAmount": 0}
}`

// NewSeeded returns a store with demo branches, products, users and reward
// settings.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	branches := []domain.Branch{
		{ID: "branch-main", Name: "Main Street", Timezone: "Asia/Jakarta"},
		{ID: "branch-airport", Name: "Airport Kiosk", Timezone: "UTC"},
	}
	products := []domain.Product{
		{ID: "prod-coffee", Name: "Coffee", Price: 30, Active: true},
		{ID: "prod-cookie", Name: "Cookie", Price: 12.5, Active: true},
		{ID: "prod-croissant", Name: "Croissant", Price: 25, Active: true},
		{ID: "prod-tea", Name: "Tea", Price: 20, Active: true},
		{ID: "prod-sandwich", Name: "Sandwich", Price: 55, Active: true},
		{ID: "prod-water", Name: "Mineral Water", Price: 8, Active: true},
	}

	s := New()
	for _, b := range branches {
		s.branches[b.ID] = b
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	s.settings = domain.SettingsDocument{Raw: []byte(defaultSettings), Version: 1, UpdatedAt: time.Now().UTC()}
	users, err := seedUsers(logger.Named("memory-store"))
	if err != nil {
		return nil, err
	}
	s.usersByUsername = users
	return s, nil
}

// New returns an empty store. Tests use it with PutBranch/PutProduct.
func New() *Store {
	return &Store{
		branches:        make(map[string]domain.Branch),
		products:        make(map[string]domain.Product),
		billsByID:       make(map[string]*domain.Bill),
		customers:       make(map[string]domain.Customer),
		settings:        domain.SettingsDocument{Raw: []byte("{}")},
		usageKeys:       make(map[string]struct{}),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) PutBranch(branch domain.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[branch.ID] = branch
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if _, exists := s.billsByID[bill.ID]; exists {
		return nil, store.ErrInvalidRecord
	}
	if s.numberTakenLocked(bill.ID, bill.InvoiceNumber, bill.KOTNumber) {
		return nil, store.ErrDuplicateNumber
	}
	now := time.Now().UTC()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = now
	bill.Version = 1
	s.billsByID[bill.ID] = cloneBill(&bill)
	return cloneBill(&bill), nil
}

func (s *Store) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.billsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBill(bill), nil
}

func (s *Store) UpdateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.billsByID[bill.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Version != bill.Version {
		return nil, store.ErrWriteConflict
	}
	if s.numberTakenLocked(bill.ID, bill.InvoiceNumber, bill.KOTNumber) {
		return nil, store.ErrDuplicateNumber
	}
	bill.CreatedAt = current.CreatedAt
	bill.UpdatedAt = time.Now().UTC()
	bill.Version = current.Version + 1
	s.billsByID[bill.ID] = cloneBill(&bill)
	return cloneBill(&bill), nil
}

func (s *Store) MarkOfferCountersProcessed(_ context.Context, billID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.billsByID[billID]
	if !ok {
		return false, store.ErrNotFound
	}
	if bill.OfferCountersProcessed {
		return false, nil
	}
	bill.OfferCountersProcessed = true
	bill.Version++
	bill.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) MarkCustomerRewardProcessed(_ context.Context, billID string, points float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.billsByID[billID]
	if !ok {
		return false, store.ErrNotFound
	}
	if bill.CustomerRewardProcessed {
		return false, nil
	}
	bill.CustomerRewardProcessed = true
	bill.CustomerRewardPointsEarned = points
	bill.Version++
	bill.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ListBillsPendingPostCompletion(_ context.Context, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Bill, 0, 16)
	for _, bill := range s.billsByID {
		if bill.Status != domain.StatusCompleted {
			continue
		}
		if bill.OfferCountersProcessed && bill.CustomerRewardProcessed {
			continue
		}
		result = append(result, *cloneBill(bill))
	}
	slices.SortFunc(result, compareCompleted)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) LatestSequenceNumber(_ context.Context, field string, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := ""
	for _, bill := range s.billsByID {
		var value string
		switch field {
		case store.SequenceInvoice:
			value = bill.InvoiceNumber
		case store.SequenceKOT:
			value = bill.KOTNumber
		default:
			return "", store.ErrInvalidRecord
		}
		if !strings.HasPrefix(value, prefix) {
			continue
		}
		// longer suffixes are numerically larger once padding overflows
		if len(value) > len(latest) || (len(value) == len(latest) && value > latest) {
			latest = value
		}
	}
	return latest, nil
}

func (s *Store) ListCompletedBillsByCustomer(_ context.Context, phone string, cursor string, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]domain.Bill, 0, 16)
	for _, bill := range s.billsByID {
		if bill.Status != domain.StatusCompleted || bill.CustomerPhone != phone {
			continue
		}
		history = append(history, *cloneBill(bill))
	}
	slices.SortFunc(history, compareCompleted)

	start := 0
	if cursor != "" {
		start = len(history)
		for i, bill := range history {
			if bill.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	history = history[start:]
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (s *Store) GetCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCustomer(customer), nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Phone) == "" {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.customers[customer.Phone]; exists {
		return nil, store.ErrWriteConflict
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customers[customer.Phone] = *cloneCustomer(customer)
	return cloneCustomer(customer), nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.customers[customer.Phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.ID = current.ID
	customer.CreatedAt = current.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.Phone] = *cloneCustomer(customer)
	return cloneCustomer(customer), nil
}

func (s *Store) GetRewardSettings(_ context.Context) (*domain.SettingsDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.settings
	doc.Raw = slices.Clone(s.settings.Raw)
	return &doc, nil
}

func (s *Store) SaveRewardSettings(_ context.Context, doc domain.SettingsDocument, expectedVersion int64, usageKey string) (*domain.SettingsDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if usageKey != "" {
		if _, seen := s.usageKeys[usageKey]; seen {
			return nil, store.ErrAlreadyApplied
		}
	}
	if s.settings.Version != expectedVersion {
		return nil, store.ErrWriteConflict
	}
	if usageKey != "" {
		s.usageKeys[usageKey] = struct{}{}
	}
	s.settings = domain.SettingsDocument{
		Raw:       slices.Clone(doc.Raw),
		Version:   expectedVersion + 1,
		UpdatedAt: time.Now().UTC(),
	}
	saved := s.settings
	saved.Raw = slices.Clone(s.settings.Raw)
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// AuditLogs returns a copy of the recorded entries.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLogs)
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) numberTakenLocked(billID string, invoice string, kot string) bool {
	if invoice == "" && kot == "" {
		return false
	}
	for id, other := range s.billsByID {
		if id == billID {
			continue
		}
		if invoice != "" && other.InvoiceNumber == invoice {
			return true
		}
		if kot != "" && other.KOTNumber == kot {
			return true
		}
	}
	return false
}

func compareCompleted(a, b domain.Bill) int {
	at, bt := completedOrCreated(a), completedOrCreated(b)
	if c := at.Compare(bt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func completedOrCreated(b domain.Bill) time.Time {
	if b.CompletedAt != nil {
		return *b.CompletedAt
	}
	return b.CreatedAt
}

func cloneBill(src *domain.Bill) *domain.Bill {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	if src.CompletedAt != nil {
		at := *src.CompletedAt
		dup.CompletedAt = &at
	}
	return &dup
}

func cloneCustomer(src domain.Customer) *domain.Customer {
	dup := src
	dup.BillIDs = slices.Clone(src.BillIDs)
	dup.RewardedBillIDs = slices.Clone(src.RewardedBillIDs)
	return &dup
}
