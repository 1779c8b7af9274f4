package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"billingcore/internal/domain"
	"billingcore/internal/store"
	"billingcore/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes. It is safe to run on
// every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, timezone
		FROM branches
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const billColumns = `
	id, branch_id, customer_phone, customer_name, status, items,
	gross_amount, customer_offer_requested, customer_offer_applied, customer_offer_discount,
	total_percentage_offer_applied, total_percentage_offer_discount, total_amount,
	customer_reward_processed, customer_reward_points_earned, offer_counters_processed,
	invoice_number, kot_number, version, created_by, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*domain.Bill, error) {
	var (
		b                        domain.Bill
		phone, name, createdBy   sql.NullString
		invoiceNumber, kotNumber sql.NullString
		itemsRaw                 []byte
		completedAt              sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.BranchID, &phone, &name, &b.Status, &itemsRaw,
		&b.GrossAmount, &b.CustomerOfferRequested, &b.CustomerOfferApplied, &b.CustomerOfferDiscount,
		&b.TotalPercentageOfferApplied, &b.TotalPercentageOfferDiscount, &b.TotalAmount,
		&b.CustomerRewardProcessed, &b.CustomerRewardPointsEarned, &b.OfferCountersProcessed,
		&invoiceNumber, &kotNumber, &b.Version, &createdBy, &b.CreatedAt, &b.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsRaw, &b.Items); err != nil {
		return nil, fmt.Errorf("decode items of bill %s: %w", b.ID, err)
	}
	b.CustomerPhone = phone.String
	b.CustomerName = name.String
	b.CreatedBy = createdBy.String
	b.InvoiceNumber = invoiceNumber.String
	b.KOTNumber = kotNumber.String
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		b.CompletedAt = &at
	}
	return &b, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.Items == nil {
		bill.Items = []domain.BillItem{}
	}
	items, err := json.Marshal(bill.Items)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO bills (
			id, branch_id, customer_phone, customer_name, status, items,
			gross_amount, customer_offer_requested, customer_offer_applied, customer_offer_discount,
			total_percentage_offer_applied, total_percentage_offer_discount, total_amount,
			customer_reward_processed, customer_reward_points_earned, offer_counters_processed,
			invoice_number, kot_number, version, created_by, created_at, updated_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1,$19,now(),now(),$20)
		RETURNING `+billColumns,
		bill.ID, bill.BranchID, nullIfEmpty(bill.CustomerPhone), nullIfEmpty(bill.CustomerName), bill.Status, items,
		bill.GrossAmount, bill.CustomerOfferRequested, bill.CustomerOfferApplied, bill.CustomerOfferDiscount,
		bill.TotalPercentageOfferApplied, bill.TotalPercentageOfferDiscount, bill.TotalAmount,
		bill.CustomerRewardProcessed, bill.CustomerRewardPointsEarned, bill.OfferCountersProcessed,
		nullIfEmpty(bill.InvoiceNumber), nullIfEmpty(bill.KOTNumber), nullIfEmpty(bill.CreatedBy), nullTime(bill.CompletedAt),
	)
	created, err := scanBill(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateNumber
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	bill, err := scanBill(s.db.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return bill, nil
}

func (s *Store) UpdateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.Items == nil {
		bill.Items = []domain.BillItem{}
	}
	items, err := json.Marshal(bill.Items)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE bills
		SET customer_phone = $3, customer_name = $4, status = $5, items = $6,
			gross_amount = $7, customer_offer_requested = $8, customer_offer_applied = $9, customer_offer_discount = $10,
			total_percentage_offer_applied = $11, total_percentage_offer_discount = $12, total_amount = $13,
			customer_reward_processed = $14, customer_reward_points_earned = $15, offer_counters_processed = $16,
			invoice_number = $17, kot_number = $18, completed_at = $19,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING `+billColumns,
		bill.ID, bill.Version, nullIfEmpty(bill.CustomerPhone), nullIfEmpty(bill.CustomerName), bill.Status, items,
		bill.GrossAmount, bill.CustomerOfferRequested, bill.CustomerOfferApplied, bill.CustomerOfferDiscount,
		bill.TotalPercentageOfferApplied, bill.TotalPercentageOfferDiscount, bill.TotalAmount,
		bill.CustomerRewardProcessed, bill.CustomerRewardPointsEarned, bill.OfferCountersProcessed,
		nullIfEmpty(bill.InvoiceNumber), nullIfEmpty(bill.KOTNumber), nullTime(bill.CompletedAt),
	)
	updated, err := scanBill(row)
	if err == nil {
		return updated, nil
	}
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateNumber
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bills WHERE id = $1)`, bill.ID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrWriteConflict
}

func (s *Store) MarkOfferCountersProcessed(ctx context.Context, billID string) (bool, error) {
	return s.markFlag(ctx, billID, `
		UPDATE bills
		SET offer_counters_processed = true, version = version + 1, updated_at = now()
		WHERE id = $1 AND offer_counters_processed = false
	`, billID)
}

func (s *Store) MarkCustomerRewardProcessed(ctx context.Context, billID string, points float64) (bool, error) {
	return s.markFlag(ctx, billID, `
		UPDATE bills
		SET customer_reward_processed = true, customer_reward_points_earned = $2,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND customer_reward_processed = false
	`, billID, points)
}

func (s *Store) markFlag(ctx context.Context, billID string, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.GetBill(ctx, billID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListBillsPendingPostCompletion(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryBills(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE status = 'completed'
		  AND (offer_counters_processed = false OR customer_reward_processed = false)
		ORDER BY COALESCE(completed_at, created_at), id
		LIMIT $1
	`, limit)
}

func (s *Store) LatestSequenceNumber(ctx context.Context, field string, prefix string) (string, error) {
	var column string
	switch field {
	case store.SequenceInvoice:
		column = "invoice_number"
	case store.SequenceKOT:
		column = "kot_number"
	default:
		return "", store.ErrInvalidRecord
	}

	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT `+column+`
		FROM bills
		WHERE `+column+` LIKE $1
		ORDER BY length(`+column+`) DESC, `+column+` DESC
		LIMIT 1
	`, escapeLike(prefix)+"%").Scan(&latest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return latest.String, nil
}

func (s *Store) ListCompletedBillsByCustomer(ctx context.Context, phone string, cursor string, limit int) ([]domain.Bill, error) {
	if limit <= 0 {
		limit = 200
	}
	if cursor == "" {
		return s.queryBills(ctx, `
			SELECT `+billColumns+`
			FROM bills
			WHERE status = 'completed' AND customer_phone = $1
			ORDER BY COALESCE(completed_at, created_at), id
			LIMIT $2
		`, phone, limit)
	}
	return s.queryBills(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE status = 'completed' AND customer_phone = $1
		  AND (COALESCE(completed_at, created_at), id) > (
			SELECT COALESCE(completed_at, created_at), id FROM bills WHERE id = $2
		  )
		ORDER BY COALESCE(completed_at, created_at), id
		LIMIT $3
	`, phone, cursor, limit)
}

func (s *Store) queryBills(ctx context.Context, query string, args ...any) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 16)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

const customerColumns = `
	id, phone, name, bill_ids, reward_points, reward_progress_amount, is_offer_eligible,
	total_offers_redeemed, rewarded_bill_ids, random_offer_assigned, random_offer_redeemed,
	random_offer_product, random_offer_campaign_code, random_offer_redeemed_bill_id,
	created_at, updated_at`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var (
		c                               domain.Customer
		billIDs, rewardedIDs            []byte
		product, campaign, redeemedBill sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Phone, &c.Name, &billIDs, &c.RewardPoints, &c.RewardProgressAmount, &c.IsOfferEligible,
		&c.TotalOffersRedeemed, &rewardedIDs, &c.RandomCustomerOfferAssigned, &c.RandomCustomerOfferRedeemed,
		&product, &campaign, &redeemedBill, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(billIDs, &c.BillIDs); err != nil {
		return nil, fmt.Errorf("decode bill ids of customer %s: %w", c.Phone, err)
	}
	if err := json.Unmarshal(rewardedIDs, &c.RewardedBillIDs); err != nil {
		return nil, fmt.Errorf("decode rewarded bill ids of customer %s: %w", c.Phone, err)
	}
	c.RandomCustomerOfferProduct = product.String
	c.RandomCustomerOfferCampaignCode = campaign.String
	c.RandomCustomerOfferRedeemedBillID = redeemedBill.String
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Phone) == "" {
		return nil, store.ErrInvalidRecord
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	billIDs, rewardedIDs, err := encodeCustomerLists(customer)
	if err != nil {
		return nil, err
	}

	created, err := scanCustomer(s.db.QueryRowContext(ctx, `
		INSERT INTO customers (
			id, phone, name, bill_ids, reward_points, reward_progress_amount, is_offer_eligible,
			total_offers_redeemed, rewarded_bill_ids, random_offer_assigned, random_offer_redeemed,
			random_offer_product, random_offer_campaign_code, random_offer_redeemed_bill_id,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
		RETURNING `+customerColumns,
		customer.ID, customer.Phone, customer.Name, billIDs, customer.RewardPoints, customer.RewardProgressAmount, customer.IsOfferEligible,
		customer.TotalOffersRedeemed, rewardedIDs, customer.RandomCustomerOfferAssigned, customer.RandomCustomerOfferRedeemed,
		nullIfEmpty(customer.RandomCustomerOfferProduct), nullIfEmpty(customer.RandomCustomerOfferCampaignCode), nullIfEmpty(customer.RandomCustomerOfferRedeemedBillID),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrWriteConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	billIDs, rewardedIDs, err := encodeCustomerLists(customer)
	if err != nil {
		return nil, err
	}

	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, bill_ids = $3, reward_points = $4, reward_progress_amount = $5, is_offer_eligible = $6,
			total_offers_redeemed = $7, rewarded_bill_ids = $8, random_offer_assigned = $9, random_offer_redeemed = $10,
			random_offer_product = $11, random_offer_campaign_code = $12, random_offer_redeemed_bill_id = $13,
			updated_at = now()
		WHERE phone = $1
		RETURNING `+customerColumns,
		customer.Phone, customer.Name, billIDs, customer.RewardPoints, customer.RewardProgressAmount, customer.IsOfferEligible,
		customer.TotalOffersRedeemed, rewardedIDs, customer.RandomCustomerOfferAssigned, customer.RandomCustomerOfferRedeemed,
		nullIfEmpty(customer.RandomCustomerOfferProduct), nullIfEmpty(customer.RandomCustomerOfferCampaignCode), nullIfEmpty(customer.RandomCustomerOfferRedeemedBillID),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func encodeCustomerLists(c domain.Customer) ([]byte, []byte, error) {
	if c.BillIDs == nil {
		c.BillIDs = []string{}
	}
	if c.RewardedBillIDs == nil {
		c.RewardedBillIDs = []string{}
	}
	billIDs, err := json.Marshal(c.BillIDs)
	if err != nil {
		return nil, nil, err
	}
	rewardedIDs, err := json.Marshal(c.RewardedBillIDs)
	if err != nil {
		return nil, nil, err
	}
	return billIDs, rewardedIDs, nil
}

func (s *Store) GetRewardSettings(ctx context.Context) (*domain.SettingsDocument, error) {
	var doc domain.SettingsDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT document, version, updated_at
		FROM reward_settings
		WHERE id = 1
	`).Scan(&doc.Raw, &doc.Version, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.SettingsDocument{Raw: []byte("{}")}, nil
		}
		return nil, err
	}
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func (s *Store) SaveRewardSettings(ctx context.Context, doc domain.SettingsDocument, expectedVersion int64, usageKey string) (*domain.SettingsDocument, error) {
	if !json.Valid(doc.Raw) {
		return nil, store.ErrInvalidRecord
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if usageKey != "" {
		res, err := pgTx.ExecContext(ctx, `
			INSERT INTO offer_usage_ledger (usage_key, settings_version, applied_at)
			VALUES ($1, $2, now())
			ON CONFLICT (usage_key) DO NOTHING
		`, usageKey, expectedVersion+1)
		if err != nil {
			return nil, mapTxError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrAlreadyApplied
		}
	}

	saved := domain.SettingsDocument{Raw: doc.Raw}
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO reward_settings (id, document, version, updated_at)
		VALUES (1, $1, 1, now())
		ON CONFLICT (id) DO UPDATE
		SET document = EXCLUDED.document, version = reward_settings.version + 1, updated_at = now()
		WHERE reward_settings.version = $2
		RETURNING version, updated_at
	`, doc.Raw, expectedVersion).Scan(&saved.Version, &saved.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWriteConflict
		}
		return nil, mapTxError(err)
	}
	if saved.Version != expectedVersion+1 {
		return nil, store.ErrWriteConflict
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	saved.UpdatedAt = saved.UpdatedAt.UTC()
	return &saved, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, nullIfEmpty(entry.BranchID), entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, branch_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var (
			user     domain.UserAccount
			branchID sql.NullString
		)
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &branchID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.BranchID = branchID.String
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

// mapTxError turns lost serializable races into ErrWriteConflict so callers
// retry them like a version mismatch.
func mapTxError(err error) error {
	if isSerializationFailure(err) || isUniqueViolation(err) {
		return store.ErrWriteConflict
	}
	return err
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
