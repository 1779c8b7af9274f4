package store

import (
	"context"
	"errors"

	"billingcore/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
	// ErrWriteConflict is returned when a versioned write loses to a
	// concurrent writer.
	ErrWriteConflict = errors.New("write conflict")
	// ErrDuplicateNumber is returned when an invoice or KOT number is already
	// taken by another bill.
	ErrDuplicateNumber = errors.New("duplicate bill number")
	// ErrAlreadyApplied is returned when a settings write carries a usage key
	// that was recorded before.
	ErrAlreadyApplied = errors.New("usage already applied")
)

// Sequence fields understood by LatestSequenceNumber.
const (
	SequenceInvoice = "invoice_number"
	SequenceKOT     = "kot_number"
)

type Repository interface {
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	// UpdateBill writes the bill only if the stored version equals
	// bill.Version, and returns the bill with the version bumped.
	UpdateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	// MarkOfferCountersProcessed sets the flag if it is still false and
	// reports whether this call changed it.
	MarkOfferCountersProcessed(ctx context.Context, billID string) (bool, error)
	MarkCustomerRewardProcessed(ctx context.Context, billID string, points float64) (bool, error)
	ListBillsPendingPostCompletion(ctx context.Context, limit int) ([]domain.Bill, error)
	// LatestSequenceNumber returns the highest number in field starting with
	// prefix, or "" when none exists.
	LatestSequenceNumber(ctx context.Context, field string, prefix string) (string, error)
	// ListCompletedBillsByCustomer pages completed bills oldest first. The
	// cursor is the id of the last bill of the previous page.
	ListCompletedBillsByCustomer(ctx context.Context, phone string, cursor string, limit int) ([]domain.Bill, error)

	GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetRewardSettings(ctx context.Context) (*domain.SettingsDocument, error)
	// SaveRewardSettings stores doc if the current version equals
	// expectedVersion. A non-empty usageKey is recorded in the same write and
	// rejected with ErrAlreadyApplied if seen before.
	SaveRewardSettings(ctx context.Context, doc domain.SettingsDocument, expectedVersion int64, usageKey string) (*domain.SettingsDocument, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
