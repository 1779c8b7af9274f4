package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"billingcore/internal/domain"
	"billingcore/internal/store"
)

func TestUpdateBillChecksVersion(t *testing.T) {
	s := New()
	ctx := context.Background()

	bill, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", Status: domain.StatusOrdered})
	require.NoError(t, err)
	assert.Equal(t, int64(1), bill.Version)

	bill.CustomerName = "Ayu"
	updated, err := s.UpdateBill(ctx, *bill)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.UpdateBill(ctx, *bill)
	assert.ErrorIs(t, err, store.ErrWriteConflict)

	_, err = s.UpdateBill(ctx, domain.Bill{ID: "bill-missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBillNumbersAreUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", InvoiceNumber: "MAI-20250101-001"})
	require.NoError(t, err)
	_, err = s.CreateBill(ctx, domain.Bill{BranchID: "b1", InvoiceNumber: "MAI-20250101-001"})
	assert.ErrorIs(t, err, store.ErrDuplicateNumber)

	other, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", KOTNumber: "MAI-20250101-KOT-01"})
	require.NoError(t, err)
	other.InvoiceNumber = "MAI-20250101-001"
	_, err = s.UpdateBill(ctx, *other)
	assert.ErrorIs(t, err, store.ErrDuplicateNumber)
}

func TestMarkFlagsOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	bill, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", Status: domain.StatusCompleted})
	require.NoError(t, err)

	changed, err := s.MarkCustomerRewardProcessed(ctx, bill.ID, 12)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkCustomerRewardProcessed(ctx, bill.ID, 99)
	require.NoError(t, err)
	assert.False(t, changed)

	pending, err := s.ListBillsPendingPostCompletion(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	changed, err = s.MarkOfferCountersProcessed(ctx, bill.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := s.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.0, stored.CustomerRewardPointsEarned)
	assert.Equal(t, int64(3), stored.Version)

	pending, err = s.ListBillsPendingPostCompletion(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLatestSequenceNumberComparesNumerically(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, n := range []string{"ABC-20250101-998", "ABC-20250101-999", "ABC-20250101-1000", "XYZ-20250101-5000"} {
		_, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", InvoiceNumber: n})
		require.NoError(t, err)
	}

	latest, err := s.LatestSequenceNumber(ctx, store.SequenceInvoice, "ABC-20250101-")
	require.NoError(t, err)
	assert.Equal(t, "ABC-20250101-1000", latest)

	latest, err = s.LatestSequenceNumber(ctx, store.SequenceKOT, "ABC-20250101-KOT-")
	require.NoError(t, err)
	assert.Empty(t, latest)

	_, err = s.LatestSequenceNumber(ctx, "nope", "ABC")
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func TestCompletedHistoryPagesOldestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 5 {
		at := base.Add(time.Duration(i) * time.Hour)
		bill, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", Status: domain.StatusCompleted, CustomerPhone: "0811", CompletedAt: &at})
		require.NoError(t, err)
		ids = append(ids, bill.ID)
	}
	_, err := s.CreateBill(ctx, domain.Bill{BranchID: "b1", Status: domain.StatusDelivered, CustomerPhone: "0811"})
	require.NoError(t, err)
	_, err = s.CreateBill(ctx, domain.Bill{BranchID: "b1", Status: domain.StatusCompleted, CustomerPhone: "0822", CompletedAt: &base})
	require.NoError(t, err)

	var seen []string
	cursor := ""
	for {
		page, err := s.ListCompletedBillsByCustomer(ctx, "0811", cursor, 2)
		require.NoError(t, err)
		for _, b := range page {
			seen = append(seen, b.ID)
		}
		if len(page) < 2 {
			break
		}
		cursor = page[len(page)-1].ID
	}
	assert.Equal(t, ids, seen)
}

func TestCustomersAreKeyedByPhone(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateCustomer(ctx, domain.Customer{Phone: "0811", Name: "Sari"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = s.CreateCustomer(ctx, domain.Customer{Phone: "0811"})
	assert.ErrorIs(t, err, store.ErrWriteConflict)
	_, err = s.CreateCustomer(ctx, domain.Customer{Phone: "  "})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	updated, err := s.UpdateCustomer(ctx, domain.Customer{Phone: "0811", RewardPoints: 40, BillIDs: []string{"bill-1"}})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	fetched, err := s.GetCustomerByPhone(ctx, "0811")
	require.NoError(t, err)
	assert.Equal(t, 40.0, fetched.RewardPoints)

	// callers cannot reach into the stored slices
	fetched.BillIDs[0] = "changed"
	again, err := s.GetCustomerByPhone(ctx, "0811")
	require.NoError(t, err)
	assert.Equal(t, []string{"bill-1"}, again.BillIDs)
}

func TestSaveRewardSettingsRecordsUsageKeys(t *testing.T) {
	s := New()
	ctx := context.Background()

	saved, err := s.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: []byte(`{"a":1}`)}, 0, "bill:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	_, err = s.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: []byte(`{"a":2}`)}, 0, "")
	assert.ErrorIs(t, err, store.ErrWriteConflict)

	// a repeated key wins over a stale version
	_, err = s.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: []byte(`{"a":3}`)}, 0, "bill:1")
	assert.ErrorIs(t, err, store.ErrAlreadyApplied)

	doc, err := s.GetRewardSettings(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(doc.Raw))
}

func TestNewSeededWarnsAboutDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")
	core, logs := observer.New(zap.WarnLevel)

	s, err := NewSeeded(zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessageSnippet("default dev credentials").Len())
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 2)
	branch, err := s.GetBranch(context.Background(), "branch-main")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", branch.Timezone)
}

func TestNewSeededQuietWithConfiguredCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-secret-1")
	core, logs := observer.New(zap.WarnLevel)

	_, err := NewSeeded(zap.New(core))
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
}
