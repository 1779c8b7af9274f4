// Package sequence derives invoice and kitchen-ticket (KOT) numbers of the
// form PPP-YYYYMMDD-NNN and PPP-YYYYMMDD-KOT-NN, where PPP comes from the
// branch name and the date is the branch-local calendar day.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"billingcore/internal/domain"
	"billingcore/internal/store"
)

const (
	fallbackPrefix = "BIL"
	invoiceWidth   = 3
	kotWidth       = 2
)

type Store interface {
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	LatestSequenceNumber(ctx context.Context, field string, prefix string) (string, error)
}

type Generator struct {
	store Store
	now   func() time.Time
}

func New(st Store) *Generator {
	return &Generator{store: st, now: time.Now}
}

// WithClock replaces the time source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// IsKOTStatus reports whether bills in status are numbered as kitchen
// tickets.
func IsKOTStatus(status string) bool {
	switch status {
	case domain.StatusOrdered, domain.StatusPrepared, domain.StatusDelivered:
		return true
	}
	return false
}

// BranchCode is the first three letters of the branch name in upper case.
func BranchCode(name string) string {
	var b strings.Builder
	letters := 0
	for _, r := range name {
		if !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		letters++
		if letters == 3 {
			break
		}
	}
	if letters == 0 {
		return fallbackPrefix
	}
	return b.String()
}

// Prefix returns "PPP-YYYYMMDD" for the branch at the current time.
func (g *Generator) Prefix(ctx context.Context, branchID string) (string, error) {
	branch, err := g.store.GetBranch(ctx, branchID)
	if err != nil {
		return "", fmt.Errorf("branch %s: %w", branchID, err)
	}
	loc, err := time.LoadLocation(branch.Timezone)
	if err != nil || branch.Timezone == "" {
		loc = time.UTC
	}
	return BranchCode(branch.Name) + "-" + g.now().In(loc).Format("20060102"), nil
}

func (g *Generator) NextInvoice(ctx context.Context, branchID string) (string, error) {
	prefix, err := g.Prefix(ctx, branchID)
	if err != nil {
		return "", err
	}
	return g.next(ctx, store.SequenceInvoice, prefix+"-", invoiceWidth)
}

func (g *Generator) NextKOT(ctx context.Context, branchID string) (string, error) {
	prefix, err := g.Prefix(ctx, branchID)
	if err != nil {
		return "", err
	}
	return g.next(ctx, store.SequenceKOT, prefix+"-KOT-", kotWidth)
}

func (g *Generator) next(ctx context.Context, field string, prefix string, width int) (string, error) {
	latest, err := g.store.LatestSequenceNumber(ctx, field, prefix)
	if err != nil {
		return "", fmt.Errorf("latest %s: %w", field, err)
	}
	return fmt.Sprintf("%s%0*d", prefix, width, suffix(latest, prefix)+1), nil
}

// suffix parses the trailing digits after prefix; anything else counts as 0.
func suffix(number string, prefix string) int {
	rest, ok := strings.CutPrefix(number, prefix)
	if !ok {
		return 0
	}
	end := len(rest)
	start := end
	for start > 0 && rest[start-1] >= '0' && rest[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(rest[start:end])
	if err != nil {
		return 0
	}
	return n
}

// Assign gives bill the numbers its status calls for. previousStatus is empty
// for a new bill. Existing numbers are never rewritten; a bill leaving the
// KOT phase for completed gets a fresh invoice number next to its KOT number.
func (g *Generator) Assign(ctx context.Context, bill *domain.Bill, previousStatus string) error {
	if IsKOTStatus(bill.Status) {
		if bill.KOTNumber != "" {
			return nil
		}
		number, err := g.NextKOT(ctx, bill.BranchID)
		if err != nil {
			return err
		}
		bill.KOTNumber = number
		return nil
	}

	if bill.InvoiceNumber != "" {
		return nil
	}
	leavingKOT := previousStatus != "" && IsKOTStatus(previousStatus)
	if leavingKOT && bill.Status != domain.StatusCompleted {
		// a kitchen ticket that is cancelled keeps only its KOT number
		return nil
	}
	number, err := g.NextInvoice(ctx, bill.BranchID)
	if err != nil {
		return err
	}
	bill.InvoiceNumber = number
	return nil
}
