package status

import (
	"slices"

	"billingcore/internal/domain"
)

// billTransitions lists, per current bill status, the statuses it may move
// to. Forward skips are allowed; completed and cancelled are terminal.
var billTransitions = map[string][]string{
	domain.StatusOrdered:   {domain.StatusPrepared, domain.StatusDelivered, domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusPrepared:  {domain.StatusDelivered, domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusDelivered: {domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusCompleted: {},
	domain.StatusCancelled: {},
}

// itemRank orders the item lifecycle. Cancelled sits outside it.
var itemRank = map[string]int{
	domain.StatusOrdered:   1,
	domain.StatusPrepared:  2,
	domain.StatusDelivered: 3,
}

func ValidBillStatus(s string) bool {
	_, ok := billTransitions[s]
	return ok
}

func ValidItemStatus(s string) bool {
	_, ok := itemRank[s]
	return ok || s == domain.StatusCancelled
}

// ValidateBillTransition accepts staying put and any allowed forward move.
func ValidateBillTransition(current, next string) error {
	if !ValidBillStatus(next) {
		return domain.Invalid(domain.ErrInvalidStatus, "unknown bill status %q", next)
	}
	allowed, ok := billTransitions[current]
	if !ok {
		return domain.Invalid(domain.ErrInvalidStatus, "unknown bill status %q", current)
	}
	if current == next || slices.Contains(allowed, next) {
		return nil
	}
	return domain.Invalid(domain.ErrStatusRegression, "bill cannot move from %s to %s", current, next)
}

// ValidateItemTransition enforces ordered < prepared < delivered, with
// cancelled reachable from anywhere and left from nowhere.
func ValidateItemTransition(current, next string) error {
	if !ValidItemStatus(next) {
		return domain.Invalid(domain.ErrInvalidStatus, "unknown item status %q", next)
	}
	if current == next {
		return nil
	}
	if current == domain.StatusCancelled {
		return domain.Invalid(domain.ErrStatusRegression, "item cannot leave cancelled")
	}
	if next == domain.StatusCancelled {
		return nil
	}
	from, ok := itemRank[current]
	if !ok {
		return domain.Invalid(domain.ErrInvalidStatus, "unknown item status %q", current)
	}
	if itemRank[next] < from {
		return domain.Invalid(domain.ErrStatusRegression, "item cannot move from %s to %s", current, next)
	}
	return nil
}
