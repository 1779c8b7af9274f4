// Package offers decides which automatic offer rows a bill carries and what
// each manual row costs after per-product discounts. It is pure: callers
// supply the catalog, settings and customer, and persist the result.
package offers

import (
	"fmt"
	"math"
	"slices"

	"billingcore/internal/domain"
	"billingcore/internal/money"
	"billingcore/internal/xid"
)

type Input struct {
	Items    []domain.BillItem
	Status   string
	Customer *domain.Customer
	Settings domain.CustomerRewardSettings
	// Products must contain every product referenced by Items and by the
	// rules that should be able to fire.
	Products          map[string]domain.Product
	BillID            string
	CountersProcessed bool
}

// Eligible is the usage gate shared by every counted offer. A rule passes
// when its total cap is not reached and, if it caps customers, the customer
// already used it or a customer slot is left. Unknown customers (empty id)
// never pass a customer cap.
func Eligible(c domain.OfferCounters, customerID string) bool {
	if c.MaxOfferCount > 0 && c.OfferGivenCount >= c.MaxOfferCount {
		return false
	}
	if c.MaxCustomerCount == 0 {
		return true
	}
	if customerID == "" {
		return false
	}
	if slices.Contains(c.OfferCustomers, customerID) {
		return true
	}
	return c.OfferCustomerCount < c.MaxCustomerCount
}

// FreeRuleKey identifies the single auto row a product-to-product rule may
// own on a bill.
func FreeRuleKey(rule domain.ProductToProductOfferRule) string {
	return fmt.Sprintf("%s:%s:%s", rule.ID, rule.BuyProductID, rule.FreeProductID)
}

func customerID(c *domain.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// Resolve returns the bill's replacement item list: manual rows first in
// their original order, then one row per triggered free-item rule, then the
// random customer offer row if any.
func Resolve(in Input) []domain.BillItem {
	items := slices.Clone(in.Items)
	if in.CountersProcessed {
		// usage was already counted from these rows
		return items
	}

	manual := make([]domain.BillItem, 0, len(items))
	var existingFree, existingRandom []domain.BillItem
	for _, item := range items {
		switch {
		case item.IsOfferFreeItem:
			existingFree = append(existingFree, item)
		case item.IsRandomCustomerOfferItem:
			existingRandom = append(existingRandom, item)
		default:
			manual = append(manual, item)
		}
	}

	for i := range manual {
		applyPriceOffer(&manual[i], in)
	}

	free := existingFree
	random := existingRandom
	if in.Status != domain.StatusCancelled {
		free = resolveFree(manual, existingFree, in)
		random = resolveRandom(existingRandom, in)
	}
	for i := range free {
		zeroPrice(&free[i])
	}
	for i := range random {
		zeroPrice(&random[i])
	}

	out := make([]domain.BillItem, 0, len(manual)+len(free)+len(random))
	out = append(out, manual...)
	out = append(out, free...)
	out = append(out, random...)
	return out
}

func resolveFree(manual []domain.BillItem, existing []domain.BillItem, in Input) []domain.BillItem {
	purchased := map[string]float64{}
	for _, item := range manual {
		if item.Status == domain.StatusCancelled {
			continue
		}
		purchased[item.ProductID] = money.Round2(purchased[item.ProductID] + item.Quantity)
	}

	byKey := make(map[string]domain.BillItem, len(existing))
	for _, item := range existing {
		if _, dup := byKey[item.OfferRuleKey]; !dup {
			byKey[item.OfferRuleKey] = item
		}
	}

	cid := customerID(in.Customer)
	out := make([]domain.BillItem, 0, len(in.Settings.ProductToProductOffers))
	emitted := map[string]struct{}{}
	for _, rule := range in.Settings.ProductToProductOffers {
		if !rule.Enabled || rule.BuyQuantity <= 0 || rule.FreeQuantity <= 0 {
			continue
		}
		if !Eligible(rule.OfferCounters, cid) {
			continue
		}
		if _, ok := in.Products[rule.BuyProductID]; !ok {
			continue
		}
		product, ok := in.Products[rule.FreeProductID]
		if !ok {
			continue
		}

		triggers := math.Floor(purchased[rule.BuyProductID] / rule.BuyQuantity)
		quantity := money.Round2(triggers * rule.FreeQuantity)
		if quantity <= 0 {
			continue
		}
		key := FreeRuleKey(rule)
		if _, dup := emitted[key]; dup {
			continue
		}
		emitted[key] = struct{}{}

		row, ok := byKey[key]
		if !ok {
			row = domain.BillItem{ID: xid.New("item"), Status: domain.StatusOrdered}
		}
		row.ProductID = product.ID
		row.ProductName = product.Name
		row.Quantity = quantity
		row.UnitPrice = product.Price
		row.Notes = fmt.Sprintf("Free %s for every %s %s", money.Format(rule.FreeQuantity), money.Format(rule.BuyQuantity), buyName(in.Products, rule.BuyProductID))
		row.IsOfferFreeItem = true
		row.OfferRuleKey = key
		out = append(out, row)
	}
	return out
}

func resolveRandom(existing []domain.BillItem, in Input) []domain.BillItem {
	offer := in.Settings.RandomCustomerOffer
	c := in.Customer
	if !offer.Enabled || offer.CampaignCode == "" || c == nil {
		return nil
	}
	if !c.RandomCustomerOfferAssigned || c.RandomCustomerOfferCampaignCode != offer.CampaignCode {
		return nil
	}
	if c.RandomCustomerOfferRedeemed && c.RandomCustomerOfferRedeemedBillID != in.BillID {
		return nil
	}
	ruleFound := slices.ContainsFunc(offer.Rules, func(r domain.RandomCustomerOfferProductRule) bool {
		return r.Enabled && r.ProductID == c.RandomCustomerOfferProduct
	})
	if !ruleFound {
		return nil
	}
	product, ok := in.Products[c.RandomCustomerOfferProduct]
	if !ok {
		return nil
	}

	row := domain.BillItem{ID: xid.New("item"), Status: domain.StatusOrdered}
	if len(existing) > 0 {
		row = existing[0]
	}
	row.ProductID = product.ID
	row.ProductName = product.Name
	row.Quantity = 1
	row.UnitPrice = product.Price
	row.Notes = "Customer reward: " + offer.CampaignCode
	row.IsRandomCustomerOfferItem = true
	row.RandomOfferCampaignCode = offer.CampaignCode
	return []domain.BillItem{row}
}

func applyPriceOffer(item *domain.BillItem, in Input) {
	item.EffectiveUnitPrice = money.Round2(item.UnitPrice)
	item.IsPriceOfferApplied = false
	item.PriceOfferRuleKey = ""

	cid := customerID(in.Customer)
	for _, rule := range in.Settings.ProductPriceOffers {
		if !rule.Enabled || rule.ProductID != item.ProductID {
			continue
		}
		if !Eligible(rule.OfferCounters, cid) {
			continue
		}
		discount := math.Min(item.UnitPrice, rule.DiscountAmount)
		if discount <= 0 {
			continue
		}
		item.EffectiveUnitPrice = math.Max(0, money.Sub(item.UnitPrice, discount))
		item.IsPriceOfferApplied = true
		item.PriceOfferRuleKey = rule.ID
		return
	}
}

func zeroPrice(item *domain.BillItem) {
	item.EffectiveUnitPrice = 0
	item.IsPriceOfferApplied = false
	item.PriceOfferRuleKey = ""
}

func buyName(products map[string]domain.Product, id string) string {
	if p, ok := products[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}
